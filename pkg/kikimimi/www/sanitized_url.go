package www

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/xerrors"
)

// クローラー中で扱うことが安全なURLを表す型
type SanitizedURL struct {
	url *url.URL
}

// URLをサニタイズしてSanitizedURLを返す
func SanitizedURLFromURL(u *url.URL) (*SanitizedURL, error) {
	if !u.IsAbs() {
		return nil, xerrors.New("url is NOT absolute url")
	}

	if u.User != nil {
		return nil, xerrors.New("url has userinfo")
	}

	sScheme := strings.ToLower(u.Scheme)
	if sScheme != "http" && sScheme != "https" {
		return nil, xerrors.Errorf("url's scheme is invalid: %s", sScheme)
	}

	hostname := u.Hostname()
	if len(hostname) == 0 {
		return nil, xerrors.New("url has no host")
	}

	sHost, err := idna.ToASCII(strings.ToLower(hostname))
	if err != nil {
		return nil, xerrors.Errorf("url has invalid host: %s", hostname)
	}

	if len(sHost) > 255 {
		return nil, xerrors.New("url's host is too long")
	}

	// ポートは保持する。ドメインごとのポリシーはポートを含めたホスト単位で管理される
	if port := u.Port(); len(port) > 0 {
		sHost = net.JoinHostPort(sHost, port)
	}

	sPath := u.Path
	if len(sPath) == 0 {
		sPath = "/"
	}

	if len(sPath)+len(u.RawQuery) > 1000 {
		return nil, xerrors.New("url's path and query is too long")
	}

	return &SanitizedURL{
		url: &url.URL{
			Scheme:   sScheme,
			Host:     sHost,
			Path:     sPath,
			RawQuery: u.RawQuery,
		},
	}, nil
}

// 文字列で表されるURLをサニタイズしてSanitizedURLを返す
func SanitizedURLFromString(s string) (*SanitizedURL, error) {
	if len(s) > 2000 {
		return nil, xerrors.New("url is too long")
	}

	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return nil, xerrors.Errorf("can't parse url: %w", err)
	}

	return SanitizedURLFromURL(u)
}

func (sanitized *SanitizedURL) Scheme() string {
	return sanitized.url.Scheme
}

// URLのホスト部(ポートを含む)を返す
func (sanitized *SanitizedURL) Host() string {
	return sanitized.url.Host
}

// ポリシーを管理する単位としてのドメイン
func (sanitized *SanitizedURL) Domain() string {
	return sanitized.Host()
}

// URLのパス部を返す
func (sanitized *SanitizedURL) Path() string {
	return sanitized.url.Path
}

// ドメインを取り除いたパスとクエリを返す
func (sanitized *SanitizedURL) RequestURI() string {
	return sanitized.url.RequestURI()
}

// このURLに対して有効なrobots.txtのURLを返す
func (sanitized *SanitizedURL) RobotsTxtURL() *SanitizedURL {
	return &SanitizedURL{
		url: &url.URL{
			Scheme: sanitized.url.Scheme,
			Host:   sanitized.url.Host,
			Path:   "/robots.txt",
		},
	}
}

// サニタイズ済みURLの文字列表現を返す
func (sanitized *SanitizedURL) String() string {
	return sanitized.url.String()
}
