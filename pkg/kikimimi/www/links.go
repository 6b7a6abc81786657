package www

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/xerrors"
)

var (
	ErrUnsupportedProtocol = xerrors.New("unsupported protocol")

	schemePrefix = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.\-]*:`)
	httpPrefix   = regexp.MustCompile(`^(?i)https?://`)
)

// マークアップ中のhref属性を全て取り出し、sourceを基準に解決したURLを返す
func ExtractLinks(body string, source *SanitizedURL) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, xerrors.Errorf("failed to parse markup: %w", err)
	}

	links := make([]string, 0, 32)
	doc.Find("[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if resolved := ResolveLink(source, href); len(resolved) > 0 {
			links = append(links, resolved)
		}
	})

	return links, nil
}

// リンク先をsourceを基準に解決する。
// 空のリンクやページ内リンクの場合は空文字列を返す。
// http(s)以外のスキームを持つリンクはそのまま返すので、呼び出し側でサニタイズして弾くこと
func ResolveLink(source *SanitizedURL, target string) string {
	target = strings.TrimSpace(target)
	if i := strings.IndexByte(target, '#'); i >= 0 {
		target = target[:i]
	}

	if len(target) == 0 {
		return ""
	}

	switch {
	case strings.HasPrefix(strings.ToLower(target), "www."):
		return "http://" + target

	case schemePrefix.MatchString(target):
		return target

	case strings.HasPrefix(target, "//"):
		return source.Scheme() + ":" + target

	case strings.HasPrefix(target, "/"):
		return source.Scheme() + "://" + source.Host() + directoryOf(source.Path()) + target

	default:
		return source.Scheme() + "://" + source.Host() + directoryOf(source.Path()) + "/" + target
	}
}

// リンク解決の基準となるディレクトリ。
// 末尾のHTMLファイル名、または末尾の"/"を取り除いたもの
func directoryOf(p string) string {
	if strings.HasSuffix(p, "/") {
		return strings.TrimSuffix(p, "/")
	}

	lower := strings.ToLower(p)
	if strings.HasSuffix(lower, ".html") || strings.HasSuffix(lower, ".htm") {
		return p[:strings.LastIndexByte(p, '/')]
	}

	return p
}

// Locationヘッダの値をリダイレクト先のURLに正規化する
func NormalizeRedirect(source *SanitizedURL, location string) (string, error) {
	location = strings.TrimSpace(location)

	switch {
	case httpPrefix.MatchString(location):
		return location, nil

	case strings.HasPrefix(location, "/"):
		return source.Scheme() + "://" + source.Host() + location, nil

	case strings.HasPrefix(strings.ToLower(location), "www."):
		return "http://" + location, nil

	default:
		return "", xerrors.Errorf("%w: %s", ErrUnsupportedProtocol, location)
	}
}
