package fetcher

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"mime"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/murakmii/kikimimi/pkg/kikimimi"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"
	"golang.org/x/xerrors"
)

const defaultUserAgent = "kikimimi"

var xmlEncodingDecl = regexp.MustCompile(`^\s*<\?xml[^>]*?\sencoding\s*=\s*["']([A-Za-z0-9._\-]+)["']`)

type builtInClient struct {
	userAgent   string
	maxBodySize int64
	limiter     *rate.Limiter
	httpClient  *http.Client
}

// net/httpによるClientを生成する。リダイレクトは追跡しない
func BuiltInClientProvider(_ context.Context, conf *kikimimi.Configuration) (kikimimi.Client, error) {
	ua := conf.UserAgent
	if len(ua) == 0 {
		ua = defaultUserAgent
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if conf.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(conf.RequestsPerSecond), 1)
	}

	return &builtInClient{
		userAgent:   ua,
		maxBodySize: conf.MaxDocumentSize,
		limiter:     limiter,
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        int(conf.Workers) * 2,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     10 * time.Second,
			},
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
			Timeout: 10 * time.Second,
		},
	}, nil
}

func (c *builtInClient) Send(ctx context.Context, r *kikimimi.Request) (*kikimimi.Response, error) {
	kikimimi.LoggerFromContext(ctx).Debugf("requesting: %s %s", r.Method, r.URL)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, xerrors.Errorf("interrupted while waiting request: %w", err)
	}

	req, err := http.NewRequest(r.Method, r.URL, nil)
	if err != nil {
		return nil, xerrors.Errorf("failed to build request: %w", err)
	}

	req = req.WithContext(ctx)
	for key, values := range r.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	kikimimi.TracerFromContext(ctx).TraceRequest(ctx, time.Since(start).Seconds())

	if err != nil {
		return nil, xerrors.Errorf("failed to request: %w", err)
	}
	defer resp.Body.Close()

	response := &kikimimi.Response{
		StatusCode:    resp.StatusCode,
		Header:        resp.Header,
		ContentLength: resp.ContentLength,
	}

	if r.Method == http.MethodHead {
		return response, nil
	}

	raw, err := ioutil.ReadAll(io.LimitReader(resp.Body, c.maxBodySize+1))
	if err != nil {
		return nil, xerrors.Errorf("failed to read body: %w", err)
	}

	if int64(len(raw)) > c.maxBodySize {
		raw = raw[:c.maxBodySize]
		response.Truncated = true
	}

	// 宣言された文字コードからUTF-8に変換する
	reader, err := decoderOf(raw, resp.Header.Get("Content-Type"))
	if err != nil {
		response.Body = string(raw)
		return response, nil
	}

	decoded, err := ioutil.ReadAll(reader)
	if err != nil {
		return nil, xerrors.Errorf("failed to decode body: %w", err)
	}

	response.Body = string(decoded)
	return response, nil
}

func (c *builtInClient) Finish() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// ボディをUTF-8に変換するReaderを返す。
// Content-Typeに文字コードの指定がないXMLは、XML宣言の文字コードに従う
func decoderOf(raw []byte, contentType string) (io.Reader, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err == nil && len(params["charset"]) == 0 && strings.HasSuffix(mediaType, "xml") {
		if m := xmlEncodingDecl.FindSubmatch(raw); m != nil {
			return charset.NewReaderLabel(string(m[1]), bytes.NewReader(raw))
		}
	}

	return charset.NewReader(bytes.NewReader(raw), contentType)
}
