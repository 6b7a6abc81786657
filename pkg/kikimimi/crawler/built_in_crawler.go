package crawler

import (
	"context"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/murakmii/kikimimi/pkg/kikimimi"
	"github.com/murakmii/kikimimi/pkg/kikimimi/channel"
	"github.com/murakmii/kikimimi/pkg/kikimimi/robots"
	"github.com/murakmii/kikimimi/pkg/kikimimi/www"
	"golang.org/x/xerrors"
)

const (
	policyCacheSize = 1024
	queryCacheSize  = 256
)

type contentClass int

const (
	unsupported contentClass = iota

	// リンクを抽出する(HTML)
	markup

	// チャンネルのクエリで評価する(XML)
	structured
)

type builtInCrawler struct {
	store           kikimimi.Store
	frontier        kikimimi.URLFrontier
	client          kikimimi.Client
	counter         *kikimimi.RunCounter
	politeness      *robots.Politeness
	matcher         *channel.Matcher
	maxDocumentSize int64
	requeuePause    time.Duration
	now             func() time.Time
}

// Crawlerを生成して返す
func BuiltInCrawlerProvider(_ context.Context, conf *kikimimi.Configuration, shared *kikimimi.Shared) (kikimimi.Crawler, error) {
	politeness, err := robots.NewPoliteness(shared.Store, shared.Client, shared.Frontier, conf.RobotsUA, policyCacheSize)
	if err != nil {
		return nil, err
	}

	matcher, err := channel.NewMatcher(shared.Store, shared.Gatherer, queryCacheSize)
	if err != nil {
		return nil, err
	}

	return &builtInCrawler{
		store:           shared.Store,
		frontier:        shared.Frontier,
		client:          shared.Client,
		counter:         shared.Counter,
		politeness:      politeness,
		matcher:         matcher,
		maxDocumentSize: conf.MaxDocumentSize,
		requeuePause:    conf.RequeuePause,
		now:             time.Now,
	}, nil
}

// 1つのURLについてクロールする。
// 個々のURLの失敗はログに残して捨て、エラーは返さない
func (c *builtInCrawler) Crawl(ctx context.Context, rawURL string) error {
	u, err := www.SanitizedURLFromString(rawURL)
	if err != nil {
		kikimimi.LoggerFromContext(ctx).Debugf("dropped malformed url %s: %v", rawURL, err)
		return nil
	}

	ctx = kikimimi.ContextWithLogger(ctx, kikimimi.LoggerFromContext(ctx).WithField("url", u.String()))
	logger := kikimimi.LoggerFromContext(ctx)
	defer func() {
		logger.Debug("finished")
	}()

	seen, err := c.store.IsSeen(ctx, u.String())
	if err != nil {
		logger.Warnf("failed to check seen url: %v", err)
		return nil
	}

	if seen {
		logger.Debug("already crawled in this run")
		return nil
	}

	verdict, err := c.politeness.Check(ctx, u)
	if err != nil {
		logger.Warnf("failed to check politeness: %v", err)
		return nil
	}

	switch verdict {
	case robots.Disallowed:
		logger.Debug("crawling disallowed by robots.txt")
		return nil

	case robots.Delayed:
		logger.Debug("requeued until crawl-delay elapses")
		c.pause(ctx)
		return nil
	}

	prior, err := c.store.GetDocument(ctx, u.String())
	if err != nil {
		if !xerrors.Is(err, kikimimi.ErrNotFound) {
			logger.Warnf("failed to get crawled document: %v", err)
		}
		prior = nil
	}

	header := http.Header{}
	if prior != nil && !prior.LastCrawled.IsZero() {
		header.Set("If-Modified-Since", prior.LastCrawled.UTC().Format(http.TimeFormat))
	}

	head, err := c.client.Send(ctx, &kikimimi.Request{Method: http.MethodHead, URL: u.String(), Header: header})
	if err != nil {
		if !xerrors.Is(err, context.Canceled) {
			logger.Warnf("failed to probe: %v", err)
		}
		return nil
	}

	if location := head.Header.Get("Location"); len(location) > 0 {
		c.redirect(ctx, u, location)
		return nil
	}

	if head.StatusCode == http.StatusNotModified && prior != nil {
		c.reuse(ctx, u, prior)
		return nil
	}

	if head.StatusCode != http.StatusOK {
		logger.Infof("dropped by status %d", head.StatusCode)
		return nil
	}

	if classify(head.Header.Get("Content-Type")) == unsupported {
		logger.Debugf("dropped unsupported content type: %s", head.Header.Get("Content-Type"))
		return nil
	}

	if head.ContentLength > c.maxDocumentSize {
		logger.Debugf("dropped too large document: %d bytes", head.ContentLength)
		return nil
	}

	c.fetch(ctx, u)
	return nil
}

func (c *builtInCrawler) Finish() error {
	return nil
}

func (c *builtInCrawler) redirect(ctx context.Context, u *www.SanitizedURL, location string) {
	logger := kikimimi.LoggerFromContext(ctx)

	target, err := www.NormalizeRedirect(u, location)
	if err != nil {
		logger.Infof("dropped redirect to %s: %v", location, err)
		return
	}

	logger.Debugf("redirected to %s", target)
	c.enqueue(ctx, target)
}

// 前回取得した文書を再利用する
func (c *builtInCrawler) reuse(ctx context.Context, u *www.SanitizedURL, prior *kikimimi.CrawledDocument) {
	logger := kikimimi.LoggerFromContext(ctx)
	logger.Debug("not modified since last crawl")

	c.dispatch(ctx, u, prior.ContentType, prior.Content)

	if err := c.store.TouchDocument(ctx, u.String(), c.now()); err != nil {
		logger.Warnf("failed to touch crawled document: %v", err)
	}

	c.markSeen(ctx, u)
}

func (c *builtInCrawler) fetch(ctx context.Context, u *www.SanitizedURL) {
	logger := kikimimi.LoggerFromContext(ctx)

	resp, err := c.client.Send(ctx, &kikimimi.Request{Method: http.MethodGet, URL: u.String()})
	count := c.counter.Increment()
	kikimimi.TracerFromContext(ctx).TraceFetched(ctx, err)

	if err != nil {
		if !xerrors.Is(err, context.Canceled) {
			logger.Warnf("failed to fetch: %v", err)
		}
		return
	}

	if resp.StatusCode != http.StatusOK {
		logger.Infof("dropped by status %d", resp.StatusCode)
		return
	}

	if resp.Truncated {
		logger.Debugf("dropped document larger than %d bytes", c.maxDocumentSize)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	logger.Debugf("fetched %d bytes (%d in this run)", len(resp.Body), count)

	fetchedAt := c.now()
	doc := &kikimimi.CrawledDocument{
		URL:         u.String(),
		ContentType: contentType,
		Content:     resp.Body,
		LastCrawled: fetchedAt,
	}

	if err := c.store.PutDocument(ctx, doc); err != nil {
		logger.Warnf("failed to put crawled document: %v", err)
	}

	if err := c.politeness.Touch(ctx, u.Domain(), fetchedAt); err != nil {
		logger.Warnf("failed to touch domain: %v", err)
	}

	c.markSeen(ctx, u)
	c.dispatch(ctx, u, contentType, resp.Body)
}

// 文書の種類に応じて、リンクの抽出かチャンネルとのマッチングを行う
func (c *builtInCrawler) dispatch(ctx context.Context, u *www.SanitizedURL, contentType, body string) {
	switch classify(contentType) {
	case markup:
		links, err := www.ExtractLinks(body, u)
		if err != nil {
			kikimimi.LoggerFromContext(ctx).Debugf("failed to extract links: %v", err)
			return
		}

		for _, link := range links {
			c.enqueue(ctx, link)
		}

	case structured:
		c.matcher.Apply(ctx, u.String(), body)
	}
}

func (c *builtInCrawler) markSeen(ctx context.Context, u *www.SanitizedURL) {
	if _, err := c.store.MarkSeen(ctx, u.String()); err != nil {
		kikimimi.LoggerFromContext(ctx).Warnf("failed to mark seen: %v", err)
	}
}

func (c *builtInCrawler) enqueue(ctx context.Context, url string) {
	if err := c.frontier.Enqueue(ctx, url); err != nil {
		kikimimi.LoggerFromContext(ctx).Warnf("failed to enqueue %s: %v", url, err)
	}
}

// 同じドメインのURLばかりを取り出し続けないよう、少しの間待つ
func (c *builtInCrawler) pause(ctx context.Context) {
	if c.requeuePause <= 0 {
		return
	}

	timer := time.NewTimer(c.requeuePause)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Content-Typeのメディアタイプから文書の種類を判定する。パラメータは無視する
func classify(contentType string) contentClass {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return unsupported
	}

	switch {
	case strings.Contains(mediaType, "html"):
		return markup
	case strings.HasSuffix(mediaType, "xml"):
		return structured
	default:
		return unsupported
	}
}
