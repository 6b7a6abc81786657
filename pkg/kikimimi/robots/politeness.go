package robots

import (
	"context"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/murakmii/kikimimi/pkg/kikimimi"
	"github.com/murakmii/kikimimi/pkg/kikimimi/www"
	"golang.org/x/xerrors"
)

type Verdict int

const (
	// クロールして良い
	Allowed Verdict = iota

	// robots.txtによって禁止されている
	Disallowed

	// Crawl-delayが経過していないため、キューに戻した
	Delayed
)

func (v Verdict) String() string {
	switch v {
	case Allowed:
		return "allowed"
	case Disallowed:
		return "disallowed"
	case Delayed:
		return "delayed"
	default:
		return "unknown"
	}
}

// ドメインポリシーの永続化に必要な操作
type PolicyStore interface {
	GetPolicy(ctx context.Context, domain string) (*kikimimi.DomainPolicy, error)
	PutPolicy(ctx context.Context, policy *kikimimi.DomainPolicy) error
	TouchPolicy(ctx context.Context, domain string, at time.Time) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, url string) error
}

// ドメイン毎のrobots.txtに基づいて、URLをクロールして良いか判定する。
// ポリシーはドメイン毎に初めて参照された時に取得、保存され、以降はLRUキャッシュから参照する。
// 全workerで共有される
type Politeness struct {
	store    PolicyStore
	client   kikimimi.Client
	frontier Enqueuer
	ua       string
	cache    *lru.Cache
	now      func() time.Time
}

func NewPoliteness(store PolicyStore, client kikimimi.Client, frontier Enqueuer, ua string, cacheSize int) (*Politeness, error) {
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, xerrors.Errorf("failed to create policy cache: %w", err)
	}

	return &Politeness{
		store:    store,
		client:   client,
		frontier: frontier,
		ua:       ua,
		cache:    cache,
		now:      time.Now,
	}, nil
}

// URLをクロールして良いか判定する。
// 前回のクロールからCrawl-delayが経過していなければURLをキューに戻してDelayedを返す
func (p *Politeness) Check(ctx context.Context, u *www.SanitizedURL) (Verdict, error) {
	policy, err := p.policyOf(ctx, u)
	if err != nil {
		return Disallowed, err
	}

	if !policy.LastCrawled.IsZero() && p.now().Sub(policy.LastCrawled) < policy.CrawlDelay {
		if err := p.frontier.Enqueue(ctx, u.String()); err != nil {
			return Delayed, xerrors.Errorf("failed to requeue delayed url: %w", err)
		}
		return Delayed, nil
	}

	if Allows(policy.Allowed, policy.Disallowed, u.RequestURI()) {
		return Allowed, nil
	}

	return Disallowed, nil
}

// ドメインへの最終アクセス日時を更新する
func (p *Politeness) Touch(ctx context.Context, domain string, at time.Time) error {
	if err := p.store.TouchPolicy(ctx, domain, at); err != nil && !xerrors.Is(err, kikimimi.ErrNotFound) {
		return xerrors.Errorf("failed to touch policy: %w", err)
	}

	// キャッシュ中のポリシーは他のworkerが参照しているため、コピーを置き換える
	if cached, ok := p.cache.Get(domain); ok {
		touched := *cached.(*kikimimi.DomainPolicy)
		touched.LastCrawled = at
		p.cache.Add(domain, &touched)
	}

	return nil
}

func (p *Politeness) policyOf(ctx context.Context, u *www.SanitizedURL) (*kikimimi.DomainPolicy, error) {
	domain := u.Domain()
	if cached, ok := p.cache.Get(domain); ok {
		return cached.(*kikimimi.DomainPolicy), nil
	}

	policy, err := p.store.GetPolicy(ctx, domain)
	if err == nil {
		p.cache.Add(domain, policy)
		return policy, nil
	}

	if !xerrors.Is(err, kikimimi.ErrNotFound) {
		return nil, xerrors.Errorf("failed to get policy: %w", err)
	}

	policy = p.fetchPolicy(ctx, u)

	// 保存に失敗してもこの実行中はキャッシュしたポリシーで判定を続ける
	if err := p.store.PutPolicy(ctx, policy); err != nil {
		kikimimi.LoggerFromContext(ctx).Warnf("failed to put policy of %s: %v", domain, err)
	}

	p.cache.Add(domain, policy)
	return policy, nil
}

// robots.txtを取得してポリシーを生成する。取得できなければ全て許可するポリシーを返す
func (p *Politeness) fetchPolicy(ctx context.Context, u *www.SanitizedURL) *kikimimi.DomainPolicy {
	logger := kikimimi.LoggerFromContext(ctx)
	policy := &kikimimi.DomainPolicy{Domain: u.Domain()}

	robotsURL := u.RobotsTxtURL().String()
	resp, err := p.client.Send(ctx, &kikimimi.Request{Method: http.MethodGet, URL: robotsURL})
	if err != nil {
		logger.Infof("failed to fetch %s, so treat as open: %v", robotsURL, err)
		return policy
	}

	if resp.StatusCode != http.StatusOK {
		logger.Debugf("%s responded %d, so treat as open", robotsURL, resp.StatusCode)
		return policy
	}

	txt, err := ParseRobotsTxt(strings.NewReader(resp.Body), p.ua)
	if err != nil {
		logger.Infof("failed to parse %s, so treat as open: %v", robotsURL, err)
		return policy
	}

	policy.Allowed = txt.Allowed
	policy.Disallowed = txt.Disallowed
	policy.CrawlDelay = txt.CrawlDelay
	return policy
}
