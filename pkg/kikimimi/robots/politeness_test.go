package robots

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/murakmii/kikimimi/pkg/kikimimi"
	"github.com/murakmii/kikimimi/pkg/kikimimi/www"
)

type mockPolicyStore struct {
	m        sync.Mutex
	policies map[string]*kikimimi.DomainPolicy
}

func (s *mockPolicyStore) GetPolicy(_ context.Context, domain string) (*kikimimi.DomainPolicy, error) {
	s.m.Lock()
	defer s.m.Unlock()

	p, ok := s.policies[domain]
	if !ok {
		return nil, kikimimi.ErrNotFound
	}

	copied := *p
	return &copied, nil
}

func (s *mockPolicyStore) PutPolicy(_ context.Context, policy *kikimimi.DomainPolicy) error {
	s.m.Lock()
	defer s.m.Unlock()

	copied := *policy
	s.policies[policy.Domain] = &copied
	return nil
}

func (s *mockPolicyStore) TouchPolicy(_ context.Context, domain string, at time.Time) error {
	s.m.Lock()
	defer s.m.Unlock()

	p, ok := s.policies[domain]
	if !ok {
		return kikimimi.ErrNotFound
	}

	p.LastCrawled = at
	return nil
}

// robots.txtのみを返すクライアント
type mockClient struct {
	robots   map[string]string
	requests int
}

func (c *mockClient) Send(_ context.Context, req *kikimimi.Request) (*kikimimi.Response, error) {
	c.requests++

	body, ok := c.robots[req.URL]
	if !ok {
		return &kikimimi.Response{StatusCode: http.StatusNotFound, Header: http.Header{}}, nil
	}

	return &kikimimi.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: body}, nil
}

func (c *mockClient) Finish() error { return nil }

type mockEnqueuer struct {
	queue []string
}

func (e *mockEnqueuer) Enqueue(_ context.Context, url string) error {
	e.queue = append(e.queue, url)
	return nil
}

func mustSanitize(s string) *www.SanitizedURL {
	u, err := www.SanitizedURLFromString(s)
	if err != nil {
		panic(err)
	}
	return u
}

func buildPoliteness(robots map[string]string) (*Politeness, *mockPolicyStore, *mockClient, *mockEnqueuer) {
	store := &mockPolicyStore{policies: make(map[string]*kikimimi.DomainPolicy)}
	client := &mockClient{robots: robots}
	enqueuer := &mockEnqueuer{}

	p, err := NewPoliteness(store, client, enqueuer, "kikimimi", 10)
	if err != nil {
		panic(err)
	}

	return p, store, client, enqueuer
}

func TestPoliteness_Check(t *testing.T) {
	ctx := kikimimi.MustRootContext(kikimimi.NewConfiguration(1))

	t.Run("Disallowに前方一致するURLは拒否し、それ以外は許可する", func(t *testing.T) {
		p, store, client, enqueuer := buildPoliteness(map[string]string{
			"http://x.com/robots.txt": "User-agent: *\nDisallow: /private\nCrawl-delay: 2\n",
		})

		tests := []struct {
			url  string
			want Verdict
		}{
			{url: "http://x.com/private/page", want: Disallowed},
			{url: "http://x.com/public/page", want: Allowed},
		}

		for _, tt := range tests {
			got, err := p.Check(ctx, mustSanitize(tt.url))
			if err != nil {
				t.Fatalf("Check(%s) returns error: %v", tt.url, err)
			}

			if got != tt.want {
				t.Errorf("Check(%s) = %v, want = %v", tt.url, got, tt.want)
			}
		}

		if client.requests != 1 {
			t.Errorf("robots.txt is requested %d times, want = 1", client.requests)
		}

		stored, ok := store.policies["x.com"]
		if !ok || stored.CrawlDelay != 2*time.Second || len(stored.Disallowed) != 1 {
			t.Errorf("unexpected stored policy: %+v", stored)
		}

		if len(enqueuer.queue) != 0 {
			t.Errorf("unexpected requeue: %v", enqueuer.queue)
		}
	})

	t.Run("Crawl-delayが経過していなければキューに戻す", func(t *testing.T) {
		p, _, _, enqueuer := buildPoliteness(map[string]string{
			"http://x.com/robots.txt": "User-agent: *\nDisallow: /private\nCrawl-delay: 2\n",
		})

		now := time.Date(2019, 9, 1, 0, 0, 0, 0, time.UTC)
		p.now = func() time.Time { return now }

		if got, _ := p.Check(ctx, mustSanitize("http://x.com/public/page")); got != Allowed {
			t.Fatalf("first Check() = %v, want = allowed", got)
		}

		if err := p.Touch(ctx, "x.com", now); err != nil {
			t.Fatalf("Touch() returns error: %v", err)
		}

		now = now.Add(1 * time.Second)
		got, err := p.Check(ctx, mustSanitize("http://x.com/public/next"))
		if err != nil || got != Delayed {
			t.Fatalf("Check() = (%v, %v), want = delayed", got, err)
		}

		if len(enqueuer.queue) != 1 || enqueuer.queue[0] != "http://x.com/public/next" {
			t.Errorf("requeued = %v, want = [http://x.com/public/next]", enqueuer.queue)
		}

		now = now.Add(1 * time.Second)
		if got, _ := p.Check(ctx, mustSanitize("http://x.com/public/next")); got != Allowed {
			t.Errorf("Check() after delay = %v, want = allowed", got)
		}
	})

	t.Run("robots.txtが存在しなければ全て許可する", func(t *testing.T) {
		p, store, _, _ := buildPoliteness(map[string]string{})

		got, err := p.Check(ctx, mustSanitize("http://y.com/private/page"))
		if err != nil || got != Allowed {
			t.Errorf("Check() = (%v, %v), want = allowed", got, err)
		}

		stored, ok := store.policies["y.com"]
		if !ok || len(stored.Allowed) != 0 || len(stored.Disallowed) != 0 || stored.CrawlDelay != 0 {
			t.Errorf("unexpected stored policy: %+v", stored)
		}
	})

	t.Run("保存済みのポリシーを用いる", func(t *testing.T) {
		p, store, client, _ := buildPoliteness(map[string]string{})
		store.policies["z.com"] = &kikimimi.DomainPolicy{Domain: "z.com", Disallowed: []string{"/"}}

		got, err := p.Check(ctx, mustSanitize("http://z.com/page"))
		if err != nil || got != Disallowed {
			t.Errorf("Check() = (%v, %v), want = disallowed", got, err)
		}

		if client.requests != 0 {
			t.Errorf("robots.txt is requested %d times, want = 0", client.requests)
		}
	})
}
