package kikimimi

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/xerrors"
)

// Storeのモック。実行の開始と終了処理のみ記録する
type mockStore struct {
	m        sync.Mutex
	begun    int
	reset    int
	finished int
}

func (s *mockStore) BeginRun(_ context.Context) error {
	s.m.Lock()
	defer s.m.Unlock()
	s.begun++
	return nil
}

func (s *mockStore) Reset(_ context.Context) error {
	s.m.Lock()
	defer s.m.Unlock()
	s.reset++
	return nil
}

func (s *mockStore) Finish() error {
	s.m.Lock()
	defer s.m.Unlock()
	s.finished++
	return nil
}

func (s *mockStore) GetDocument(_ context.Context, _ string) (*CrawledDocument, error) {
	return nil, ErrNotFound
}
func (s *mockStore) PutDocument(_ context.Context, _ *CrawledDocument) error      { return nil }
func (s *mockStore) TouchDocument(_ context.Context, _ string, _ time.Time) error { return nil }
func (s *mockStore) GetPolicy(_ context.Context, _ string) (*DomainPolicy, error) { return nil, ErrNotFound }
func (s *mockStore) PutPolicy(_ context.Context, _ *DomainPolicy) error           { return nil }
func (s *mockStore) TouchPolicy(_ context.Context, _ string, _ time.Time) error   { return nil }
func (s *mockStore) IsSeen(_ context.Context, _ string) (bool, error)             { return false, nil }
func (s *mockStore) MarkSeen(_ context.Context, _ string) (bool, error)           { return true, nil }
func (s *mockStore) Channels(_ context.Context) ([]*Channel, error)               { return nil, nil }
func (s *mockStore) PutChannel(_ context.Context, _ *Channel) error               { return nil }
func (s *mockStore) DeleteChannel(_ context.Context, _ string) error              { return nil }
func (s *mockStore) AddMatch(_ context.Context, _, _ string) (bool, error)        { return true, nil }
func (s *mockStore) Matches(_ context.Context, _ string) ([]string, error)        { return nil, nil }

type nopClient struct{}

func (c nopClient) Send(_ context.Context, _ *Request) (*Response, error) {
	return nil, xerrors.New("not implemented")
}
func (c nopClient) Finish() error { return nil }

// 共有のStoreとURLFrontierを返すProviderを設定したConfiguration
func buildConfiguration(workers uint, store *mockStore, frontier URLFrontier) *Configuration {
	conf := NewConfiguration(workers)
	conf.StoreProvider = func(_ context.Context, _ *Configuration) (Store, error) {
		return store, nil
	}
	conf.URLFrontierProvider = func(_ context.Context, _ *Configuration) (URLFrontier, error) {
		return frontier, nil
	}
	conf.ClientProvider = func(_ context.Context, _ *Configuration) (Client, error) {
		return nopClient{}, nil
	}

	return conf
}

func TestStart(t *testing.T) {
	t.Run("シードからキューが空になるまでクロールする", func(t *testing.T) {
		store := &mockStore{}
		frontier, _ := buildMockURLFrontier(context.Background(), nil)
		conf := buildConfiguration(2, store, frontier)

		var crawler *mockCrawler
		conf.CrawlerProvider = func(_ context.Context, _ *Configuration, shared *Shared) (Crawler, error) {
			crawler = &mockCrawler{shared: shared}
			return crawler, nil
		}

		if err := Start(conf, []string{"http://1.com"}); err != nil {
			t.Fatalf("Start() returns error: %v", err)
		}

		if len(crawler.crawled) != 5 {
			t.Errorf("Start() crawls %v, want = 5 urls", crawler.crawled)
		}

		if store.begun != 1 || store.finished != 1 {
			t.Errorf("BeginRun() called %d times, Finish() called %d times, want = 1, 1", store.begun, store.finished)
		}
	})

	t.Run("Providerが失敗したらエラーを返す", func(t *testing.T) {
		store := &mockStore{}
		frontier, _ := buildMockURLFrontier(context.Background(), nil)
		conf := buildConfiguration(1, store, frontier)
		conf.ClientProvider = func(_ context.Context, _ *Configuration) (Client, error) {
			return nil, xerrors.New("broken")
		}

		if err := Start(conf, nil); err == nil {
			t.Error("Start() returns no error")
		}

		if store.begun != 0 || store.finished != 1 {
			t.Errorf("BeginRun() called %d times, Finish() called %d times, want = 0, 1", store.begun, store.finished)
		}
	})
}

func TestSeeding(t *testing.T) {
	frontier, _ := buildMockURLFrontier(context.Background(), nil)
	conf := buildConfiguration(1, &mockStore{}, frontier)

	if err := Seeding(conf, []string{"http://a.com", "http://b.com"}); err != nil {
		t.Fatalf("Seeding() returns error: %v", err)
	}

	queue := frontier.(*mockURLFrontier).queue
	if len(queue) != 2 || queue[0] != "http://a.com" || queue[1] != "http://b.com" {
		t.Errorf("Seeding() enqueues %v, want = [http://a.com http://b.com]", queue)
	}
}

func TestReset(t *testing.T) {
	store := &mockStore{}
	frontier, _ := buildMockURLFrontier(context.Background(), nil)
	_ = frontier.Enqueue(context.Background(), "http://a.com")
	conf := buildConfiguration(1, store, frontier)

	if err := Reset(conf); err != nil {
		t.Fatalf("Reset() returns error: %v", err)
	}

	if store.reset != 1 || store.finished != 1 {
		t.Errorf("Reset() called %d times, Finish() called %d times, want = 1, 1", store.reset, store.finished)
	}
}
