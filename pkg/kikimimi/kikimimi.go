package kikimimi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/xerrors"
)

// 対象のレコードが存在しないことを表すエラー
var ErrNotFound = xerrors.New("record not found")

// 何らかの終了処理表すFinishメソッドの実装を要求するinterface
type Finisher interface {
	Finish() error
}

// 過去にクロールしたドキュメント。If-Modified-Sinceによる条件付き取得のため、実行を跨いで保持される
type CrawledDocument struct {
	URL         string
	ContentType string
	Content     string
	LastCrawled time.Time
}

// ドメイン毎のrobots.txtに基づくクロールポリシー。1回の実行の間だけ有効
type DomainPolicy struct {
	Domain      string
	Allowed     []string
	Disallowed  []string
	CrawlDelay  time.Duration
	LastCrawled time.Time
}

// 購読者が定義するチャンネル。いずれかのクエリにマッチしたドキュメントのURLが記録される
type Channel struct {
	Name    string
	Queries []string
}

// 永続化層の実装を要求するinterface
// 変更系の操作はそれぞれ1つのトランザクション中で行い、失敗した場合はロールバックした上でエラーを返すこと
type Store interface {
	Finisher

	// 実行単位のデータ(既出URL、ドメインポリシー)を破棄し、新しい実行に備える
	BeginRun(ctx context.Context) error

	// 全データを破棄する
	Reset(ctx context.Context) error

	GetDocument(ctx context.Context, url string) (*CrawledDocument, error)
	PutDocument(ctx context.Context, doc *CrawledDocument) error
	TouchDocument(ctx context.Context, url string, at time.Time) error

	GetPolicy(ctx context.Context, domain string) (*DomainPolicy, error)
	PutPolicy(ctx context.Context, policy *DomainPolicy) error
	TouchPolicy(ctx context.Context, domain string, at time.Time) error

	IsSeen(ctx context.Context, url string) (bool, error)

	// 既出URLとして記録する。新たに記録した場合にtrueを返す
	MarkSeen(ctx context.Context, url string) (bool, error)

	Channels(ctx context.Context) ([]*Channel, error)
	PutChannel(ctx context.Context, channel *Channel) error
	DeleteChannel(ctx context.Context, name string) error

	// チャンネルにURLを追加する。新たに追加した場合にtrueを返す
	AddMatch(ctx context.Context, channel, url string) (bool, error)
	Matches(ctx context.Context, channel string) ([]string, error)
}

// クロール対象となるURLのキューの実装を要求するinterface
// 重複したURLを受け入れて良い
type URLFrontier interface {
	Finisher

	// URLを追加する。ブロックしないこと
	Enqueue(ctx context.Context, url string) error

	// URLを1つ取り出す。一定時間待っても取り出せない場合は空文字列を返す
	Dequeue(ctx context.Context) (string, error)

	IsEmpty(ctx context.Context) (bool, error)

	// キューを空にする
	Reset() error
}

type Request struct {
	Method string
	URL    string
	Header http.Header
}

type Response struct {
	StatusCode    int
	Header        http.Header
	ContentLength int64
	Body          string

	// ボディがサイズ上限を超えたため切り詰められた場合にtrue
	Truncated bool
}

// HTTPリクエストの送信を行うクライアントの実装を要求するinterface
// リダイレクトは追跡せず、Locationヘッダーを含むレスポンスをそのまま返すこと
type Client interface {
	Finisher

	Send(ctx context.Context, req *Request) (*Response, error)
}

// クロール中に得られた結果の収集処理の実装を要求するinterface
// 複数のworkerから同時に呼び出される
type ArtifactGatherer interface {
	Finisher

	Collect(ctx context.Context, artifact interface{}) error
}

type NullArtifactGatherer struct{}

func NewNullArtifactGatherer() ArtifactGatherer                             { return NullArtifactGatherer{} }
func (g NullArtifactGatherer) Collect(_ context.Context, _ interface{}) error { return nil }
func (g NullArtifactGatherer) Finish() error                                  { return nil }

// クロール中の動作状況をトレースするトレーサーの実装を要求するinterface
// 1プロセス中でただ1つのトレーサーを用いるため、競合状態に注意すること
type Tracer interface {
	Finisher

	// 1ページ取得するごとに呼び出される
	TraceFetched(ctx context.Context, err error)

	// 1 HTTPリクエスト完了するごとに呼び出される
	TraceRequest(ctx context.Context, elapsed float64)

	// チャンネルにURLが追加されるごとに呼び出される
	TraceMatched(ctx context.Context)
}

// 何もしないデフォルトのトレーサー
type NullTracer struct{}

func NewNullTracer() Tracer                                    { return NullTracer{} }
func (t NullTracer) TraceFetched(_ context.Context, _ error)   {}
func (t NullTracer) TraceRequest(_ context.Context, _ float64) {}
func (t NullTracer) TraceMatched(_ context.Context)            {}
func (t NullTracer) Finish() error                             { return nil }

// 1つのURLについてのクロールの実装を要求するinterface
// 全workerで共有されるため、goroutine safeであること
type Crawler interface {
	Finisher

	// 与えられたURLについてクロールする。エラーを返すのは処理を継続できない場合のみ
	Crawl(ctx context.Context, url string) error
}

// 1回の実行中に全workerで共有されるコンポーネント
type Shared struct {
	Store    Store
	Frontier URLFrontier
	Client   Client
	Gatherer ArtifactGatherer
	Counter  *RunCounter
}

// 初期URLを設定する
func Seeding(conf *Configuration, urls []string) error {
	ctx, err := RootContext(conf)
	if err != nil {
		return err
	}

	frontier, err := conf.URLFrontierProvider(SubSystemContext(ctx, "url-frontier"), conf)
	if err != nil {
		return xerrors.Errorf("failed to setup url frontier: %w", err)
	}

	for _, url := range urls {
		if err = frontier.Enqueue(ctx, url); err != nil {
			_ = frontier.Finish()
			return xerrors.Errorf("failed to seeding: %w", err)
		}
	}

	return frontier.Finish()
}

// 指定の設定に基づいてクロールを開始する。seedsが与えられた場合はそれらを初期URLとする
func Start(conf *Configuration, seeds []string) error {
	ctx, err := RootContext(conf)
	if err != nil {
		return err
	}

	logger := LoggerFromContext(ctx)

	shared, err := setupShared(ctx, conf)
	if err != nil {
		return err
	}
	defer finishAll(ctx, shared.Gatherer, shared.Client, shared.Frontier, shared.Store)

	// 既出URLとドメインポリシーは実行毎に作り直す
	if err = shared.Store.BeginRun(ctx); err != nil {
		return xerrors.Errorf("failed to begin run: %w", err)
	}

	for _, seed := range seeds {
		if err = shared.Frontier.Enqueue(ctx, seed); err != nil {
			return xerrors.Errorf("failed to enqueue seed: %w", err)
		}
	}

	crawler, err := conf.CrawlerProvider(SubSystemContext(ctx, "crawler"), conf, shared)
	if err != nil {
		return xerrors.Errorf("failed to setup crawler: %w", err)
	}
	defer finishAll(ctx, crawler)

	wg := &sync.WaitGroup{}

	for i := uint(1); i <= conf.Workers; i++ {
		wg.Add(1)

		go func(n uint16) {
			defer wg.Done()
			NewWorker(n).Start(ctx, conf, shared, crawler)
		}(uint16(i))
	}

	wg.Wait()
	logger.Infof("finished crawling: %d page(s) fetched", shared.Counter.Count())

	return TracerFromContext(ctx).Finish()
}

// クロール中に生じたデータのリセットを実行する
func Reset(conf *Configuration) error {
	ctx, err := RootContext(conf)
	if err != nil {
		return err
	}

	store, err := conf.StoreProvider(SubSystemContext(ctx, "store"), conf)
	if err != nil {
		return xerrors.Errorf("failed to setup store: %w", err)
	}
	defer finishAll(ctx, store)

	if err = store.Reset(ctx); err != nil {
		return xerrors.Errorf("failed to reset by store: %w", err)
	}

	frontier, err := conf.URLFrontierProvider(SubSystemContext(ctx, "url-frontier"), conf)
	if err != nil {
		return xerrors.Errorf("failed to setup url frontier: %w", err)
	}
	defer finishAll(ctx, frontier)

	if err = frontier.Reset(); err != nil {
		return xerrors.Errorf("failed to reset by frontier: %w", err)
	}

	return nil
}

func setupShared(ctx context.Context, conf *Configuration) (*Shared, error) {
	var err error
	shared := &Shared{Counter: NewRunCounter()}

	defer func() {
		if err != nil {
			finishAll(ctx, shared.Gatherer, shared.Client, shared.Frontier, shared.Store)
		}
	}()

	if shared.Store, err = conf.StoreProvider(SubSystemContext(ctx, "store"), conf); err != nil {
		return nil, xerrors.Errorf("failed to setup store: %w", err)
	}

	if shared.Frontier, err = conf.URLFrontierProvider(SubSystemContext(ctx, "url-frontier"), conf); err != nil {
		return nil, xerrors.Errorf("failed to setup url frontier: %w", err)
	}

	if shared.Client, err = conf.ClientProvider(SubSystemContext(ctx, "client"), conf); err != nil {
		return nil, xerrors.Errorf("failed to setup client: %w", err)
	}

	if conf.ArtifactGathererProvider == nil {
		shared.Gatherer = NewNullArtifactGatherer()
	} else if shared.Gatherer, err = conf.ArtifactGathererProvider(SubSystemContext(ctx, "artifact-gatherer"), conf); err != nil {
		return nil, xerrors.Errorf("failed to setup artifact gatherer: %w", err)
	}

	return shared, nil
}

func finishAll(ctx context.Context, finishers ...Finisher) {
	for _, f := range finishers {
		if f == nil {
			continue
		}

		if err := f.Finish(); err != nil {
			LoggerFromContext(ctx).Errorf("failed to finish component: %v", err)
		}
	}
}
