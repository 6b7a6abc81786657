package kikimimi

import (
	"context"
	"time"

	"golang.org/x/xerrors"
)

type (
	StoreProviderFunc            func(ctx context.Context, conf *Configuration) (Store, error)
	URLFrontierProviderFunc      func(ctx context.Context, conf *Configuration) (URLFrontier, error)
	ClientProviderFunc           func(ctx context.Context, conf *Configuration) (Client, error)
	ArtifactGathererProviderFunc func(ctx context.Context, conf *Configuration) (ArtifactGatherer, error)
	CrawlerProviderFunc          func(ctx context.Context, conf *Configuration, shared *Shared) (Crawler, error)
	TracerProviderFunc           func(conf *Configuration) (Tracer, error)
)

const (
	defaultMaxFetches      = 1000
	defaultMaxDocumentSize = 1024 * 1024
	defaultRobotsUA        = "kikimimi"
)

type Configuration struct {
	Workers           uint
	DebugLevelLogging bool
	JSONLogging       bool

	// リクエストのUser-Agentヘッダーの値
	UserAgent string

	// robots.txt中で自身を表すUser-agentの値
	RobotsUA string

	MaxDocumentSize int64
	MaxFetches      uint

	// Crawl-delayによって再キューイングした後、次のURLを取り出すまでの待ち時間
	RequeuePause time.Duration

	// 全workerで合計した1秒あたりのリクエスト数の上限。0以下なら制限しない
	RequestsPerSecond float64

	AwsRegion          string
	AwsAccessKeyID     string
	AwsSecretAccessKey string
	AwsS3EndPoint      string

	StoreProvider            StoreProviderFunc
	URLFrontierProvider      URLFrontierProviderFunc
	ClientProvider           ClientProviderFunc
	ArtifactGathererProvider ArtifactGathererProviderFunc
	CrawlerProvider          CrawlerProviderFunc
	TracerProvider           TracerProviderFunc

	Options map[string]interface{}
}

func NewConfiguration(workers uint) *Configuration {
	return &Configuration{
		Workers:         workers,
		RobotsUA:        defaultRobotsUA,
		MaxDocumentSize: defaultMaxDocumentSize,
		MaxFetches:      defaultMaxFetches,
		RequeuePause:    100 * time.Millisecond,
		Options:         make(map[string]interface{}),
	}
}

// 1回の実行で取得するページ数の上限
func (c *Configuration) FetchBudget() uint {
	if c.MaxFetches == 0 {
		return defaultMaxFetches
	}

	return c.MaxFetches
}

func (c *Configuration) AwsConfigurationMayBeDummy() bool {
	return len(c.AwsAccessKeyID) == 0 || len(c.AwsSecretAccessKey) == 0
}

func (c *Configuration) OptionAsString(key string) *string {
	option, exists := c.Options[key]
	if !exists {
		return nil
	}

	str, ok := option.(string)
	if !ok {
		return nil
	}

	return &str
}

func (c *Configuration) MustOptionAsString(key string) string {
	str := c.OptionAsString(key)
	if str == nil {
		panic(xerrors.Errorf("required option: '%s' was NOT set", key))
	}

	return *str
}

// 文字列のオプションを返す。設定されていない場合はdefaultValueを返す
func (c *Configuration) OptionAsStringOr(key, defaultValue string) string {
	str := c.OptionAsString(key)
	if str == nil || len(*str) == 0 {
		return defaultValue
	}

	return *str
}
