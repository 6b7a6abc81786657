package url_frontier

import (
	"context"
	"time"

	"github.com/murakmii/kikimimi/pkg/kikimimi"
)

const (
	redisURLConfKey     = "built_in.url_frontier.redis_url"
	pollIntervalConfKey = "built_in.url_frontier.poll_interval"

	defaultPollInterval = 1 * time.Second
)

// Redisの接続先が設定されていればRedisを、そうでなければメモリ上のキューをURLFrontierとして用いる
func BuiltInURLFrontierProvider(ctx context.Context, conf *kikimimi.Configuration) (kikimimi.URLFrontier, error) {
	pollInterval := defaultPollInterval
	if s := conf.OptionAsString(pollIntervalConfKey); s != nil {
		d, err := time.ParseDuration(*s)
		if err == nil && d > 0 {
			pollInterval = d
		}
	}

	if redisURL := conf.OptionAsString(redisURLConfKey); redisURL != nil && len(*redisURL) > 0 {
		frontier, err := NewRedisURLFrontier(*redisURL, pollInterval)
		if err != nil {
			return nil, err
		}
		return frontier, nil
	}

	kikimimi.LoggerFromContext(ctx).Warn("url frontier setted on memory")
	return NewMemoryURLFrontier(pollInterval), nil
}
