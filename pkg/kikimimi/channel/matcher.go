// Package channel matches fetched documents against subscribed channels and manages channel records.
package channel

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/murakmii/kikimimi/pkg/kikimimi"
	"github.com/murakmii/kikimimi/pkg/kikimimi/document"
	"github.com/murakmii/kikimimi/pkg/kikimimi/xpath"
	"golang.org/x/xerrors"
)

// チャンネルにURLが追加されたことを表す成果物
type Match struct {
	Channel   string    `json:"channel"`
	URL       string    `json:"url"`
	MatchedAt time.Time `json:"matched_at"`
}

// マッチングに必要な操作
type MatchStore interface {
	Channels(ctx context.Context) ([]*kikimimi.Channel, error)
	AddMatch(ctx context.Context, channel, url string) (bool, error)
}

// 文書を全チャンネルのクエリで評価し、マッチしたチャンネルにURLを記録する。
// 全workerで共有される
type Matcher struct {
	store    MatchStore
	gatherer kikimimi.ArtifactGatherer
	parsed   *lru.Cache
	now      func() time.Time
}

// 不正なクエリを表す値。キャッシュして再度解析しないようにする
type invalidQuery struct {
	err error
}

func NewMatcher(store MatchStore, gatherer kikimimi.ArtifactGatherer, cacheSize int) (*Matcher, error) {
	parsed, err := lru.New(cacheSize)
	if err != nil {
		return nil, xerrors.Errorf("failed to create query cache: %w", err)
	}

	return &Matcher{store: store, gatherer: gatherer, parsed: parsed, now: time.Now}, nil
}

// 文書を評価し、新たにURLが追加されたチャンネルの名前を返す。
// 文書を解析できない場合は何もしない
func (m *Matcher) Apply(ctx context.Context, url, body string) []string {
	logger := kikimimi.LoggerFromContext(ctx)

	root, err := document.Parse(body)
	if err != nil {
		logger.Debugf("skipped matching unparsable document: %v", err)
		return nil
	}

	channels, err := m.store.Channels(ctx)
	if err != nil {
		logger.Warnf("failed to list channels: %v", err)
		return nil
	}

	added := make([]string, 0)

	for _, ch := range channels {
		if !m.matches(ctx, ch, root) {
			continue
		}

		inserted, err := m.store.AddMatch(ctx, ch.Name, url)
		if err != nil {
			logger.Warnf("failed to add %s to channel '%s': %v", url, ch.Name, err)
			continue
		}

		if !inserted {
			continue
		}

		logger.Infof("matched channel '%s'", ch.Name)
		added = append(added, ch.Name)
		kikimimi.TracerFromContext(ctx).TraceMatched(ctx)

		match := &Match{Channel: ch.Name, URL: url, MatchedAt: m.now()}
		if err := m.gatherer.Collect(ctx, match); err != nil {
			logger.Warnf("failed to collect match: %v", err)
		}
	}

	return added
}

// チャンネルのクエリのいずれかにマッチするかどうか
func (m *Matcher) matches(ctx context.Context, ch *kikimimi.Channel, root xpath.Node) bool {
	for _, raw := range ch.Queries {
		q, err := m.query(raw)
		if err != nil {
			kikimimi.LoggerFromContext(ctx).Warnf("skipped invalid query of channel '%s': %v", ch.Name, err)
			continue
		}

		if q.Matches(root) {
			return true
		}
	}

	return false
}

func (m *Matcher) query(raw string) (*xpath.Query, error) {
	if cached, ok := m.parsed.Get(raw); ok {
		switch v := cached.(type) {
		case *xpath.Query:
			return v, nil
		case *invalidQuery:
			return nil, v.err
		}
	}

	q, err := xpath.Parse(raw)
	if err != nil {
		m.parsed.Add(raw, &invalidQuery{err: err})
		return nil, err
	}

	m.parsed.Add(raw, q)
	return q, nil
}
