package channel

import (
	"context"
	"strings"

	"github.com/murakmii/kikimimi/pkg/kikimimi"
	"github.com/murakmii/kikimimi/pkg/kikimimi/xpath"
	"golang.org/x/xerrors"
)

var ErrInvalidChannel = xerrors.New("invalid channel")

type ChannelStore interface {
	Channels(ctx context.Context) ([]*kikimimi.Channel, error)
	PutChannel(ctx context.Context, channel *kikimimi.Channel) error
	DeleteChannel(ctx context.Context, name string) error
	Matches(ctx context.Context, channel string) ([]string, error)
}

// チャンネルと、それにマッチしたURL
type Summary struct {
	Name    string   `json:"name"`
	Queries []string `json:"queries"`
	Matches []string `json:"matches"`
}

// チャンネルを登録する。同名のチャンネルが存在する場合はクエリを置き換える。
// クエリが1つでも不正であれば登録しない
func Register(ctx context.Context, store ChannelStore, name string, queries []string) error {
	name = strings.TrimSpace(name)
	if len(name) == 0 {
		return xerrors.Errorf("%w: name is empty", ErrInvalidChannel)
	}

	if len(queries) == 0 {
		return xerrors.Errorf("%w: channel '%s' has no query", ErrInvalidChannel, name)
	}

	for _, q := range queries {
		if _, err := xpath.Parse(q); err != nil {
			return xerrors.Errorf("%w: '%s': %v", ErrInvalidChannel, q, err)
		}
	}

	if err := store.PutChannel(ctx, &kikimimi.Channel{Name: name, Queries: queries}); err != nil {
		return xerrors.Errorf("failed to put channel: %w", err)
	}

	return nil
}

func Remove(ctx context.Context, store ChannelStore, name string) error {
	if err := store.DeleteChannel(ctx, name); err != nil {
		return xerrors.Errorf("failed to remove channel '%s': %w", name, err)
	}

	return nil
}

// 全チャンネルをマッチしたURLと共に返す
func List(ctx context.Context, store ChannelStore) ([]*Summary, error) {
	channels, err := store.Channels(ctx)
	if err != nil {
		return nil, xerrors.Errorf("failed to list channels: %w", err)
	}

	summaries := make([]*Summary, 0, len(channels))
	for _, ch := range channels {
		matches, err := store.Matches(ctx, ch.Name)
		if err != nil {
			return nil, xerrors.Errorf("failed to list matches of '%s': %w", ch.Name, err)
		}

		summaries = append(summaries, &Summary{Name: ch.Name, Queries: ch.Queries, Matches: matches})
	}

	return summaries, nil
}
