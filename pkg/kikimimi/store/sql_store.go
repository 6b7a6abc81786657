package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/murakmii/kikimimi/pkg/kikimimi"
	"golang.org/x/xerrors"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

const (
	driverConfKey = "built_in.store.driver"
	sourceConfKey = "built_in.store.source"

	defaultDriver = "sqlite3"
	memorySource  = ":memory:"
)

type sqlStore struct {
	db      *sql.DB
	dialect *dialect
	now     func() time.Time
}

// database/sqlによるStoreを生成する。ドライバはsqlite3とmysqlに対応する
func BuiltInStoreProvider(ctx context.Context, conf *kikimimi.Configuration) (kikimimi.Store, error) {
	driver := conf.OptionAsStringOr(driverConfKey, defaultDriver)
	source := conf.OptionAsStringOr(sourceConfKey, "")

	if len(source) == 0 {
		if driver != defaultDriver {
			return nil, xerrors.Errorf("required option: '%s' was NOT set", sourceConfKey)
		}

		source = memorySource
		kikimimi.LoggerFromContext(ctx).Warn("store setted on memory")
	}

	s, err := newSQLStore(ctx, driver, source, conf.Workers)
	if err != nil {
		return nil, err
	}

	return s, nil
}

func newSQLStore(ctx context.Context, driver, source string, workers uint) (*sqlStore, error) {
	d, err := dialectOf(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, xerrors.Errorf("failed to open db: %w", err)
	}

	defer func() {
		if err != nil {
			_ = db.Close()
		}
	}()

	if driver == defaultDriver {
		// sqliteは書き込みが直列化されるので1接続とする。:memory:の場合は接続毎にDBが作られるため必須
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(int(workers) + 1)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(10 * time.Second)
	}

	for _, schema := range d.schema {
		if _, err = db.ExecContext(ctx, schema); err != nil {
			return nil, xerrors.Errorf("failed to setup db: %w", err)
		}
	}

	return &sqlStore{db: db, dialect: d, now: time.Now}, nil
}

func (s *sqlStore) BeginRun(ctx context.Context) error {
	return beginTx(ctx, s.db, func(tx *sql.Tx) error {
		return execAll(ctx, tx, "DELETE FROM seen_urls", "DELETE FROM domain_policies")
	})
}

func (s *sqlStore) Reset(ctx context.Context) error {
	return beginTx(ctx, s.db, func(tx *sql.Tx) error {
		return execAll(ctx, tx,
			"DELETE FROM crawled_documents",
			"DELETE FROM domain_policies",
			"DELETE FROM seen_urls",
			"DELETE FROM channels",
			"DELETE FROM channel_matches",
		)
	})
}

func (s *sqlStore) GetDocument(ctx context.Context, url string) (*kikimimi.CrawledDocument, error) {
	doc := &kikimimi.CrawledDocument{URL: url}
	var lastCrawled int64

	query := "SELECT content_type, content, last_crawled FROM crawled_documents WHERE url = ?"
	err := s.db.QueryRowContext(ctx, query, url).Scan(&doc.ContentType, &doc.Content, &lastCrawled)
	if err == sql.ErrNoRows {
		return nil, kikimimi.ErrNotFound
	} else if err != nil {
		return nil, xerrors.Errorf("failed to get document: %w", err)
	}

	doc.LastCrawled = fromMillis(lastCrawled)
	return doc, nil
}

func (s *sqlStore) PutDocument(ctx context.Context, doc *kikimimi.CrawledDocument) error {
	return beginTx(ctx, s.db, func(tx *sql.Tx) error {
		query := "REPLACE INTO crawled_documents(url, content_type, content, last_crawled) VALUES (?, ?, ?, ?)"
		_, err := tx.ExecContext(ctx, query, doc.URL, doc.ContentType, doc.Content, toMillis(doc.LastCrawled))
		return err
	})
}

func (s *sqlStore) TouchDocument(ctx context.Context, url string, at time.Time) error {
	return beginTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "UPDATE crawled_documents SET last_crawled = ? WHERE url = ?", toMillis(at), url)
		return err
	})
}

func (s *sqlStore) GetPolicy(ctx context.Context, domain string) (*kikimimi.DomainPolicy, error) {
	policy := &kikimimi.DomainPolicy{Domain: domain}
	var allowed, disallowed string
	var delay, lastCrawled int64

	query := "SELECT allowed, disallowed, crawl_delay, last_crawled FROM domain_policies WHERE domain = ?"
	err := s.db.QueryRowContext(ctx, query, domain).Scan(&allowed, &disallowed, &delay, &lastCrawled)
	if err == sql.ErrNoRows {
		return nil, kikimimi.ErrNotFound
	} else if err != nil {
		return nil, xerrors.Errorf("failed to get policy: %w", err)
	}

	if err = json.Unmarshal([]byte(allowed), &policy.Allowed); err != nil {
		return nil, xerrors.Errorf("broken policy of %s: %w", domain, err)
	}

	if err = json.Unmarshal([]byte(disallowed), &policy.Disallowed); err != nil {
		return nil, xerrors.Errorf("broken policy of %s: %w", domain, err)
	}

	policy.CrawlDelay = time.Duration(delay) * time.Millisecond
	policy.LastCrawled = fromMillis(lastCrawled)
	return policy, nil
}

func (s *sqlStore) PutPolicy(ctx context.Context, policy *kikimimi.DomainPolicy) error {
	allowed, err := json.Marshal(policy.Allowed)
	if err != nil {
		return xerrors.Errorf("failed to encode allowed paths: %w", err)
	}

	disallowed, err := json.Marshal(policy.Disallowed)
	if err != nil {
		return xerrors.Errorf("failed to encode disallowed paths: %w", err)
	}

	return beginTx(ctx, s.db, func(tx *sql.Tx) error {
		query := "REPLACE INTO domain_policies(domain, allowed, disallowed, crawl_delay, last_crawled) VALUES (?, ?, ?, ?, ?)"
		_, err := tx.ExecContext(ctx, query,
			policy.Domain,
			string(allowed),
			string(disallowed),
			int64(policy.CrawlDelay/time.Millisecond),
			toMillis(policy.LastCrawled),
		)
		return err
	})
}

func (s *sqlStore) TouchPolicy(ctx context.Context, domain string, at time.Time) error {
	return beginTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "UPDATE domain_policies SET last_crawled = ? WHERE domain = ?", toMillis(at), domain)
		return err
	})
}

func (s *sqlStore) IsSeen(ctx context.Context, url string) (bool, error) {
	var tmp sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM seen_urls WHERE url = ?", url).Scan(&tmp)
	if err == sql.ErrNoRows {
		return false, nil
	} else if err != nil {
		return false, xerrors.Errorf("failed to check seen url: %w", err)
	}

	return true, nil
}

func (s *sqlStore) MarkSeen(ctx context.Context, url string) (bool, error) {
	return s.insertIgnore(ctx, "seen_urls(url) VALUES (?)", url)
}

func (s *sqlStore) Channels(ctx context.Context) ([]*kikimimi.Channel, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, queries FROM channels ORDER BY name")
	if err != nil {
		return nil, xerrors.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	channels := make([]*kikimimi.Channel, 0)
	for rows.Next() {
		var queries string
		channel := &kikimimi.Channel{}

		if err = rows.Scan(&channel.Name, &queries); err != nil {
			return nil, xerrors.Errorf("failed to scan channel: %w", err)
		}

		if err = json.Unmarshal([]byte(queries), &channel.Queries); err != nil {
			return nil, xerrors.Errorf("broken channel %s: %w", channel.Name, err)
		}

		channels = append(channels, channel)
	}

	if err = rows.Err(); err != nil {
		return nil, xerrors.Errorf("failed to list channels: %w", err)
	}

	return channels, nil
}

func (s *sqlStore) PutChannel(ctx context.Context, channel *kikimimi.Channel) error {
	queries, err := json.Marshal(channel.Queries)
	if err != nil {
		return xerrors.Errorf("failed to encode queries: %w", err)
	}

	return beginTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "REPLACE INTO channels(name, queries) VALUES (?, ?)", channel.Name, string(queries))
		return err
	})
}

func (s *sqlStore) DeleteChannel(ctx context.Context, name string) error {
	return beginTx(ctx, s.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, "DELETE FROM channels WHERE name = ?", name)
		if err != nil {
			return err
		}

		if affected, err := result.RowsAffected(); err != nil {
			return err
		} else if affected == 0 {
			return kikimimi.ErrNotFound
		}

		_, err = tx.ExecContext(ctx, "DELETE FROM channel_matches WHERE channel = ?", name)
		return err
	})
}

func (s *sqlStore) AddMatch(ctx context.Context, channel, url string) (bool, error) {
	return s.insertIgnore(ctx, "channel_matches(channel, url, matched_at) VALUES (?, ?, ?)", channel, url, toMillis(s.now()))
}

func (s *sqlStore) Matches(ctx context.Context, channel string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT url FROM channel_matches WHERE channel = ? ORDER BY matched_at, url", channel)
	if err != nil {
		return nil, xerrors.Errorf("failed to list matches: %w", err)
	}
	defer rows.Close()

	urls := make([]string, 0)
	for rows.Next() {
		var url string
		if err = rows.Scan(&url); err != nil {
			return nil, xerrors.Errorf("failed to scan match: %w", err)
		}
		urls = append(urls, url)
	}

	if err = rows.Err(); err != nil {
		return nil, xerrors.Errorf("failed to list matches: %w", err)
	}

	return urls, nil
}

func (s *sqlStore) Finish() error {
	return s.db.Close()
}

// 重複を無視して挿入する。挿入した場合はtrueを返す
func (s *sqlStore) insertIgnore(ctx context.Context, into string, args ...interface{}) (bool, error) {
	inserted := false

	err := beginTx(ctx, s.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, s.dialect.insertIgnore+" INTO "+into, args...)
		if err != nil {
			return err
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}

		inserted = affected > 0
		return nil
	})

	if err != nil {
		return false, err
	}

	return inserted, nil
}

// トランザクション中でfを実行する。fがエラーを返した場合はロールバックし、そのエラーを返す
func beginTx(ctx context.Context, db *sql.DB, f func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Errorf("failed to begin transaction: %w", err)
	}

	if err := f(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return xerrors.Errorf("failed to rollback(%v): %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return xerrors.Errorf("failed to commit: %w", err)
	}

	return nil
}

func execAll(ctx context.Context, tx *sql.Tx, queries ...string) error {
	for _, query := range queries {
		if _, err := tx.ExecContext(ctx, query); err != nil {
			return err
		}
	}

	return nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixNano() / int64(time.Millisecond)
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}

	return time.Unix(0, ms*int64(time.Millisecond))
}
