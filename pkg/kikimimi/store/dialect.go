package store

import "golang.org/x/xerrors"

// ドライバ毎に異なるSQL
type dialect struct {
	insertIgnore string
	schema       []string
}

var dialects = map[string]*dialect{
	"sqlite3": {
		insertIgnore: "INSERT OR IGNORE",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS crawled_documents(
				url TEXT PRIMARY KEY,
				content_type TEXT NOT NULL,
				content BLOB NOT NULL,
				last_crawled INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS domain_policies(
				domain TEXT PRIMARY KEY,
				allowed TEXT NOT NULL,
				disallowed TEXT NOT NULL,
				crawl_delay INTEGER NOT NULL,
				last_crawled INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS seen_urls(url TEXT PRIMARY KEY)`,
			`CREATE TABLE IF NOT EXISTS channels(name TEXT PRIMARY KEY, queries TEXT NOT NULL)`,
			`CREATE TABLE IF NOT EXISTS channel_matches(
				channel TEXT NOT NULL,
				url TEXT NOT NULL,
				matched_at INTEGER NOT NULL,
				PRIMARY KEY(channel, url)
			)`,
		},
	},

	"mysql": {
		insertIgnore: "INSERT IGNORE",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS crawled_documents(
				url VARCHAR(512) NOT NULL PRIMARY KEY,
				content_type VARCHAR(255) NOT NULL,
				content MEDIUMBLOB NOT NULL,
				last_crawled BIGINT NOT NULL
			) DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS domain_policies(
				domain VARCHAR(255) NOT NULL PRIMARY KEY,
				allowed TEXT NOT NULL,
				disallowed TEXT NOT NULL,
				crawl_delay BIGINT NOT NULL,
				last_crawled BIGINT NOT NULL
			) DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS seen_urls(url VARCHAR(512) NOT NULL PRIMARY KEY) DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS channels(name VARCHAR(255) NOT NULL PRIMARY KEY, queries TEXT NOT NULL) DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS channel_matches(
				channel VARCHAR(255) NOT NULL,
				url VARCHAR(512) NOT NULL,
				matched_at BIGINT NOT NULL,
				PRIMARY KEY(channel, url)
			) DEFAULT CHARSET=utf8mb4`,
		},
	},
}

func dialectOf(driver string) (*dialect, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, xerrors.Errorf("unsupported driver: %s", driver)
	}

	return d, nil
}
