// Package cache implements the two-tier scrape cache: an embedded SQLite
// fast tier in front of the durable Postgres store.
package cache

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/brandintel/internal/model"
)

// SQLite is the fast cache tier, an embedded database addressed by DSN.
// The default ":memory:" DSN makes it volatile; a file DSN on local disk
// survives restarts without a round trip to the durable store.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens the fast tier at the given DSN, configures WAL mode, and
// creates the schema.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "cache: open sqlite")
	}

	// A second connection to a :memory: DSN would get its own empty
	// database, so the pool is pinned to one connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "cache: exec %s", pragma)
		}
	}

	if _, err := db.Exec(sqliteMigration); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "cache: migrate sqlite")
	}

	return &SQLite{db: db}, nil
}

// Timestamps are unix seconds so expiry comparisons never depend on how the
// driver formats time values.
const sqliteMigration = `
CREATE TABLE IF NOT EXISTS scraping_cache (
	url_hash         TEXT PRIMARY KEY,
	url              TEXT NOT NULL,
	body             TEXT NOT NULL,
	page_count       INTEGER NOT NULL DEFAULT 0,
	scraped_at       INTEGER NOT NULL,
	expires_at       INTEGER NOT NULL,
	access_count     INTEGER NOT NULL DEFAULT 0,
	last_accessed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scraping_cache_expires_at ON scraping_cache(expires_at);
`

// GetCachedScrape returns the cached body for a URL hash, or nil on a miss.
func (s *SQLite) GetCachedScrape(ctx context.Context, urlHash string) ([]byte, error) {
	now := time.Now().UTC().Unix()

	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM scraping_cache WHERE url_hash = ? AND expires_at > ?`,
		urlHash, now,
	).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "cache: sqlite get")
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE scraping_cache SET access_count = access_count + 1, last_accessed_at = ? WHERE url_hash = ?`,
		now, urlHash,
	)
	if err != nil {
		return nil, eris.Wrap(err, "cache: sqlite touch")
	}
	return []byte(body), nil
}

// SetCachedScrape stores or replaces an entry. Replacing bumps its
// access_count, matching the durable tier's conflict behavior.
func (s *SQLite) SetCachedScrape(ctx context.Context, entry model.CacheEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scraping_cache (url_hash, url, body, page_count, scraped_at, expires_at, access_count, last_accessed_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		 ON CONFLICT(url_hash) DO UPDATE SET
		   url = excluded.url, body = excluded.body, page_count = excluded.page_count,
		   scraped_at = excluded.scraped_at, expires_at = excluded.expires_at,
		   access_count = access_count + 1, last_accessed_at = excluded.last_accessed_at`,
		entry.URLHash, entry.URL, string(entry.Body), entry.PageCount,
		entry.ScrapedAt.UTC().Unix(), entry.ExpiresAt.UTC().Unix(), entry.ScrapedAt.UTC().Unix(),
	)
	return eris.Wrap(err, "cache: sqlite set")
}

func (s *SQLite) DeleteCachedScrape(ctx context.Context, urlHash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scraping_cache WHERE url_hash = ?`, urlHash)
	return eris.Wrap(err, "cache: sqlite delete")
}

// DeleteExpired removes entries past their TTL and returns the count.
func (s *SQLite) DeleteExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM scraping_cache WHERE expires_at <= ?`,
		time.Now().UTC().Unix(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "cache: sqlite delete expired")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "cache: sqlite rows affected")
}

func (s *SQLite) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "cache: sqlite ping")
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
