package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	kerrors "github.com/Aman-CERP/indexkeeper/internal/errors"
	"github.com/Aman-CERP/indexkeeper/internal/index"
)

const schema = `
CREATE TABLE IF NOT EXISTS index_stats (
	name              TEXT PRIMARY KEY,
	display_name      TEXT NOT NULL,
	last_indexed_etag TEXT NOT NULL,
	priority          INTEGER NOT NULL,
	created_at        INTEGER NOT NULL,
	last_queried_at   INTEGER NOT NULL,
	last_indexed_at   INTEGER NOT NULL,
	doc_count         INTEGER NOT NULL
);
`

// SQLiteAccessor stores index statistics in a WAL-mode SQLite database with
// an LRU read-through cache in front of it.
type SQLiteAccessor struct {
	db    *sql.DB
	cache *lru.Cache[string, *index.Stats]
}

// NewSQLiteAccessor opens (or creates) the statistics database at path.
// cacheSize bounds the read cache; values below 1 get a small default.
func NewSQLiteAccessor(path string, cacheSize int) (*SQLiteAccessor, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create stats directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open stats database: %w", err)
	}

	// Single writer; WAL mode must be set via PRAGMA for modernc.org/sqlite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize stats schema: %w", err)
	}

	if cacheSize < 1 {
		cacheSize = 128
	}
	cache, err := lru.New[string, *index.Stats](cacheSize)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteAccessor{db: db, cache: cache}, nil
}

// Get implements Accessor.
func (a *SQLiteAccessor) Get(ctx context.Context, name string) (*index.Stats, error) {
	key := index.Normalize(name)
	if s, ok := a.cache.Get(key); ok {
		clone := *s
		return &clone, nil
	}

	row := a.db.QueryRowContext(ctx, `
		SELECT display_name, last_indexed_etag, priority, created_at,
		       last_queried_at, last_indexed_at, doc_count
		FROM index_stats WHERE name = ?`, key)

	var (
		s                                 index.Stats
		etag                              string
		priority                          int
		created, queried, indexed, docs   int64
	)
	err := row.Scan(&s.Name, &etag, &priority, &created, &queried, &indexed, &docs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kerrors.NotFound(name)
	}
	if err != nil {
		return nil, kerrors.Wrap(kerrors.ErrCodeStatsFailed, err).WithIndex(name)
	}

	s.LastIndexedEtag = index.Etag(etag)
	s.Priority = index.Priority(priority)
	s.CreatedAt = time.Unix(0, created).UTC()
	s.LastQueriedAt = time.Unix(0, queried).UTC()
	s.LastIndexedAt = time.Unix(0, indexed).UTC()
	s.DocCount = uint64(docs)

	clone := s
	a.cache.Add(key, &clone)
	return &s, nil
}

// Set implements Accessor.
func (a *SQLiteAccessor) Set(ctx context.Context, s *index.Stats) error {
	key := index.Normalize(s.Name)

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO index_stats
			(name, display_name, last_indexed_etag, priority, created_at,
			 last_queried_at, last_indexed_at, doc_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			display_name      = excluded.display_name,
			last_indexed_etag = excluded.last_indexed_etag,
			priority          = excluded.priority,
			created_at        = excluded.created_at,
			last_queried_at   = excluded.last_queried_at,
			last_indexed_at   = excluded.last_indexed_at,
			doc_count         = excluded.doc_count`,
		key, s.Name, string(s.LastIndexedEtag), int(s.Priority),
		s.CreatedAt.UnixNano(), s.LastQueriedAt.UnixNano(),
		s.LastIndexedAt.UnixNano(), int64(s.DocCount))
	if err != nil {
		return kerrors.Wrap(kerrors.ErrCodeStatsFailed, err).WithIndex(s.Name)
	}

	clone := *s
	a.cache.Add(key, &clone)
	return nil
}

// Delete implements Accessor.
func (a *SQLiteAccessor) Delete(ctx context.Context, name string) error {
	key := index.Normalize(name)
	if _, err := a.db.ExecContext(ctx, `DELETE FROM index_stats WHERE name = ?`, key); err != nil {
		return kerrors.Wrap(kerrors.ErrCodeStatsFailed, err).WithIndex(name)
	}
	a.cache.Remove(key)
	return nil
}

// List implements Accessor.
func (a *SQLiteAccessor) List(ctx context.Context) ([]*index.Stats, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT display_name, last_indexed_etag, priority, created_at,
		       last_queried_at, last_indexed_at, doc_count
		FROM index_stats ORDER BY name`)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.ErrCodeStatsFailed, err)
	}
	defer rows.Close()

	var out []*index.Stats
	for rows.Next() {
		var (
			s                               index.Stats
			etag                            string
			priority                        int
			created, queried, indexed, docs int64
		)
		if err := rows.Scan(&s.Name, &etag, &priority, &created, &queried, &indexed, &docs); err != nil {
			return nil, kerrors.Wrap(kerrors.ErrCodeStatsFailed, err)
		}
		s.LastIndexedEtag = index.Etag(etag)
		s.Priority = index.Priority(priority)
		s.CreatedAt = time.Unix(0, created).UTC()
		s.LastQueriedAt = time.Unix(0, queried).UTC()
		s.LastIndexedAt = time.Unix(0, indexed).UTC()
		s.DocCount = uint64(docs)
		out = append(out, &s)
	}
	return out, rows.Err()
}

// Close implements Accessor.
func (a *SQLiteAccessor) Close() error {
	a.cache.Purge()
	return a.db.Close()
}

var _ Accessor = (*SQLiteAccessor)(nil)
