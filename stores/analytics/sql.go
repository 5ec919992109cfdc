package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/poiesic/strata/stores"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"

	// DefaultTable receives one row per delivered chunk.
	DefaultTable = "gold_chunks"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// QueryStatus is the state of a submitted query.
type QueryStatus string

const (
	QueryRunning   QueryStatus = "RUNNING"
	QuerySucceeded QueryStatus = "SUCCEEDED"
	QueryFailed    QueryStatus = "FAILED"
)

// QueryState is returned by Poll.
type QueryState struct {
	ID       string
	Status   QueryStatus
	Rows     []map[string]any
	Err      error
	Started  time.Time
	Finished time.Time
}

// finishedRetention bounds how long a finished query nobody polled is kept.
const finishedRetention = 10 * time.Minute

type submission struct {
	state     QueryState
	done      chan struct{}
	abandoned bool // the waiter gave up; forget the query once it finishes
}

// Store is an AnalyticsStore over database/sql.
type Store struct {
	db     *sql.DB
	driver string
	table  string
	ready  atomic.Bool
	logger *slog.Logger

	mu      sync.Mutex
	queries map[string]*submission
}

var _ stores.AnalyticsStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store) error

// WithTable sets the chunk table name. Default is DefaultTable.
func WithTable(name string) Option {
	return func(s *Store) error {
		if !identifier.MatchString(name) {
			return fmt.Errorf("%w: %q", ErrInvalidTableName, name)
		}
		s.table = name
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// Open connects to the engine. The store is not ready until Bootstrap succeeds.
func Open(driver, dsn string, opts ...Option) (*Store, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// a shared in-memory database exists per connection
		db.SetMaxOpenConns(1)
	}
	s := &Store{
		db:      db,
		driver:  driver,
		table:   DefaultTable,
		logger:  slog.Default(),
		queries: make(map[string]*submission),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Bootstrap creates the chunk table and marks the store ready. It is safe to
// call again after a failure.
func (s *Store) Bootstrap(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Warn("analytics engine unreachable", "driver", s.driver, "err", err)
		return fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	chunk_id      TEXT PRIMARY KEY,
	document_id   TEXT NOT NULL,
	document_name TEXT NOT NULL,
	category_id   TEXT NOT NULL,
	category_name TEXT NOT NULL,
	chunk_index   INTEGER NOT NULL,
	content       TEXT NOT NULL,
	token_count   INTEGER NOT NULL,
	char_count    INTEGER NOT NULL,
	entity_count  INTEGER NOT NULL,
	has_table     BOOLEAN NOT NULL,
	has_image     BOOLEAN NOT NULL,
	entities      TEXT NOT NULL,
	sections      TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL
)`, s.table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	index := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_document_idx ON %s (document_id)`, s.table, s.table)
	if _, err := s.db.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("create index on %s: %w", s.table, err)
	}
	s.ready.Store(true)
	s.logger.Info("analytics engine ready", "driver", s.driver, "table", s.table)
	return nil
}

// IsReady implements stores.AnalyticsStore.
func (s *Store) IsReady() bool {
	return s.ready.Load()
}

// Table returns the chunk table name.
func (s *Store) Table() string {
	return s.table
}

// rebind rewrites "?" placeholders as "$n" for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
		case r == '?' && !inQuote:
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// InsertChunk implements stores.AnalyticsStore.
func (s *Store) InsertChunk(ctx context.Context, row stores.ChunkRow) stores.Result {
	if !s.IsReady() {
		return stores.Unavailable(ErrNotReady)
	}
	query := fmt.Sprintf(`INSERT INTO %s (
	chunk_id, document_id, document_name, category_id, category_name, chunk_index,
	content, token_count, char_count, entity_count, has_table, has_image,
	entities, sections, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (chunk_id) DO UPDATE SET
	document_name = excluded.document_name,
	category_id = excluded.category_id,
	category_name = excluded.category_name,
	chunk_index = excluded.chunk_index,
	content = excluded.content,
	token_count = excluded.token_count,
	char_count = excluded.char_count,
	entity_count = excluded.entity_count,
	has_table = excluded.has_table,
	has_image = excluded.has_image,
	entities = excluded.entities,
	sections = excluded.sections`, s.table)

	createdAt := row.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(query),
		row.ChunkID, row.DocumentID, row.DocumentName, row.CategoryID, row.CategoryName, row.ChunkIndex,
		row.Content, row.TokenCount, row.CharCount, row.EntityCount, row.HasTable, row.HasImage,
		row.Entities, row.Sections, createdAt,
	)
	if err != nil {
		return stores.Failed(fmt.Errorf("insert chunk %s: %w", row.ChunkID, err))
	}
	return stores.Ok(row.ChunkID, map[string]string{
		"table":  s.table,
		"driver": s.driver,
	})
}

// Submit starts query in the background and returns its id for Poll.
func (s *Store) Submit(ctx context.Context, query string, args ...any) (string, error) {
	if !s.IsReady() {
		return "", ErrNotReady
	}
	sub := &submission{
		state: QueryState{ID: uuid.NewString(), Status: QueryRunning, Started: time.Now().UTC()},
		done:  make(chan struct{}),
	}
	s.mu.Lock()
	s.expire(sub.state.Started)
	s.queries[sub.state.ID] = sub
	s.mu.Unlock()

	go func() {
		rows, err := s.query(ctx, s.rebind(query), args...)
		s.mu.Lock()
		sub.state.Finished = time.Now().UTC()
		if err != nil {
			sub.state.Status = QueryFailed
			sub.state.Err = err
		} else {
			sub.state.Status = QuerySucceeded
			sub.state.Rows = rows
		}
		if sub.abandoned {
			delete(s.queries, sub.state.ID)
		}
		s.mu.Unlock()
		close(sub.done)
	}()
	return sub.state.ID, nil
}

// Poll returns the current state of a submitted query. Finished queries are
// forgotten after they have been polled once.
func (s *Store) Poll(id string) (QueryState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.queries[id]
	if !ok {
		return QueryState{}, fmt.Errorf("%w: %s", ErrUnknownQuery, id)
	}
	state := sub.state
	if state.Status != QueryRunning {
		delete(s.queries, id)
	}
	return state, nil
}

// Wait blocks until the submitted query finishes or ctx is done.
func (s *Store) Wait(ctx context.Context, id string) (QueryState, error) {
	s.mu.Lock()
	sub, ok := s.queries[id]
	s.mu.Unlock()
	if !ok {
		return QueryState{}, fmt.Errorf("%w: %s", ErrUnknownQuery, id)
	}
	if err := ctx.Err(); err != nil {
		s.abandon(sub)
		return QueryState{}, err
	}
	select {
	case <-sub.done:
		return s.Poll(id)
	case <-ctx.Done():
		s.abandon(sub)
		return QueryState{}, ctx.Err()
	}
}

// abandon forgets sub now if it has finished, or when it finishes otherwise.
func (s *Store) abandon(sub *submission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.state.Status != QueryRunning {
		delete(s.queries, sub.state.ID)
		return
	}
	sub.abandoned = true
}

// expire drops queries that finished more than finishedRetention before now.
// Callers hold s.mu.
func (s *Store) expire(now time.Time) {
	for id, sub := range s.queries {
		if sub.state.Status != QueryRunning && now.Sub(sub.state.Finished) > finishedRetention {
			delete(s.queries, id)
		}
	}
}

// Execute implements stores.AnalyticsStore by submitting and waiting.
func (s *Store) Execute(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	id, err := s.Submit(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	state, err := s.Wait(ctx, id)
	if err != nil {
		return nil, err
	}
	return state.Rows, state.Err
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// DeleteDocument removes every row of a document.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	if !s.IsReady() {
		return ErrNotReady
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE document_id = ?`, s.table)
	_, err := s.db.ExecContext(ctx, s.rebind(query), documentID)
	return err
}

// Close implements stores.AnalyticsStore.
func (s *Store) Close() error {
	s.ready.Store(false)
	return s.db.Close()
}
