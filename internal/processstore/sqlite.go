package processstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JPcasado88/ebay-order-processor-demo/pkg/types"
)

//go:embed schema.sql
var schemaFS embed.FS

// SQLiteStore keeps process states in a single SQLite table. The full state
// is stored as JSON; status and items_done are copied into columns so they
// can be queried from the sqlite shell.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database at dsn. ":memory:" is
// accepted for tests.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite 建議單連接；":memory:" 也需要單連接才能共用同一個資料庫
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema.sql: %w", err)
	}
	if _, err := s.db.Exec(string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, state types.ProcessState) error {
	if err := ValidateID(state.ID); err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO processes (id, status, items_done, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		string(state.ID), string(state.Status), state.ItemsDone, string(data),
		state.CreatedAt.UnixNano(), state.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert process: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrExists, state.ID)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id types.ProcessID) (types.ProcessState, error) {
	return s.get(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) get(ctx context.Context, q queryer, id types.ProcessID) (types.ProcessState, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT state FROM processes WHERE id = ?`, string(id)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ProcessState{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return types.ProcessState{}, fmt.Errorf("failed to query process: %w", err)
	}
	var state types.ProcessState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return types.ProcessState{}, fmt.Errorf("failed to decode process %s: %w", id, err)
	}
	return state, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id types.ProcessID, fn Mutator) (types.ProcessState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.ProcessState{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	prev, err := s.get(ctx, tx, id)
	if err != nil {
		return types.ProcessState{}, err
	}
	next, err := apply(prev, fn, s.now())
	if err != nil {
		return prev, err
	}
	data, err := json.Marshal(next)
	if err != nil {
		return prev, fmt.Errorf("failed to marshal state: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE processes SET status = ?, items_done = ?, state = ?, updated_at = ? WHERE id = ?`,
		string(next.Status), next.ItemsDone, string(data), next.UpdatedAt.UnixNano(), string(id)); err != nil {
		return prev, fmt.Errorf("failed to update process: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return prev, fmt.Errorf("failed to commit update: %w", err)
	}
	return next, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id types.ProcessID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM processes WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("failed to delete process: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]types.ProcessState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state FROM processes ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}
	defer rows.Close()

	var out []types.ProcessState
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan process: %w", err)
		}
		var state types.ProcessState
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			return nil, fmt.Errorf("failed to decode process: %w", err)
		}
		out = append(out, state)
	}
	return out, rows.Err()
}

var _ Store = (*SQLiteStore)(nil)
