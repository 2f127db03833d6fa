package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists definitions in a sqlite database. Each row keeps
// the full definition as JSON; the timestamp columns only order List.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewSQLiteStoreWithDB wraps an existing connection.
func NewSQLiteStoreWithDB(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS automations (
			id TEXT PRIMARY KEY,
			definition TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Insert(ctx context.Context, def Definition) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal automation: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO automations (id, definition, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			definition = excluded.definition,
			updated_at = excluded.updated_at
	`, def.ID.String(), string(raw),
		def.CreatedAt.UTC().Format(time.RFC3339Nano),
		def.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert automation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Definition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT definition FROM automations ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query automations: %w", err)
	}
	defer rows.Close()

	var defs []Definition
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan automation: %w", err)
		}
		var def Definition
		if err := json.Unmarshal([]byte(raw), &def); err != nil {
			return nil, fmt.Errorf("unmarshal automation: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (s *SQLiteStore) Update(ctx context.Context, def Definition) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal automation: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE automations SET definition = ?, updated_at = ? WHERE id = ?
	`, string(raw), def.UpdatedAt.UTC().Format(time.RFC3339Nano), def.ID.String())
	if err != nil {
		return fmt.Errorf("update automation: %w", err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("automation %s: %w", def.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (Definition, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT definition FROM automations WHERE id = ?
	`, id.String()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Definition{}, fmt.Errorf("automation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Definition{}, fmt.Errorf("get automation: %w", err)
	}

	var def Definition
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		return Definition{}, fmt.Errorf("unmarshal automation: %w", err)
	}
	return def, nil
}
