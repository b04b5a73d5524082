package resolution

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/Aman-CERP/mdsentry/internal/conflict"
)

// SQLiteStore persists durable preferences in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the preference database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create preferences directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open preferences database: %w", err)
	}
	// Single writer; modernc ignores most DSN pragmas so they are set below.
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

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS preferences (
		scope_key TEXT NOT NULL,
		kind TEXT NOT NULL,
		action TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (scope_key, kind)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create preferences schema: %w", err)
	}
	return nil
}

// Load returns every stored preference.
func (s *SQLiteStore) Load(ctx context.Context) ([]Preference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scope_key, kind, action
		FROM preferences
		ORDER BY scope_key, kind
	`)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	var prefs []Preference
	for rows.Next() {
		var scope, kind, action string
		if err := rows.Scan(&scope, &kind, &action); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		prefs = append(prefs, Preference{
			ScopeKey:              scope,
			Kind:                  conflict.Kind(kind),
			Action:                Action(action),
			RememberAcrossSession: true,
		})
	}
	return prefs, rows.Err()
}

// Save upserts a preference.
func (s *SQLiteStore) Save(ctx context.Context, p Preference) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (scope_key, kind, action, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(scope_key, kind) DO UPDATE SET
			action = excluded.action,
			updated_at = CURRENT_TIMESTAMP
	`, p.ScopeKey, string(p.Kind), string(p.Action))
	if err != nil {
		return fmt.Errorf("save preference: %w", err)
	}
	return nil
}

// Delete removes a preference. Deleting a missing preference is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, scope string, kind conflict.Kind) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM preferences WHERE scope_key = ? AND kind = ?`, scope, string(kind)); err != nil {
		return fmt.Errorf("delete preference: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
