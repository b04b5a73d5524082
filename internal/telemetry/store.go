package telemetry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/Aman-CERP/mdsentry/internal/conflict"
	"github.com/Aman-CERP/mdsentry/internal/resolution"
)

// SQLiteStore keeps daily conflict statistics in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the statistics database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create telemetry directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if err := InitSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// InitSchema creates the statistics tables if they don't exist.
func InitSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS detection_stats (
		date TEXT NOT NULL,
		kind TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, kind)
	);

	CREATE TABLE IF NOT EXISTS resolution_stats (
		date TEXT NOT NULL,
		kind TEXT NOT NULL,
		action TEXT NOT NULL,
		auto INTEGER NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, kind, action, auto)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// SaveDetections adds counts to the totals for date.
func (s *SQLiteStore) SaveDetections(date string, counts map[conflict.Kind]int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO detection_stats (date, kind, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, kind) DO UPDATE SET count = count + excluded.count
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for kind, n := range counts {
		if _, err := stmt.Exec(date, string(kind), n); err != nil {
			return fmt.Errorf("save detection count: %w", err)
		}
	}
	return tx.Commit()
}

// SaveResolutions adds counts to the totals for date.
func (s *SQLiteStore) SaveResolutions(date string, counts map[ResolutionKey]int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO resolution_stats (date, kind, action, auto, count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(date, kind, action, auto) DO UPDATE SET count = count + excluded.count
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for k, n := range counts {
		auto := 0
		if k.Auto {
			auto = 1
		}
		if _, err := stmt.Exec(date, string(k.Kind), string(k.Action), auto, n); err != nil {
			return fmt.Errorf("save resolution count: %w", err)
		}
	}
	return tx.Commit()
}

// Totals is the sum of daily statistics over a date range.
type Totals struct {
	From        string                  `json:"from"`
	To          string                  `json:"to"`
	Detections  map[conflict.Kind]int64 `json:"detections"`
	Resolutions []ResolutionCount       `json:"resolutions"`
}

// Totals sums statistics for dates in [from, to], both YYYY-MM-DD.
func (s *SQLiteStore) Totals(from, to string) (Totals, error) {
	t := Totals{From: from, To: to, Detections: make(map[conflict.Kind]int64)}

	rows, err := s.db.Query(`
		SELECT kind, SUM(count) FROM detection_stats
		WHERE date >= ? AND date <= ?
		GROUP BY kind
	`, from, to)
	if err != nil {
		return Totals{}, fmt.Errorf("query detection stats: %w", err)
	}
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			_ = rows.Close()
			return Totals{}, fmt.Errorf("scan detection stats: %w", err)
		}
		t.Detections[conflict.Kind(kind)] = n
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return Totals{}, err
	}

	rows, err = s.db.Query(`
		SELECT kind, action, auto, SUM(count) FROM resolution_stats
		WHERE date >= ? AND date <= ?
		GROUP BY kind, action, auto
	`, from, to)
	if err != nil {
		return Totals{}, fmt.Errorf("query resolution stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[ResolutionKey]int64)
	for rows.Next() {
		var kind, action string
		var auto int
		var n int64
		if err := rows.Scan(&kind, &action, &auto, &n); err != nil {
			return Totals{}, fmt.Errorf("scan resolution stats: %w", err)
		}
		counts[ResolutionKey{Kind: conflict.Kind(kind), Action: resolution.Action(action), Auto: auto != 0}] = n
	}
	if err := rows.Err(); err != nil {
		return Totals{}, err
	}
	t.Resolutions = resolutionCounts(counts)
	return t, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
