// Package store persists exam session snapshots and attempt history in
// SQLite, namespaced per paper.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/aigpsim/internal/model"

	_ "modernc.org/sqlite"
)

// ErrCorruptSnapshot indicates a stored snapshot that no longer parses.
// Callers should clear it and fall back to a fresh start.
var ErrCorruptSnapshot = errors.New("corrupt session snapshot")

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		paper_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		paper_id TEXT NOT NULL,
		attempt_id TEXT NOT NULL,
		forced INTEGER NOT NULL DEFAULT 0,
		report TEXT NOT NULL,
		ts DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_paper ON history(paper_id, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveSnapshot overwrites the single live snapshot for a paper.
func (s *Store) SaveSnapshot(paperID string, state model.SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal snapshot for %s: %w", paperID, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO snapshots (paper_id, state, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(paper_id) DO UPDATE SET state = ?, updated_at = ?`,
		paperID, string(data), time.Now(), string(data), time.Now(),
	)
	return err
}

// LoadSnapshot returns the snapshot for a paper. A missing snapshot is
// (nil, nil); an unparseable one returns ErrCorruptSnapshot; any other
// error means the storage itself is unavailable.
func (s *Store) LoadSnapshot(paperID string) (*model.SessionState, error) {
	var raw string
	err := s.db.QueryRow(`SELECT state FROM snapshots WHERE paper_id = ?`, paperID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var state model.SessionState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("%w: paper %s: %v", ErrCorruptSnapshot, paperID, err)
	}
	return &state, nil
}

// ClearSnapshot removes the snapshot for a paper. No-op if already absent.
func (s *Store) ClearSnapshot(paperID string) error {
	_, err := s.db.Exec(`DELETE FROM snapshots WHERE paper_id = ?`, paperID)
	return err
}

// AppendHistory appends an attempt record to the paper's history log and
// prunes the log to the newest keep entries. keep <= 0 disables pruning.
func (s *Store) AppendHistory(paperID string, rec model.AttemptRecord, keep int) error {
	data, err := json.Marshal(rec.Report)
	if err != nil {
		return fmt.Errorf("marshal report for %s: %w", paperID, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO history (paper_id, attempt_id, forced, report, ts) VALUES (?, ?, ?, ?, ?)`,
		paperID, rec.AttemptID, rec.Forced, string(data), rec.Timestamp,
	)
	if err != nil {
		return err
	}
	if keep > 0 {
		_, err = s.db.Exec(
			`DELETE FROM history WHERE paper_id = ? AND id NOT IN (
				SELECT id FROM history WHERE paper_id = ? ORDER BY id DESC LIMIT ?)`,
			paperID, paperID, keep,
		)
	}
	return err
}

// ListHistory returns a paper's attempt records, newest first.
func (s *Store) ListHistory(paperID string) ([]model.AttemptRecord, error) {
	rows, err := s.db.Query(
		`SELECT attempt_id, forced, report, ts FROM history WHERE paper_id = ? ORDER BY id DESC`,
		paperID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []model.AttemptRecord
	for rows.Next() {
		var rec model.AttemptRecord
		var raw string
		if err := rows.Scan(&rec.AttemptID, &rec.Forced, &raw, &rec.Timestamp); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &rec.Report); err != nil {
			return nil, fmt.Errorf("parse report for %s: %w", paperID, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// FindAnyUnfinished scans the given papers in order and returns the first
// resumable snapshot found, or ("", nil, nil) when there is none. Corrupt
// snapshots are skipped.
func (s *Store) FindAnyUnfinished(paperIDs []string) (string, *model.SessionState, error) {
	for _, id := range paperIDs {
		state, err := s.LoadSnapshot(id)
		if errors.Is(err, ErrCorruptSnapshot) {
			continue
		}
		if err != nil {
			return "", nil, err
		}
		if state != nil && !state.StartTime.IsZero() {
			return id, state, nil
		}
	}
	return "", nil, nil
}

// ExportAllHistory collects every paper's attempt history for export.
func (s *Store) ExportAllHistory() (model.HistoryExport, error) {
	rows, err := s.db.Query(`SELECT DISTINCT paper_id FROM history ORDER BY paper_id`)
	if err != nil {
		return model.HistoryExport{}, fmt.Errorf("list papers: %w", err)
	}
	defer rows.Close()
	var paperIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return model.HistoryExport{}, err
		}
		paperIDs = append(paperIDs, id)
	}
	if err := rows.Err(); err != nil {
		return model.HistoryExport{}, err
	}

	export := model.HistoryExport{}
	for _, id := range paperIDs {
		hist, err := s.ListHistory(id)
		if err != nil {
			return model.HistoryExport{}, fmt.Errorf("history for %s: %w", id, err)
		}
		export.Papers = append(export.Papers, model.PaperExport{PaperID: id, History: hist})
		export.Attempts += len(hist)
	}
	return export, nil
}
