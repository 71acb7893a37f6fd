package audit

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// ChainStore persists the audit chain in a local SQLite database, keeping
// the tamper-evidence trail independent of the primary ledger store.
type ChainStore struct {
	db *sql.DB
}

// OpenChainStore opens (or creates) the audit database at path. Use
// ":memory:" for tests.
func OpenChainStore(path string) (*ChainStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_entries (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			previous_hash TEXT NOT NULL,
			payload TEXT NOT NULL,
			hash TEXT NOT NULL UNIQUE
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create audit schema: %w", err)
	}
	return &ChainStore{db: db}, nil
}

// Save appends one entry. Entries are insert-only; the hash chain makes
// any in-place edit detectable.
func (cs *ChainStore) Save(entry *LogEntry) error {
	_, err := cs.db.Exec(
		`INSERT INTO audit_entries (timestamp, previous_hash, payload, hash) VALUES (?, ?, ?, ?)`,
		entry.Timestamp, entry.PreviousHash, entry.Payload, entry.Hash)
	if err != nil {
		return fmt.Errorf("failed to save audit entry: %w", err)
	}
	return nil
}

// LastHash returns the hash of the most recent entry, or "" when the store
// is empty. A restarting process resumes the chain from this point.
func (cs *ChainStore) LastHash() (string, error) {
	var hash string
	err := cs.db.QueryRow(`SELECT hash FROM audit_entries ORDER BY seq DESC LIMIT 1`).Scan(&hash)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to read last hash: %w", err)
	}
	return hash, nil
}

// LoadAll returns every entry in append order, for chain verification.
func (cs *ChainStore) LoadAll() ([]*LogEntry, error) {
	rows, err := cs.db.Query(
		`SELECT timestamp, previous_hash, payload, hash FROM audit_entries ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.Timestamp, &e.PreviousHash, &e.Payload, &e.Hash); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database.
func (cs *ChainStore) Close() error {
	return cs.db.Close()
}
