// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resume

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver
)

const schemaVersion = 1

// SqliteStore implements Store using SQLite.
type SqliteStore struct {
	DB *sql.DB
}

// NewSqliteStore opens (and migrates) the database at dbPath.
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("create resume store dir: %w", err)
	}
	db, err := openSqlite(dbPath, 5*time.Second)
	if err != nil {
		return nil, err
	}

	s := &SqliteStore{DB: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("resume store: migration failed: %w", err)
	}
	return s, nil
}

// openSqlite applies WAL and busy_timeout to every pooled connection via the DSN.
func openSqlite(dbPath string, busy time.Duration) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		dbPath, busy.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	// Single writer; the controller saves at close boundaries only.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}
	return db, nil
}

func (s *SqliteStore) migrate() error {
	var currentVersion int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS resume_entries (
		seq INTEGER NOT NULL,
		fingerprint INTEGER PRIMARY KEY,
		pos_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_resume_seq ON resume_entries(seq);

	CREATE TABLE IF NOT EXISTS resume_meta (
		key TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SqliteStore) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	var salt int64
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM resume_meta WHERE key = 'salt'`).Scan(&salt)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return snap, fmt.Errorf("load salt: %w", err)
	default:
		snap.Salt = uint32(salt)
	}

	rows, err := s.DB.QueryContext(ctx, `SELECT fingerprint, pos_ms FROM resume_entries ORDER BY seq ASC`)
	if err != nil {
		return snap, fmt.Errorf("load entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var fp int64
		var e Entry
		if err := rows.Scan(&fp, &e.PosMsec); err != nil {
			return snap, fmt.Errorf("scan entry: %w", err)
		}
		e.Fingerprint = uint64(fp)
		snap.Entries = append(snap.Entries, e)
	}
	return snap, rows.Err()
}

// Save replaces the stored snapshot in one transaction.
func (s *SqliteStore) Save(ctx context.Context, snap Snapshot) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
	INSERT INTO resume_meta (key, value) VALUES ('salt', ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`, int64(snap.Salt)); err != nil {
		return fmt.Errorf("save salt: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM resume_entries`); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO resume_entries (seq, fingerprint, pos_ms) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for i, e := range snap.Entries {
		// 56-bit fingerprints always fit a signed INTEGER column.
		if _, err := stmt.ExecContext(ctx, i, int64(e.Fingerprint&fingerprintMask), e.PosMsec); err != nil {
			return fmt.Errorf("save entry: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}
