package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"morphfeatures/internal/models"
)

const defaultCatalog = "specimens.db"

var catalogDDL = []string{
	`CREATE TABLE IF NOT EXISTS specimens (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS neuron_reconstructions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		specimen_id INTEGER NOT NULL REFERENCES specimens(id),
		superseded BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS well_known_files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		attachable_id INTEGER NOT NULL,
		attachable_type TEXT NOT NULL,
		filename TEXT NOT NULL,
		storage_directory TEXT NOT NULL
	)`,
}

// OpenSQLite opens (creating if needed) a local specimen catalog and ensures
// its schema exists.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if path == "" {
		path = defaultCatalog
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection keeps the catalog consistent under concurrent lookups
	db.SetMaxOpenConns(1)
	for _, stmt := range catalogDDL {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("execute ddl: %w", err)
		}
	}
	return newSQLStore(db, DriverSQLite, "?"), nil
}

// AddReconstruction registers rec as the current reconstruction of its
// specimen. Earlier reconstructions of the same specimen become superseded.
func (s *SQLStore) AddReconstruction(ctx context.Context, rec models.SpecimenRecord) error {
	if s.driver != DriverSQLite {
		return fmt.Errorf("add reconstruction: %s store is read-only", s.driver)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO specimens (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`, rec.ID, rec.Name); err != nil {
		return fmt.Errorf("upsert specimen: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE neuron_reconstructions SET superseded = TRUE WHERE specimen_id = ?`, rec.ID); err != nil {
		return fmt.Errorf("supersede reconstructions: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO neuron_reconstructions (specimen_id, superseded) VALUES (?, FALSE)`, rec.ID)
	if err != nil {
		return fmt.Errorf("insert reconstruction: %w", err)
	}
	nrID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reconstruction id: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO well_known_files (attachable_id, attachable_type, filename, storage_directory)
		VALUES (?, 'NeuronReconstruction', ?, ?)`, nrID, rec.Filename, rec.Directory); err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return tx.Commit()
}
