package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"morphfeatures/internal/models"
)

const lookupSQL = `SELECT cell.id, cell.name, wkf.filename, wkf.storage_directory
FROM specimens cell
JOIN neuron_reconstructions nr ON cell.id = nr.specimen_id
JOIN well_known_files wkf ON nr.id = wkf.attachable_id
	AND wkf.attachable_type = 'NeuronReconstruction'
WHERE %s = %s
	AND nr.superseded = false
ORDER BY nr.id, wkf.id
LIMIT 1`

// SQLStore runs the specimen lookups against a database/sql handle.
type SQLStore struct {
	db     *sql.DB
	driver Driver
	byID   string
	byName string
}

func newSQLStore(db *sql.DB, driver Driver, placeholder string) *SQLStore {
	return &SQLStore{
		db:     db,
		driver: driver,
		byID:   fmt.Sprintf(lookupSQL, "cell.id", placeholder),
		byName: fmt.Sprintf(lookupSQL, "cell.name", placeholder),
	}
}

func (s *SQLStore) Driver() Driver { return s.driver }

// DB exposes the underlying handle.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) LookupByID(ctx context.Context, id int64) (models.SpecimenRecord, error) {
	return s.lookup(ctx, s.byID, id)
}

func (s *SQLStore) LookupByName(ctx context.Context, name string) (models.SpecimenRecord, error) {
	return s.lookup(ctx, s.byName, name)
}

func (s *SQLStore) lookup(ctx context.Context, query string, arg any) (models.SpecimenRecord, error) {
	var rec models.SpecimenRecord
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&rec.ID, &rec.Name, &rec.Filename, &rec.Directory)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SpecimenRecord{}, ErrNotFound
	}
	if err != nil {
		return models.SpecimenRecord{}, fmt.Errorf("query %s: %w", s.driver, err)
	}
	return rec, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }
