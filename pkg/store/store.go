// Package store looks up specimens and the location of their current
// reconstruction file in a LIMS-style specimen database.
package store

import (
	"context"
	"errors"
	"fmt"

	"morphfeatures/internal/models"
)

// Driver identifies a store backend.
type Driver string

const (
	// DriverPostgres talks to a LIMS Postgres database through pgx.
	DriverPostgres Driver = "postgres"
	// DriverSQLite reads a local catalog file with the same schema.
	DriverSQLite Driver = "sqlite"
	// DriverMemory holds records in process (tests).
	DriverMemory Driver = "memory"
)

// ErrNotFound is returned when no eligible reconstruction matches a lookup.
var ErrNotFound = errors.New("specimen not found")

// LookupError reports a selector with no eligible reconstruction. It always
// wraps ErrNotFound; query and connection failures are returned unwrapped.
type LookupError struct {
	Selector models.Selector
	Err      error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup specimen %s: %v", e.Selector, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Store resolves specimens. Only non-superseded reconstructions are eligible;
// when several match, the first is returned.
type Store interface {
	LookupByID(ctx context.Context, id int64) (models.SpecimenRecord, error)
	LookupByName(ctx context.Context, name string) (models.SpecimenRecord, error)
	Close() error
	Driver() Driver
}

// Lookup dispatches on the selector kind. A miss becomes a LookupError; any
// other failure is returned with the selector added to its message.
func Lookup(ctx context.Context, s Store, sel models.Selector) (models.SpecimenRecord, error) {
	var (
		rec models.SpecimenRecord
		err error
	)
	switch sel.Kind {
	case models.ByID:
		rec, err = s.LookupByID(ctx, sel.ID)
	case models.ByName:
		rec, err = s.LookupByName(ctx, sel.Name)
	default:
		err = fmt.Errorf("unknown selector kind %d", sel.Kind)
	}
	if errors.Is(err, ErrNotFound) {
		return models.SpecimenRecord{}, &LookupError{Selector: sel, Err: err}
	}
	if err != nil {
		return models.SpecimenRecord{}, fmt.Errorf("lookup specimen %s: %w", sel, err)
	}
	return rec, nil
}

// Open selects a Store implementation. dsn is a connection string for
// postgres and a file path for sqlite; it is ignored for memory.
func Open(ctx context.Context, driver Driver, dsn string) (Store, error) {
	switch driver {
	case DriverPostgres:
		s, err := OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverSQLite:
		s, err := OpenSQLite(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
