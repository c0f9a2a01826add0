// Package report writes the aggregated feature table as CSV and reads it
// back.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"morphfeatures/internal/models"
	"morphfeatures/pkg/aggregate"
)

// Identity columns, in output order.
var identityColumns = []string{"specimen_name", "specimen_id", "filename"}

// ColumnPrefix returns the header prefix for compartment c.
func ColumnPrefix(c models.CompartmentType) string {
	switch c {
	case models.BasalDendrite:
		return "basal_"
	case models.ApicalDendrite:
		return "apical_"
	default:
		return strings.ReplaceAll(c.String(), " ", "_") + "_"
	}
}

// Header returns the header row for t.
func Header(t *aggregate.Table) []string {
	h := make([]string, 0, len(identityColumns)+t.Width())
	h = append(h, identityColumns...)
	for _, c := range t.Compartments {
		for _, name := range t.Columns[c] {
			h = append(h, ColumnPrefix(c)+name)
		}
	}
	return h
}

// Write emits t as CSV. Every data row is checked against the header width.
func Write(w io.Writer, t *aggregate.Table) error {
	cw := csv.NewWriter(w)
	header := Header(t)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range t.Rows {
		rec := make([]string, 0, len(header))
		rec = append(rec, row.Record.Name, strconv.FormatInt(row.Record.ID, 10), row.Record.Path())
		for _, c := range t.Compartments {
			cells := row.Values[c]
			if len(cells) != len(t.Columns[c]) {
				return fmt.Errorf("specimen %s: %d %s values for %d columns",
					row.Record.Name, len(cells), c, len(t.Columns[c]))
			}
			for _, cell := range cells {
				rec = append(rec, cell.String())
			}
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row %s: %w", row.Record.Name, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes t to path atomically: the table is written to a temporary
// file in the same directory and renamed into place only once complete.
func WriteFile(path string, t *aggregate.Table) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".morphfeatures-*.csv")
	if err != nil {
		return fmt.Errorf("unable to open output file %q: %w", path, err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if err = Write(tmp, t); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Read parses a CSV produced by Write. Columns must carry a known compartment
// prefix; the missing marker becomes a missing cell.
func Read(r io.Reader) (*aggregate.Table, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("read csv: empty input")
	}
	header := records[0]
	if len(header) < len(identityColumns) {
		return nil, fmt.Errorf("read csv: header has %d columns", len(header))
	}
	for i, name := range identityColumns {
		if header[i] != name {
			return nil, fmt.Errorf("read csv: column %d is %q, want %q", i, header[i], name)
		}
	}

	t := &aggregate.Table{
		Compartments: aggregate.Compartments,
		Columns:      make(map[models.CompartmentType][]string),
	}
	owner := make([]models.CompartmentType, len(header))
	for i := len(identityColumns); i < len(header); i++ {
		c, name, ok := splitColumn(header[i])
		if !ok {
			return nil, fmt.Errorf("read csv: unknown column %q", header[i])
		}
		owner[i] = c
		t.Columns[c] = append(t.Columns[c], name)
	}

	for n, rec := range records[1:] {
		id, err := strconv.ParseInt(rec[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("read csv: row %d: specimen id: %w", n+1, err)
		}
		dir, file := path.Split(rec[2])
		row := aggregate.Row{
			Record: models.SpecimenRecord{ID: id, Name: rec[0], Directory: dir, Filename: file},
			Values: make(map[models.CompartmentType][]aggregate.Cell),
		}
		for i := len(identityColumns); i < len(rec); i++ {
			cell := aggregate.Absent()
			if rec[i] != aggregate.MissingMarker {
				v, err := strconv.ParseFloat(rec[i], 64)
				if err != nil {
					return nil, fmt.Errorf("read csv: row %d column %q: %w", n+1, header[i], err)
				}
				cell = aggregate.Present(v)
			}
			row.Values[owner[i]] = append(row.Values[owner[i]], cell)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func splitColumn(col string) (models.CompartmentType, string, bool) {
	for _, c := range aggregate.Compartments {
		if name, ok := strings.CutPrefix(col, ColumnPrefix(c)); ok {
			return c, name, true
		}
	}
	return 0, "", false
}
