// Package aggregate merges per-specimen feature maps into a single
// column-aligned feature table.
package aggregate

import (
	"sort"
	"strconv"

	"morphfeatures/internal/models"
)

// Compartments lists the analysed compartment types in column order.
var Compartments = []models.CompartmentType{models.BasalDendrite, models.ApicalDendrite}

// SpecimenFeatures is everything extracted for one specimen. A compartment
// that was skipped has no entry in Maps.
type SpecimenFeatures struct {
	Record models.SpecimenRecord
	Maps   map[models.CompartmentType]models.FeatureMap
}

// Index is the set of feature names seen per compartment.
type Index struct {
	names map[models.CompartmentType]map[string]struct{}
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{names: make(map[models.CompartmentType]map[string]struct{})}
}

// IndexOf builds the index as the union over all specimens.
func IndexOf(specimens []SpecimenFeatures) *Index {
	ix := NewIndex()
	for _, s := range specimens {
		for c, fm := range s.Maps {
			ix.Observe(c, fm)
		}
	}
	return ix
}

// Observe adds the names of fm to compartment c.
func (ix *Index) Observe(c models.CompartmentType, fm models.FeatureMap) {
	set, ok := ix.names[c]
	if !ok {
		set = make(map[string]struct{}, len(fm))
		ix.names[c] = set
	}
	for name := range fm {
		set[name] = struct{}{}
	}
}

// Sorted returns the names seen for c in lexicographic order.
func (ix *Index) Sorted(c models.CompartmentType) []string {
	out := make([]string, 0, len(ix.names[c]))
	for name := range ix.names[c] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Cell is one table value. Missing marks a feature the specimen lacks; it is
// distinct from any computed value, zero included.
type Cell struct {
	Value   float64
	Missing bool
}

// MissingMarker is the textual form of a missing cell.
const MissingMarker = "NaN"

// Present wraps a computed value.
func Present(v float64) Cell { return Cell{Value: v} }

// Absent is the missing cell.
func Absent() Cell { return Cell{Missing: true} }

func (c Cell) String() string {
	if c.Missing {
		return MissingMarker
	}
	return strconv.FormatFloat(c.Value, 'g', -1, 64)
}

// Row holds one specimen's identity and a value for every column.
type Row struct {
	Record models.SpecimenRecord
	Values map[models.CompartmentType][]Cell
}

// Table is the aggregated report. Rows are sorted by specimen name and every
// row has exactly len(Columns[c]) cells for each compartment c.
type Table struct {
	Compartments []models.CompartmentType
	Columns      map[models.CompartmentType][]string
	Rows         []Row
}

// Width returns the number of feature columns across all compartments.
func (t *Table) Width() int {
	n := 0
	for _, c := range t.Compartments {
		n += len(t.Columns[c])
	}
	return n
}

// Aggregate builds the table from all specimens using the names in ix. Each
// compartment gets its own sorted column list; absent features become
// missing cells.
func Aggregate(specimens []SpecimenFeatures, ix *Index) *Table {
	t := &Table{
		Compartments: Compartments,
		Columns:      make(map[models.CompartmentType][]string, len(Compartments)),
		Rows:         make([]Row, 0, len(specimens)),
	}
	for _, c := range Compartments {
		t.Columns[c] = ix.Sorted(c)
	}

	sorted := make([]SpecimenFeatures, len(specimens))
	copy(sorted, specimens)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Record.Name < sorted[j].Record.Name
	})

	for _, s := range sorted {
		row := Row{Record: s.Record, Values: make(map[models.CompartmentType][]Cell, len(Compartments))}
		for _, c := range Compartments {
			fm := s.Maps[c]
			cells := make([]Cell, len(t.Columns[c]))
			for i, name := range t.Columns[c] {
				if v, ok := fm[name]; ok {
					cells[i] = Present(v)
				} else {
					cells[i] = Absent()
				}
			}
			row.Values[c] = cells
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}
