package models

import (
	"path"
	"strconv"
)

// SpecimenRecord identifies one specimen and the location of its current
// (non-superseded) reconstruction file.
type SpecimenRecord struct {
	// ID is the specimen's numeric database id
	ID int64

	// Name is the specimen name; records are de-duplicated on it
	Name string

	// Directory is the storage directory holding the reconstruction file
	Directory string

	// Filename is the reconstruction file's base name
	Filename string
}

// Path returns the full location of the reconstruction file.
func (r SpecimenRecord) Path() string {
	if r.Directory == "" {
		return r.Filename
	}
	return path.Join(r.Directory, r.Filename)
}

// SelectorKind tags how a specimen is requested.
type SelectorKind int

const (
	ByID SelectorKind = iota
	ByName
)

// Selector is a specimen request, either by id or by name.
type Selector struct {
	Kind SelectorKind
	ID   int64
	Name string
}

// SelectID returns a selector that looks a specimen up by id.
func SelectID(id int64) Selector { return Selector{Kind: ByID, ID: id} }

// SelectName returns a selector that looks a specimen up by name.
func SelectName(name string) Selector { return Selector{Kind: ByName, Name: name} }

func (s Selector) String() string {
	if s.Kind == ByID {
		return "id " + strconv.FormatInt(s.ID, 10)
	}
	return "name " + strconv.Quote(s.Name)
}

// FeatureMap maps feature names to computed scalar values for one
// (specimen, compartment) pair.
type FeatureMap map[string]float64
