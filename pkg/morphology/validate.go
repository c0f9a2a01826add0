package morphology

import (
	"errors"
	"fmt"
)

// SkipReason explains why a compartment was left out of feature computation.
type SkipReason string

const (
	// MultipleSomas is reported whenever the soma count is not exactly one,
	// zero included; SkipError.Somas carries the actual count.
	MultipleSomas SkipReason = "multiple somas"
	// NonSingularRoot is reported when the root count is not exactly one.
	NonSingularRoot SkipReason = "non-singular root"
	// EmptyCompartment is reported when no node of the target type survived
	// filtering.
	EmptyCompartment SkipReason = "empty compartment"
)

// SkipError is a recoverable, compartment-scoped refusal to compute features.
// Somas and Roots are the counts observed on the rejected tree.
type SkipError struct {
	Reason SkipReason
	Label  string
	Somas  int
	Roots  int
}

func (e *SkipError) Error() string {
	switch e.Reason {
	case MultipleSomas:
		return fmt.Sprintf("skipping %s analysis: %s (%d found)", e.Label, e.Reason, e.Somas)
	case NonSingularRoot:
		return fmt.Sprintf("skipping %s analysis: %s (%d found)", e.Label, e.Reason, e.Roots)
	}
	return fmt.Sprintf("skipping %s analysis: %s", e.Label, e.Reason)
}

// IsSkip reports whether err is a SkipError and returns it.
func IsSkip(err error) (*SkipError, bool) {
	var se *SkipError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// Validate returns t unchanged when it has exactly one root and exactly one
// soma. Otherwise it returns a SkipError carrying label; the soma check runs
// first, so a tree failing both reports MultipleSomas.
func Validate(t *Tree, label string) (*Tree, error) {
	somas, roots := t.SomaCount(), t.RootCount()
	if somas != 1 {
		return nil, &SkipError{Reason: MultipleSomas, Label: label, Somas: somas, Roots: roots}
	}
	if roots != 1 {
		return nil, &SkipError{Reason: NonSingularRoot, Label: label, Somas: somas, Roots: roots}
	}
	return t, nil
}
