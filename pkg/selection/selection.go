// Package selection turns command line arguments and input list files into
// explicit specimen selectors.
package selection

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"morphfeatures/internal/models"
)

// ParseLine classifies one entry of an input list: an integer is a specimen
// id, anything else is a specimen name. Surrounding whitespace is ignored.
func ParseLine(line string) (models.Selector, bool) {
	s := strings.TrimSpace(line)
	if s == "" {
		return models.Selector{}, false
	}
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return models.SelectID(id), true
	}
	return models.SelectName(s), true
}

// Parse reads a newline-delimited list mixing ids and names. Blank lines are
// skipped.
func Parse(r io.Reader) ([]models.Selector, error) {
	var out []models.Selector
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if sel, ok := ParseLine(sc.Text()); ok {
			out = append(out, sel)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read selection list: %w", err)
	}
	return out, nil
}

// ReadFile parses the input list at path.
func ReadFile(path string) ([]models.Selector, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open input file %q: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Combine merges file entries with explicit ids and names, in that order.
// Explicit names are never reinterpreted as ids.
func Combine(fromFile []models.Selector, ids []int64, names []string) []models.Selector {
	out := make([]models.Selector, 0, len(fromFile)+len(ids)+len(names))
	out = append(out, fromFile...)
	for _, id := range ids {
		out = append(out, models.SelectID(id))
	}
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, models.SelectName(n))
		}
	}
	return out
}
