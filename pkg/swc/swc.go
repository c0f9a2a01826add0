// Package swc reads SWC neuron reconstruction files into node records.
package swc

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"morphfeatures/internal/models"
)

// ParseError reports an SWC line that could not be read.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Line == 0 {
		return "swc: " + e.Msg
	}
	return fmt.Sprintf("swc: line %d: %s", e.Line, e.Msg)
}

// Parse reads SWC records from r in file order. Each data line holds
// "id type x y z radius parent"; blank lines and '#' comments are skipped.
// Any negative parent id is normalised to models.NoParent.
func Parse(r io.Reader) ([]models.Node, error) {
	var nodes []models.Node
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}
		n, err := parseFields(fields)
		if err != nil {
			return nil, &ParseError{Line: line, Msg: err.Error()}
		}
		nodes = append(nodes, n)
	}
	if err := sc.Err(); err != nil {
		return nil, &ParseError{Line: line, Msg: err.Error()}
	}
	return nodes, nil
}

func parseFields(f []string) (models.Node, error) {
	if len(f) < 7 {
		return models.Node{}, fmt.Errorf("expected 7 fields, got %d", len(f))
	}
	id, err := strconv.Atoi(f[0])
	if err != nil {
		return models.Node{}, fmt.Errorf("id: %w", err)
	}
	code, err := strconv.Atoi(f[1])
	if err != nil {
		return models.Node{}, fmt.Errorf("type: %w", err)
	}
	var v [4]float64
	for i := range v {
		if v[i], err = strconv.ParseFloat(f[2+i], 64); err != nil {
			return models.Node{}, fmt.Errorf("field %d: %w", 3+i, err)
		}
	}
	parent, err := strconv.Atoi(f[6])
	if err != nil {
		return models.Node{}, fmt.Errorf("parent: %w", err)
	}
	if parent < 0 {
		parent = models.NoParent
	}
	return models.Node{
		ID:       id,
		Type:     models.CompartmentFromSWC(code),
		ParentID: parent,
		Position: r3.Vec{X: v[0], Y: v[1], Z: v[2]},
		Radius:   v[3],
	}, nil
}

// Write emits nodes as SWC text.
func Write(w io.Writer, nodes []models.Node) error {
	bw := bufio.NewWriter(w)
	for _, n := range nodes {
		if _, err := fmt.Fprintf(bw, "%d %d %s %s %s %s %d\n",
			n.ID, n.Type.SWC(),
			formatFloat(n.Position.X), formatFloat(n.Position.Y), formatFloat(n.Position.Z),
			formatFloat(n.Radius), n.ParentID); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }
