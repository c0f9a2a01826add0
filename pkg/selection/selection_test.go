package selection

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"morphfeatures/internal/models"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		in   string
		want models.Selector
		ok   bool
	}{
		{"12345", models.SelectID(12345), true},
		{"  42\t", models.SelectID(42), true},
		{"Pvalb-IRES-Cre;Ai14-170929.03.01.01", models.SelectName("Pvalb-IRES-Cre;Ai14-170929.03.01.01"), true},
		{"12a", models.SelectName("12a"), true},
		{"", models.Selector{}, false},
		{"   ", models.Selector{}, false},
	}
	for _, tc := range tests {
		got, ok := ParseLine(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParse(t *testing.T) {
	sels, err := Parse(strings.NewReader("1\nCell A\n\n2\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []models.Selector{
		models.SelectID(1),
		models.SelectName("Cell A"),
		models.SelectID(2),
	}, sels)
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.txt")
	require.NoError(t, os.WriteFile(path, []byte("7\nname\n"), 0o644))
	sels, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, sels, 2)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.ErrorContains(t, err, "unable to open input file")
}

func TestCombine(t *testing.T) {
	got := Combine([]models.Selector{models.SelectID(1)}, []int64{2}, []string{"b", "300"})
	assert.Equal(t, []models.Selector{
		models.SelectID(1),
		models.SelectID(2),
		models.SelectName("b"),
		models.SelectName("300"),
	}, got)
}
