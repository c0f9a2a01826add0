package extraction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"morphfeatures/internal/models"
	"morphfeatures/pkg/aggregate"
	"morphfeatures/pkg/morphology"
	"morphfeatures/pkg/morphometry"
	"morphfeatures/pkg/report"
	"morphfeatures/pkg/source"
	"morphfeatures/pkg/store"
	"morphfeatures/pkg/swc"
)

// soma, two basal nodes, two apical nodes and one axon node.
const fullNeuron = `# test neuron
1 1 0 0 0 5 -1
2 3 10 0 0 1 1
3 3 20 0 0 1 2
4 4 0 10 0 1 1
5 4 0 20 0 1 4
6 2 0 -10 0 1 1
`

const basalOnly = `1 1 0 0 0 5 -1
2 3 10 0 0 1 1
3 3 20 0 0 1 2
4 3 30 0 0 1 3
`

// second soma hangs off the first: one root, two somas.
const twoSomas = `1 1 0 0 0 5 -1
2 1 1 0 0 5 1
3 3 10 0 0 1 1
4 4 0 10 0 1 1
`

// fakeEngine reports node counts and fails for trees matching fail.
type fakeEngine struct {
	fail      func(t *morphology.Tree) bool
	collision bool
}

func (f *fakeEngine) ComputeInvariants(t *morphology.Tree) (models.FeatureMap, error) {
	if f.fail != nil && f.fail(t) {
		return nil, &morphometry.ComputationError{Stage: "invariants", Err: errors.New("boom")}
	}
	return models.FeatureMap{"gmi_1": float64(t.Len())}, nil
}

func (f *fakeEngine) ComputeMorphometrics(t *morphology.Tree) (models.FeatureMap, error) {
	if f.collision {
		return models.FeatureMap{"gmi_1": 0}, nil
	}
	return models.FeatureMap{"num_nodes": float64(t.Len()), "num_somas": float64(t.SomaCount())}, nil
}

type fixture struct {
	dir   string
	store *store.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{dir: t.TempDir(), store: store.NewMemory()}
}

func (f *fixture) add(t *testing.T, id int64, name, content string) {
	t.Helper()
	file := fmt.Sprintf("%d.swc", id)
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, file), []byte(content), 0o644))
	f.store.Put(models.SpecimenRecord{ID: id, Name: name, Directory: f.dir, Filename: file})
}

func (f *fixture) extractor(engine MetricsEngine, cores int) (*Extractor, *Metrics) {
	m := NewMetrics(prometheus.NewRegistry())
	return NewExtractor(&Params{
		NumCores: cores,
		Store:    f.store,
		Source:   source.NewFilesystem(""),
		Engine:   engine,
		Metrics:  m,
	}), m
}

func TestProcessExtractsBothCompartments(t *testing.T) {
	f := newFixture(t)
	f.add(t, 1, "A", fullNeuron)
	ex, m := f.extractor(&fakeEngine{}, 2)

	table, err := ex.Process(context.Background(), []models.Selector{models.SelectID(1)})
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)

	row := table.Rows[0]
	assert.Equal(t, "A", row.Record.Name)
	assert.Equal(t, []string{"gmi_1", "num_nodes", "num_somas"}, table.Columns[models.BasalDendrite])
	assert.Equal(t, []string{"gmi_1", "num_nodes", "num_somas"}, table.Columns[models.ApicalDendrite])
	// soma plus two compartment nodes, axon removed
	assert.Equal(t, []aggregate.Cell{aggregate.Present(3), aggregate.Present(3), aggregate.Present(1)},
		row.Values[models.BasalDendrite])
	assert.Equal(t, []aggregate.Cell{aggregate.Present(3), aggregate.Present(3), aggregate.Present(1)},
		row.Values[models.ApicalDendrite])

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Specimens.WithLabelValues(StatusExtracted)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Duration))
}

func TestProcessEmptyCompartment(t *testing.T) {
	f := newFixture(t)
	f.add(t, 1, "A", fullNeuron)
	f.add(t, 2, "B", basalOnly)
	ex, m := f.extractor(&fakeEngine{}, 1)

	table, err := ex.Process(context.Background(), []models.Selector{models.SelectID(1), models.SelectID(2)})
	require.NoError(t, err)
	require.Len(t, table.Rows, 2)

	b := table.Rows[1]
	assert.Equal(t, "B", b.Record.Name)
	assert.Equal(t, 4.0, b.Values[models.BasalDendrite][1].Value)
	for _, cell := range b.Values[models.ApicalDendrite] {
		assert.True(t, cell.Missing)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(
		m.Skips.WithLabelValues("apical dendrite", string(morphology.EmptyCompartment))))
}

func TestExtractSpecimenMultipleSomasSkipsBoth(t *testing.T) {
	f := newFixture(t)
	f.add(t, 1, "A", twoSomas)
	ex, m := f.extractor(&fakeEngine{}, 1)

	sf, err := ex.ExtractSpecimen(context.Background(), models.SpecimenRecord{ID: 1, Name: "A", Directory: f.dir, Filename: "1.swc"})
	require.NoError(t, err)
	assert.Empty(t, sf.Maps)
	for _, c := range aggregate.Compartments {
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Skips.WithLabelValues(c.String(), string(morphology.MultipleSomas))))
	}
}

func TestSkipLogCarriesSomaCount(t *testing.T) {
	f := newFixture(t)
	// no soma at all: still reported as multiple somas, with the count logged
	f.add(t, 1, "A", "1 3 0 0 0 1 -1\n2 3 1 0 0 1 1\n")
	var logs bytes.Buffer
	ex := NewExtractor(&Params{
		NumCores: 1,
		Store:    f.store,
		Source:   source.NewFilesystem(""),
		Engine:   &fakeEngine{},
		Logger:   slog.New(slog.NewTextHandler(&logs, nil)),
	})

	_, err := ex.Process(context.Background(), []models.Selector{models.SelectID(1)})
	require.NoError(t, err)
	assert.Contains(t, logs.String(), `reason="multiple somas" somas=0 roots=1`)
}

func TestResolve(t *testing.T) {
	t.Run("unknown selectors are skipped", func(t *testing.T) {
		f := newFixture(t)
		f.add(t, 1, "A", fullNeuron)
		ex, m := f.extractor(&fakeEngine{}, 1)

		table, err := ex.Process(context.Background(), []models.Selector{
			models.SelectID(99), models.SelectName("nobody"), models.SelectID(1),
		})
		require.NoError(t, err)
		require.Len(t, table.Rows, 1)
		assert.Equal(t, 2.0, testutil.ToFloat64(m.Specimens.WithLabelValues(StatusNotFound)))
	})

	t.Run("name lookup overwrites id lookup", func(t *testing.T) {
		f := newFixture(t)
		f.add(t, 1, "A", fullNeuron)
		// id 1 and name A now resolve to different reconstructions
		f.add(t, 2, "A", basalOnly)
		ex, _ := f.extractor(&fakeEngine{}, 1)

		recs, err := ex.Resolve(context.Background(), []models.Selector{models.SelectName("A"), models.SelectID(1)})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, int64(2), recs[0].ID)
	})

	t.Run("cancelled context", func(t *testing.T) {
		f := newFixture(t)
		ex, _ := f.extractor(&fakeEngine{}, 1)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := ex.Resolve(ctx, []models.Selector{models.SelectID(1)})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

// unreachableStore fails every query the way a lost database connection does.
type unreachableStore struct{ *store.Memory }

func (unreachableStore) LookupByID(context.Context, int64) (models.SpecimenRecord, error) {
	return models.SpecimenRecord{}, errors.New("connection refused")
}

func (unreachableStore) LookupByName(context.Context, string) (models.SpecimenRecord, error) {
	return models.SpecimenRecord{}, errors.New("connection refused")
}

func TestProcessStoreFailureAbortsRun(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	ex := NewExtractor(&Params{
		NumCores: 1,
		Store:    unreachableStore{store.NewMemory()},
		Source:   source.NewFilesystem(""),
		Engine:   &fakeEngine{},
		Metrics:  m,
	})

	table, err := ex.Process(context.Background(), []models.Selector{models.SelectID(1), models.SelectName("A")})
	assert.Nil(t, table)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.NotErrorIs(t, err, store.ErrNotFound)
	assert.Zero(t, testutil.ToFloat64(m.Specimens.WithLabelValues(StatusNotFound)))
}

func TestProcessParseErrorAbortsRun(t *testing.T) {
	f := newFixture(t)
	f.add(t, 1, "A", fullNeuron)
	f.add(t, 2, "B", "1 1 0 0 0\n")
	ex, _ := f.extractor(&fakeEngine{}, 1)

	table, err := ex.Process(context.Background(), []models.Selector{models.SelectID(1), models.SelectID(2)})
	assert.Nil(t, table)
	var pe *swc.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 1, pe.Line)
}

func TestProcessMissingFileAbortsRun(t *testing.T) {
	f := newFixture(t)
	f.store.Put(models.SpecimenRecord{ID: 1, Name: "A", Directory: f.dir, Filename: "absent.swc"})
	ex, _ := f.extractor(&fakeEngine{}, 1)

	table, err := ex.Process(context.Background(), []models.Selector{models.SelectID(1)})
	assert.Nil(t, table)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestProcessMalformedTreeAbortsRun(t *testing.T) {
	f := newFixture(t)
	f.add(t, 1, "A", "1 1 0 0 0 5 -1\n2 3 1 0 0 1 7\n")
	ex, _ := f.extractor(&fakeEngine{}, 1)

	_, err := ex.Process(context.Background(), []models.Selector{models.SelectID(1)})
	var me *morphology.MalformedTreeError
	assert.ErrorAs(t, err, &me)
}

func TestProcessComputationErrorIsolated(t *testing.T) {
	f := newFixture(t)
	f.add(t, 1, "A", fullNeuron)
	f.add(t, 2, "B", basalOnly)
	// only B's basal tree has four nodes
	engine := &fakeEngine{fail: func(t *morphology.Tree) bool { return t.Len() == 4 }}
	ex, m := f.extractor(engine, 2)

	table, err := ex.Process(context.Background(), []models.Selector{models.SelectID(1), models.SelectID(2)})
	require.Error(t, err)
	var ce *morphometry.ComputationError
	assert.ErrorAs(t, err, &ce)

	require.NotNil(t, table)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "A", table.Rows[0].Record.Name)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Specimens.WithLabelValues(StatusFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Specimens.WithLabelValues(StatusExtracted)))
}

func TestFeatureNameCollision(t *testing.T) {
	f := newFixture(t)
	f.add(t, 1, "A", fullNeuron)
	ex, _ := f.extractor(&fakeEngine{collision: true}, 1)

	_, err := ex.Process(context.Background(), []models.Selector{models.SelectID(1)})
	var ce *morphometry.ComputationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "merge", ce.Stage)
}

func TestProcessOutputIndependentOfCores(t *testing.T) {
	f := newFixture(t)
	var sels []models.Selector
	for i := int64(1); i <= 12; i++ {
		content := fullNeuron
		if i%3 == 0 {
			content = basalOnly
		}
		f.add(t, i, fmt.Sprintf("cell-%02d", 13-i), content)
		sels = append(sels, models.SelectID(i))
	}

	render := func(cores int) string {
		ex, _ := f.extractor(&fakeEngine{}, cores)
		table, err := ex.Process(context.Background(), sels)
		require.NoError(t, err)
		var buf bytes.Buffer
		require.NoError(t, report.Write(&buf, table))
		return buf.String()
	}
	want := render(1)
	for _, cores := range []int{2, 4, 8} {
		assert.Equal(t, want, render(cores), "cores=%d", cores)
	}
}

func TestDefaultEngine(t *testing.T) {
	f := newFixture(t)
	f.add(t, 1, "A", fullNeuron)
	ex := NewExtractor(&Params{Store: f.store, Source: source.NewFilesystem("")})

	table, err := ex.Process(context.Background(), []models.Selector{models.SelectName("A")})
	require.NoError(t, err)
	assert.Contains(t, table.Columns[models.BasalDendrite], "gmi_1")
	assert.Contains(t, table.Columns[models.BasalDendrite], morphometry.FeatureTotalLength)

	var buf bytes.Buffer
	require.NoError(t, report.Write(&buf, table))
	assert.Contains(t, buf.String(), "basal_total_length")
}
