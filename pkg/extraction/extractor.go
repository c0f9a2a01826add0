// Package extraction runs the per-specimen feature pipeline: resolve the
// selected specimens, read each reconstruction, derive the basal and apical
// sub-trees, validate them and hand them to a metrics engine. Specimens are
// processed concurrently and merged into one table at the end.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"morphfeatures/internal/models"
	"morphfeatures/pkg/aggregate"
	"morphfeatures/pkg/morphology"
	"morphfeatures/pkg/morphometry"
	"morphfeatures/pkg/source"
	"morphfeatures/pkg/store"
	"morphfeatures/pkg/swc"
)

// MetricsEngine computes the two feature vectors for a validated tree. Both
// calls require exactly one root and one soma.
type MetricsEngine interface {
	ComputeInvariants(t *morphology.Tree) (models.FeatureMap, error)
	ComputeMorphometrics(t *morphology.Tree) (models.FeatureMap, error)
}

// Params configures an Extractor.
type Params struct {
	// NumCores bounds the number of specimens processed at once. Values
	// below one mean runtime.NumCPU().
	NumCores int

	Store  store.Store
	Source source.Source
	Engine MetricsEngine

	// Logger and Metrics are optional.
	Logger  *slog.Logger
	Metrics *Metrics
}

// Extractor turns specimen selectors into a feature table.
type Extractor struct {
	params  *Params
	log     *slog.Logger
	metrics *Metrics
}

// NewExtractor creates an Extractor. A nil Engine selects the gonum-backed
// morphometry calculator.
func NewExtractor(params *Params) *Extractor {
	p := *params
	if p.NumCores < 1 {
		p.NumCores = runtime.NumCPU()
	}
	if p.Engine == nil {
		p.Engine = morphometry.NewCalculator()
	}
	e := &Extractor{params: &p, log: p.Logger, metrics: p.Metrics}
	if e.log == nil {
		e.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(prometheus.NewRegistry())
	}
	return e
}

// Process runs the whole pipeline for sels.
//
// A reconstruction that cannot be opened, parsed or built into a tree aborts
// the run and no table is returned. Specimens that cannot be resolved are
// logged and left out. A ComputationError only drops the affected specimen:
// the table is still returned, together with the joined computation errors.
func (e *Extractor) Process(ctx context.Context, sels []models.Selector) (*aggregate.Table, error) {
	// Step 1: resolve selectors against the store
	e.log.Info("step 1: resolving specimens", "selectors", len(sels))
	records, err := e.Resolve(ctx, sels)
	if err != nil {
		return nil, err
	}

	// Step 2: extract features for every specimen in parallel
	e.log.Info("step 2: extracting features", "specimens", len(records), "cores", e.params.NumCores)
	features, failures, err := e.extractAll(ctx, records)
	if err != nil {
		return nil, err
	}

	// Step 3: merge feature names and build the table
	e.log.Info("step 3: aggregating", "specimens", len(features))
	table := aggregate.Aggregate(features, aggregate.IndexOf(features))
	return table, errors.Join(failures...)
}

// Resolve looks up every selector, ids first and then names. Records are
// keyed by specimen name, so a later lookup returning the same name replaces
// the earlier record. Selectors with no eligible reconstruction are logged
// and skipped; any other store failure aborts resolution.
func (e *Extractor) Resolve(ctx context.Context, sels []models.Selector) ([]models.SpecimenRecord, error) {
	var ordered []models.Selector
	for _, kind := range []models.SelectorKind{models.ByID, models.ByName} {
		for _, s := range sels {
			if s.Kind == kind {
				ordered = append(ordered, s)
			}
		}
	}

	var records []models.SpecimenRecord
	slot := make(map[string]int)
	for _, sel := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := store.Lookup(ctx, e.params.Store, sel)
		if err != nil {
			var le *store.LookupError
			if !errors.As(err, &le) {
				return nil, fmt.Errorf("resolve specimens: %w", err)
			}
			e.log.Warn("specimen not resolved", "selector", sel.String(), "error", le.Err)
			e.metrics.Specimens.WithLabelValues(StatusNotFound).Inc()
			continue
		}
		if i, ok := slot[rec.Name]; ok {
			records[i] = rec
			continue
		}
		slot[rec.Name] = len(records)
		records = append(records, rec)
	}
	return records, nil
}

// extractAll fans records out over at most NumCores goroutines. Each worker
// writes only its own slot, so results keep the input order.
func (e *Extractor) extractAll(ctx context.Context, records []models.SpecimenRecord) ([]aggregate.SpecimenFeatures, []error, error) {
	results := make([]*aggregate.SpecimenFeatures, len(records))
	failures := make([]error, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.params.NumCores)
	for i, rec := range records {
		i, rec := i, rec
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			sf, err := e.ExtractSpecimen(gctx, rec)
			e.metrics.Duration.Observe(time.Since(start).Seconds())

			var ce *morphometry.ComputationError
			switch {
			case err == nil:
				results[i] = &sf
				e.metrics.Specimens.WithLabelValues(StatusExtracted).Inc()
			case errors.As(err, &ce):
				failures[i] = err
				e.metrics.Specimens.WithLabelValues(StatusFailed).Inc()
				e.log.Error("feature computation failed", "specimen", rec.Name, "error", err)
			default:
				e.metrics.Specimens.WithLabelValues(StatusFailed).Inc()
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	features := make([]aggregate.SpecimenFeatures, 0, len(records))
	for _, sf := range results {
		if sf != nil {
			features = append(features, *sf)
		}
	}
	return features, failures, nil
}

// ExtractSpecimen reads the reconstruction of rec and computes one feature
// map per compartment that passes validation.
func (e *Extractor) ExtractSpecimen(ctx context.Context, rec models.SpecimenRecord) (aggregate.SpecimenFeatures, error) {
	out := aggregate.SpecimenFeatures{
		Record: rec,
		Maps:   make(map[models.CompartmentType]models.FeatureMap, len(aggregate.Compartments)),
	}
	log := e.log.With("specimen", rec.Name, "specimen_id", rec.ID)

	full, err := e.readTree(ctx, rec)
	if err != nil {
		return out, err
	}
	log.Debug("reconstruction loaded", "nodes", full.Len(), "roots", full.RootCount())

	dendrites := morphology.FilterAndRehash(full, morphology.Not(morphology.OfType(models.Axon)))
	for _, c := range aggregate.Compartments {
		fm, err := e.extractCompartment(dendrites, c)
		if se, ok := morphology.IsSkip(err); ok {
			log.Warn("compartment skipped", "compartment", c.String(), "reason", string(se.Reason),
				"somas", se.Somas, "roots", se.Roots)
			e.metrics.Skips.WithLabelValues(c.String(), string(se.Reason)).Inc()
			continue
		}
		if err != nil {
			return out, fmt.Errorf("specimen %s: %s: %w", rec.Name, c, err)
		}
		out.Maps[c] = fm
	}
	log.Info("specimen done", "compartments", len(out.Maps))
	return out, nil
}

func (e *Extractor) readTree(ctx context.Context, rec models.SpecimenRecord) (*morphology.Tree, error) {
	rc, err := e.params.Source.Open(ctx, rec.Path())
	if err != nil {
		return nil, fmt.Errorf("specimen %s: open reconstruction %q: %w", rec.Name, rec.Path(), err)
	}
	defer rc.Close()

	nodes, err := swc.Parse(rc)
	if err != nil {
		return nil, fmt.Errorf("specimen %s: parse %q: %w", rec.Name, rec.Path(), err)
	}
	t, err := morphology.Build(nodes)
	if err != nil {
		return nil, fmt.Errorf("specimen %s: %w", rec.Name, err)
	}
	return t, nil
}

// extractCompartment keeps the soma and compartment c, validates the result
// and merges both engine vectors.
func (e *Extractor) extractCompartment(dendrites *morphology.Tree, c models.CompartmentType) (models.FeatureMap, error) {
	sub := morphology.FilterAndRehash(dendrites, morphology.OfType(models.Soma, c))
	if sub.CountOfType(c) == 0 {
		return nil, &morphology.SkipError{
			Reason: morphology.EmptyCompartment,
			Label:  c.String(),
			Somas:  sub.SomaCount(),
			Roots:  sub.RootCount(),
		}
	}
	valid, err := morphology.Validate(sub, c.String())
	if err != nil {
		return nil, err
	}

	inv, err := e.params.Engine.ComputeInvariants(valid)
	if err != nil {
		return nil, asComputationError("invariants", err)
	}
	morph, err := e.params.Engine.ComputeMorphometrics(valid)
	if err != nil {
		return nil, asComputationError("morphometrics", err)
	}

	fm := make(models.FeatureMap, len(inv)+len(morph))
	for k, v := range inv {
		fm[k] = v
	}
	for k, v := range morph {
		if _, dup := fm[k]; dup {
			return nil, &morphometry.ComputationError{
				Stage: "merge",
				Err:   fmt.Errorf("feature %q produced by both vectors", k),
			}
		}
		fm[k] = v
	}
	return fm, nil
}

func asComputationError(stage string, err error) error {
	var ce *morphometry.ComputationError
	if errors.As(err, &ce) {
		return err
	}
	return &morphometry.ComputationError{Stage: stage, Err: err}
}
