package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"morphfeatures/internal/models"
	"morphfeatures/pkg/config"
	"morphfeatures/pkg/extraction"
	"morphfeatures/pkg/report"
	"morphfeatures/pkg/selection"
	"morphfeatures/pkg/source"
	"morphfeatures/pkg/store"
)

type extractOptions struct {
	ids         []int64
	names       []string
	inputFile   string
	configPath  string
	cores       int
	metricsFile string
	verbose     bool
}

func newRootCmd() *cobra.Command {
	opts := &extractOptions{}
	root := &cobra.Command{
		Use:   "morphfeatures [flags] <output.csv>",
		Short: "Extract dendrite morphology features for neuron reconstructions",
		Long: `morphfeatures resolves specimens in the LIMS database, reads their
SWC reconstructions and writes one row of basal and apical dendrite
features per specimen to a CSV file.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd, args[0], opts)
		},
	}
	f := root.Flags()
	f.Int64SliceVarP(&opts.ids, "id", "i", nil, "specimen id (repeatable)")
	f.StringArrayVarP(&opts.names, "name", "n", nil, "specimen name (repeatable)")
	f.StringVarP(&opts.inputFile, "file", "f", "", "file listing specimen ids and names, one per line")
	f.IntVar(&opts.cores, "cores", 0, "specimens processed in parallel (default from config)")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "write pipeline metrics to this file")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file")

	root.AddCommand(newConfigCmd(), newCatalogCmd(opts))
	return root
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init <path>",
		Short: "Write the default configuration to path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.CreateDefaultConfigFile(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Default configuration written to %s\n", args[0])
			return nil
		},
	})
	return cmd
}

func newCatalogCmd(opts *extractOptions) *cobra.Command {
	var (
		id   int64
		name string
		file string
	)
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Maintain a local sqlite specimen catalog",
	}
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a reconstruction file as the current one for a specimen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			abs, err := filepath.Abs(file)
			if err != nil {
				return err
			}
			st, err := store.OpenSQLite(cmd.Context(), cfg.Store.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			rec := models.SpecimenRecord{
				ID:        id,
				Name:      name,
				Directory: filepath.ToSlash(filepath.Dir(abs)),
				Filename:  filepath.Base(abs),
			}
			if err := st.AddReconstruction(cmd.Context(), rec); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (%d) -> %s\n", rec.Name, rec.ID, rec.Path())
			return nil
		},
	}
	add.Flags().Int64Var(&id, "id", 0, "specimen id")
	add.Flags().StringVar(&name, "name", "", "specimen name")
	add.Flags().StringVar(&file, "swc", "", "reconstruction file")
	for _, fl := range []string{"id", "name", "swc"} {
		_ = add.MarkFlagRequired(fl)
	}
	cmd.AddCommand(add)
	return cmd
}

func runExtract(cmd *cobra.Command, output string, opts *extractOptions) error {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	cfg.ApplyEnv(os.LookupEnv)
	if opts.cores > 0 {
		cfg.Processing.NumCores = opts.cores
	}
	if opts.verbose {
		cfg.Output.Verbose = true
	}
	if opts.metricsFile != "" {
		cfg.Output.MetricsFile = opts.metricsFile
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var fromFile []models.Selector
	if opts.inputFile != "" {
		if fromFile, err = selection.ReadFile(opts.inputFile); err != nil {
			return err
		}
	}
	sels := selection.Combine(fromFile, opts.ids, opts.names)
	if len(sels) == 0 {
		return errors.New("no specimens selected: use --id, --name or --file")
	}

	runID := uuid.NewString()
	log := newLogger(cmd.ErrOrStderr(), cfg.Output.LogFormat, cfg.Output.Verbose).With("run_id", runID)
	ctx := cmd.Context()

	st, err := store.Open(ctx, cfg.Store.Driver, cfg.StoreDSN())
	if err != nil {
		return err
	}
	defer st.Close()
	src, err := source.New(ctx, cfg.SourceOptions())
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	ex := extraction.NewExtractor(&extraction.Params{
		NumCores: cfg.Processing.NumCores,
		Store:    st,
		Source:   src,
		Logger:   log,
		Metrics:  extraction.NewMetrics(reg),
	})

	start := time.Now()
	log.Info("starting feature extraction",
		"selectors", len(sels), "store", string(st.Driver()), "source", string(src.Driver()))
	table, runErr := ex.Process(ctx, sels)
	if table == nil {
		return runErr
	}
	if err := report.WriteFile(output, table); err != nil {
		return errors.Join(runErr, err)
	}
	log.Info("feature table written",
		"path", output, "rows", len(table.Rows), "columns", table.Width(), "elapsed", time.Since(start))

	if cfg.Output.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(cfg.Output.MetricsFile, reg); err != nil {
			return errors.Join(runErr, fmt.Errorf("write metrics: %w", err))
		}
	}
	return runErr
}

func newLogger(w io.Writer, format string, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}
