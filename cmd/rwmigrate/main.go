package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/darianmavgo/rwmigrate/assets"
	"github.com/darianmavgo/rwmigrate/catalog"
	"github.com/darianmavgo/rwmigrate/config"
	"github.com/darianmavgo/rwmigrate/dialect"
	"github.com/darianmavgo/rwmigrate/emit"
	"github.com/darianmavgo/rwmigrate/infer"
	"github.com/darianmavgo/rwmigrate/logging"
	"github.com/darianmavgo/rwmigrate/pipeline"
	"github.com/darianmavgo/rwmigrate/report"
	"github.com/darianmavgo/rwmigrate/schema"
	"github.com/darianmavgo/rwmigrate/sources"
	_ "github.com/darianmavgo/rwmigrate/sources/all"
)

func getDriverName(path, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".script", ".hsql":
		return "hsqldb", nil
	case ".txt", ".tsv", ".tab", "":
		return "tabular", nil
	}
	return "", fmt.Errorf("unsupported file type: %s (use -source)", filepath.Ext(path))
}

type flags struct {
	config       string
	exportConfig string
	source       string
	dialect      string
	sqlOut       string
	dbOut        string
	reportOut    string
	workers      int
	imagesDir    string
	imagesZip    string
	logLevel     string
	logFormat    string
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  rwmigrate [flags] <export.txt|database.script>")
	fmt.Fprintln(out, "  rwmigrate [flags] [label=]<export.txt> [label=]<export.txt> ...")
	fmt.Fprintln(out, "  rwmigrate -export-config rwmigrate.hcl")
	fmt.Fprintln(out)
	flag.PrintDefaults()
}

func main() {
	var f flags
	flag.StringVar(&f.config, "config", "", "HCL or YAML config file")
	flag.StringVar(&f.exportConfig, "export-config", "", "write the effective config to this file and exit")
	flag.StringVar(&f.source, "source", "", "source driver: tabular or hsqldb (default: by extension)")
	flag.StringVar(&f.dialect, "dialect", "", "SQL dialect: sqlite, postgres or mysql")
	flag.StringVar(&f.sqlOut, "sql", "", "write a SQL script to this file")
	flag.StringVar(&f.dbOut, "db", "", "load into this database (sqlite path or DSN)")
	flag.StringVar(&f.reportOut, "report", "", "write an xlsx run report to this file")
	flag.IntVar(&f.workers, "workers", 0, "materializing goroutines")
	flag.StringVar(&f.imagesDir, "images", "", "directory of exported cover images")
	flag.StringVar(&f.imagesZip, "images-zip", "", "zip archive of exported cover images")
	flag.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	flag.StringVar(&f.logFormat, "log-format", "", "text or json")
	flag.Usage = usage
	flag.Parse()

	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	if f.exportConfig != "" {
		if err := config.Export(f.exportConfig, cfg); err != nil {
			logger.Error("failed to export config", "error", err)
			os.Exit(1)
		}
		logger.Info("config written", "path", f.exportConfig)
		return
	}

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := migrate(ctx, flag.Args(), f.source, cfg, logger); err != nil {
		var fe *catalog.FormatError
		var se *catalog.SchemaError
		switch {
		case errors.As(err, &fe):
			logger.Error("malformed input", "position", fe.Position, "line", fe.Line, "error", fe.Msg)
		case errors.As(err, &se):
			logger.Error("schema conflict", "fields", se.Fields, "error", se.Msg)
		case errors.Is(err, context.Canceled):
			logger.Error("interrupted, no output written")
		default:
			logger.Error("migration failed", "error", err)
		}
		os.Exit(1)
	}
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(f flags) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if f.config != "" {
		var err error
		if cfg, err = config.Load(f.config); err != nil {
			return nil, err
		}
	}
	if f.dialect != "" {
		cfg.Dialect = f.dialect
	}
	if f.sqlOut != "" {
		cfg.Output.SQL = f.sqlOut
	}
	if f.dbOut != "" {
		cfg.Output.Database = f.dbOut
	}
	if f.reportOut != "" {
		cfg.Output.Report = f.reportOut
	}
	if f.workers > 0 {
		cfg.Workers = f.workers
	}
	if f.imagesDir != "" {
		cfg.Images.Dir = f.imagesDir
	}
	if f.imagesZip != "" {
		cfg.Images.Zip = f.imagesZip
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Logging.Format = f.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseInput splits a "label=path" argument. A bare path is labelled with
// its base name.
func parseInput(arg string) (label, path string, explicit bool) {
	if i := strings.Index(arg, "="); i > 0 {
		return arg[:i], arg[i+1:], true
	}
	base := filepath.Base(arg)
	return strings.TrimSuffix(base, filepath.Ext(base)), arg, false
}

// openSource opens every input. Labelled or multiple inputs read through
// sources.Merge so records keep the label of their input.
func openSource(args []string, driverOverride string, cfg *config.Config, logger *slog.Logger) (catalog.Source, []string, func(), error) {
	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}
	var inputs []sources.Input
	var paths []string
	for _, arg := range args {
		label, path, explicit := parseInput(arg)
		if len(args) == 1 && !explicit {
			label = cfg.Provenance
		}
		driverName, err := getDriverName(path, driverOverride)
		if err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		f, err := os.Open(path)
		if err != nil {
			closeAll()
			return nil, nil, nil, fmt.Errorf("failed to open input: %w", err)
		}
		files = append(files, f)
		src, err := sources.Open(driverName, f, &sources.Options{
			Charset:      cfg.Charset,
			Table:        cfg.Native.Table,
			Lookups:      cfg.Native.Lookups,
			Merge:        cfg.Native.Merge,
			ImageColumns: cfg.Native.ImageColumns,
			Logger:       logger,
		})
		if err != nil {
			closeAll()
			return nil, nil, nil, fmt.Errorf("failed to initialize source %s: %w", path, err)
		}
		logger.Debug("input opened", "path", path, "driver", driverName, "label", label)
		inputs = append(inputs, sources.Input{Label: label, Source: src})
		paths = append(paths, path)
	}
	if len(inputs) == 1 && inputs[0].Label == "" && !cfg.Dedupe {
		return inputs[0].Source, paths, closeAll, nil
	}
	return sources.Merge(inputs, sources.MergeOptions{Dedupe: cfg.Dedupe, Logger: logger}), paths, closeAll, nil
}

func migrate(ctx context.Context, args []string, driverOverride string, cfg *config.Config, logger *slog.Logger) error {
	d, err := dialect.Lookup(cfg.Dialect)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return fmt.Errorf("no input given")
	}
	src, paths, closeInputs, err := openSource(args, driverOverride, cfg, logger)
	if err != nil {
		return err
	}
	defer closeInputs()
	_, _, labelled := parseInput(args[0])

	resolver := &assets.Resolver{KeyField: cfg.Images.KeyField}
	switch {
	case cfg.Images.Dir != "":
		resolver.Store = &assets.DirStore{Dir: cfg.Images.Dir}
	case cfg.Images.Zip != "":
		zs, err := assets.OpenZipStore(cfg.Images.Zip)
		if err != nil {
			return err
		}
		defer zs.Close()
		logger.Info("image archive opened", "path", cfg.Images.Zip, "entries", zs.Len())
		resolver.Store = zs
	}

	sink, err := openSinks(ctx, paths[0], d, cfg, logger)
	if err != nil {
		return err
	}

	stall, err := cfg.StallDuration()
	if err != nil {
		sink.Abort()
		return err
	}

	run := catalog.NewRun(strings.Join(paths, ", "))
	logger.Info("migration started", "run", run.ID.String(), "source", run.Source, "inputs", len(paths), "dialect", d.Name())
	res, err := pipeline.Run(ctx, src, sink, run, pipeline.Options{
		Workers:      cfg.Workers,
		StallTimeout: stall,
		Dialect:      d,
		Infer: infer.Options{
			SampleSize: cfg.SampleSize,
			Scalar:     cfg.ScalarFields,
			Seed:       cfg.Seed,
		},
		Schema: schema.Options{
			Table:       cfg.Table,
			Identity:    cfg.Identity,
			AssetMode:   cfg.Images.Mode,
			ContentHash: cfg.ContentHash,
			Provenance:  cfg.Provenance != "" || len(paths) > 1 || labelled,
		},
		HTMLFields: cfg.HTMLFields,
		Provenance: cfg.Provenance,
		Resolver:   resolver,
		Images: assets.Options{
			MaxDimension: cfg.Images.MaxDimension,
			Format:       cfg.Images.Format,
			Quality:      cfg.Images.Quality,
			OutputDir:    cfg.Images.OutputDir,
			Naming:       cfg.Images.Naming,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	summary := run.Summary
	for _, w := range summary.Warnings() {
		logger.Debug("warning", "kind", string(w.Kind), "position", w.Position, "item", w.ItemID, "field", w.Field, "message", w.Msg)
	}
	if n := summary.Total(); n > 0 {
		logger.Warn("records loaded with warnings",
			"warnings", n,
			"coercion", summary.Count(catalog.CoercionWarning),
			"asset", summary.Count(catalog.AssetWarning),
		)
	}

	if cfg.Output.Report != "" {
		if err := report.Write(cfg.Output.Report, run, res.Schema); err != nil {
			return err
		}
		logger.Info("report written", "path", cfg.Output.Report)
	}
	return nil
}

// openSinks opens every configured output. With none configured, SQLite
// gets a database beside the input and other dialects a SQL script.
func openSinks(ctx context.Context, inputPath string, d *dialect.Dialect, cfg *config.Config, logger *slog.Logger) (emit.Sink, error) {
	out := cfg.Output
	if out.SQL == "" && out.Database == "" {
		base := strings.TrimSuffix(inputPath, filepath.Ext(inputPath))
		if d.Name() == dialect.SQLite {
			out.Database = base + ".db"
		} else {
			out.SQL = base + ".sql"
		}
	}

	var sinks []emit.Sink
	abortAll := func() {
		for _, s := range sinks {
			s.Abort()
		}
	}
	if out.SQL != "" {
		w, err := createSQL(out.SQL, d)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, w)
	}
	if out.Database != "" {
		loader, err := emit.OpenDB(ctx, d, out.Database, emit.DBOptions{BatchSize: cfg.BatchSize, Logger: logger})
		if err != nil {
			abortAll()
			return nil, err
		}
		sinks = append(sinks, loader)
	}
	return emit.Tee(sinks...), nil
}

func createSQL(path string, d *dialect.Dialect) (*emit.SQLWriter, error) {
	if path == "-" {
		return emit.NewSQLWriter(os.Stdout, d), nil
	}
	return emit.CreateSQLFile(path, d)
}
