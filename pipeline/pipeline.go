// Package pipeline runs a migration: the schema pass over the whole source,
// then the emission pass through a worker pool into a sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/darianmavgo/rwmigrate/assets"
	"github.com/darianmavgo/rwmigrate/catalog"
	"github.com/darianmavgo/rwmigrate/dialect"
	"github.com/darianmavgo/rwmigrate/emit"
	"github.com/darianmavgo/rwmigrate/infer"
	"github.com/darianmavgo/rwmigrate/logging"
	"github.com/darianmavgo/rwmigrate/materialize"
	"github.com/darianmavgo/rwmigrate/schema"
)

// Options configures one run.
type Options struct {
	Workers int // materializing goroutines, default 4
	Window  int // items in flight between dispatch and write, default 8 per worker

	// StallTimeout cancels the run with ErrStalled when no record is read
	// or written for this long. Zero disables it.
	StallTimeout time.Duration

	Dialect    *dialect.Dialect
	Infer      infer.Options
	Schema     schema.Options
	HTMLFields []string
	Provenance string
	Resolver   *assets.Resolver
	Images     assets.Options
	Logger     *slog.Logger
}

// Result describes a finished run.
type Result struct {
	Schema   *schema.Schema
	Profiles []catalog.FieldProfile
	Elapsed  time.Duration
}

type job struct {
	seq int
	id  int64
	rec catalog.RawRecord
}

type result struct {
	seq      int
	item     *materialize.Item
	warnings []catalog.Warning
}

// Run migrates src into sink. The sink is committed on success and aborted
// on any error, so a failed run leaves no output. Warnings and counts are
// collected in run.Summary.
func Run(ctx context.Context, src catalog.Source, sink emit.Sink, run *catalog.Run, opts Options) (*Result, error) {
	log := logging.Component(opts.Logger, "pipeline").With("run", run.ID.String())
	if opts.Dialect == nil {
		sink.Abort()
		return nil, fmt.Errorf("no SQL dialect configured")
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Window < opts.Workers {
		opts.Window = opts.Workers * 8
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	dog := NewWatchdog(opts.StallTimeout, log, func() { cancel(ErrStalled) })
	defer dog.Stop()

	var processor *assets.Processor
	fail := func(err error) (*Result, error) {
		if errors.Is(context.Cause(ctx), ErrStalled) {
			log.Warn("run stalled", "progress", dog.Progress(), "records_written", run.Summary.Records())
			err = ErrStalled
		}
		if abortErr := sink.Abort(); abortErr != nil {
			log.Warn("failed to abort output", "error", abortErr)
		}
		if processor != nil {
			processor.Cleanup()
		}
		return nil, err
	}

	// Schema pass.
	var records []catalog.RawRecord
	err := src.Scan(ctx, func(rec catalog.RawRecord) error {
		records = append(records, rec)
		dog.Kick()
		return nil
	})
	if err != nil {
		return fail(err)
	}
	log.Info("source read", "source", run.Source, "records", len(records))

	profiles := infer.Profile(src.Fields(), records, opts.Infer)
	keepRaw := opts.Dialect.Name() == dialect.SQLite
	var widened map[string]catalog.ScalarType
	if !keepRaw && opts.Infer.SampleSize > 0 {
		widened = widen(profiles, records)
		for name, t := range widened {
			log.Info("sampled type does not hold for every record, storing as text", "field", name, "sampled", t.String())
		}
	}

	schemaOpts := opts.Schema
	if schemaOpts.AssetMode == schema.AssetNone && hasImages(opts.Resolver, records) {
		schemaOpts.AssetMode = schema.AssetEmbed
	}
	s, err := schema.Normalize(profiles, schemaOpts)
	if err != nil {
		return fail(err)
	}
	for _, p := range profiles {
		log.Debug("field profile", "field", p.Name, "type", p.Type.String(), "multivalued", p.Multivalued, "nullable", p.Nullable)
	}

	if s.AssetMode != schema.AssetNone {
		imgOpts := opts.Images
		imgOpts.External = s.AssetMode == schema.AssetExternal
		if imgOpts.Logger == nil {
			imgOpts.Logger = opts.Logger
		}
		processor, err = assets.NewProcessor(imgOpts)
		if err != nil {
			return fail(err)
		}
	}
	m := materialize.New(s, opts.Resolver, processor, materialize.Options{
		HTMLFields: opts.HTMLFields,
		Provenance: opts.Provenance,
		KeepRaw:    keepRaw,
		Widened:    widened,
		Logger:     opts.Logger,
	})

	// Emission pass.
	if err := sink.Begin(ctx, s); err != nil {
		return fail(err)
	}
	if err := emitAll(ctx, records, m, s, sink, run, dog, opts); err != nil {
		return fail(err)
	}
	if err := sink.Commit(ctx, run.Summary); err != nil {
		return fail(err)
	}

	elapsed := time.Since(run.Started)
	log.Info("run complete",
		"records", run.Summary.Records(),
		"tables", len(s.TableNames()),
		"warnings", run.Summary.Total(),
		"elapsed", elapsed,
	)
	return &Result{Schema: s, Profiles: profiles, Elapsed: elapsed}, nil
}

// emitAll materializes records on opts.Workers goroutines and writes them
// to sink in source order.
func emitAll(ctx context.Context, records []catalog.RawRecord, m *materialize.Materializer, s *schema.Schema, sink emit.Sink, run *catalog.Run, dog *Watchdog, opts Options) error {
	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan job)
	results := make(chan result, opts.Window)
	window := make(chan struct{}, opts.Window)

	g.Go(func() error {
		defer close(jobs)
		for i, rec := range records {
			select {
			case window <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			j := job{seq: i, id: run.IDs.Next(), rec: rec}
			select {
			case jobs <- j:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	var workers sync.WaitGroup
	for w := 0; w < opts.Workers; w++ {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			for j := range jobs {
				it, warnings := m.Build(j.id, j.rec)
				select {
				case results <- result{seq: j.seq, item: it, warnings: warnings}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		workers.Wait()
		close(results)
	}()

	g.Go(func() error {
		pending := make(map[int]result)
		next := 0
		for r := range results {
			pending[r.seq] = r
			for {
				p, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				if err := write(gctx, sink, s, run.Summary, p); err != nil {
					return err
				}
				dog.Kick()
				<-window
				next++
			}
		}
		if next != len(records) {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fmt.Errorf("wrote %d of %d records", next, len(records))
		}
		return nil
	})

	return g.Wait()
}

func write(ctx context.Context, sink emit.Sink, s *schema.Schema, summary *catalog.Summary, r result) error {
	for _, w := range r.warnings {
		summary.Warn(w)
	}
	if err := sink.WriteItem(ctx, r.item); err != nil {
		return err
	}
	external := r.item.Asset != nil && s.AssetMode == schema.AssetExternal
	embedded := r.item.Asset != nil && s.AssetMode == schema.AssetEmbed
	summary.AddRecord(r.item.JunctionCounts(s), embedded, external)
	return nil
}

// widen turns typed profiles into text when a record outside the sample
// holds a value the sampled type cannot store. It returns the sampled type
// of every widened field.
func widen(profiles []catalog.FieldProfile, records []catalog.RawRecord) map[string]catalog.ScalarType {
	widened := make(map[string]catalog.ScalarType)
	for i := range profiles {
		p := &profiles[i]
		if p.Type == catalog.TypeText || p.Multivalued {
			continue
		}
		for _, rec := range records {
			if p.Index >= len(rec.Values) {
				continue
			}
			if v := rec.Values[p.Index]; strings.TrimSpace(v) != "" && !infer.Fits(p.Type, v) {
				widened[p.Name] = p.Type
				p.Type = catalog.TypeText
				break
			}
		}
	}
	return widened
}

func hasImages(r *assets.Resolver, records []catalog.RawRecord) bool {
	if r != nil && r.Store != nil {
		return true
	}
	for _, rec := range records {
		if len(rec.Image) > 0 {
			return true
		}
	}
	return false
}
