// Package materialize turns one raw record into the primary row, junction
// rows and asset value the schema asks for.
package materialize

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/darianmavgo/rwmigrate/assets"
	"github.com/darianmavgo/rwmigrate/catalog"
	"github.com/darianmavgo/rwmigrate/infer"
	"github.com/darianmavgo/rwmigrate/logging"
	"github.com/darianmavgo/rwmigrate/richtext"
	"github.com/darianmavgo/rwmigrate/schema"
)

// Options configures value conversion.
type Options struct {
	// HTMLFields are source fields whose text is flattened from HTML.
	HTMLFields []string
	// Provenance is stored in the provenance column when the schema has one
	// and the record carries none of its own.
	Provenance string
	// KeepRaw stores the raw text when a value does not match its column
	// type. Targets with strict column types need false, which stores NULL.
	KeepRaw bool
	// Widened maps source fields whose sampled type did not hold for every
	// record to that type. They are stored as text, and each value that
	// does not fit the sampled type is warned about.
	Widened map[string]catalog.ScalarType
	Logger  *slog.Logger
}

// JunctionRow is one element of a multivalued field.
type JunctionRow struct {
	Seq   int
	Value string
}

// Item is one materialized catalog item. It is not modified after Build.
type Item struct {
	ID        int64
	Position  int
	Values    []any           // parallel to Schema.PrimaryColumns
	Junctions [][]JunctionRow // parallel to Schema.Junctions
	Asset     *assets.Asset
}

// JunctionCounts returns the number of rows per junction table.
func (it *Item) JunctionCounts(s *schema.Schema) map[string]int {
	out := make(map[string]int, len(s.Junctions))
	for i, j := range s.Junctions {
		out[j.Table] = len(it.Junctions[i])
	}
	return out
}

// Materializer builds Items for one schema. Safe for concurrent use.
type Materializer struct {
	schema    *schema.Schema
	resolver  *assets.Resolver
	processor *assets.Processor
	opts      Options
	html      map[string]bool
	log       *slog.Logger
}

// New creates a Materializer. processor may be nil when the schema has no
// asset column.
func New(s *schema.Schema, resolver *assets.Resolver, processor *assets.Processor, opts Options) *Materializer {
	html := make(map[string]bool, len(opts.HTMLFields))
	for _, f := range opts.HTMLFields {
		html[schema.FieldKey(f)] = true
	}
	return &Materializer{
		schema:    s,
		resolver:  resolver,
		processor: processor,
		opts:      opts,
		html:      html,
		log:       logging.Component(opts.Logger, "materialize"),
	}
}

// Build converts rec into an Item with the given identity. Problems with
// single values or the cover image are returned as warnings; the item is
// always complete.
func (m *Materializer) Build(id int64, rec catalog.RawRecord) (*Item, []catalog.Warning) {
	s := m.schema
	it := &Item{
		ID:        id,
		Position:  rec.Position,
		Values:    make([]any, 0, len(s.PrimaryColumns())),
		Junctions: make([][]JunctionRow, len(s.Junctions)),
	}
	var warnings []catalog.Warning
	warn := func(kind catalog.WarningKind, field, msg string) {
		warnings = append(warnings, catalog.Warning{Kind: kind, Position: rec.Position, ItemID: id, Field: field, Msg: msg})
	}

	it.Values = append(it.Values, id)
	for _, c := range s.Columns {
		raw := field(rec, c.Field)
		v, ok := m.coerce(c, raw)
		if !ok {
			warn(catalog.CoercionWarning, c.Source, fmt.Sprintf("cannot read %q as %s", raw, c.Type))
			if m.opts.KeepRaw {
				v = raw
			}
		} else if t, wide := m.opts.Widened[c.Source]; wide && v != nil && !infer.Fits(t, raw) {
			warn(catalog.CoercionWarning, c.Source, fmt.Sprintf("cannot read %q as %s, stored as text", raw, t))
		}
		it.Values = append(it.Values, v)
	}

	for i, j := range s.Junctions {
		elems := infer.Split(field(rec, j.Field))
		rows := make([]JunctionRow, len(elems))
		for seq, e := range elems {
			rows[seq] = JunctionRow{Seq: seq, Value: e}
		}
		it.Junctions[i] = rows
	}

	if s.AssetColumn != "" {
		var v any
		if a, err := m.asset(id, rec); err != nil {
			warn(catalog.AssetWarning, s.AssetColumn, err.Error())
		} else if a != nil {
			it.Asset = a
			if s.AssetMode == schema.AssetExternal {
				v = a.Ref
			} else {
				v = a.Data
			}
		}
		it.Values = append(it.Values, v)
	}
	if s.HashColumn != "" {
		it.Values = append(it.Values, catalog.ContentHash(rec.Values))
	}
	if s.ProvenanceColumn != "" {
		var v any
		switch {
		case rec.Provenance != "":
			v = rec.Provenance
		case m.opts.Provenance != "":
			v = m.opts.Provenance
		}
		it.Values = append(it.Values, v)
	}
	return it, warnings
}

// asset returns nil, nil when the record has no usable image reference.
func (m *Materializer) asset(id int64, rec catalog.RawRecord) (*assets.Asset, error) {
	if m.processor == nil {
		return nil, nil
	}
	src, ok := m.resolver.SourceFor(rec)
	if !ok {
		return nil, nil
	}
	a, err := m.processor.Process(id, src)
	if errors.Is(err, assets.ErrNotFound) {
		m.log.Debug("no image file", "ref", src.Reference(), "position", rec.Position)
		return nil, nil
	}
	if err != nil {
		var ae *catalog.AssetError
		if !errors.As(err, &ae) {
			err = &catalog.AssetError{Ref: src.Reference(), Err: err}
		}
		return nil, err
	}
	return a, nil
}

// coerce converts raw text to the column's type. Empty values are NULL.
func (m *Materializer) coerce(c schema.Column, raw string) (any, bool) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return nil, true
	}
	switch c.Type {
	case catalog.TypeInteger:
		if !infer.IsInteger(v) {
			return nil, false
		}
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	case catalog.TypeReal:
		if !infer.IsDecimal(v) {
			return nil, false
		}
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	case catalog.TypeBoolean:
		b, ok := infer.ParseBool(v)
		if !ok {
			return nil, false
		}
		return b, true
	case catalog.TypeDate:
		t, ok := infer.ParseDate(v)
		if !ok {
			return nil, false
		}
		return t.Format("2006-01-02"), true
	}
	if m.html[schema.FieldKey(c.Source)] {
		cleaned := richtext.Clean(raw)
		if cleaned == "" {
			return nil, true
		}
		return cleaned, true
	}
	return raw, true
}

func field(rec catalog.RawRecord, i int) string {
	if i < len(rec.Values) {
		return rec.Values[i]
	}
	return ""
}
