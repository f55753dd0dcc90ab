package sources

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/darianmavgo/rwmigrate/catalog"
	"github.com/darianmavgo/rwmigrate/logging"
)

// Input is one export of a merged run. Label is stored as the provenance
// of its records.
type Input struct {
	Label  string
	Source catalog.Source
}

// MergeOptions configures Merge.
type MergeOptions struct {
	// Dedupe drops a record whose aligned values hash the same as an
	// earlier record's. The label takes no part in the comparison.
	Dedupe bool
	Logger *slog.Logger
}

type merged struct {
	inputs   []Input
	fields   []string
	columns  [][]int // per input: merged index of each of its fields
	opts     MergeOptions
	log      *slog.Logger
	consumed bool
}

// Merge reads inputs one after another as a single source. Its fields are
// the union of the inputs' fields in first-seen order; a field an input
// lacks is empty in its records. Positions run on across inputs.
func Merge(inputs []Input, opts MergeOptions) catalog.Source {
	m := &merged{
		inputs: inputs,
		opts:   opts,
		log:    logging.Component(opts.Logger, "merge"),
	}
	index := make(map[string]int)
	for _, in := range inputs {
		fields := in.Source.Fields()
		cols := make([]int, len(fields))
		for i, f := range fields {
			j, ok := index[f]
			if !ok {
				j = len(m.fields)
				index[f] = j
				m.fields = append(m.fields, f)
			}
			cols[i] = j
		}
		m.columns = append(m.columns, cols)
	}
	return m
}

func (m *merged) Fields() []string { return m.fields }

func (m *merged) Scan(ctx context.Context, yield func(catalog.RawRecord) error) error {
	if m.consumed {
		return catalog.ErrSourceConsumed
	}
	m.consumed = true

	seen := make(map[string]bool)
	pos, skipped := 0, 0
	for k, in := range m.inputs {
		cols := m.columns[k]
		read := 0
		var yieldErr error
		err := in.Source.Scan(ctx, func(rec catalog.RawRecord) error {
			read++
			values := make([]string, len(m.fields))
			for i, v := range rec.Values {
				if i < len(cols) {
					values[cols[i]] = v
				}
			}
			if m.opts.Dedupe {
				h := catalog.ContentHash(values)
				if seen[h] {
					skipped++
					return nil
				}
				seen[h] = true
			}
			pos++
			yieldErr = yield(catalog.RawRecord{
				Position:   pos,
				Line:       rec.Line,
				Fields:     m.fields,
				Values:     values,
				Image:      rec.Image,
				Provenance: in.Label,
			})
			return yieldErr
		})
		if err != nil {
			if err == yieldErr {
				return err
			}
			return fmt.Errorf("input %s: %w", in.Label, err)
		}
		m.log.Info("input read", "input", in.Label, "records", read)
	}
	if skipped > 0 {
		m.log.Info("duplicate records dropped", "records", skipped)
	}
	return nil
}
