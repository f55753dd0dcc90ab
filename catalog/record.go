// Package catalog holds the types shared by every stage of a migration run:
// raw records, field profiles, the error taxonomy and the per-run state.
package catalog

import (
	"context"
	"errors"
)

// ErrSourceConsumed is returned when Scan is called on a source that has
// already been drained. Sources are not restartable.
var ErrSourceConsumed = errors.New("record source already consumed")

// RawRecord is one catalog item as read from a source, before any typing.
// Fields is shared by every record of a source and must not be modified.
type RawRecord struct {
	Position   int      // 1-based ordinal of the record in its source
	Line       int      // physical line where the record starts
	Fields     []string // field names, in source order
	Values     []string // raw text, parallel to Fields
	Image      []byte   // native image payload, if the source carries one
	Provenance string   // label of the input the record came from, if merged
}

// Get returns the raw value of the named field.
func (r RawRecord) Get(name string) (string, bool) {
	for i, f := range r.Fields {
		if f == name {
			if i < len(r.Values) {
				return r.Values[i], true
			}
			return "", true
		}
	}
	return "", false
}

// Source yields RawRecords in order. Scan may be called once; the yield
// function's error stops iteration and is returned unchanged.
type Source interface {
	Fields() []string
	Scan(ctx context.Context, yield func(RawRecord) error) error
}
