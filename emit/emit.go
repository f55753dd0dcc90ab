// Package emit writes a materialized catalog to its destination: a SQL
// script or a live database.
package emit

import (
	"context"

	"github.com/darianmavgo/rwmigrate/catalog"
	"github.com/darianmavgo/rwmigrate/materialize"
	"github.com/darianmavgo/rwmigrate/schema"
)

// Sink receives a run's output. Begin is called once with the schema,
// then WriteItem once per item in identity order, then exactly one of
// Commit or Abort. A sink leaves no output behind after Abort.
type Sink interface {
	Begin(ctx context.Context, s *schema.Schema) error
	WriteItem(ctx context.Context, it *materialize.Item) error
	Commit(ctx context.Context, summary *catalog.Summary) error
	Abort() error
}

// junctionColumns are the insert columns of every junction table.
var junctionColumns = []string{schema.JunctionFK, schema.JunctionSeq, schema.JunctionValue}

type tee []Sink

// Tee returns a Sink that forwards every call to each of sinks in order.
func Tee(sinks ...Sink) Sink {
	if len(sinks) == 1 {
		return sinks[0]
	}
	return tee(sinks)
}

func (t tee) Begin(ctx context.Context, s *schema.Schema) error {
	for _, sink := range t {
		if err := sink.Begin(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (t tee) WriteItem(ctx context.Context, it *materialize.Item) error {
	for _, sink := range t {
		if err := sink.WriteItem(ctx, it); err != nil {
			return err
		}
	}
	return nil
}

// Commit stops at the first failure. Sinks already committed stay
// committed.
func (t tee) Commit(ctx context.Context, summary *catalog.Summary) error {
	for i, sink := range t {
		if err := sink.Commit(ctx, summary); err != nil {
			for _, rest := range t[i+1:] {
				rest.Abort()
			}
			return err
		}
	}
	return nil
}

func (t tee) Abort() error {
	var first error
	for _, sink := range t {
		if err := sink.Abort(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
