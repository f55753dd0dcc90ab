package catalog

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// IDAllocator hands out synthetic identities. Values start at 1 and are
// strictly increasing regardless of which goroutine asks.
type IDAllocator struct {
	last atomic.Int64
}

// Next returns the next identity.
func (a *IDAllocator) Next() int64 { return a.last.Add(1) }

// Last returns the most recently allocated identity, or 0.
func (a *IDAllocator) Last() int64 { return a.last.Load() }

// Reset starts allocation over from 1.
func (a *IDAllocator) Reset() { a.last.Store(0) }

// Run is the state scoped to one migration run. It is passed explicitly
// through the pipeline.
type Run struct {
	ID      uuid.UUID
	Started time.Time
	Source  string
	IDs     *IDAllocator
	Summary *Summary
}

// NewRun creates run state for the named source.
func NewRun(source string) *Run {
	return &Run{
		ID:      uuid.New(),
		Started: time.Now(),
		Source:  source,
		IDs:     &IDAllocator{},
		Summary: NewSummary(),
	}
}
