package catalog

import (
	"sort"
	"sync"
)

// WarningKind classifies a non-fatal problem.
type WarningKind string

const (
	CoercionWarning WarningKind = "coercion"
	AssetWarning    WarningKind = "asset"
)

// Warning is a non-fatal, per-record problem. The record is still emitted.
type Warning struct {
	Kind     WarningKind
	Position int
	ItemID   int64
	Field    string
	Msg      string
}

// Summary accumulates run counters and warnings. Safe for concurrent use.
type Summary struct {
	mu             sync.Mutex
	records        int
	junctionRows   map[string]int
	assetsEmbedded int
	assetsExternal int
	warnings       []Warning
}

// NewSummary returns an empty summary.
func NewSummary() *Summary {
	return &Summary{junctionRows: make(map[string]int)}
}

// Warn records a warning.
func (s *Summary) Warn(w Warning) {
	s.mu.Lock()
	s.warnings = append(s.warnings, w)
	s.mu.Unlock()
}

// AddRecord counts one emitted record with its junction rows per table
// and whether it carried an embedded or external asset.
func (s *Summary) AddRecord(junctions map[string]int, embedded, external bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records++
	for table, n := range junctions {
		s.junctionRows[table] += n
	}
	if embedded {
		s.assetsEmbedded++
	}
	if external {
		s.assetsExternal++
	}
}

// Records returns the number of emitted records.
func (s *Summary) Records() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records
}

// JunctionRows returns a copy of the per-table junction row counts.
func (s *Summary) JunctionRows() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.junctionRows))
	for k, v := range s.junctionRows {
		out[k] = v
	}
	return out
}

// Assets returns the embedded and external asset counts.
func (s *Summary) Assets() (embedded, external int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assetsEmbedded, s.assetsExternal
}

// Warnings returns the warnings ordered by record position, then field.
func (s *Summary) Warnings() []Warning {
	s.mu.Lock()
	out := make([]Warning, len(s.warnings))
	copy(out, s.warnings)
	s.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].Field < out[j].Field
	})
	return out
}

// Count returns the number of warnings of the given kind.
func (s *Summary) Count(kind WarningKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, w := range s.warnings {
		if w.Kind == kind {
			n++
		}
	}
	return n
}

// Total returns the number of warnings of all kinds.
func (s *Summary) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.warnings)
}
