// Package infer decides a storage type and list cardinality for every
// field of a record stream. The decision is global, so the whole stream
// must be observed before any profile is read.
package infer

import (
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/darianmavgo/rwmigrate/catalog"
	"github.com/darianmavgo/rwmigrate/schema"
)

// ListSeparator separates the elements of a multivalued field.
const ListSeparator = ';'

// DateLayouts are the recognized date formats, tried in order.
var DateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

var (
	integerRe = regexp.MustCompile(`^[+-]?[0-9]+$`)
	decimalRe = regexp.MustCompile(`^[+-]?([0-9]+\.?[0-9]*|\.[0-9]+)([eE][+-]?[0-9]+)?$`)
)

// Options tunes the inferencer.
type Options struct {
	// SampleSize caps how many values per field feed the type decision.
	// Zero means every value. Nullability always sees every record.
	SampleSize int
	// Scalar names fields that are never treated as lists.
	Scalar []string
	// Seed drives reservoir sampling so reruns agree.
	Seed int64
}

// fieldState is the running evidence for one field.
type fieldState struct {
	seen      int // non-empty values observed
	empty     bool
	multi     bool
	reservoir []string
}

// Inferencer accumulates evidence across records and freezes it into
// profiles once.
type Inferencer struct {
	fields []string
	opts   Options
	scalar []bool
	states []fieldState
	rng    *rand.Rand
	frozen []catalog.FieldProfile
}

// New creates an inferencer for the given header.
func New(fields []string, opts Options) *Inferencer {
	keys := make(map[string]bool, len(opts.Scalar))
	for _, f := range opts.Scalar {
		keys[schema.FieldKey(f)] = true
	}
	scalar := make([]bool, len(fields))
	for i, f := range fields {
		scalar[i] = keys[schema.FieldKey(f)]
	}
	return &Inferencer{
		fields: fields,
		opts:   opts,
		scalar: scalar,
		states: make([]fieldState, len(fields)),
		rng:    rand.New(rand.NewSource(opts.Seed)),
	}
}

// Observe adds one record's values. It panics if called after Freeze.
func (in *Inferencer) Observe(rec catalog.RawRecord) {
	if in.frozen != nil {
		panic("infer: Observe called after Freeze")
	}
	for i := range in.states {
		st := &in.states[i]
		var v string
		if i < len(rec.Values) {
			v = strings.TrimSpace(rec.Values[i])
		}
		if v == "" {
			st.empty = true
			continue
		}
		st.seen++
		if !st.multi && !in.scalar[i] && HasSeparator(v) {
			st.multi = true
		}
		if in.opts.SampleSize <= 0 || len(st.reservoir) < in.opts.SampleSize {
			st.reservoir = append(st.reservoir, v)
			continue
		}
		if j := in.rng.Intn(st.seen); j < in.opts.SampleSize {
			st.reservoir[j] = v
		}
	}
}

// Freeze returns the final profiles in source field order. Later calls
// return the same slice.
func (in *Inferencer) Freeze() []catalog.FieldProfile {
	if in.frozen != nil {
		return in.frozen
	}
	out := make([]catalog.FieldProfile, len(in.fields))
	for i, name := range in.fields {
		st := in.states[i]
		p := catalog.FieldProfile{
			Name:        name,
			Index:       i,
			Multivalued: st.multi,
			Nullable:    st.empty || st.seen == 0,
			Samples:     len(st.reservoir),
		}
		if !st.multi {
			p.Type = Classify(st.reservoir)
		}
		out[i] = p
	}
	in.frozen = out
	return out
}

// Profile runs a complete schema pass over records.
func Profile(fields []string, records []catalog.RawRecord, opts Options) []catalog.FieldProfile {
	in := New(fields, opts)
	for _, r := range records {
		in.Observe(r)
	}
	return in.Freeze()
}

// Classify picks the narrowest type every value satisfies. An empty
// sample is text.
func Classify(values []string) catalog.ScalarType {
	if len(values) == 0 {
		return catalog.TypeText
	}
	for _, t := range []catalog.ScalarType{catalog.TypeInteger, catalog.TypeReal, catalog.TypeBoolean, catalog.TypeDate} {
		if all(values, matcher(t)) {
			return t
		}
	}
	return catalog.TypeText
}

// Fits reports whether the trimmed value v can be stored as type t.
func Fits(t catalog.ScalarType, v string) bool {
	return matcher(t)(strings.TrimSpace(v))
}

func all(values []string, ok func(string) bool) bool {
	for _, v := range values {
		if !ok(v) {
			return false
		}
	}
	return true
}

func matcher(t catalog.ScalarType) func(string) bool {
	switch t {
	case catalog.TypeInteger:
		return IsInteger
	case catalog.TypeReal:
		return IsDecimal
	case catalog.TypeBoolean:
		return func(v string) bool { _, ok := ParseBool(v); return ok }
	case catalog.TypeDate:
		return func(v string) bool { _, ok := ParseDate(v); return ok }
	}
	return func(string) bool { return true }
}

// IsInteger reports whether v is an integer literal that fits in 64 bits.
// Zero-padded values such as ISBNs and barcodes are not numbers.
func IsInteger(v string) bool {
	if !integerRe.MatchString(v) || zeroPadded(v) {
		return false
	}
	_, err := strconv.ParseInt(v, 10, 64)
	return err == nil
}

// IsDecimal reports whether v is a plain decimal number. NaN, Inf and hex
// forms accepted by strconv are rejected.
func IsDecimal(v string) bool {
	if !decimalRe.MatchString(v) || zeroPadded(v) {
		return false
	}
	_, err := strconv.ParseFloat(v, 64)
	return err == nil
}

func zeroPadded(v string) bool {
	v = strings.TrimLeft(v, "+-")
	return len(v) > 1 && v[0] == '0' && v[1] >= '0' && v[1] <= '9'
}

// ParseBool accepts true/false/yes/no in any case.
func ParseBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes":
		return true, true
	case "false", "no":
		return false, true
	}
	return false, false
}

// ParseDate tries DateLayouts in order.
func ParseDate(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	for _, layout := range DateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// HasSeparator reports whether v contains the list separator outside of
// double quotes.
func HasSeparator(v string) bool {
	inQuote := false
	for i := 0; i < len(v); i++ {
		switch v[i] {
		case '"':
			inQuote = !inQuote
		case ListSeparator:
			if !inQuote {
				return true
			}
		}
	}
	return false
}

// Split breaks a multivalued value on separators outside quotes, trims the
// elements and drops empty ones. Surrounding quotes are removed from an
// element. Order is preserved.
func Split(v string) []string {
	var out []string
	inQuote := false
	start := 0
	emit := func(s string) {
		s = strings.TrimSpace(s)
		if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
			s = strings.TrimSpace(strings.ReplaceAll(s[1:len(s)-1], `""`, `"`))
		}
		if s != "" {
			out = append(out, s)
		}
	}
	for i := 0; i < len(v); i++ {
		switch v[i] {
		case '"':
			inQuote = !inQuote
		case ListSeparator:
			if !inQuote {
				emit(v[start:i])
				start = i + 1
			}
		}
	}
	emit(v[start:])
	return out
}
