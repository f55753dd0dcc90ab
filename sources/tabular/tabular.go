// Package tabular reads the flat tab-delimited export written by Readerware.
//
// The dialect is fixed: fields are separated by TAB, a field that starts
// with a double quote is quoted and may then contain tabs, newlines and
// doubled quotes, and records end at LF or CRLF outside quotes.
package tabular

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/darianmavgo/rwmigrate/catalog"
	"github.com/darianmavgo/rwmigrate/logging"
	"github.com/darianmavgo/rwmigrate/sources"
)

const (
	Delimiter = '\t'
	Quote     = '"'
)

func init() {
	sources.Register("tabular", &tabularDriver{})
}

type tabularDriver struct{}

func (d *tabularDriver) Open(r io.Reader, opts *sources.Options) (catalog.Source, error) {
	return NewReader(r, opts.Charset, opts.Logger)
}

// Reader streams RawRecords from an export.
type Reader struct {
	br       *bufio.Reader
	fields   []string
	line     int // current physical line, 1-based
	field    bytes.Buffer
	consumed bool
	log      *slog.Logger
}

// Ensure Reader implements catalog.Source
var _ catalog.Source = (*Reader)(nil)

// NewReader decodes r with the given charset and reads the header row.
func NewReader(r io.Reader, charset string, logger *slog.Logger) (*Reader, error) {
	dr, err := decodeReader(r, charset)
	if err != nil {
		return nil, err
	}
	rd := &Reader{
		br:   bufio.NewReaderSize(dr, 64*1024),
		line: 1,
		log:  logging.Component(logger, "tabular"),
	}

	header, start, err := rd.readRecord()
	if errors.Is(err, io.EOF) {
		return nil, &catalog.FormatError{Line: 1, Msg: "empty input, no header row"}
	}
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if seen[h] {
			return nil, &catalog.FormatError{Line: start, Msg: fmt.Sprintf("duplicate header %q", h)}
		}
		seen[h] = true
		header[i] = h
	}
	rd.fields = header
	rd.log.Debug("header read", "fields", len(header))
	return rd, nil
}

// Fields returns the header names in order.
func (r *Reader) Fields() []string { return r.fields }

// Scan yields every record in the export. Blank lines at the end of the
// input are dropped; a blank line before more data is a record like any
// other, so it is an empty value in a one-column export and a field count
// error otherwise.
func (r *Reader) Scan(ctx context.Context, yield func(catalog.RawRecord) error) error {
	if r.consumed {
		return catalog.ErrSourceConsumed
	}
	r.consumed = true

	pos := 0
	emit := func(values []string, start int) error {
		pos++
		if len(values) != len(r.fields) {
			return &catalog.FormatError{
				Position: pos,
				Line:     start,
				Msg:      fmt.Sprintf("record has %d fields, header has %d", len(values), len(r.fields)),
			}
		}
		return yield(catalog.RawRecord{
			Position: pos,
			Line:     start,
			Fields:   r.fields,
			Values:   values,
		})
	}

	var blanks []int
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		values, start, err := r.readRecord()
		if errors.Is(err, io.EOF) {
			if len(blanks) > 0 {
				r.log.Debug("dropped trailing blank lines", "lines", len(blanks))
			}
			r.log.Debug("scan complete", "records", pos)
			return nil
		}
		if err != nil {
			if fe, ok := err.(*catalog.FormatError); ok {
				fe.Position = pos + len(blanks) + 1
			}
			return err
		}
		if len(values) == 1 && values[0] == "" {
			blanks = append(blanks, start)
			continue
		}
		for _, line := range blanks {
			if err := emit([]string{""}, line); err != nil {
				return err
			}
		}
		blanks = blanks[:0]
		if err := emit(values, start); err != nil {
			return err
		}
	}
}

type terminator int

const (
	endField terminator = iota
	endRecord
	endInput
)

// readRecord reads one logical record. It returns io.EOF only when no
// bytes remain before the record starts.
func (r *Reader) readRecord() ([]string, int, error) {
	start := r.line
	if _, err := r.br.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, start, io.EOF
		}
		return nil, start, fmt.Errorf("failed to read input: %w", err)
	}

	var values []string
	for {
		v, term, err := r.readField(start)
		if err != nil {
			return nil, start, err
		}
		values = append(values, v)
		if term != endField {
			return values, start, nil
		}
	}
}

func (r *Reader) readField(start int) (string, terminator, error) {
	r.field.Reset()

	c, err := r.br.ReadByte()
	if err != nil {
		return "", endInput, r.eof(err)
	}
	if c == Quote {
		return r.readQuoted(start)
	}
	r.br.UnreadByte()

	for {
		c, err := r.br.ReadByte()
		if err != nil {
			if err := r.eof(err); err != nil {
				return "", endInput, err
			}
			return r.field.String(), endInput, nil
		}
		switch c {
		case Delimiter:
			return r.field.String(), endField, nil
		case '\n':
			r.line++
			return r.field.String(), endRecord, nil
		case '\r':
			if r.takeLF() {
				return r.field.String(), endRecord, nil
			}
		}
		r.field.WriteByte(c)
	}
}

func (r *Reader) readQuoted(start int) (string, terminator, error) {
	for {
		c, err := r.br.ReadByte()
		if err != nil {
			if err := r.eof(err); err != nil {
				return "", endInput, err
			}
			return "", endInput, &catalog.FormatError{Line: start, Msg: "unterminated quoted field at end of input"}
		}
		if c == '\n' {
			r.line++
		}
		if c != Quote {
			r.field.WriteByte(c)
			continue
		}

		next, err := r.br.ReadByte()
		if err != nil {
			if err := r.eof(err); err != nil {
				return "", endInput, err
			}
			return r.field.String(), endInput, nil
		}
		switch next {
		case Quote:
			r.field.WriteByte(Quote)
		case Delimiter:
			return r.field.String(), endField, nil
		case '\n':
			r.line++
			return r.field.String(), endRecord, nil
		case '\r':
			if r.takeLF() {
				return r.field.String(), endRecord, nil
			}
			fallthrough
		default:
			return "", endInput, &catalog.FormatError{Line: r.line, Msg: fmt.Sprintf("unexpected %q after closing quote", next)}
		}
	}
}

// takeLF consumes a LF following a CR and reports whether it was there.
func (r *Reader) takeLF() bool {
	b, err := r.br.Peek(1)
	if err == nil && b[0] == '\n' {
		r.br.ReadByte()
		r.line++
		return true
	}
	return false
}

// eof maps io.EOF to nil and wraps anything else.
func (r *Reader) eof(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("failed to read input: %w", err)
}
