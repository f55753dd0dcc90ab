package emit

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/darianmavgo/rwmigrate/catalog"
	"github.com/darianmavgo/rwmigrate/dialect"
	"github.com/darianmavgo/rwmigrate/materialize"
	"github.com/darianmavgo/rwmigrate/schema"
)

// SQLWriter renders the run as one SQL script: schema first, then each
// item's primary insert followed by its junction inserts, all inside a
// single transaction.
type SQLWriter struct {
	bw      *bufio.Writer
	d       *dialect.Dialect
	s       *schema.Schema
	primary string
	tables  []string

	tmp   *os.File // set when writing to a file
	final string
}

// Ensure SQLWriter implements Sink
var _ Sink = (*SQLWriter)(nil)

// NewSQLWriter writes the script to w. Abort cannot retract what was
// already flushed, so prefer CreateSQLFile for files.
func NewSQLWriter(w io.Writer, d *dialect.Dialect) *SQLWriter {
	return &SQLWriter{bw: bufio.NewWriterSize(w, 256*1024), d: d}
}

// CreateSQLFile writes the script to a temp file beside path and moves it
// into place on Commit.
func CreateSQLFile(path string, d *dialect.Dialect) (*SQLWriter, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	w := NewSQLWriter(tmp, d)
	w.tmp = tmp
	w.final = path
	return w, nil
}

func (w *SQLWriter) Begin(ctx context.Context, s *schema.Schema) error {
	w.s = s
	w.primary = w.d.InsertPrefix(s.Table, s.PrimaryColumns())
	w.tables = make([]string, len(s.Junctions))
	for i, j := range s.Junctions {
		w.tables[i] = w.d.InsertPrefix(j.Table, junctionColumns)
	}

	if _, err := fmt.Fprintf(w.bw, "%s\n\n", w.d.Begin()); err != nil {
		return fmt.Errorf("failed to write transaction start: %w", err)
	}
	for _, stmt := range s.Statements(w.d) {
		if _, err := fmt.Fprintf(w.bw, "%s\n\n", stmt); err != nil {
			return fmt.Errorf("failed to write CREATE TABLE: %w", err)
		}
	}
	return nil
}

// WriteItem writes one item's statements as a contiguous block.
func (w *SQLWriter) WriteItem(ctx context.Context, it *materialize.Item) error {
	var sb strings.Builder
	sb.WriteString(w.primary)
	sb.WriteByte('(')
	for i, v := range it.Values {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(w.d.Literal(v))
	}
	sb.WriteString(");\n")

	for i, rows := range it.Junctions {
		for _, r := range rows {
			fmt.Fprintf(&sb, "%s(%d, %d, %s);\n", w.tables[i], it.ID, r.Seq, w.d.Literal(r.Value))
		}
	}

	if _, err := w.bw.WriteString(sb.String()); err != nil {
		return fmt.Errorf("failed to write item %d: %w", it.ID, err)
	}
	// Check cancel
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return nil
}

func (w *SQLWriter) Commit(ctx context.Context, summary *catalog.Summary) error {
	if sync := w.d.SyncIdentity(w.s.Table, w.s.Identity); sync != "" {
		if _, err := fmt.Fprintf(w.bw, "\n%s\n", sync); err != nil {
			return fmt.Errorf("failed to write identity sync: %w", err)
		}
	}
	if _, err := fmt.Fprintf(w.bw, "\n%s\n", w.d.Commit()); err != nil {
		return fmt.Errorf("failed to write transaction end: %w", err)
	}
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}
	if w.tmp == nil {
		return nil
	}
	if err := w.tmp.Close(); err != nil {
		os.Remove(w.tmp.Name())
		return fmt.Errorf("failed to close output: %w", err)
	}
	if err := os.Rename(w.tmp.Name(), w.final); err != nil {
		os.Remove(w.tmp.Name())
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}

func (w *SQLWriter) Abort() error {
	if w.tmp == nil {
		return nil
	}
	w.tmp.Close()
	if err := os.Remove(w.tmp.Name()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
