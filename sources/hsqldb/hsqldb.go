// Package hsqldb extracts catalog records from a Readerware backup script,
// the text dump HSQLDB writes for a database (*.rw3.bkup.script).
//
// Foreign keys into the side lookup tables are resolved to their display
// values, column groups such as AUTHOR..AUTHOR6 can be merged into one
// list field, and the largest binary cover column becomes the record's
// image payload.
package hsqldb

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/darianmavgo/rwmigrate/catalog"
	"github.com/darianmavgo/rwmigrate/logging"
	"github.com/darianmavgo/rwmigrate/sources"
)

// DefaultTable is the main catalog table of a Readerware book database.
const DefaultTable = "READERWARE"

// ListSeparator joins the members of a merged column group.
const ListSeparator = ";"

const maxLine = 64 << 20

func init() {
	sources.Register("hsqldb", &hsqldbDriver{})
}

type hsqldbDriver struct{}

func (d *hsqldbDriver) Open(r io.Reader, opts *sources.Options) (catalog.Source, error) {
	return NewExtractor(r, opts)
}

type row struct {
	line   int
	values []value
}

// Extractor holds a parsed backup script and yields the main table rows.
type Extractor struct {
	opts     *sources.Options
	table    string
	tables   map[string][]column
	lookups  map[string]map[string]string
	rows     []row
	fields   []string
	plan     []fieldPlan
	images   []int // column indexes holding cover candidates
	consumed bool
	log      *slog.Logger
}

// fieldPlan describes how one output field is built from main table columns.
type fieldPlan struct {
	name    string
	columns []int
	lookup  string
}

// Ensure Extractor implements catalog.Source
var _ catalog.Source = (*Extractor)(nil)

// NewExtractor reads the whole script. Lookup tables may appear after the
// main table, so rows are resolved lazily in Scan.
func NewExtractor(r io.Reader, opts *sources.Options) (*Extractor, error) {
	if opts == nil {
		opts = &sources.Options{}
	}
	e := &Extractor{
		opts:    opts,
		table:   strings.ToUpper(opts.Table),
		tables:  make(map[string][]column),
		lookups: make(map[string]map[string]string),
		log:     logging.Component(opts.Logger, "hsqldb"),
	}
	if e.table == "" {
		e.table = DefaultTable
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<20), maxLine)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "CREATE ") && strings.Contains(upper, " TABLE "):
			name, cols, err := parseCreate(line)
			if err != nil {
				return nil, &catalog.FormatError{Line: lineNo, Msg: err.Error()}
			}
			e.tables[name] = cols
		case strings.HasPrefix(upper, "INSERT INTO "):
			if err := e.addInsert(line, lineNo); err != nil {
				return nil, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read backup script: %w", err)
	}

	if _, ok := e.tables[e.table]; !ok {
		return nil, &catalog.FormatError{Line: lineNo, Msg: fmt.Sprintf("table %s is not declared in the script", e.table)}
	}
	if err := e.buildPlan(); err != nil {
		return nil, err
	}
	e.log.Info("backup script parsed", "table", e.table, "rows", len(e.rows), "lookup_tables", len(e.lookups))
	return e, nil
}

func (e *Extractor) addInsert(line string, lineNo int) error {
	name, vals, err := parseInsert(line)
	if err != nil {
		return &catalog.FormatError{Line: lineNo, Msg: err.Error()}
	}
	cols, ok := e.tables[name]
	if !ok {
		e.log.Debug("skipping insert into undeclared table", "table", name, "line", lineNo)
		return nil
	}
	if len(vals) != len(cols) {
		return &catalog.FormatError{
			Position: len(e.rows) + 1,
			Line:     lineNo,
			Msg:      fmt.Sprintf("%s row has %d values, table declares %d columns", name, len(vals), len(cols)),
		}
	}

	if name == e.table {
		e.rows = append(e.rows, row{line: lineNo, values: vals})
		return nil
	}
	if len(vals) < 2 || vals[0].Null {
		return nil
	}
	m := e.lookups[name]
	if m == nil {
		m = make(map[string]string)
		e.lookups[name] = m
	}
	m[vals[0].Text] = vals[1].Text
	return nil
}

func (e *Extractor) buildPlan() error {
	cols := e.tables[e.table]
	index := make(map[string]int, len(cols))
	for i, c := range cols {
		index[c.Name] = i
	}

	wantImage := make(map[string]bool, len(e.opts.ImageColumns))
	for _, name := range e.opts.ImageColumns {
		wantImage[strings.ToUpper(name)] = true
	}

	merged := make(map[int]string) // first member column -> merged name
	member := make(map[int]bool)
	groupCols := make(map[string][]int, len(e.opts.Merge))
	groups := make([]string, 0, len(e.opts.Merge))
	for name := range e.opts.Merge {
		groups = append(groups, name)
	}
	sort.Strings(groups)
	for _, name := range groups {
		for _, colName := range e.opts.Merge[name] {
			i, ok := index[strings.ToUpper(colName)]
			if !ok {
				e.log.Warn("merge group names an unknown column", "group", name, "column", colName)
				continue
			}
			if member[i] {
				return &catalog.SchemaError{Fields: []string{colName}, Msg: "column belongs to more than one merge group"}
			}
			member[i] = true
			groupCols[name] = append(groupCols[name], i)
		}
		if idx := groupCols[name]; len(idx) > 0 {
			merged[idx[0]] = name
		}
	}

	for i, c := range cols {
		if c.Binary {
			if len(wantImage) == 0 || wantImage[c.Name] {
				e.images = append(e.images, i)
			}
			continue
		}
		if name, ok := merged[i]; ok {
			e.plan = append(e.plan, fieldPlan{
				name:    name,
				columns: groupCols[name],
				lookup:  e.lookupFor(cols[i].Name),
			})
			continue
		}
		if member[i] {
			continue
		}
		e.plan = append(e.plan, fieldPlan{name: c.Name, columns: []int{i}, lookup: e.lookupFor(c.Name)})
	}

	e.fields = make([]string, len(e.plan))
	for i, fp := range e.plan {
		e.fields[i] = fp.name
	}
	return nil
}

func (e *Extractor) lookupFor(col string) string {
	for k, v := range e.opts.Lookups {
		if strings.EqualFold(k, col) {
			return strings.ToUpper(v)
		}
	}
	return ""
}

// Fields returns the output field names in table order.
func (e *Extractor) Fields() []string { return e.fields }

// Scan yields one RawRecord per main table row, in script order.
func (e *Extractor) Scan(ctx context.Context, yield func(catalog.RawRecord) error) error {
	if e.consumed {
		return catalog.ErrSourceConsumed
	}
	e.consumed = true

	unresolved := 0
	for n, r := range e.rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		values := make([]string, len(e.plan))
		for i, fp := range e.plan {
			parts := make([]string, 0, len(fp.columns))
			for _, c := range fp.columns {
				v := r.values[c]
				if v.Null {
					continue
				}
				text := v.Text
				if fp.lookup != "" {
					resolved, ok := e.resolve(fp.lookup, text)
					if !ok {
						unresolved++
					}
					text = resolved
				}
				if text != "" {
					parts = append(parts, text)
				}
			}
			values[i] = strings.Join(parts, ListSeparator)
		}

		var image []byte
		for _, c := range e.images {
			if b := r.values[c].Blob; len(b) > len(image) {
				image = b
			}
		}

		if err := yield(catalog.RawRecord{
			Position: n + 1,
			Line:     r.line,
			Fields:   e.fields,
			Values:   values,
			Image:    image,
		}); err != nil {
			return err
		}
	}
	if unresolved > 0 {
		e.log.Warn("lookup keys without a matching row", "count", unresolved)
	}
	return nil
}

// resolve maps a lookup key to its display value. The -1 key means unset.
func (e *Extractor) resolve(table, key string) (string, bool) {
	if key == "" || key == "-1" {
		return "", true
	}
	v, ok := e.lookups[table][key]
	return v, ok
}
