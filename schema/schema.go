// Package schema turns frozen field profiles into a normalized relational
// schema: one primary table with a synthetic identity plus one junction
// table per multivalued field.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/darianmavgo/rwmigrate/catalog"
	"github.com/darianmavgo/rwmigrate/dialect"
)

// Junction table columns.
const (
	JunctionFK    = "item_id"
	JunctionSeq   = "seq"
	JunctionValue = "value"
)

// Asset modes.
const (
	AssetNone     = ""
	AssetEmbed    = "embed"
	AssetExternal = "external"
)

// Options controls the generated names and optional columns.
type Options struct {
	Table       string // primary table, default "books"
	Identity    string // identity column, default "id"
	AssetMode   string // AssetNone, AssetEmbed or AssetExternal
	AssetColumn string // default "cover" when embedded, "cover_ref" when external
	ContentHash bool   // add a content_hash column
	Provenance  bool   // add a provenance column
}

// Column is a primary table column backed by a source field.
type Column struct {
	Name     string
	Source   string
	Field    int // index into RawRecord.Values
	Type     catalog.ScalarType
	Nullable bool
}

// Junction is the table holding one multivalued field.
type Junction struct {
	Table  string
	Source string
	Field  int
}

// Schema is the relational layout of one run. It never changes once built.
type Schema struct {
	Table            string
	Identity         string
	Columns          []Column
	Junctions        []Junction
	AssetMode        string
	AssetColumn      string
	HashColumn       string
	ProvenanceColumn string
}

// Normalize builds the schema. Any two names that would collide produce a
// SchemaError; nothing is renamed to make room.
func Normalize(profiles []catalog.FieldProfile, opts Options) (*Schema, error) {
	s := &Schema{
		Table:     TableName(defaultString(opts.Table, "books")),
		Identity:  ColumnName(defaultString(opts.Identity, "id"), 0),
		AssetMode: opts.AssetMode,
	}

	owner := map[string]string{s.Identity: "(identity)"}
	claim := func(name, source string) error {
		if prev, ok := owner[name]; ok {
			return &catalog.SchemaError{
				Fields: []string{prev, source},
				Msg:    fmt.Sprintf("names normalize to the same identifier %q", name),
			}
		}
		owner[name] = source
		return nil
	}

	switch opts.AssetMode {
	case AssetNone:
	case AssetEmbed:
		s.AssetColumn = ColumnName(defaultString(opts.AssetColumn, "cover"), 0)
	case AssetExternal:
		s.AssetColumn = ColumnName(defaultString(opts.AssetColumn, "cover_ref"), 0)
	default:
		return nil, fmt.Errorf("unknown asset mode %q", opts.AssetMode)
	}
	if s.AssetColumn != "" {
		if err := claim(s.AssetColumn, "(asset)"); err != nil {
			return nil, err
		}
	}
	if opts.ContentHash {
		s.HashColumn = "content_hash"
		if err := claim(s.HashColumn, "(content hash)"); err != nil {
			return nil, err
		}
	}
	if opts.Provenance {
		s.ProvenanceColumn = "provenance"
		if err := claim(s.ProvenanceColumn, "(provenance)"); err != nil {
			return nil, err
		}
	}

	tables := map[string]string{s.Table: "(primary table)"}
	for i, p := range profiles {
		name := ColumnName(p.Name, i)
		if err := claim(name, p.Name); err != nil {
			return nil, err
		}
		if !p.Multivalued {
			s.Columns = append(s.Columns, Column{
				Name:     name,
				Source:   p.Name,
				Field:    p.Index,
				Type:     p.Type,
				Nullable: p.Nullable,
			})
			continue
		}
		table := s.Table + "_" + name
		if prev, ok := tables[table]; ok {
			return nil, &catalog.SchemaError{
				Fields: []string{prev, p.Name},
				Msg:    fmt.Sprintf("junction table %q collides", table),
			}
		}
		tables[table] = p.Name
		s.Junctions = append(s.Junctions, Junction{Table: table, Source: p.Name, Field: p.Index})
	}
	return s, nil
}

// Statements renders the schema definition in dependency order: the
// primary table first, then every junction table.
func (s *Schema) Statements(d *dialect.Dialect) []string {
	q := d.QuoteIdent
	var out []string

	cols := []string{d.IdentityColumn(s.Identity)}
	for _, c := range s.Columns {
		def := q(c.Name) + " " + d.ColumnType(c.Type)
		if !c.Nullable {
			def += " NOT NULL"
		}
		cols = append(cols, def)
	}
	switch s.AssetMode {
	case AssetEmbed:
		cols = append(cols, q(s.AssetColumn)+" "+d.BlobType())
	case AssetExternal:
		cols = append(cols, q(s.AssetColumn)+" "+d.TextType())
	}
	if s.HashColumn != "" {
		cols = append(cols, q(s.HashColumn)+" "+d.TextType())
	}
	if s.ProvenanceColumn != "" {
		cols = append(cols, q(s.ProvenanceColumn)+" "+d.TextType())
	}
	out = append(out, createTable(q(s.Table), cols))

	for _, j := range s.Junctions {
		out = append(out, createTable(q(j.Table), []string{
			q(JunctionFK) + " " + d.IntegerType() + " NOT NULL",
			q(JunctionSeq) + " " + d.IntegerType() + " NOT NULL",
			q(JunctionValue) + " " + d.TextType() + " NOT NULL",
			fmt.Sprintf("PRIMARY KEY (%s, %s)", q(JunctionFK), q(JunctionSeq)),
			fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)", q(JunctionFK), q(s.Table), q(s.Identity)),
		}))
	}
	return out
}

// PrimaryColumns lists the primary table column names in insert order,
// identity first.
func (s *Schema) PrimaryColumns() []string {
	names := []string{s.Identity}
	for _, c := range s.Columns {
		names = append(names, c.Name)
	}
	if s.AssetColumn != "" {
		names = append(names, s.AssetColumn)
	}
	if s.HashColumn != "" {
		names = append(names, s.HashColumn)
	}
	if s.ProvenanceColumn != "" {
		names = append(names, s.ProvenanceColumn)
	}
	return names
}

// TableNames lists every table, primary first.
func (s *Schema) TableNames() []string {
	names := []string{s.Table}
	for _, j := range s.Junctions {
		names = append(names, j.Table)
	}
	return names
}

// JunctionNames returns the junction table names sorted.
func (s *Schema) JunctionNames() []string {
	names := make([]string, len(s.Junctions))
	for i, j := range s.Junctions {
		names[i] = j.Table
	}
	sort.Strings(names)
	return names
}

func createTable(name string, defs []string) string {
	return fmt.Sprintf("CREATE TABLE %s (\n\t%s\n);", name, strings.Join(defs, ",\n\t"))
}

func defaultString(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
