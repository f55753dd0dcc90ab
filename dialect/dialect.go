// Package dialect holds the per-database quoting and literal rules used by
// both the SQL text writer and the direct database loader.
package dialect

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/darianmavgo/rwmigrate/catalog"
)

const (
	SQLite   = "sqlite"
	Postgres = "postgres"
	MySQL    = "mysql"
)

// Dialect renders identifiers, types and literals for one target database.
type Dialect struct {
	name  string
	types map[catalog.ScalarType]string
	blob  string
}

var dialects = map[string]*Dialect{
	SQLite: {
		name: SQLite,
		types: map[catalog.ScalarType]string{
			catalog.TypeText:    "TEXT",
			catalog.TypeInteger: "INTEGER",
			catalog.TypeReal:    "REAL",
			catalog.TypeBoolean: "INTEGER",
			catalog.TypeDate:    "DATE",
		},
		blob: "BLOB",
	},
	Postgres: {
		name: Postgres,
		types: map[catalog.ScalarType]string{
			catalog.TypeText:    "TEXT",
			catalog.TypeInteger: "BIGINT",
			catalog.TypeReal:    "DOUBLE PRECISION",
			catalog.TypeBoolean: "BOOLEAN",
			catalog.TypeDate:    "DATE",
		},
		blob: "BYTEA",
	},
	MySQL: {
		name: MySQL,
		types: map[catalog.ScalarType]string{
			catalog.TypeText:    "LONGTEXT",
			catalog.TypeInteger: "BIGINT",
			catalog.TypeReal:    "DOUBLE",
			catalog.TypeBoolean: "BOOLEAN",
			catalog.TypeDate:    "DATE",
		},
		blob: "LONGBLOB",
	},
}

// Lookup returns the dialect registered under name.
func Lookup(name string) (*Dialect, error) {
	d, ok := dialects[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown SQL dialect %q (have %s)", name, strings.Join(Names(), ", "))
	}
	return d, nil
}

// Names lists the supported dialects.
func Names() []string {
	names := make([]string, 0, len(dialects))
	for n := range dialects {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (d *Dialect) Name() string { return d.name }

// QuoteIdent quotes an identifier.
func (d *Dialect) QuoteIdent(name string) string {
	if d.name == MySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ColumnType maps an inferred type to a column type.
func (d *Dialect) ColumnType(t catalog.ScalarType) string {
	if s, ok := d.types[t]; ok {
		return s
	}
	return d.types[catalog.TypeText]
}

// TextType is the type of free text columns.
func (d *Dialect) TextType() string { return d.types[catalog.TypeText] }

// IntegerType is the type of integer columns.
func (d *Dialect) IntegerType() string { return d.types[catalog.TypeInteger] }

// BlobType is the type of binary columns.
func (d *Dialect) BlobType() string { return d.blob }

// IdentityColumn renders the definition of an auto-incrementing primary key.
func (d *Dialect) IdentityColumn(name string) string {
	switch d.name {
	case Postgres:
		return d.QuoteIdent(name) + " BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
	case MySQL:
		return d.QuoteIdent(name) + " BIGINT AUTO_INCREMENT PRIMARY KEY"
	default:
		return d.QuoteIdent(name) + " INTEGER PRIMARY KEY AUTOINCREMENT"
	}
}

// Placeholder returns the n-th (1-based) bind parameter marker.
func (d *Dialect) Placeholder(n int) string {
	if d.name == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Begin opens a transaction in a SQL script.
func (d *Dialect) Begin() string {
	if d.name == MySQL {
		return "START TRANSACTION;"
	}
	return "BEGIN;"
}

// Commit closes a transaction in a SQL script.
func (d *Dialect) Commit() string { return "COMMIT;" }

// SyncIdentity returns the statement that moves an identity generator past
// explicitly inserted keys, or "" when the database tracks it itself.
func (d *Dialect) SyncIdentity(table, column string) string {
	if d.name != Postgres {
		return ""
	}
	return fmt.Sprintf("SELECT setval(pg_get_serial_sequence(%s, %s), (SELECT MAX(%s) FROM %s));",
		d.Literal(d.QuoteIdent(table)), d.Literal(column), d.QuoteIdent(column), d.QuoteIdent(table))
}

// InsertPrefix renders "INSERT INTO t (a, b) VALUES " for the columns.
func (d *Dialect) InsertPrefix(table string, columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.QuoteIdent(c)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES ", d.QuoteIdent(table), strings.Join(quoted, ", "))
}

// InsertStmt renders a parameterized insert for the columns.
func (d *Dialect) InsertStmt(table string, columns []string) string {
	marks := make([]string, len(columns))
	for i := range columns {
		marks[i] = d.Placeholder(i + 1)
	}
	return d.InsertPrefix(table, columns) + "(" + strings.Join(marks, ", ") + ")"
}

// Literal renders a value for inline use. Supported values are nil,
// string, int64, int, float64, bool and []byte.
func (d *Dialect) Literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return d.quoteString(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		if d.name == Postgres {
			if x {
				return "TRUE"
			}
			return "FALSE"
		}
		if x {
			return "1"
		}
		return "0"
	case []byte:
		if x == nil {
			return "NULL"
		}
		if d.name == Postgres {
			return `'\x` + hex.EncodeToString(x) + `'::bytea`
		}
		return "X'" + hex.EncodeToString(x) + "'"
	default:
		return d.quoteString(fmt.Sprint(x))
	}
}

func (d *Dialect) quoteString(s string) string {
	s = strings.ReplaceAll(s, "'", "''")
	if d.name == MySQL {
		s = strings.ReplaceAll(s, `\`, `\\`)
		s = strings.ReplaceAll(s, "\x00", `\0`)
	}
	return "'" + s + "'"
}
