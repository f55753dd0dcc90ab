package schema

import (
	"errors"
	"strings"
	"testing"

	"github.com/darianmavgo/rwmigrate/catalog"
	"github.com/darianmavgo/rwmigrate/dialect"
)

func TestCompliantName(t *testing.T) {
	tests := []struct {
		raw  string
		idx  int
		want string
	}{
		{"Title", 0, "title"},
		{"  Release Date ", 1, "release_date"},
		{"Price ($)", 2, "price"},
		{"%%%", 3, "cl3"},
		{"2nd Author", 4, "cl42nd_author"},
		{"AUTHOR_2", 5, "author_2"},
	}
	for _, tt := range tests {
		if got := ColumnName(tt.raw, tt.idx); got != tt.want {
			t.Errorf("ColumnName(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func duneProfiles() []catalog.FieldProfile {
	return []catalog.FieldProfile{
		{Name: "title", Index: 0, Type: catalog.TypeText},
		{Name: "authors", Index: 1, Multivalued: true},
		{Name: "year", Index: 2, Type: catalog.TypeInteger},
	}
}

func TestNormalize(t *testing.T) {
	s, err := Normalize(duneProfiles(), Options{})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if s.Table != "books" || s.Identity != "id" {
		t.Errorf("unexpected names %q/%q", s.Table, s.Identity)
	}
	if len(s.Columns) != 2 || s.Columns[0].Name != "title" || s.Columns[1].Name != "year" || s.Columns[1].Field != 2 {
		t.Errorf("unexpected columns %+v", s.Columns)
	}
	if len(s.Junctions) != 1 || s.Junctions[0].Table != "books_authors" || s.Junctions[0].Field != 1 {
		t.Errorf("unexpected junctions %+v", s.Junctions)
	}
	if got := strings.Join(s.PrimaryColumns(), ","); got != "id,title,year" {
		t.Errorf("PrimaryColumns = %s", got)
	}
}

func TestNormalizeCollisions(t *testing.T) {
	tests := []struct {
		name     string
		profiles []catalog.FieldProfile
		opts     Options
	}{
		{"case", []catalog.FieldProfile{{Name: "Author"}, {Name: "author", Index: 1}}, Options{}},
		{"punctuation", []catalog.FieldProfile{{Name: "Pub Date"}, {Name: "pub_date", Index: 1}}, Options{}},
		{"identity", []catalog.FieldProfile{{Name: "ID"}}, Options{}},
		{"asset", []catalog.FieldProfile{{Name: "Cover"}}, Options{AssetMode: AssetEmbed}},
		{"hash", []catalog.FieldProfile{{Name: "Content Hash"}}, Options{ContentHash: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.profiles, tt.opts)
			var se *catalog.SchemaError
			if !errors.As(err, &se) {
				t.Fatalf("expected SchemaError, got %v", err)
			}
			if len(se.Fields) != 2 {
				t.Errorf("expected both names reported, got %v", se.Fields)
			}
		})
	}
}

func TestStatements(t *testing.T) {
	s, err := Normalize(duneProfiles(), Options{AssetMode: AssetEmbed, ContentHash: true})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	d, _ := dialect.Lookup(dialect.SQLite)
	stmts := s.Statements(d)
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(stmts))
	}
	primary := stmts[0]
	for _, want := range []string{
		`CREATE TABLE "books"`,
		`"id" INTEGER PRIMARY KEY AUTOINCREMENT`,
		`"title" TEXT NOT NULL`,
		`"year" INTEGER NOT NULL`,
		`"cover" BLOB`,
		`"content_hash" TEXT`,
	} {
		if !strings.Contains(primary, want) {
			t.Errorf("primary DDL missing %q:\n%s", want, primary)
		}
	}
	if strings.Index(primary, `"title"`) > strings.Index(primary, `"year"`) {
		t.Error("columns must follow source order")
	}
	junction := stmts[1]
	for _, want := range []string{
		`CREATE TABLE "books_authors"`,
		`PRIMARY KEY ("item_id", "seq")`,
		`FOREIGN KEY ("item_id") REFERENCES "books" ("id")`,
	} {
		if !strings.Contains(junction, want) {
			t.Errorf("junction DDL missing %q:\n%s", want, junction)
		}
	}

	pg, _ := dialect.Lookup(dialect.Postgres)
	if !strings.Contains(s.Statements(pg)[0], `"cover" BYTEA`) {
		t.Error("postgres DDL should use BYTEA")
	}
}

func TestExternalAssetColumn(t *testing.T) {
	s, err := Normalize(duneProfiles(), Options{AssetMode: AssetExternal})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if s.AssetColumn != "cover_ref" {
		t.Errorf("expected cover_ref, got %q", s.AssetColumn)
	}
	if _, err := Normalize(duneProfiles(), Options{AssetMode: "sideways"}); err == nil {
		t.Error("expected error for unknown asset mode")
	}
}
