package materialize

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/darianmavgo/rwmigrate/assets"
	"github.com/darianmavgo/rwmigrate/catalog"
	"github.com/darianmavgo/rwmigrate/schema"
)

func mustSchema(t *testing.T, profiles []catalog.FieldProfile, opts schema.Options) *schema.Schema {
	t.Helper()
	s, err := schema.Normalize(profiles, opts)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	return s
}

func TestBuildDune(t *testing.T) {
	fields := []string{"title", "authors", "year"}
	s := mustSchema(t, []catalog.FieldProfile{
		{Name: "title", Index: 0},
		{Name: "authors", Index: 1, Multivalued: true},
		{Name: "year", Index: 2, Type: catalog.TypeInteger},
	}, schema.Options{})
	m := New(s, nil, nil, Options{KeepRaw: true})

	it, warnings := m.Build(1, catalog.RawRecord{Position: 1, Fields: fields, Values: []string{"Dune", "Herbert;Anderson", "1965"}})
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings %v", warnings)
	}
	if len(it.Values) != 3 || it.Values[0] != int64(1) || it.Values[1] != "Dune" || it.Values[2] != int64(1965) {
		t.Errorf("unexpected primary row %#v", it.Values)
	}
	rows := it.Junctions[0]
	if len(rows) != 2 || rows[0] != (JunctionRow{0, "Herbert"}) || rows[1] != (JunctionRow{1, "Anderson"}) {
		t.Errorf("unexpected junction rows %#v", rows)
	}
	if it.JunctionCounts(s)["books_authors"] != 2 {
		t.Errorf("unexpected counts %v", it.JunctionCounts(s))
	}
}

func TestCoercion(t *testing.T) {
	fields := []string{"pages", "price", "signed", "bought", "notes"}
	s := mustSchema(t, []catalog.FieldProfile{
		{Name: "pages", Index: 0, Type: catalog.TypeInteger, Nullable: true},
		{Name: "price", Index: 1, Type: catalog.TypeReal},
		{Name: "signed", Index: 2, Type: catalog.TypeBoolean},
		{Name: "bought", Index: 3, Type: catalog.TypeDate},
		{Name: "notes", Index: 4, Type: catalog.TypeText, Nullable: true},
	}, schema.Options{})

	tests := []struct {
		name     string
		keepRaw  bool
		values   []string
		want     []any
		warnings int
	}{
		{
			name:   "clean",
			values: []string{"  412 ", "9.99", "Yes", "01/31/2004", ""},
			want:   []any{int64(7), int64(412), 9.99, true, "2004-01-31", nil},
		},
		{
			name:     "bad values keep raw",
			keepRaw:  true,
			values:   []string{"lots", "9.99", "maybe", "2004-01-31", "x"},
			want:     []any{int64(7), "lots", 9.99, "maybe", "2004-01-31", "x"},
			warnings: 2,
		},
		{
			name:     "bad values strict",
			values:   []string{"lots", "free", "no", "someday", "x"},
			want:     []any{int64(7), nil, nil, false, nil, "x"},
			warnings: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(s, nil, nil, Options{KeepRaw: tt.keepRaw})
			it, warnings := m.Build(7, catalog.RawRecord{Position: 3, Fields: fields, Values: tt.values})
			if len(warnings) != tt.warnings {
				t.Fatalf("expected %d warnings, got %v", tt.warnings, warnings)
			}
			for _, w := range warnings {
				if w.Kind != catalog.CoercionWarning || w.Position != 3 || w.ItemID != 7 {
					t.Errorf("unexpected warning %+v", w)
				}
			}
			for i, want := range tt.want {
				if it.Values[i] != want {
					t.Errorf("value %d = %#v, want %#v", i, it.Values[i], want)
				}
			}
		})
	}
}

func TestBuildWidenedColumn(t *testing.T) {
	fields := []string{"title", "pages"}
	s := mustSchema(t, []catalog.FieldProfile{
		{Name: "title", Index: 0},
		{Name: "pages", Index: 1, Nullable: true},
	}, schema.Options{})
	m := New(s, nil, nil, Options{Widened: map[string]catalog.ScalarType{"pages": catalog.TypeInteger}})

	tests := []struct {
		value    string
		want     any
		warnings int
	}{
		{"412", "412", 0},
		{"lots", "lots", 1},
		{"", nil, 0},
	}
	for _, tt := range tests {
		it, warnings := m.Build(1, catalog.RawRecord{Position: 1, Fields: fields, Values: []string{"Dune", tt.value}})
		if it.Values[2] != tt.want || len(warnings) != tt.warnings {
			t.Errorf("value %q: got %#v with %v", tt.value, it.Values[2], warnings)
		}
	}
}

func TestBuildHTMLHashAndProvenance(t *testing.T) {
	fields := []string{"title", "PRODUCT_INFO"}
	s := mustSchema(t, []catalog.FieldProfile{
		{Name: "title", Index: 0},
		{Name: "PRODUCT_INFO", Index: 1, Nullable: true},
	}, schema.Options{ContentHash: true, Provenance: true})
	m := New(s, nil, nil, Options{HTMLFields: []string{"product_info"}, Provenance: "Readerware 3"})

	rec := catalog.RawRecord{Position: 1, Fields: fields, Values: []string{"Dune", "<p>A desert <i>planet</i>.</p>"}}
	it, _ := m.Build(1, rec)
	if it.Values[2] != "A desert planet." {
		t.Errorf("html not cleaned: %#v", it.Values[2])
	}
	hash, ok := it.Values[3].(string)
	if !ok || len(hash) != 16 || hash != catalog.ContentHash(rec.Values) {
		t.Errorf("unexpected hash %#v", it.Values[3])
	}
	if it.Values[4] != "Readerware 3" {
		t.Errorf("unexpected provenance %#v", it.Values[4])
	}
	rec.Provenance = "wishlist"
	if it, _ := m.Build(2, rec); it.Values[4] != "wishlist" {
		t.Errorf("record provenance must win, got %#v", it.Values[4])
	}
}

func TestBuildAssets(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}

	fields := []string{"title", "authors"}
	s := mustSchema(t, []catalog.FieldProfile{
		{Name: "title", Index: 0},
		{Name: "authors", Index: 1, Multivalued: true},
	}, schema.Options{AssetMode: schema.AssetEmbed})
	proc, err := assets.NewProcessor(assets.Options{Format: assets.FormatPNG})
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}
	m := New(s, &assets.Resolver{}, proc, Options{})

	good, warnings := m.Build(1, catalog.RawRecord{Position: 1, Fields: fields, Values: []string{"Dune", "Herbert"}, Image: buf.Bytes()})
	if len(warnings) != 0 || good.Asset == nil {
		t.Fatalf("expected asset, warnings %v", warnings)
	}
	if data, ok := good.Values[2].([]byte); !ok || len(data) == 0 {
		t.Errorf("expected embedded bytes, got %#v", good.Values[2])
	}

	bad, warnings := m.Build(2, catalog.RawRecord{Position: 2, Fields: fields, Values: []string{"Ubik", "Dick;Zelazny"}, Image: []byte("garbage")})
	if len(warnings) != 1 || warnings[0].Kind != catalog.AssetWarning || warnings[0].ItemID != 2 {
		t.Fatalf("expected one asset warning, got %v", warnings)
	}
	if bad.Values[2] != nil || bad.Asset != nil {
		t.Errorf("expected null asset, got %#v", bad.Values[2])
	}
	if bad.Values[1] != "Ubik" || len(bad.Junctions[0]) != 2 {
		t.Errorf("item data must survive a bad image: %#v %#v", bad.Values, bad.Junctions)
	}

	none, warnings := m.Build(3, catalog.RawRecord{Position: 3, Fields: fields, Values: []string{"Emma", ""}})
	if len(warnings) != 0 || none.Values[2] != nil || len(none.Junctions[0]) != 0 {
		t.Errorf("unexpected result for record without image: %#v %v", none.Values, warnings)
	}
}
