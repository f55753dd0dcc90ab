package infer

import (
	"fmt"
	"strings"
	"testing"

	"github.com/darianmavgo/rwmigrate/catalog"
)

func records(fields []string, rows ...[]string) []catalog.RawRecord {
	out := make([]catalog.RawRecord, len(rows))
	for i, r := range rows {
		out[i] = catalog.RawRecord{Position: i + 1, Fields: fields, Values: r}
	}
	return out
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   catalog.ScalarType
	}{
		{"integers", []string{"1", "2", "42"}, catalog.TypeInteger},
		{"mixed numbers", []string{"1", "2.5"}, catalog.TypeReal},
		{"number and word", []string{"1", "two"}, catalog.TypeText},
		{"negative and exponent", []string{"-3", "1e3", ".5"}, catalog.TypeReal},
		{"booleans", []string{"Yes", "no", "TRUE"}, catalog.TypeBoolean},
		{"dates", []string{"1965-08-01", "01/02/1999", "2001/12/31"}, catalog.TypeDate},
		{"not nan", []string{"NaN", "Inf"}, catalog.TypeText},
		{"zero padded isbn", []string{"0441013597", "1234"}, catalog.TypeText},
		{"zero padded code", []string{"007"}, catalog.TypeText},
		{"lone zero", []string{"0", "12"}, catalog.TypeInteger},
		{"zero point", []string{"0.5", "-0.25"}, catalog.TypeReal},
		{"empty", nil, catalog.TypeText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.values); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.values, got, tt.want)
			}
		})
	}
}

func TestProfile(t *testing.T) {
	fields := []string{"title", "authors", "year", "notes", "pages", "MY_COMMENTS"}
	recs := records(fields,
		[]string{"Dune", "Herbert;Anderson", "1965", "", "412", "good; long"},
		[]string{"Emma", "Austen", "1815", "", "", "classic"},
		[]string{"Ubik", "Dick", "1969", "", "202", ""},
	)
	profiles := Profile(fields, recs, Options{Scalar: []string{"my_comments"}})

	want := []catalog.FieldProfile{
		{Name: "title", Index: 0, Type: catalog.TypeText},
		{Name: "authors", Index: 1, Multivalued: true},
		{Name: "year", Index: 2, Type: catalog.TypeInteger},
		{Name: "notes", Index: 3, Type: catalog.TypeText, Nullable: true},
		{Name: "pages", Index: 4, Type: catalog.TypeInteger, Nullable: true},
		{Name: "MY_COMMENTS", Index: 5, Type: catalog.TypeText, Nullable: true},
	}
	for i, w := range want {
		got := profiles[i]
		if got.Name != w.Name || got.Index != w.Index || got.Type != w.Type || got.Multivalued != w.Multivalued || got.Nullable != w.Nullable {
			t.Errorf("profile %d = %+v, want %+v", i, got, w)
		}
	}
}

func TestMultivaluedNeverNumeric(t *testing.T) {
	fields := []string{"ratings"}
	profiles := Profile(fields, records(fields, []string{"1;2"}, []string{"3"}), Options{})
	if !profiles[0].Multivalued || profiles[0].Type != catalog.TypeText {
		t.Errorf("expected multivalued text, got %+v", profiles[0])
	}
}

func TestQuotedSeparatorIsNotAList(t *testing.T) {
	fields := []string{"title"}
	profiles := Profile(fields, records(fields, []string{`"Love; Death"`}), Options{})
	if profiles[0].Multivalued {
		t.Error("separator inside quotes must not make a list")
	}
}

func TestSampleSizeIsDeterministic(t *testing.T) {
	fields := []string{"n"}
	var rows [][]string
	for i := 0; i < 500; i++ {
		rows = append(rows, []string{fmt.Sprint(i + 1)})
	}
	rows = append(rows, []string{""})
	a := Profile(fields, records(fields, rows...), Options{SampleSize: 50, Seed: 7})
	b := Profile(fields, records(fields, rows...), Options{SampleSize: 50, Seed: 7})
	if a[0] != b[0] {
		t.Errorf("profiles differ: %+v vs %+v", a[0], b[0])
	}
	if a[0].Samples != 50 || !a[0].Nullable || a[0].Type != catalog.TypeInteger {
		t.Errorf("unexpected sampled profile %+v", a[0])
	}
}

func TestObserveAfterFreezePanics(t *testing.T) {
	in := New([]string{"a"}, Options{})
	in.Freeze()
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	in.Observe(catalog.RawRecord{Values: []string{"x"}})
}

func TestSplitRoundTrip(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Herbert;Anderson", []string{"Herbert", "Anderson"}},
		{" a ; ;b;; c ", []string{"a", "b", "c"}},
		{`"Smith; John";Doe`, []string{"Smith; John", "Doe"}},
		{"", nil},
	}
	for _, tt := range tests {
		got := Split(tt.in)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("Split(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if len(got) > 0 && !strings.Contains(tt.in, `"`) {
			again := Split(strings.Join(got, string(ListSeparator)))
			if strings.Join(again, "|") != strings.Join(got, "|") {
				t.Errorf("rejoin of %q did not round-trip: %q", got, again)
			}
		}
	}
}

func TestScalarFieldsMatchAnySpelling(t *testing.T) {
	fields := []string{"Title", "Product Info"}
	recs := []catalog.RawRecord{
		{Position: 1, Fields: fields, Values: []string{"Dune", "Spice &amp; sand; a classic."}},
	}
	profiles := Profile(fields, recs, Options{Scalar: []string{"PRODUCT_INFO"}})
	if profiles[1].Multivalued {
		t.Errorf("Product Info must stay scalar: %+v", profiles[1])
	}
	if p := Profile(fields, recs, Options{})[1]; !p.Multivalued {
		t.Errorf("without an override the separator makes a list: %+v", p)
	}
}
