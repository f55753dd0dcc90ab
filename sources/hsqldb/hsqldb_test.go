package hsqldb

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/darianmavgo/rwmigrate/catalog"
	"github.com/darianmavgo/rwmigrate/sources"
)

const sampleScript = `SET DATABASE DEFAULT INITIAL SCHEMA PUBLIC
CREATE CACHED TABLE PUBLIC.READERWARE(ROWKEY INTEGER NOT NULL PRIMARY KEY,TITLE VARCHAR(255) NOT NULL,AUTHOR INTEGER,AUTHOR2 INTEGER,PUBLISHER INTEGER,PRICE DECIMAL(10,2) DEFAULT 0,PRODUCT_INFO VARCHAR(16000),IMAGE1_DATA VARBINARY(1000000),IMAGE2_DATA VARBINARY(1000000),CONSTRAINT PK_RW PRIMARY KEY(ROWKEY))
INSERT INTO READERWARE VALUES(1,'Dune',10,11,5,9.99,'Book Description\u000aA desert planet, ''Arrakis''.',X'0102',X'010203')
INSERT INTO READERWARE VALUES(2,'Café Stories',12,-1,-1,0,NULL,NULL,NULL)
CREATE MEMORY TABLE PUBLIC.CONTRIBUTOR(ROWKEY INTEGER NOT NULL PRIMARY KEY,NAME VARCHAR(255))
CREATE MEMORY TABLE PUBLIC.PUBLISHER_LIST(ROWKEY INTEGER NOT NULL PRIMARY KEY,LISTITEM VARCHAR(255))
INSERT INTO CONTRIBUTOR VALUES(10,'Frank Herbert')
INSERT INTO CONTRIBUTOR VALUES(11,'Brian Herbert')
INSERT INTO PUBLISHER_LIST VALUES(5,'Chilton, Inc.')
INSERT INTO SYSTEM_LOBS.BLOCKS VALUES(0,2147483647,0)
`

func readScript(t *testing.T, script string, opts *sources.Options) ([]catalog.RawRecord, []string) {
	t.Helper()
	e, err := NewExtractor(strings.NewReader(script), opts)
	if err != nil {
		t.Fatalf("NewExtractor failed: %v", err)
	}
	var recs []catalog.RawRecord
	if err := e.Scan(context.Background(), func(r catalog.RawRecord) error {
		recs = append(recs, r)
		return nil
	}); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	return recs, e.Fields()
}

func TestExtractorResolvesAndMerges(t *testing.T) {
	opts := &sources.Options{
		Lookups: map[string]string{"AUTHOR": "CONTRIBUTOR", "AUTHOR2": "CONTRIBUTOR", "PUBLISHER": "PUBLISHER_LIST"},
		Merge:   map[string][]string{"AUTHORS": {"AUTHOR", "AUTHOR2"}},
	}
	recs, fields := readScript(t, sampleScript, opts)

	wantFields := []string{"ROWKEY", "TITLE", "AUTHORS", "PUBLISHER", "PRICE", "PRODUCT_INFO"}
	if strings.Join(fields, ",") != strings.Join(wantFields, ",") {
		t.Fatalf("fields = %v, want %v", fields, wantFields)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}

	first := recs[0]
	if v, _ := first.Get("AUTHORS"); v != "Frank Herbert;Brian Herbert" {
		t.Errorf("AUTHORS = %q", v)
	}
	if v, _ := first.Get("PUBLISHER"); v != "Chilton, Inc." {
		t.Errorf("PUBLISHER = %q", v)
	}
	if v, _ := first.Get("PRODUCT_INFO"); v != "Book Description\nA desert planet, 'Arrakis'." {
		t.Errorf("PRODUCT_INFO = %q", v)
	}
	if !bytes.Equal(first.Image, []byte{1, 2, 3}) {
		t.Errorf("expected largest image blob, got %v", first.Image)
	}
	if first.Position != 1 || first.Line != 3 {
		t.Errorf("unexpected position/line %d/%d", first.Position, first.Line)
	}

	second := recs[1]
	if v, _ := second.Get("TITLE"); v != "Café Stories" {
		t.Errorf("TITLE = %q", v)
	}
	if v, _ := second.Get("AUTHORS"); v != "" {
		t.Errorf("expected -1 author to be dropped, got %q", v)
	}
	if v, _ := second.Get("PUBLISHER"); v != "" {
		t.Errorf("expected unset publisher, got %q", v)
	}
	if second.Image != nil {
		t.Errorf("expected no image, got %d bytes", len(second.Image))
	}
}

func TestExtractorImageColumnFilter(t *testing.T) {
	recs, _ := readScript(t, sampleScript, &sources.Options{ImageColumns: []string{"image1_data"}})
	if !bytes.Equal(recs[0].Image, []byte{1, 2}) {
		t.Errorf("expected IMAGE1_DATA only, got %v", recs[0].Image)
	}
}

func TestExtractorErrors(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{"missing table", "CREATE CACHED TABLE OTHER(A INTEGER)\n"},
		{"value count", "CREATE CACHED TABLE READERWARE(A INTEGER,B VARCHAR(10))\nINSERT INTO READERWARE VALUES(1)\n"},
		{"unterminated", "CREATE CACHED TABLE READERWARE(A INTEGER,B VARCHAR(10))\nINSERT INTO READERWARE VALUES(1,'oops)\n"},
		{"bad hex", "CREATE CACHED TABLE READERWARE(A INTEGER,B VARBINARY(10))\nINSERT INTO READERWARE VALUES(1,X'zz')\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewExtractor(strings.NewReader(tt.script), nil)
			var fe *catalog.FormatError
			if !errors.As(err, &fe) {
				t.Fatalf("expected FormatError, got %v", err)
			}
		})
	}
}

func TestParseValues(t *testing.T) {
	vals, err := parseValues(`1, 'a,b' ,NULL,TRUE,false,'it''s',X'ff'`)
	if err != nil {
		t.Fatalf("parseValues failed: %v", err)
	}
	if len(vals) != 7 {
		t.Fatalf("expected 7 values, got %d", len(vals))
	}
	if vals[1].Text != "a,b" || !vals[2].Null || vals[3].Text != "true" || vals[4].Text != "false" || vals[5].Text != "it's" {
		t.Errorf("unexpected values %+v", vals)
	}
	if len(vals[6].Blob) != 1 || vals[6].Blob[0] != 0xff {
		t.Errorf("unexpected blob %v", vals[6].Blob)
	}
}

func TestScanIsNotRestartable(t *testing.T) {
	e, err := NewExtractor(strings.NewReader(sampleScript), nil)
	if err != nil {
		t.Fatalf("NewExtractor failed: %v", err)
	}
	noop := func(catalog.RawRecord) error { return nil }
	if err := e.Scan(context.Background(), noop); err != nil {
		t.Fatalf("first scan failed: %v", err)
	}
	if err := e.Scan(context.Background(), noop); !errors.Is(err, catalog.ErrSourceConsumed) {
		t.Errorf("expected ErrSourceConsumed, got %v", err)
	}
}
