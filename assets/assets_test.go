package assets

import (
	"archive/zip"
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/darianmavgo/rwmigrate/catalog"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func TestFitWithin(t *testing.T) {
	tests := []struct {
		w, h, limit  int
		wantW, wantH int
	}{
		{1000, 500, 512, 512, 256},
		{500, 1000, 512, 256, 512},
		{300, 200, 512, 300, 200},
		{2000, 1, 100, 100, 1},
		{800, 600, 0, 800, 600},
	}
	for _, tt := range tests {
		w, h := FitWithin(tt.w, tt.h, tt.limit)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("FitWithin(%d,%d,%d) = %dx%d, want %dx%d", tt.w, tt.h, tt.limit, w, h, tt.wantW, tt.wantH)
		}
	}
}

func TestProcessNativeResizes(t *testing.T) {
	p, err := NewProcessor(Options{MaxDimension: 64})
	if err != nil {
		t.Fatalf("NewProcessor failed: %v", err)
	}
	a, err := p.Process(1, NativeImageSource{Ref: "record 1", Data: pngBytes(t, 200, 100)})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if a.Width != 64 || a.Height != 32 || a.Format != FormatJPEG {
		t.Errorf("unexpected asset %dx%d %s", a.Width, a.Height, a.Format)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(a.Data))
	if err != nil {
		t.Fatalf("output is not a jpeg: %v", err)
	}
	if cfg.Width != 64 || cfg.Height != 32 {
		t.Errorf("encoded size %dx%d", cfg.Width, cfg.Height)
	}
	if len(a.Hash) != 64 || a.Ref != "" {
		t.Errorf("unexpected hash/ref %q/%q", a.Hash, a.Ref)
	}

	again, err := p.Process(1, NativeImageSource{Ref: "record 1", Data: pngBytes(t, 200, 100)})
	if err != nil {
		t.Fatalf("second Process failed: %v", err)
	}
	if !bytes.Equal(a.Data, again.Data) {
		t.Error("processing is not deterministic")
	}
}

func TestProcessUndecodable(t *testing.T) {
	p, _ := NewProcessor(Options{})
	_, err := p.Process(1, NativeImageSource{Ref: "record 1", Data: []byte("not an image")})
	var ae *catalog.AssetError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AssetError, got %v", err)
	}
	if !errors.Is(err, catalog.ErrUnsupportedImage) {
		t.Errorf("expected ErrUnsupportedImage in chain, got %v", err)
	}
}

func TestDirStoreExtensions(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "42.JPG"), pngBytes(t, 4, 4), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	store := &DirStore{Dir: dir}

	rc, name, err := store.Open("42")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	rc.Close()
	if filepath.Base(name) != "42.JPG" {
		t.Errorf("resolved %s", name)
	}

	for _, key := range []string{"43", "../42", ""} {
		if _, _, err := store.Open(key); !errors.Is(err, ErrNotFound) {
			t.Errorf("Open(%q): expected ErrNotFound, got %v", key, err)
		}
	}

	p, _ := NewProcessor(Options{Format: FormatPNG})
	a, err := p.Process(7, FileImageSource{Store: store, Key: "42"})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if a.Width != 4 || a.Source != "42" {
		t.Errorf("unexpected asset %+v", a)
	}
	if _, err := p.Process(8, FileImageSource{Store: store, Key: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestZipStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "images.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("export/images/17.gif")
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	w.Write([]byte("GIF89a"))
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	f.Close()

	store, err := OpenZipStore(path)
	if err != nil {
		t.Fatalf("OpenZipStore failed: %v", err)
	}
	defer store.Close()

	rc, name, err := store.Open("17")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if name != "export/images/17.gif" || string(data) != "GIF89a" {
		t.Errorf("unexpected entry %s %q", name, data)
	}
	if _, _, err := store.Open("18"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestExternalOutput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "covers")
	tests := []struct {
		naming string
		check  func(a *Asset) string
	}{
		{NameByID, func(a *Asset) string { return "5.jpg" }},
		{NameByHash, func(a *Asset) string { return a.Hash + ".jpg" }},
	}
	for _, tt := range tests {
		t.Run(tt.naming, func(t *testing.T) {
			p, err := NewProcessor(Options{External: true, OutputDir: dir, Naming: tt.naming})
			if err != nil {
				t.Fatalf("NewProcessor failed: %v", err)
			}
			a, err := p.Process(5, NativeImageSource{Ref: "r", Data: pngBytes(t, 10, 10)})
			if err != nil {
				t.Fatalf("Process failed: %v", err)
			}
			want := tt.check(a)
			if a.Ref != want {
				t.Errorf("ref = %q, want %q", a.Ref, want)
			}
			got, err := os.ReadFile(filepath.Join(dir, want))
			if err != nil || !bytes.Equal(got, a.Data) {
				t.Fatalf("external file mismatch: %v", err)
			}
			p.Cleanup()
			if _, err := os.Stat(filepath.Join(dir, want)); !os.IsNotExist(err) {
				t.Errorf("Cleanup left %s behind", want)
			}
		})
	}
}

func TestResolver(t *testing.T) {
	fields := []string{"ROWKEY", "TITLE"}
	r := &Resolver{Store: &DirStore{Dir: t.TempDir()}, KeyField: "ROWKEY"}

	src, ok := r.SourceFor(catalog.RawRecord{Position: 1, Fields: fields, Values: []string{"9", "x"}, Image: []byte{1}})
	if _, native := src.(NativeImageSource); !ok || !native {
		t.Errorf("expected native source, got %T", src)
	}
	src, ok = r.SourceFor(catalog.RawRecord{Position: 2, Fields: fields, Values: []string{"9", "x"}})
	if fs, file := src.(FileImageSource); !ok || !file || fs.Key != "9" {
		t.Errorf("expected file source, got %#v", src)
	}
	if _, ok := r.SourceFor(catalog.RawRecord{Fields: fields, Values: []string{"", "x"}}); ok {
		t.Error("empty key should have no source")
	}
	var none *Resolver
	if _, ok := none.SourceFor(catalog.RawRecord{Fields: fields, Values: []string{"9", "x"}}); ok {
		t.Error("nil resolver should have no source")
	}
}

func TestNewProcessorValidation(t *testing.T) {
	for _, opts := range []Options{
		{Format: "gif"},
		{Naming: "random"},
		{External: true},
		{MaxDimension: -1},
	} {
		if _, err := NewProcessor(opts); err == nil {
			t.Errorf("expected error for %+v", opts)
		}
	}
}
