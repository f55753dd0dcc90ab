package assets

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"golang.org/x/image/draw"

	"github.com/darianmavgo/rwmigrate/catalog"
	"github.com/darianmavgo/rwmigrate/logging"
)

// Output formats.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
)

// External file naming.
const (
	NameByID   = "id"
	NameByHash = "hash"
)

// Options configures a Processor.
type Options struct {
	MaxDimension int    // longest edge after resizing, 0 keeps the original size
	Format       string // FormatJPEG or FormatPNG
	Quality      int    // JPEG quality, 1-100
	External     bool   // write files instead of returning bytes for embedding
	OutputDir    string // directory for external files
	Naming       string // NameByID or NameByHash
	Logger       *slog.Logger
}

// Asset is a processed image.
type Asset struct {
	Source string // reference the image came from
	Data   []byte // encoded bytes
	Format string
	Width  int
	Height int
	Hash   string // sha256 of Data, hex
	Ref    string // external file name, empty when embedded
}

// Processor turns image sources into assets. It is safe for concurrent use.
type Processor struct {
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	written []string
}

// NewProcessor validates opts and prepares the output directory.
func NewProcessor(opts Options) (*Processor, error) {
	if opts.Format == "" {
		opts.Format = FormatJPEG
	}
	if opts.Format != FormatJPEG && opts.Format != FormatPNG {
		return nil, fmt.Errorf("unsupported output format %q", opts.Format)
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = 85
	}
	if opts.MaxDimension < 0 {
		return nil, fmt.Errorf("max dimension must not be negative")
	}
	if opts.Naming == "" {
		opts.Naming = NameByID
	}
	if opts.Naming != NameByID && opts.Naming != NameByHash {
		return nil, fmt.Errorf("unsupported naming %q", opts.Naming)
	}
	if opts.External {
		if opts.OutputDir == "" {
			return nil, fmt.Errorf("external assets need an output directory")
		}
		if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create image output directory: %w", err)
		}
	}
	return &Processor{opts: opts, log: logging.Component(opts.Logger, "assets")}, nil
}

// Process decodes, resizes and encodes the image for the item with the
// given identity. Decode failures are *catalog.AssetError; a missing file
// is ErrNotFound.
func (p *Processor) Process(id int64, src ImageSource) (*Asset, error) {
	img, format, err := src.Decode()
	if err != nil {
		return nil, err
	}
	p.log.Debug("decoded image", "ref", src.Reference(), "format", format, "bounds", img.Bounds().String())

	img = p.resize(img)

	var buf bytes.Buffer
	switch p.opts.Format {
	case FormatPNG:
		err = png.Encode(&buf, img)
	default:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.opts.Quality})
	}
	if err != nil {
		return nil, &catalog.AssetError{Ref: src.Reference(), Err: fmt.Errorf("encode: %w", err)}
	}

	sum := sha256.Sum256(buf.Bytes())
	a := &Asset{
		Source: src.Reference(),
		Data:   buf.Bytes(),
		Format: p.opts.Format,
		Width:  img.Bounds().Dx(),
		Height: img.Bounds().Dy(),
		Hash:   hex.EncodeToString(sum[:]),
	}
	if p.opts.External {
		if err := p.writeFile(id, a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// resize scales img down so its longest edge is MaxDimension and flattens
// it onto an opaque white canvas for JPEG output.
func (p *Processor) resize(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	nw, nh := FitWithin(w, h, p.opts.MaxDimension)

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	op := draw.Src
	if p.opts.Format == FormatJPEG {
		draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
		op = draw.Over
	}
	if nw == w && nh == h {
		draw.Draw(dst, dst.Bounds(), img, b.Min, op)
		return dst
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, op, nil)
	return dst
}

// FitWithin returns the size of a w x h image scaled so neither edge
// exceeds limit, keeping the aspect ratio. It never enlarges.
func FitWithin(w, h, limit int) (int, int) {
	if limit <= 0 || (w <= limit && h <= limit) {
		return w, h
	}
	if w >= h {
		return limit, max(1, (h*limit+w/2)/w)
	}
	return max(1, (w*limit+h/2)/h), limit
}

func (p *Processor) extension() string {
	if p.opts.Format == FormatPNG {
		return ".png"
	}
	return ".jpg"
}

// writeFile stores the asset under OutputDir through a temp file and
// rename, so readers never see a partial image.
func (p *Processor) writeFile(id int64, a *Asset) error {
	name := strconv.FormatInt(id, 10) + p.extension()
	if p.opts.Naming == NameByHash {
		name = a.Hash + p.extension()
	}
	final := filepath.Join(p.opts.OutputDir, name)

	tmp, err := os.CreateTemp(p.opts.OutputDir, ".cover-*")
	if err != nil {
		return fmt.Errorf("failed to create temp image file: %w", err)
	}
	_, werr := tmp.Write(a.Data)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write image %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move image into place: %w", err)
	}

	p.mu.Lock()
	p.written = append(p.written, final)
	p.mu.Unlock()
	a.Ref = name
	return nil
}

// Cleanup removes every external file written so far. Used when a run
// fails after emission started.
func (p *Processor) Cleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range p.written {
		os.Remove(f)
	}
	p.written = nil
}
