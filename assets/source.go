// Package assets locates, decodes, resizes and re-encodes cover images.
package assets

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"

	// decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/darianmavgo/rwmigrate/catalog"
)

// ErrNotFound means a record names an image that does not exist. Many
// catalog items have no cover, so this is not a warning.
var ErrNotFound = errors.New("image not found")

// ImageSource is the one capability every image origin offers. The set of
// implementations is closed: NativeImageSource and FileImageSource.
type ImageSource interface {
	Reference() string
	Decode() (image.Image, string, error)
	imageSource()
}

// NativeImageSource is a payload read straight from the native store.
type NativeImageSource struct {
	Ref  string
	Data []byte
}

func (s NativeImageSource) Reference() string { return s.Ref }

func (s NativeImageSource) Decode() (image.Image, string, error) {
	return decode(s.Ref, bytes.NewReader(s.Data))
}

func (NativeImageSource) imageSource() {}

// FileImageSource is an image file named by a key in the export.
type FileImageSource struct {
	Store Store
	Key   string
}

func (s FileImageSource) Reference() string { return s.Key }

func (s FileImageSource) Decode() (image.Image, string, error) {
	rc, name, err := s.Store.Open(s.Key)
	if err != nil {
		return nil, "", err
	}
	defer rc.Close()
	return decode(name, rc)
}

func (FileImageSource) imageSource() {}

func decode(ref string, r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", &catalog.AssetError{Ref: ref, Err: fmt.Errorf("%w: %v", catalog.ErrUnsupportedImage, err)}
	}
	return img, format, nil
}

// Resolver picks the image source for a record.
type Resolver struct {
	Store    Store  // nil when no image files were exported
	KeyField string // field whose value names the image file
}

// SourceFor returns the record's image source. A native payload wins over
// a file key.
func (r *Resolver) SourceFor(rec catalog.RawRecord) (ImageSource, bool) {
	if len(rec.Image) > 0 {
		return NativeImageSource{Ref: fmt.Sprintf("record %d", rec.Position), Data: rec.Image}, true
	}
	if r == nil || r.Store == nil || r.KeyField == "" {
		return nil, false
	}
	key, ok := rec.Get(r.KeyField)
	if !ok || key == "" {
		return nil, false
	}
	return FileImageSource{Store: r.Store, Key: key}, true
}
