package assets

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Extensions are tried in order after the bare key when resolving a file.
var Extensions = []string{"", ".jpg", ".jpeg", ".JPG", ".JPEG", ".gif", ".GIF", ".png", ".PNG"}

// Store resolves image keys to readable files. Implementations must be
// safe for concurrent use.
type Store interface {
	Open(key string) (io.ReadCloser, string, error)
}

func validKey(key string) bool {
	return key != "" && !strings.Contains(key, "..") && !filepath.IsAbs(key)
}

// DirStore looks keys up in a directory.
type DirStore struct {
	Dir string
}

// Ensure DirStore implements Store
var _ Store = (*DirStore)(nil)

func (s *DirStore) Open(key string) (io.ReadCloser, string, error) {
	if !validKey(key) {
		return nil, "", fmt.Errorf("%w: invalid key %q", ErrNotFound, key)
	}
	for _, ext := range Extensions {
		p := filepath.Join(s.Dir, key+ext)
		f, err := os.Open(p)
		if err != nil {
			continue
		}
		if info, err := f.Stat(); err != nil || info.IsDir() {
			f.Close()
			continue
		}
		return f, p, nil
	}
	return nil, "", fmt.Errorf("%w: %s", ErrNotFound, key)
}

// ZipStore looks keys up in a zip archive of the images directory. Entries
// are matched by base name, so the archive's folder layout does not matter.
type ZipStore struct {
	file    *os.File
	entries map[string]*zip.File
}

// Ensure ZipStore implements Store and io.Closer
var _ Store = (*ZipStore)(nil)
var _ io.Closer = (*ZipStore)(nil)

// OpenZipStore opens the archive at p and indexes its entries.
func OpenZipStore(p string) (*ZipStore, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("failed to open image archive: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat image archive: %w", err)
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read image archive: %w", err)
	}

	s := &ZipStore{file: f, entries: make(map[string]*zip.File, len(zr.File))}
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		base := path.Base(zf.Name)
		if _, dup := s.entries[base]; !dup {
			s.entries[base] = zf
		}
	}
	return s, nil
}

func (s *ZipStore) Open(key string) (io.ReadCloser, string, error) {
	if !validKey(key) {
		return nil, "", fmt.Errorf("%w: invalid key %q", ErrNotFound, key)
	}
	base := path.Base(filepath.ToSlash(key))
	for _, ext := range Extensions {
		zf, ok := s.entries[base+ext]
		if !ok {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return nil, "", fmt.Errorf("failed to open %s in archive: %w", zf.Name, err)
		}
		return rc, zf.Name, nil
	}
	return nil, "", fmt.Errorf("%w: %s", ErrNotFound, key)
}

// Len returns the number of indexed entries.
func (s *ZipStore) Len() int { return len(s.entries) }

// Close releases the archive.
func (s *ZipStore) Close() error {
	return s.file.Close()
}
