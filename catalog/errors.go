package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedImage is wrapped by AssetError when bytes are not a known image format.
var ErrUnsupportedImage = errors.New("unsupported image format")

// FormatError reports input whose record structure cannot be trusted.
// It is fatal for the run.
type FormatError struct {
	Position int // record ordinal, 0 for the header
	Line     int
	Msg      string
}

func (e *FormatError) Error() string {
	if e.Position > 0 {
		return fmt.Sprintf("format error at record %d (line %d): %s", e.Position, e.Line, e.Msg)
	}
	return fmt.Sprintf("format error at line %d: %s", e.Line, e.Msg)
}

// SchemaError reports a schema that cannot be emitted unambiguously.
// It is fatal for the run.
type SchemaError struct {
	Fields []string
	Msg    string
}

func (e *SchemaError) Error() string {
	if len(e.Fields) == 0 {
		return "schema error: " + e.Msg
	}
	return fmt.Sprintf("schema error: %s (%s)", e.Msg, strings.Join(e.Fields, ", "))
}

// AssetError reports an image that could not be turned into an asset.
type AssetError struct {
	Ref string
	Err error
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("asset %s: %v", e.Ref, e.Err)
}

func (e *AssetError) Unwrap() error { return e.Err }

// IsFatal reports whether err must abort the run.
func IsFatal(err error) bool {
	var fe *FormatError
	var se *SchemaError
	return errors.As(err, &fe) || errors.As(err, &se)
}
