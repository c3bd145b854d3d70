package formats

import (
	"errors"
	"fmt"

	"neurovol/pkg/voxels"
)

// Sentinel errors. Parse wraps them in a *ParseError.
var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrUnsupportedDatatype is shared with the voxels package so either
	// name matches with errors.Is.
	ErrUnsupportedDatatype = voxels.ErrUnsupportedDatatype
	ErrMalformedHeader     = errors.New("malformed header")
	ErrTruncated           = errors.New("truncated input")
	ErrMissingPair         = errors.New("paired data file required")
	ErrCompressedPixels    = errors.New("compressed pixel data not supported")
)

// ParseError reports a failure of one format parser.
type ParseError struct {
	Format Format
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Format, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedHeader, fmt.Sprintf(format, args...))
}

func unsupportedType(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedDatatype, fmt.Sprintf(format, args...))
}
