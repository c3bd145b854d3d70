package formats

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// IsCompressed reports whether data starts with a gzip or zstd signature.
func IsCompressed(data []byte) bool {
	return bytes.HasPrefix(data, gzipMagic) || bytes.HasPrefix(data, zstdMagic)
}

// Decompress inflates gzip and zstd streams and returns anything else
// unchanged. A gzip stream cut short returns the bytes decoded so far, so
// partially downloaded files still load.
func Decompress(data []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(data, gzipMagic):
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: gzip: %v", ErrTruncated, err)
		}
		defer zr.Close()
		return readPartial(zr)
	case bytes.HasPrefix(data, zstdMagic):
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrTruncated, err)
		}
		return out, nil
	}
	return data, nil
}

// inflate decodes the payload of a text format that marks its data as
// compressed. MetaImage writes zlib streams; NRRD writes gzip.
func inflate(data []byte) ([]byte, error) {
	if IsCompressed(data) {
		return Decompress(data)
	}
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: zlib: %v", ErrMalformedHeader, err)
	}
	defer zr.Close()
	return readPartial(zr)
}

func readPartial(r io.Reader) ([]byte, error) {
	out, err := io.ReadAll(r)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return out, nil
}
