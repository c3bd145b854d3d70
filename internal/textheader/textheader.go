// Package textheader holds the tokenizers shared by the text-header formats
// (NRRD, MetaImage, MRtrix, AFNI) and Latin-1 decoding of fixed string fields.
package textheader

import (
	"bytes"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// Lines splits text on newlines, dropping carriage returns.
func Lines(b []byte) []string {
	lines := strings.Split(string(b), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, "\r")
	}
	return lines
}

// KeyValue splits a "key<sep>value" line. Both parts are trimmed.
func KeyValue(line, sep string) (string, string, bool) {
	key, value, ok := strings.Cut(line, sep)
	if !ok {
		return "", "", false
	}
	return strings.TrimSpace(key), strings.TrimSpace(value), true
}

func fields(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case ' ', '\t', ',', '(', ')':
			return true
		}
		return false
	})
}

// Floats parses every numeric token in s. Parentheses and commas separate
// tokens; tokens that are not numbers are skipped.
func Floats(s string) []float64 {
	var out []float64
	for _, f := range fields(s) {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Ints parses every integer token in s.
func Ints(s string) []int {
	var out []int
	for _, f := range fields(s) {
		v, err := strconv.Atoi(f)
		if err != nil {
			fv, ferr := strconv.ParseFloat(f, 64)
			if ferr != nil {
				continue
			}
			v = int(fv)
		}
		out = append(out, v)
	}
	return out
}

// Vectors returns the numeric contents of each parenthesized group in s,
// e.g. "(1,0,0) none (0,1,0)" yields [[1 0 0] [0 1 0]].
func Vectors(s string) [][]float64 {
	var out [][]float64
	for {
		open := strings.IndexByte(s, '(')
		if open < 0 {
			return out
		}
		end := strings.IndexByte(s[open:], ')')
		if end < 0 {
			return out
		}
		out = append(out, Floats(s[open+1:open+end]))
		s = s[open+end+1:]
	}
}

// Latin1 decodes a NUL-terminated ISO-8859-1 field and trims trailing spaces.
func Latin1(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return strings.TrimRight(string(b), " ")
	}
	return strings.TrimRight(string(out), " ")
}

// EncodeLatin1 writes s into a fixed field of n bytes, NUL padded.
// Characters outside Latin-1 are replaced.
func EncodeLatin1(s string, n int) []byte {
	out := make([]byte, n)
	enc, err := charmap.ISO8859_1.NewEncoder().String(s)
	if err != nil {
		enc = strings.Map(func(r rune) rune {
			if r > 0xff {
				return '?'
			}
			return r
		}, s)
		enc, _ = charmap.ISO8859_1.NewEncoder().String(enc)
	}
	copy(out, enc)
	return out
}
