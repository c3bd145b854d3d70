package formats

import (
	"bytes"
	"encoding/binary"
	"path"
	"path/filepath"
	"strings"

	"neurovol/internal/textheader"
	"neurovol/pkg/nifti"
)

// Format identifies an on-disk layout.
type Format int

const (
	Unknown Format = iota
	NIfTI
	DICOM
	MGH
	NRRD
	MHA
	AFNI
	ECAT
	V16
	VMR
	MIF
	NPY
)

var formatNames = map[Format]string{
	Unknown: "unknown",
	NIfTI:   "nifti",
	DICOM:   "dicom",
	MGH:     "mgh",
	NRRD:    "nrrd",
	MHA:     "mha",
	AFNI:    "afni",
	ECAT:    "ecat7",
	V16:     "v16",
	VMR:     "vmr",
	MIF:     "mif",
	NPY:     "npy",
}

func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return "unknown"
}

var extensionFormats = map[string]Format{
	"nii":   NIfTI,
	"hdr":   NIfTI,
	"dcm":   DICOM,
	"dicom": DICOM,
	"ima":   DICOM,
	"mgh":   MGH,
	"mgz":   MGH,
	"nrrd":  NRRD,
	"nhdr":  NRRD,
	"mha":   MHA,
	"mhd":   MHA,
	"head":  AFNI,
	"v":     ECAT,
	"v16":   V16,
	"vmr":   VMR,
	"mif":   MIF,
	"mih":   MIF,
	"npy":   NPY,
	"npz":   NPY,
}

var compressionSuffixes = []string{".gz", ".bz2", ".xz", ".zst"}

// Extension returns the lowercased extension of name after removing any
// URL query and one compression suffix. "brain.nii.gz" yields "nii".
func Extension(name string) string {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	base := strings.ToLower(path.Base(strings.ReplaceAll(name, "\\", "/")))
	for _, suffix := range compressionSuffixes {
		if strings.HasSuffix(base, suffix) {
			base = strings.TrimSuffix(base, suffix)
			break
		}
	}
	ext := path.Ext(base)
	return strings.TrimPrefix(ext, ".")
}

// PairedName returns the data file name for formats split into a header
// and an image file, e.g. "t1.hdr" -> "t1.img" and "x+orig.HEAD" ->
// "x+orig.BRIK". The case of the extension is preserved.
func PairedName(name string) (string, bool) {
	ext := Extension(name)
	var want string
	switch ext {
	case "hdr":
		want = "img"
	case "head":
		want = "brik"
	default:
		return "", false
	}
	i := strings.LastIndex(strings.ToLower(name), "."+ext)
	if i < 0 {
		return "", false
	}
	orig := name[i+1 : i+1+len(ext)]
	if orig == strings.ToUpper(orig) {
		want = strings.ToUpper(want)
	}
	return name[:i+1] + want + name[i+1+len(ext):], true
}

// HeaderOnly reports extensions that by convention hold only a header
// whose samples live in a separate file.
func HeaderOnly(name string) bool {
	switch Extension(name) {
	case "nhdr", "mhd", "mih":
		return true
	}
	return false
}

// DetachedName returns the data file named inside a detached NRRD,
// MetaImage or MRtrix header, joined to the header's directory when
// relative. header must already be decompressed. Attached data, file
// lists and numbered file patterns report false.
func DetachedName(name string, header []byte) (string, bool) {
	f, err := Classify(name, header)
	if err != nil {
		return "", false
	}
	var file string
	for _, line := range textheader.Lines(header[:min(len(header), 1<<16)]) {
		switch f {
		case NRRD:
			if line == "" {
				return "", false
			}
			if key, value, ok := textheader.KeyValue(line, ":"); ok && (key == "data file" || key == "datafile") {
				file = value
			}
		case MHA:
			if key, value, ok := textheader.KeyValue(line, "="); ok && key == "ElementDataFile" {
				if strings.EqualFold(value, "LOCAL") {
					return "", false
				}
				file = value
			}
		case MIF:
			if line == "END" {
				return "", false
			}
			if key, value, ok := textheader.KeyValue(line, ":"); ok && key == "file" {
				if file, _, _ = strings.Cut(value, " "); file == "." {
					return "", false
				}
			}
		default:
			return "", false
		}
		if file != "" {
			break
		}
	}
	if file == "" || file == "LIST" || strings.ContainsAny(file, "% ") {
		return "", false
	}
	if !filepath.IsAbs(file) {
		file = filepath.Join(filepath.Dir(name), file)
	}
	return file, true
}

// Classify picks the format of data. The extension decides when it is
// known; otherwise the leading bytes do. data must already be decompressed.
func Classify(name string, data []byte) (Format, error) {
	if f, ok := extensionFormats[Extension(name)]; ok {
		return f, nil
	}
	if f := sniff(data); f != Unknown {
		return f, nil
	}
	return Unknown, ErrUnsupportedFormat
}

// ecatMagic is "MATR" read as a big-endian int32.
const ecatMagic = 1296127058

func sniff(data []byte) Format {
	switch {
	case len(data) >= nifti.HeaderSize:
		if _, err := nifti.ByteOrder(data); err == nil {
			return NIfTI
		}
	}
	if len(data) >= 132 && string(data[128:132]) == "DICM" {
		return DICOM
	}
	if bytes.HasPrefix(data, []byte("NRRD")) {
		return NRRD
	}
	if bytes.HasPrefix(data, npyMagic) {
		return NPY
	}
	if bytes.HasPrefix(data, []byte("mrtrix image")) {
		return MIF
	}
	if len(data) >= 4 && int32(binary.BigEndian.Uint32(data)) == ecatMagic {
		return ECAT
	}
	head := data[:min(len(data), 4096)]
	if bytes.HasPrefix(head, []byte("ObjectType")) || bytes.HasPrefix(head, []byte("NDims")) {
		return MHA
	}
	trimmed := bytes.TrimLeft(head, "\r\n\t ")
	if bytes.HasPrefix(trimmed, []byte("type")) && bytes.Contains(head, []byte("name")) && bytes.Contains(head, []byte("count")) {
		return AFNI
	}
	if looksLikeMGH(data) {
		return MGH
	}
	return Unknown
}

func looksLikeMGH(data []byte) bool {
	if len(data) < mghDataOffset {
		return false
	}
	be := binary.BigEndian
	if be.Uint32(data) != 1 {
		return false
	}
	for off := 4; off <= 12; off += 4 {
		if d := int32(be.Uint32(data[off:])); d <= 0 || d > 1<<16 {
			return false
		}
	}
	switch be.Uint32(data[20:]) {
	case 0, 1, 3, 4:
		return true
	}
	return false
}
