package caf

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/cafworker/cafworker/internal/debug"
	"github.com/cafworker/cafworker/internal/errors"
)

// Reader opens a finalized CAF container for random-access extraction.
// LoadIndex must be called before any other method.
type Reader struct {
	path string
	f    *os.File

	loaded       bool
	fileLength   int64
	payloadLen   int64
	idx          map[string]Range
}

// NewReader opens path for reading without yet parsing its index.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "caf: open container")
	}
	return &Reader{path: path, f: f}, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.f.Close()
}

// LoadIndex reads the footer and index region, validates them, and caches
// the parsed index for subsequent calls.
func (r *Reader) LoadIndex() error {
	fi, err := r.f.Stat()
	if err != nil {
		return errors.Wrap(err, "caf: stat")
	}
	fileLength := fi.Size()
	if fileLength < footerSize {
		return errors.Wrap(errors.ErrCorruptContainer, "file shorter than footer")
	}

	var footer [footerSize]byte
	if _, err := r.f.ReadAt(footer[:], fileLength-footerSize); err != nil {
		return errors.Wrap(err, "caf: read footer")
	}
	indexSize := int64(binary.LittleEndian.Uint32(footer[:]))

	if indexSize+footerSize > fileLength {
		return errors.Wrap(errors.ErrCorruptContainer, "index size exceeds file length")
	}

	indexOffset := fileLength - footerSize - indexSize
	buf := make([]byte, indexSize)
	if _, err := r.f.ReadAt(buf, indexOffset); err != nil {
		return errors.Wrap(err, "caf: read index")
	}

	var parsed index
	if err := json.Unmarshal(buf, &parsed); err != nil {
		return errors.Wrap(errors.ErrCorruptContainer, err.Error())
	}
	if parsed.FormatVersion != FormatVersion {
		return errors.Wrapf(errors.ErrUnsupportedVersion, "got %q", parsed.FormatVersion)
	}

	payloadLen := indexOffset
	for path, rng := range parsed.Files {
		if rng.Start < 0 || rng.Start >= rng.End || rng.End > payloadLen {
			return errors.Wrapf(errors.ErrCorruptContainer, "member %q has invalid range [%d,%d)", path, rng.Start, rng.End)
		}
	}

	r.fileLength = fileLength
	r.payloadLen = payloadLen
	r.idx = parsed.Files
	r.loaded = true

	debug.Log("caf: loaded index for %s: %d members, payload %d bytes", r.path, len(r.idx), payloadLen)
	return nil
}

func (r *Reader) requireLoaded() error {
	if !r.loaded {
		return errors.ErrIndexNotLoaded
	}
	return nil
}

// List returns every indexed member path, in unspecified order.
func (r *Reader) List() ([]string, error) {
	if err := r.requireLoaded(); err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(r.idx))
	for p := range r.idx {
		paths = append(paths, p)
	}
	return paths, nil
}

// Has reports whether memberPath is present in the loaded index.
func (r *Reader) Has(memberPath string) (bool, error) {
	if err := r.requireLoaded(); err != nil {
		return false, err
	}
	_, ok := r.idx[memberPath]
	return ok, nil
}

// Metadata returns the byte range for memberPath.
func (r *Reader) Metadata(memberPath string) (Range, error) {
	if err := r.requireLoaded(); err != nil {
		return Range{}, err
	}
	rng, ok := r.idx[memberPath]
	if !ok {
		return Range{}, errors.ErrMemberNotFound
	}
	return rng, nil
}

// Extract returns the exact bytes of memberPath via a positional read.
func (r *Reader) Extract(memberPath string) ([]byte, error) {
	rng, err := r.Metadata(memberPath)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, rng.Len())
	if _, err := r.f.ReadAt(buf, rng.Start); err != nil {
		return nil, errors.Wrap(err, "caf: extract")
	}
	return buf, nil
}

// ExtractRange reads a sub-range [off, off+n) of memberPath's bytes, for
// HTTP range-style partial reads of large members.
func (r *Reader) ExtractRange(memberPath string, off, n int64) ([]byte, error) {
	rng, err := r.Metadata(memberPath)
	if err != nil {
		return nil, err
	}
	if off < 0 || off+n > rng.Len() {
		return nil, errors.Errorf("caf: range [%d,%d) out of bounds for member of length %d", off, off+n, rng.Len())
	}
	buf := make([]byte, n)
	if _, err := r.f.ReadAt(buf, rng.Start+off); err != nil {
		return nil, errors.Wrap(err, "caf: extract range")
	}
	return buf, nil
}

// ExtractAll writes every member to dir, recreating the member path's
// directory components under dir.
func (r *Reader) ExtractAll(dir string) error {
	if err := r.requireLoaded(); err != nil {
		return err
	}
	for memberPath := range r.idx {
		data, err := r.Extract(memberPath)
		if err != nil {
			return err
		}
		dest := filepath.Join(dir, filepath.FromSlash(strings.TrimPrefix(memberPath, "/")))
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return errors.Wrap(err, "caf: mkdir")
		}
		if err := os.WriteFile(dest, data, 0644); err != nil {
			return errors.Wrap(err, "caf: write member")
		}
	}
	return nil
}
