// Package caf implements the Chunk Archive Format: a single regular file
// holding a concatenation of member byte ranges, followed by a JSON index and
// a 4-byte little-endian footer giving the index's length. The layout
// mirrors the restic pack-file convention of a trailing length-prefixed
// metadata region addressed from the end of the file, but trades the binary
// header entries for a JSON index, since CAF members are whole files rather
// than content-defined blobs.
package caf

// FormatVersion is the only index schema version this package emits or
// accepts.
const FormatVersion = "1.0"

// MaxBudgetBytes is the hard ceiling on a container's payload region,
// imposed by the footer's 32-bit index-length field leaving the rest of the
// address space to the payload: 32 GiB.
const MaxBudgetBytes = 32 << 30

// footerSize is the length in bytes of the trailing footer: a single
// little-endian uint32 giving the index region's byte length.
const footerSize = 4

// Range is the half-open byte range [Start, End) a member occupies within
// the payload region.
type Range struct {
	Start int64 `json:"start_byte"`
	End   int64 `json:"end_byte"`
}

// Len reports the member's byte length.
func (r Range) Len() int64 {
	return r.End - r.Start
}

// index is the on-disk JSON index schema.
type index struct {
	FormatVersion string           `json:"format_version"`
	Files         map[string]Range `json:"files"`
}
