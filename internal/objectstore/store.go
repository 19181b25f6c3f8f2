// Package objectstore adapts a source object store: given a logical key,
// it yields a byte stream plus the object's declared length. Path
// sanitization (SanitizeKey) is applied uniformly by both producers and the
// packing pipeline so a logical key round-trips.
package objectstore

import (
	"context"
	"io"
)

// Store opens a streaming read of key and reports its declared length, so
// the caller can pass both to caf.Writer.AppendStream.
type Store interface {
	// OpenStream returns a stream of key's bytes and its declared length. The
	// caller must Close the returned ReadCloser.
	OpenStream(ctx context.Context, key string) (stream io.ReadCloser, declaredLength int64, err error)
}
