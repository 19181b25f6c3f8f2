// Package blobservice ships finalized containers to durable remote storage
// and fetches proof metadata about them. The concrete implementation
// (b2.go) wraps github.com/Backblaze/blazer/b2 for a put/get/stat surface
// against a Backblaze B2 bucket, in the style of internal/backend/b2.
package blobservice

import "context"

// Service ships finalized containers to durable storage and answers for
// proofs about previously shipped containers. All three operations can fail
// transiently and are retryable I/O.
type Service interface {
	// PutContainer uploads localPath under logicalName, at <worker_home>/<logicalName>.
	PutContainer(ctx context.Context, logicalName, localPath string) error

	// GetContainer downloads logicalName into localPath, verifying the result
	// is non-empty.
	GetContainer(ctx context.Context, logicalName, localPath string) error

	// GetProofs returns opaque proof tokens for a previously shipped container.
	GetProofs(ctx context.Context, logicalName string) ([]string, error)
}
