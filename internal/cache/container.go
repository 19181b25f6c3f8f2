// Package cache implements two local caches the retrieval façade shares
// across requests: downloaded containers kept on local disk keyed by
// filename, and a short-TTL cache of remote-blob proof responses. In the
// spirit of internal/bloblru's size-bounded in-process cache, adapted here to golang-lru/v2's expirable cache since the proof cache
// needs wall-clock expiry rather than size eviction.
package cache

import (
	"os"
	"path/filepath"

	"github.com/cafworker/cafworker/internal/debug"
	"github.com/cafworker/cafworker/internal/errors"
)

// KeepPolicy selects what happens to a downloaded container file after it
// has served a request.
type KeepPolicy int

const (
	DeleteAfterServe KeepPolicy = iota
	KeepForever
)

// ContainerCache resolves a container name to a local path under dir,
// downloading it on miss via fetch. One file per container name; races
// between concurrent downloads of the same container are acceptable since
// any correctly completed download is byte-identical, so last-writer-wins
// never produces divergent content.
type ContainerCache struct {
	dir    string
	policy KeepPolicy
}

// NewContainerCache returns a cache rooted at dir, which must already exist.
func NewContainerCache(dir string, policy KeepPolicy) *ContainerCache {
	return &ContainerCache{dir: dir, policy: policy}
}

// Path returns the local path a container would be cached under.
func (c *ContainerCache) Path(containerName string) string {
	return filepath.Join(c.dir, containerName)
}

// Resolve returns the local path for containerName, invoking fetch only if
// no valid non-empty file is already cached. fetch must download the
// container to the given destination path.
func (c *ContainerCache) Resolve(containerName string, fetch func(dest string) error) (string, error) {
	local := c.Path(containerName)

	if info, err := os.Stat(local); err == nil && info.Size() > 0 {
		debug.Log("cache: reusing cached container %s", containerName)
		return local, nil
	}

	if err := fetch(local); err != nil {
		return "", err
	}

	info, err := os.Stat(local)
	if err != nil {
		return "", errors.Wrap(err, "cache: stat downloaded container")
	}
	if info.Size() == 0 {
		_ = os.Remove(local)
		return "", errors.Errorf("cache: downloaded container %s is empty", containerName)
	}

	return local, nil
}

// Invalidate removes a cached container, used when validation detects
// corruption.
func (c *ContainerCache) Invalidate(containerName string) error {
	err := os.Remove(c.Path(containerName))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "cache: invalidate")
	}
	return nil
}

// MaybeCleanup removes the cached container if the policy is
// DeleteAfterServe. Failures are logged, not returned, so a cleanup error
// never turns an otherwise-successful response into a failure.
func (c *ContainerCache) MaybeCleanup(containerName string) {
	if c.policy != DeleteAfterServe {
		return
	}
	if err := os.Remove(c.Path(containerName)); err != nil && !os.IsNotExist(err) {
		debug.Log("cache: cleanup of %s failed: %v", containerName, err)
	}
}
