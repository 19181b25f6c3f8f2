// Package archiver implements the packing pipeline: the state machine that
// consumes queue messages, drives the CAF writer and the object-store
// adapter, decides batch finalization, and hands a finalized container off
// to the remote blob service and catalog before acking the queue. In the
// shape of internal/archiver's open-writer/finalize/upload flow, reworked
// from a Merkle-tree snapshot archiver into a flat batch packer, with
// single-writer serialization built on golang.org/x/sync/semaphore rather
// than a hand-rolled channel semaphore.
package archiver

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cafworker/cafworker/internal/blobservice"
	"github.com/cafworker/cafworker/internal/caf"
	"github.com/cafworker/cafworker/internal/catalog"
	"github.com/cafworker/cafworker/internal/debug"
	"github.com/cafworker/cafworker/internal/errors"
	"github.com/cafworker/cafworker/internal/objectstore"
	"github.com/cafworker/cafworker/internal/queue"
)

// State names the in-flight container's position in the packing state
// machine: Idle -> Open -> Finalizing -> Uploading -> Indexing -> Acking.
type State int

const (
	Idle State = iota
	Open
	Finalizing
	Uploading
	Indexing
	Acking
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Open:
		return "open"
	case Finalizing:
		return "finalizing"
	case Uploading:
		return "uploading"
	case Indexing:
		return "indexing"
	case Acking:
		return "acking"
	default:
		return "unknown"
	}
}

// Config configures the pipeline.
type Config struct {
	WorkerID      string
	TempDir       string
	BudgetBytes   int64
	BatchCeiling  int           // count-based finalization trigger.
	InactivityGap time.Duration // default 5 min.
	CopyDeadline  time.Duration // default 5 min; overrides caf.Writer's copy deadline when set.
}

func (c Config) inactivityGap() time.Duration {
	if c.InactivityGap > 0 {
		return c.InactivityGap
	}
	return 5 * time.Minute
}

func (c Config) batchCeiling() int {
	if c.BatchCeiling > 0 {
		return c.BatchCeiling
	}
	return 1000
}

// inFlight holds the state owned exclusively by the pipeline while a
// container is open for appends.
type inFlight struct {
	writer  *caf.Writer
	pending []queue.Delivery
	timer   *time.Timer
}

// Pipeline drives the single-writer packing loop. All exported methods
// other than Run are intended for tests; production callers only invoke
// Run.
type Pipeline struct {
	cfg   Config
	store objectstore.Store
	blob  blobservice.Service
	cat   Catalog

	sem   *semaphore.Weighted // weight 1: enforces append-one-at-a-time.
	state State
	cur   *inFlight
}

// Catalog is the slice of *catalog.Catalog the pipeline depends on,
// narrowed to an interface so tests can substitute a fake without a real
// SQLite database.
type Catalog interface {
	Insert(taskID, filePath, containerName, workerID string) error
}

var _ Catalog = &catalog.Catalog{}

// New constructs a pipeline around its three collaborators.
func New(cfg Config, store objectstore.Store, blob blobservice.Service, cat Catalog) *Pipeline {
	return &Pipeline{
		cfg:   cfg,
		store: store,
		blob:  blob,
		cat:   cat,
		sem:   semaphore.NewWeighted(1),
		state: Idle,
	}
}

// Run consumes deliveries until the channel closes or ctx is canceled. A
// canceled context does not flush the in-flight container: shutdown
// discards unacked in-flight state and lets the broker redeliver it.
func (p *Pipeline) Run(ctx context.Context, deliveries <-chan queue.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			p.onDelivery(ctx, d)
		}
	}
}

// onDelivery implements one step of the Idle/Open transition table. A
// delivery that arrives while an inactivity-triggered handoff holds the
// serialization token is nacked with requeue rather than buffered. Handoffs
// started by the capacity or count trigger run on Run's own goroutine, so no
// delivery is read from the channel until they finish.
func (p *Pipeline) onDelivery(ctx context.Context, d queue.Delivery) {
	if !p.sem.TryAcquire(1) {
		debug.Log("archiver: busy in %s, requeueing %s/%s", p.state, d.Message.TaskID, d.Message.FilePath)
		p.nack(d, true)
		return
	}
	defer p.sem.Release(1)

	p.appendMessage(ctx, d)
}

func (p *Pipeline) appendMessage(ctx context.Context, d queue.Delivery) {
	if p.cur == nil {
		w, err := caf.NewWriter(p.cfg.TempDir, "", p.cfg.BudgetBytes)
		if err != nil {
			debug.Log("archiver: failed to open writer: %v", err)
			p.nack(d, true)
			return
		}
		w.SetCopyDeadline(p.cfg.CopyDeadline)
		p.cur = &inFlight{writer: w}
		p.state = Open
	}

	memberPath := d.Message.TaskID + "/" + d.Message.FilePath

	stream, length, err := p.store.OpenStream(ctx, d.Message.FilePath)
	if err != nil {
		debug.Log("archiver: OpenStream failed for %s: %v", memberPath, err)
		p.nack(d, true)
		return
	}

	if length > p.cfg.BudgetBytes {
		_ = stream.Close()
		debug.Log("archiver: %s declares %d bytes, exceeding budget %d; dropping without requeue", memberPath, length, p.cfg.BudgetBytes)
		p.nack(d, false)
		return
	}

	ok, err := p.cur.writer.AppendStream(ctx, memberPath, stream, length)
	_ = stream.Close()

	if err != nil {
		debug.Log("archiver: append failed for %s, poisoning container: %v", memberPath, err)
		p.poison(true)
		p.nack(d, true)
		return
	}

	if !ok {
		// Capacity trigger: the message was not added; finalize the
		// predecessor, then open a fresh writer and retry the append with a
		// freshly-obtained stream (the first was already consumed).
		if err := p.handoff(ctx); err != nil {
			debug.Log("archiver: handoff failed: %v", err)
			p.nack(d, true)
			return
		}
		p.appendMessage(ctx, d)
		return
	}

	p.cur.pending = append(p.cur.pending, d)
	p.resetInactivityTimer(ctx)

	if len(p.cur.pending) >= p.cfg.batchCeiling() {
		if err := p.handoff(ctx); err != nil {
			debug.Log("archiver: count-triggered handoff failed: %v", err)
		}
	}
}

// resetInactivityTimer (re)starts the timer that finalizes the in-flight
// container after a period with no successful append.
func (p *Pipeline) resetInactivityTimer(ctx context.Context) {
	if p.cur == nil {
		return
	}
	if p.cur.timer != nil {
		p.cur.timer.Stop()
	}
	p.cur.timer = time.AfterFunc(p.cfg.inactivityGap(), func() {
		p.onInactivityTimeout(ctx)
	})
}

// onInactivityTimeout runs on its own goroutine. It is a no-op if no writer
// is currently open, and otherwise it must take the same serialization
// token as appends.
func (p *Pipeline) onInactivityTimeout(ctx context.Context) {
	if !p.sem.TryAcquire(1) {
		// An append or handoff is in progress; it will reset or consume the
		// timer itself, so skip this firing.
		return
	}
	defer p.sem.Release(1)

	if p.cur == nil {
		return
	}
	if err := p.handoff(ctx); err != nil {
		debug.Log("archiver: inactivity handoff failed: %v", err)
	}
}

// handoff runs Finalizing -> Uploading -> Indexing -> Acking for the
// current in-flight container. On any failure the container is poisoned:
// the temp file is removed and every pending message is nacked with
// requeue. Callers must hold the serialization token.
func (p *Pipeline) handoff(ctx context.Context) error {
	cur := p.cur
	if cur == nil {
		return nil
	}
	p.cur = nil
	p.state = Finalizing

	containerName := fmt.Sprintf("batch_%d.caf", time.Now().UnixMilli())
	tmpPath, err := cur.writer.Finalize()
	if err != nil {
		p.abort(cur, err)
		return err
	}

	p.state = Uploading
	if err := p.blob.PutContainer(ctx, containerName, tmpPath); err != nil {
		p.abort(cur, errors.Wrap(err, "archiver: ship failed"))
		return err
	}

	p.state = Indexing
	for _, d := range cur.pending {
		if err := p.cat.Insert(d.Message.TaskID, d.Message.FilePath, containerName, p.cfg.WorkerID); err != nil {
			// Rows already inserted for this batch are left in place; every
			// pending message of the batch is nacked with requeue.
			debug.Log("archiver: catalog insert failed mid-batch: %v", err)
			p.abort(cur, err)
			return err
		}
	}

	p.state = Acking
	for _, d := range cur.pending {
		if err := d.Ack(); err != nil {
			debug.Log("archiver: ack failed for %s/%s: %v", d.Message.TaskID, d.Message.FilePath, err)
		}
	}

	_ = os.Remove(tmpPath) // the container now lives in blob storage.
	p.state = Idle
	return nil
}

func (p *Pipeline) abort(cur *inFlight, cause error) {
	if cur.timer != nil {
		cur.timer.Stop()
	}
	if err := cur.writer.Cleanup(); err != nil {
		debug.Log("archiver: cleanup after abort failed: %v", err)
	}
	if err := os.Remove(cur.writer.Path()); err != nil && !os.IsNotExist(err) {
		debug.Log("archiver: failed to remove poisoned container %s: %v", cur.writer.Path(), err)
	}
	for _, d := range cur.pending {
		p.nack(d, true)
	}
	debug.Log("archiver: batch aborted: %v", cause)
	p.state = Idle
}

// poison discards the current writer's file and nacks every pending message
// with requeue; the triggering message is nacked separately by the caller,
// appendMessage, since it was never added to pending.
func (p *Pipeline) poison(_ bool) {
	if p.cur == nil {
		return
	}
	cur := p.cur
	p.cur = nil
	if cur.timer != nil {
		cur.timer.Stop()
	}
	if err := cur.writer.Cleanup(); err != nil {
		debug.Log("archiver: cleanup after poison failed: %v", err)
	}
	if err := os.Remove(cur.writer.Path()); err != nil && !os.IsNotExist(err) {
		debug.Log("archiver: failed to remove poisoned container %s: %v", cur.writer.Path(), err)
	}
	for _, d := range cur.pending {
		p.nack(d, true)
	}
	p.state = Idle
}

func (p *Pipeline) nack(d queue.Delivery, requeue bool) {
	if err := d.Nack(requeue); err != nil {
		debug.Log("archiver: nack failed for %s/%s: %v", d.Message.TaskID, d.Message.FilePath, err)
	}
}

// State reports the pipeline's current position, for diagnostics.
func (p *Pipeline) State() State { return p.state }
