package archiver_test

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cafworker/cafworker/internal/archiver"
	"github.com/cafworker/cafworker/internal/queue"
)

type fakeStore struct {
	data map[string][]byte
}

func (f *fakeStore) OpenStream(_ context.Context, key string) (io.ReadCloser, int64, error) {
	b := f.data[key]
	return io.NopCloser(bytes.NewReader(b)), int64(len(b)), nil
}

type shippedContainer struct {
	name string
	path string
}

type fakeBlob struct {
	mu      sync.Mutex
	shipped []shippedContainer
}

func (f *fakeBlob) PutContainer(_ context.Context, logicalName, localPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shipped = append(f.shipped, shippedContainer{name: logicalName, path: localPath})
	return nil
}

func (f *fakeBlob) GetContainer(context.Context, string, string) error   { return nil }
func (f *fakeBlob) GetProofs(context.Context, string) ([]string, error) { return nil, nil }

type catalogRow struct {
	taskID, filePath, containerName, workerID string
}

type fakeCatalog struct {
	mu   sync.Mutex
	rows []catalogRow
}

func (f *fakeCatalog) Insert(taskID, filePath, containerName, workerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, catalogRow{taskID, filePath, containerName, workerID})
	return nil
}

type fakeDelivery struct {
	acked, nacked bool
	requeued      bool
}

func newDelivery(taskID, filePath string) (queue.Delivery, *fakeDelivery) {
	state := &fakeDelivery{}
	return queue.Delivery{
		Message: queue.Message{TaskID: taskID, FilePath: filePath},
		Ack: func() error {
			state.acked = true
			return nil
		},
		Nack: func(requeue bool) error {
			state.nacked = true
			state.requeued = requeue
			return nil
		},
	}, state
}

func TestSingleSmallFileFinalizesOnInactivity(t *testing.T) {
	store := &fakeStore{data: map[string][]byte{
		"a.bin": bytes.Repeat([]byte{0x00, 0x01, 0x02, 0x03}, 256), // 1024 bytes
	}}
	blob := &fakeBlob{}
	cat := &fakeCatalog{}

	p := archiver.New(archiver.Config{
		WorkerID:      "1",
		TempDir:       t.TempDir(),
		BudgetBytes:   1 << 30,
		InactivityGap: 50 * time.Millisecond,
	}, store, blob, cat)

	deliveries := make(chan queue.Delivery, 1)
	d, state := newDelivery("T1", "a.bin")
	deliveries <- d
	close(deliveries)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, deliveries) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(500 * time.Millisecond):
	}

	time.Sleep(200 * time.Millisecond) // let the inactivity timer fire

	cat.mu.Lock()
	defer cat.mu.Unlock()
	if len(cat.rows) != 1 {
		t.Fatalf("expected 1 catalog row, got %d", len(cat.rows))
	}
	if cat.rows[0].taskID != "T1" || cat.rows[0].filePath != "a.bin" {
		t.Fatalf("unexpected catalog row: %+v", cat.rows[0])
	}

	blob.mu.Lock()
	defer blob.mu.Unlock()
	if len(blob.shipped) != 1 {
		t.Fatalf("expected 1 shipped container, got %d", len(blob.shipped))
	}
	if !state.acked {
		t.Fatal("expected the message to be acked after a successful handoff")
	}
}

func TestCapacityRolloverProducesTwoContainers(t *testing.T) {
	store := &fakeStore{data: map[string][]byte{
		"a.bin": bytes.Repeat([]byte{0xAA}, 400),
		"b.bin": bytes.Repeat([]byte{0xBB}, 400),
		"c.bin": bytes.Repeat([]byte{0xCC}, 400),
	}}
	blob := &fakeBlob{}
	cat := &fakeCatalog{}

	p := archiver.New(archiver.Config{
		WorkerID:      "1",
		TempDir:       t.TempDir(),
		BudgetBytes:   1000,
		InactivityGap: time.Hour,
	}, store, blob, cat)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	deliveries := make(chan queue.Delivery)
	go func() {
		d1, _ := newDelivery("T1", "a.bin")
		d2, _ := newDelivery("T1", "b.bin")
		d3, _ := newDelivery("T1", "c.bin")
		deliveries <- d1
		deliveries <- d2
		deliveries <- d3
		time.Sleep(100 * time.Millisecond)
		close(deliveries)
	}()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, deliveries) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return in time")
	}

	blob.mu.Lock()
	defer blob.mu.Unlock()
	if len(blob.shipped) != 1 {
		t.Fatalf("expected exactly 1 container shipped by the capacity trigger (the third file stays open), got %d", len(blob.shipped))
	}
}

func TestOversizedMessageIsDroppedNotRequeued(t *testing.T) {
	store := &fakeStore{data: map[string][]byte{
		"huge.bin": bytes.Repeat([]byte{0xFF}, 2000),
	}}
	blob := &fakeBlob{}
	cat := &fakeCatalog{}

	p := archiver.New(archiver.Config{
		WorkerID:      "1",
		TempDir:       t.TempDir(),
		BudgetBytes:   1000,
		InactivityGap: time.Hour,
	}, store, blob, cat)

	deliveries := make(chan queue.Delivery, 1)
	d, state := newDelivery("T1", "huge.bin")
	deliveries <- d
	close(deliveries)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, deliveries) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Run did not return in time; appendMessage likely recursed without bound")
	}

	if !state.nacked {
		t.Fatal("expected the oversized message to be nacked")
	}
	if state.requeued {
		t.Fatal("expected the oversized message to be nacked without requeue")
	}

	blob.mu.Lock()
	defer blob.mu.Unlock()
	if len(blob.shipped) != 0 {
		t.Fatalf("expected no containers shipped for an unprocessable message, got %d", len(blob.shipped))
	}
}
