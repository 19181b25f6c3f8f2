package caf

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/cafworker/cafworker/internal/debug"
	"github.com/cafworker/cafworker/internal/errors"
)

// DefaultCopyDeadline bounds a single AppendStream call.
const DefaultCopyDeadline = 5 * time.Minute

// Writer appends members to a single CAF container, in order, enforcing a
// byte budget. It is not safe for concurrent use; the packing pipeline
// serializes access with its own semaphore.
type Writer struct {
	path  string
	f     *os.File
	budget int64
	offset int64
	idx    map[string]Range

	copyDeadline time.Duration

	finalized bool
	closed    bool
}

// NewWriter creates a container at path (or a generated unique temp path
// under dir if path is empty) with the given byte budget.
func NewWriter(dir, path string, budgetBytes int64) (*Writer, error) {
	if budgetBytes <= 0 || budgetBytes > MaxBudgetBytes {
		return nil, errors.Errorf("budget %d bytes out of range (0, %d]", budgetBytes, MaxBudgetBytes)
	}
	if path == "" {
		path = filepathJoin(dir, "caf-"+uuid.NewString()+".tmp")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "caf: create container")
	}

	debug.Log("caf: opened writer at %s with budget %d", path, budgetBytes)

	return &Writer{
		path:         path,
		f:            f,
		budget:       budgetBytes,
		idx:          make(map[string]Range),
		copyDeadline: DefaultCopyDeadline,
	}, nil
}

func filepathJoin(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + string(os.PathSeparator) + name
}

// Path returns the container's on-disk path.
func (w *Writer) Path() string { return w.path }

// SetCopyDeadline overrides the deadline applied to each AppendStream call;
// the zero value leaves DefaultCopyDeadline in effect.
func (w *Writer) SetCopyDeadline(d time.Duration) {
	if d > 0 {
		w.copyDeadline = d
	}
}

// Offset returns the current payload offset P.
func (w *Writer) Offset() int64 { return w.offset }

func (w *Writer) checkWritable(memberPath string) error {
	if w.finalized {
		return errors.ErrUseAfterFinalize
	}
	if _, ok := w.idx[memberPath]; ok {
		return errors.ErrDuplicateMember
	}
	return nil
}

// AppendBuffer writes bytes in full under memberPath. It returns false
// without mutating state if doing so would exceed the budget.
func (w *Writer) AppendBuffer(memberPath string, data []byte) (bool, error) {
	if err := w.checkWritable(memberPath); err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, errors.ErrEmptyMember
	}
	if w.offset+int64(len(data)) > w.budget {
		return false, nil
	}

	n, err := w.f.Write(data)
	if err != nil {
		return false, errors.Wrap(err, "caf: write")
	}
	if n != len(data) {
		return false, errors.Errorf("caf: short write: wrote %d of %d bytes", n, len(data))
	}

	w.recordMember(memberPath, int64(len(data)))
	return true, nil
}

// AppendStream copies stream into the container under memberPath, after
// confirming declaredLength fits the remaining budget. It returns false
// without mutating state if the budget would be exceeded.
//
// On any failure other than the budget check, the container's payload region
// is left partially written; the caller must discard the whole container via
// Cleanup and must not attempt to reuse the written prefix.
func (w *Writer) AppendStream(ctx context.Context, memberPath string, stream io.Reader, declaredLength int64) (bool, error) {
	if err := w.checkWritable(memberPath); err != nil {
		return false, err
	}
	if declaredLength <= 0 {
		return false, errors.ErrEmptyMember
	}
	if w.offset+declaredLength > w.budget {
		return false, nil
	}

	cctx, cancel := context.WithTimeout(ctx, w.copyDeadline)
	defer cancel()

	type copyResult struct {
		n   int64
		err error
	}
	done := make(chan copyResult, 1)
	go func() {
		n, err := io.CopyN(w.f, stream, declaredLength)
		done <- copyResult{n, err}
	}()

	var n int64
	var err error
	select {
	case res := <-done:
		n, err = res.n, res.err
	case <-cctx.Done():
		return false, errors.ErrCopyTimeout
	}

	if err != nil && err != io.EOF {
		return false, errors.Wrap(err, "caf: copy stream")
	}
	if n != declaredLength {
		return false, errors.ErrSizeMismatch
	}

	// detect trailing bytes beyond declaredLength: the source has more data
	// than promised.
	var extra [1]byte
	if m, _ := stream.Read(extra[:]); m > 0 {
		return false, errors.ErrSizeMismatch
	}

	w.recordMember(memberPath, declaredLength)
	return true, nil
}

func (w *Writer) recordMember(memberPath string, length int64) {
	w.idx[memberPath] = Range{Start: w.offset, End: w.offset + length}
	w.offset += length
	debug.Log("caf: appended %s [%d,%d)", memberPath, w.offset-length, w.offset)
}

// Finalize serializes the index, appends the footer, flushes and closes the
// file, and returns its path. The writer is terminal afterwards.
func (w *Writer) Finalize() (string, error) {
	if w.finalized {
		return "", errors.ErrUseAfterFinalize
	}

	payload := index{FormatVersion: FormatVersion, Files: w.idx}
	buf, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "caf: marshal index")
	}

	if _, err := w.f.Write(buf); err != nil {
		return "", errors.Wrap(err, "caf: write index")
	}

	var footer [footerSize]byte
	binary.LittleEndian.PutUint32(footer[:], uint32(len(buf)))
	if _, err := w.f.Write(footer[:]); err != nil {
		return "", errors.Wrap(err, "caf: write footer")
	}

	if err := w.f.Sync(); err != nil {
		return "", errors.Wrap(err, "caf: sync")
	}
	if err := w.f.Close(); err != nil {
		return "", errors.Wrap(err, "caf: close")
	}

	w.finalized = true
	w.closed = true
	debug.Log("caf: finalized %s (%d members, %d byte payload, %d byte index)", w.path, len(w.idx), w.offset, len(buf))
	return w.path, nil
}

// Cleanup flushes and closes a non-finalized writer so its file handle can be
// removed. Safe to call more than once. The caller is responsible for
// deleting the residual file — it is not a valid container.
func (w *Writer) Cleanup() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.f.Close(); err != nil {
		return errors.Wrap(err, "caf: cleanup close")
	}
	return nil
}
