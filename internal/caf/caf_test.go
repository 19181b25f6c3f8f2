package caf_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cafworker/cafworker/internal/caf"
	"github.com/cafworker/cafworker/internal/errors"
)

func member(b byte, n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = b + byte(i%4)
	}
	return buf
}

func TestRoundTripBuffer(t *testing.T) {
	dir := t.TempDir()
	w, err := caf.NewWriter(dir, "", 1<<20)
	if err != nil {
		t.Fatal(err)
	}

	files := map[string][]byte{
		"T1/a.bin": member(0x00, 1024),
		"T1/b.bin": member(0x10, 200),
	}

	for _, name := range []string{"T1/a.bin", "T1/b.bin"} {
		ok, err := w.AppendBuffer(name, files[name])
		if err != nil {
			t.Fatalf("AppendBuffer(%s): %v", name, err)
		}
		if !ok {
			t.Fatalf("AppendBuffer(%s) unexpectedly returned false", name)
		}
	}

	path, err := w.Finalize()
	if err != nil {
		t.Fatal(err)
	}

	r, err := caf.NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if err := r.LoadIndex(); err != nil {
		t.Fatal(err)
	}

	list, err := r.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != len(files) {
		t.Fatalf("List() returned %d members, want %d", len(list), len(files))
	}

	for name, want := range files {
		got, err := r.Extract(name)
		if err != nil {
			t.Fatalf("Extract(%s): %v", name, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("Extract(%s) mismatch", name)
		}
	}

	bRange, err := r.Metadata("T1/b.bin")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(caf.Range{Start: 1024, End: 1224}, bRange); diff != "" {
		t.Fatalf("metadata mismatch (-want +got):\n%s", diff)
	}
}

func TestAppendStreamSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	w, err := caf.NewWriter(dir, "", 1<<20)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := w.AppendStream(context.Background(), "T1/a.bin", bytes.NewReader(member(0, 10)), 20)
	if ok {
		t.Fatalf("expected false result")
	}
	if !errors.Is(err, errors.ErrSizeMismatch) {
		t.Fatalf("got %v, want ErrSizeMismatch", err)
	}
}

func TestCapacityLaw(t *testing.T) {
	dir := t.TempDir()
	w, err := caf.NewWriter(dir, "", 1000)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		ok, err := w.AppendBuffer("f"+string(rune('a'+i)), member(byte(i), 400))
		if err != nil || !ok {
			t.Fatalf("append %d: ok=%v err=%v", i, ok, err)
		}
	}

	before := w.Offset()
	ok, err := w.AppendBuffer("f-third", member(2, 400))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("expected capacity rejection")
	}
	if w.Offset() != before {
		t.Fatalf("offset changed on rejected append: %d != %d", w.Offset(), before)
	}
}

func TestSingleMemberExactBudget(t *testing.T) {
	dir := t.TempDir()
	w, err := caf.NewWriter(dir, "", 500)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := w.AppendBuffer("exact", member(0, 500))
	if err != nil || !ok {
		t.Fatalf("exact-budget append should succeed: ok=%v err=%v", ok, err)
	}
	if _, err := w.Finalize(); err != nil {
		t.Fatal(err)
	}

	dir2 := t.TempDir()
	w2, err := caf.NewWriter(dir2, "", 500)
	if err != nil {
		t.Fatal(err)
	}
	ok, err = w2.AppendBuffer("over", member(0, 501))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("budget+1 append should be rejected")
	}
}

func TestEmptyMemberRejected(t *testing.T) {
	dir := t.TempDir()
	w, err := caf.NewWriter(dir, "", 1000)
	if err != nil {
		t.Fatal(err)
	}
	_, err = w.AppendBuffer("empty", nil)
	if !errors.Is(err, errors.ErrEmptyMember) {
		t.Fatalf("got %v, want ErrEmptyMember", err)
	}
}

func TestDuplicateMemberRejected(t *testing.T) {
	dir := t.TempDir()
	w, err := caf.NewWriter(dir, "", 1000)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.AppendBuffer("dup", member(0, 10)); err != nil {
		t.Fatal(err)
	}
	_, err = w.AppendBuffer("dup", member(1, 10))
	if !errors.Is(err, errors.ErrDuplicateMember) {
		t.Fatalf("got %v, want ErrDuplicateMember", err)
	}
}

func TestUseAfterFinalize(t *testing.T) {
	dir := t.TempDir()
	w, err := caf.NewWriter(dir, "", 1000)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.AppendBuffer("a", member(0, 10)); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Finalize(); err != nil {
		t.Fatal(err)
	}
	if _, err := w.AppendBuffer("b", member(0, 10)); !errors.Is(err, errors.ErrUseAfterFinalize) {
		t.Fatalf("got %v, want ErrUseAfterFinalize", err)
	}
	if _, err := w.Finalize(); !errors.Is(err, errors.ErrUseAfterFinalize) {
		t.Fatalf("got %v, want ErrUseAfterFinalize", err)
	}
}

func TestIndexNotLoaded(t *testing.T) {
	dir := t.TempDir()
	w, err := caf.NewWriter(dir, "", 1000)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.AppendBuffer("a", member(0, 10)); err != nil {
		t.Fatal(err)
	}
	path, err := w.Finalize()
	if err != nil {
		t.Fatal(err)
	}

	r, err := caf.NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if _, err := r.List(); !errors.Is(err, errors.ErrIndexNotLoaded) {
		t.Fatalf("got %v, want ErrIndexNotLoaded", err)
	}
}

func TestCorruptContainerUnsupportedVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.caf")
	body := []byte("payload")
	idxJSON := []byte(`{"format_version":"2.0","files":{}}`)
	data := append(append([]byte{}, body...), idxJSON...)
	footer := make([]byte, 4)
	footer[0] = byte(len(idxJSON))
	data = append(data, footer...)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	r, err := caf.NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if err := r.LoadIndex(); !errors.Is(err, errors.ErrUnsupportedVersion) {
		t.Fatalf("got %v, want ErrUnsupportedVersion", err)
	}
}

func TestExtractAll(t *testing.T) {
	dir := t.TempDir()
	w, err := caf.NewWriter(dir, "", 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.AppendBuffer("T1/sub/a.bin", member(0, 16)); err != nil {
		t.Fatal(err)
	}
	path, err := w.Finalize()
	if err != nil {
		t.Fatal(err)
	}

	r, err := caf.NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if err := r.LoadIndex(); err != nil {
		t.Fatal(err)
	}

	out := t.TempDir()
	if err := r.ExtractAll(out); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(out, "T1", "sub", "a.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, member(0, 16)) {
		t.Fatalf("extracted bytes mismatch")
	}
}
