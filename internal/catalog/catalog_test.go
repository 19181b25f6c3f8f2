package catalog_test

import (
	"path/filepath"
	"testing"

	"github.com/cafworker/cafworker/internal/catalog"
)

func open(t *testing.T) *catalog.Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	c, err := catalog.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestInsertAndLookup(t *testing.T) {
	c := open(t)

	if err := c.Insert("T1", "a.bin", "batch_1.caf", "1"); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	rec, err := c.Lookup("T1", "a.bin")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rec == nil {
		t.Fatal("Lookup: expected a record, got none")
	}
	if rec.BundleID != "batch_1.caf" || rec.TaskID != "T1" || rec.FilePath != "a.bin" {
		t.Fatalf("Lookup: unexpected record %+v", rec)
	}
}

func TestLookupMiss(t *testing.T) {
	c := open(t)

	rec, err := c.Lookup("T1", "missing.bin")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rec != nil {
		t.Fatalf("Lookup: expected no record, got %+v", rec)
	}
}

func TestInsertDuplicateConflicts(t *testing.T) {
	c := open(t)

	if err := c.Insert("T1", "a.bin", "batch_1.caf", "1"); err != nil {
		t.Fatalf("first Insert: %v", err)
	}
	if err := c.Insert("T1", "a.bin", "batch_2.caf", "1"); err == nil {
		t.Fatal("second Insert: expected a uniqueness conflict, got nil")
	}
}

func TestWorkerIdentityMissing(t *testing.T) {
	c := open(t)

	if _, err := c.WorkerIdentity(1); err == nil {
		t.Fatal("WorkerIdentity: expected an error for an unseeded worker row")
	}
}
