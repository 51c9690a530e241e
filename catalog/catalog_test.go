package catalog

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTemp(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "nested", "catalog.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestHashStable(t *testing.T) {
	a := Hash([]byte("\x1bLua"))
	if a != Hash([]byte("\x1bLua")) {
		t.Error("hash differs for equal input")
	}
	if a == Hash([]byte("\x1bLub")) {
		t.Error("hash equal for different input")
	}
	if len(a) != 32 {
		t.Errorf("hash length = %d, want 32", len(a))
	}
}

func TestRecordAndSeen(t *testing.T) {
	c := openTemp(t)
	run, err := c.Begin("/src")
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	ok := Hash([]byte("ok"))
	bad := Hash([]byte("bad"))
	if err := run.Record(Entry{Path: "a.luac", Hash: ok, Status: StatusOK, Bytes: 10}); err != nil {
		t.Fatal(err)
	}
	if err := run.Record(Entry{Path: "b.luac", Hash: bad, Status: StatusFailed, Error: "boom"}); err != nil {
		t.Fatal(err)
	}
	if err := run.Finish(); err != nil {
		t.Fatal(err)
	}

	if seen, err := c.Seen(ok); err != nil || !seen {
		t.Errorf("Seen(ok) = %v, %v, want true", seen, err)
	}
	if seen, err := c.Seen(bad); err != nil || seen {
		t.Errorf("Seen(failed) = %v, %v, want false", seen, err)
	}

	entries, err := c.Entries(run.ID)
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[1].Path != "b.luac" || entries[1].Error != "boom" || entries[1].Status != StatusFailed {
		t.Errorf("entry = %+v", entries[1])
	}
}

func TestSeenAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	c, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	run, _ := c.Begin("/src")
	h := Hash([]byte("chunk"))
	if err := run.Record(Entry{Path: "x.luac", Hash: h, Status: StatusOK}); err != nil {
		t.Fatal(err)
	}
	c.Close()

	c, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if seen, _ := c.Seen(h); !seen {
		t.Error("hash not seen after reopening")
	}
}

func TestRecordReplaces(t *testing.T) {
	c := openTemp(t)
	run, _ := c.Begin("/src")
	h := Hash([]byte("x"))
	run.Record(Entry{Path: "x.luac", Hash: h, Status: StatusFailed})
	run.Record(Entry{Path: "x.luac", Hash: h, Status: StatusDegraded, Warnings: 2})

	entries, err := c.Entries(run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Status != StatusDegraded || entries[0].Warnings != 2 {
		t.Errorf("entries = %+v", entries)
	}
}

func TestEntriesUnknownRun(t *testing.T) {
	c := openTemp(t)
	if _, err := c.Entries("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("err = %v, want ErrRunNotFound", err)
	}
}
