package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func tempData(t *testing.T) *FS {
	t.Helper()
	fs, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestNewFSCreatesRoot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	s, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	if info, err := os.Stat(s.Root()); err != nil || !info.IsDir() {
		t.Fatalf("root not created: %v", err)
	}
}

func TestWriteAndRead(t *testing.T) {
	s := tempData(t)
	content := []byte(`{"service_url":"http://example.com"}`)
	if err := s.Write("Foo.json", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("Foo.json")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestReadMissingWrapsNotExist(t *testing.T) {
	s := tempData(t)
	_, err := s.Read("missing.json")
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want os.ErrNotExist", err)
	}
}

func TestDelete(t *testing.T) {
	s := tempData(t)
	_ = s.Write("del.buf", []byte("[]"))
	if err := s.Delete("del.buf"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("del.buf"); err == nil {
		t.Error("expected error reading deleted file")
	}
}

func TestListByExtension(t *testing.T) {
	s := tempData(t)
	_ = s.Write("A.json", []byte("{}"))
	_ = s.Write("B.json", []byte("{}"))
	_ = s.Write("A.buf", []byte("[]"))

	items, err := s.List(".json")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("len = %d, want 2", len(items))
	}
	for _, it := range items {
		if it.Checksum == "" {
			t.Errorf("%s: empty checksum", it.Name)
		}
	}

	all, err := s.List("")
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len(all) = %d, want 3", len(all))
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempData(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.json",
		"/etc/shadow",
		"",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestAtomicWriteLeavesNoTemp(t *testing.T) {
	s := tempData(t)
	_ = s.Write("atomic.buf", []byte("original"))
	if err := s.Write("atomic.buf", []byte("updated")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("atomic.buf")
	if string(got) != "updated" {
		t.Errorf("content = %q", got)
	}

	entries, _ := os.ReadDir(s.Root())
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".buf" {
			t.Errorf("leftover file %s", e.Name())
		}
	}
}
