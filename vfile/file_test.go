package vfile

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jify-db/jify/jerr"
)

func TestCreateAlreadyExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")

	f, err := Create(path, []byte("[\n]\n"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	_, err = Create(path, nil)
	if !errors.Is(err, jerr.AlreadyExists) {
		t.Fatalf("Create on existing path = %v, want AlreadyExists", err)
	}
}

func TestOpenNotFound(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(filepath.Join(dir, "missing.json"))
	if !errors.Is(err, jerr.NotFound) {
		t.Fatalf("Open missing = %v, want NotFound", err)
	}
}

func TestAppendAndReadAt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	f, err := Create(path, []byte("[\n]\n"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	off, err := f.Append([]byte("hello"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if off != 4 {
		t.Fatalf("Append offset = %d, want 4", off)
	}

	buf := make([]byte, 5)
	if _, err := f.ReadAt(buf, off); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("ReadAt = %q, want hello", buf)
	}
}

func TestDelete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	f, err := Create(path, []byte("[\n]\n"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.Delete(); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file still exists after Delete")
	}
}

func TestSharedLocksCoalesce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.json")
	f, err := Create(path, []byte("[\n]\n"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	if err := f.Lock(0, false); err != nil {
		t.Fatalf("Lock shared #1: %v", err)
	}
	if err := f.Lock(0, false); err != nil {
		t.Fatalf("Lock shared #2: %v", err)
	}

	if err := f.Unlock(0); err != nil {
		t.Fatalf("Unlock #1: %v", err)
	}
	if err := f.Unlock(0); err != nil {
		t.Fatalf("Unlock #2: %v", err)
	}
}

func TestExclusiveWaitsForShared(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.json")
	f, err := Create(path, []byte("[\n]\n"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	if err := f.Lock(0, false); err != nil {
		t.Fatalf("Lock shared: %v", err)
	}

	gotExclusive := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := f.Lock(0, true); err != nil {
			t.Errorf("Lock exclusive: %v", err)
			return
		}
		close(gotExclusive)
		f.Unlock(0)
	}()

	select {
	case <-gotExclusive:
		t.Fatalf("exclusive lock acquired while shared holder active")
	case <-time.After(50 * time.Millisecond):
	}

	if err := f.Unlock(0); err != nil {
		t.Fatalf("Unlock shared: %v", err)
	}

	select {
	case <-gotExclusive:
	case <-time.After(time.Second):
		t.Fatalf("exclusive lock never acquired after shared release")
	}
	wg.Wait()
}
