package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestQueryMissThenCreateThenHit(t *testing.T) {
	dir := t.TempDir()
	c := &Cache{Base: dir}
	key := "0123456789abcdef0123456789abcdef"

	e, err := c.Query(key, "", true)
	if err != nil {
		t.Fatal(err)
	}
	if e.Result() != Creating {
		t.Fatalf("Result() = %v, want Creating", e.Result())
	}
	if err := e.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	e.Finalize()

	e2, err := c.Query(key, "", true)
	if err != nil {
		t.Fatal(err)
	}
	if e2.Result() != Exists {
		t.Fatalf("Result() = %v, want Exists", e2.Result())
	}
	b, err := os.ReadFile(e2.Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "hello" {
		t.Fatalf("content = %q, want hello", b)
	}
}

func TestQueryNoCreateMissIsNoCache(t *testing.T) {
	dir := t.TempDir()
	c := &Cache{Base: dir}
	e, err := c.Query("0123456789abcdef0123456789abcdef", "", false)
	if err != nil {
		t.Fatal(err)
	}
	if e.Result() != NoCache {
		t.Fatalf("Result() = %v, want NoCache", e.Result())
	}
}

func TestAbortLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	c := &Cache{Base: dir}
	key := "fedcba9876543210fedcba9876543210"
	e, err := c.Query(key, "", true)
	if err != nil {
		t.Fatal(err)
	}
	e.Write([]byte("partial"))
	e.Abort()

	shard := filepath.Join(dir, key[0:1], key[1:2])
	entries, err := os.ReadDir(shard)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		t.Fatal(err)
	}
	for _, de := range entries {
		t.Fatalf("leftover temp entry: %s", de.Name())
	}
}

func TestTrimEvictsOldestUntilUnderLimit(t *testing.T) {
	dir := t.TempDir()
	c := &Cache{Base: dir, SizeLimit: 10}

	write := func(name string, size int, age time.Duration) {
		p := filepath.Join(dir, name[0:1], name[1:2], name)
		if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, make([]byte, size), 0600); err != nil {
			t.Fatal(err)
		}
		mt := time.Now().Add(-age)
		if err := os.Chtimes(p, mt, mt); err != nil {
			t.Fatal(err)
		}
	}

	write("aa000000000000000000000000000001", 5, 2*time.Hour)
	write("bb000000000000000000000000000002", 5, 1*time.Hour)
	write("cc000000000000000000000000000003", 5, 1*time.Minute)

	tr := NewTrimmer(c)
	for i := 0; i < numShards; i++ {
		if err := tr.Step(); err != nil {
			t.Fatal(err)
		}
	}

	remaining := 0
	var totalSize int64
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		remaining++
		totalSize += info.Size()
		return nil
	})
	if totalSize > c.SizeLimit {
		t.Fatalf("totalSize = %d, want <= %d", totalSize, c.SizeLimit)
	}
	if remaining == 0 {
		t.Fatalf("expected at least one survivor")
	}
}
