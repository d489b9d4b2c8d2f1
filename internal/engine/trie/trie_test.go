package trie

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuildWriteOpenQuery(t *testing.T) {
	b := NewBuilder()
	b.AddFile("main.go", []byte("package main\nfunc main() { fmt.Println(\"hello\") }"), 10)
	b.AddFile("readme.md", []byte("hello world readme"), 5)
	idx := b.Finish()

	dir := t.TempDir()
	path := filepath.Join(dir, "index.trie")
	if err := WriteFile(path, idx); err != nil {
		t.Fatal(err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	ac := r.Autocomplete("hel", 16)
	if len(ac) == 0 {
		t.Fatalf("expected autocomplete hits for prefix 'hel'")
	}

	fps := r.FilePaths()
	if len(fps) != 2 {
		t.Fatalf("FilePaths returned %d, want 2", len(fps))
	}

	hits := r.Search("readme")
	found := false
	for _, h := range hits {
		if h == "readme.md" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Search(readme) should find readme.md, got %v", hits)
	}
}

func TestTokenizeSplitsOnNonWordRunes(t *testing.T) {
	toks := Tokenize([]byte("foo-bar_baz 123"))
	want := []string{"foo", "bar_baz", "123"}
	if len(toks) != len(want) {
		t.Fatalf("Tokenize = %v, want %v", toks, want)
	}
	for i := range want {
		if toks[i] != want[i] {
			t.Fatalf("Tokenize[%d] = %q, want %q", i, toks[i], want[i])
		}
	}
}

func TestOpenMissingFileErrors(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("expected error opening a missing index")
	}
}

func TestWriteFileRejectsUnwritableDir(t *testing.T) {
	if err := WriteFile(filepath.Join(string(os.PathSeparator), "nonexistent-dir-xyz", "f"), &Index{}); err == nil {
		t.Fatalf("expected error writing to an unwritable path")
	}
}
