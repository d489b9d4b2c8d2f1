// Package trie builds and queries the per-(repo, ref) search index
// described in spec §4.H.4: a tree walk feeds whitelisted file contents
// into a token index with per-file priority scores, later queried in
// autocomplete, file-path, or full-text modes.
//
// No library in the retrieval pack offers a ready-made trie or inverted
// index, so this is hand-rolled (a documented stdlib-only exception,
// DESIGN.md). Index files are read back via golang.org/x/exp/mmap,
// carried over from the teacher's use of mmap in internal/install; Open
// copies the mapped file into a heap buffer and decodes the whole Index
// into memory before any query runs.
package trie

import (
	"bytes"
	"encoding/gob"
	"io"
	"os"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/exp/mmap"
)

// Posting is one occurrence of a token in a file, carrying the file's
// priority score so higher-priority files sort first in results.
type Posting struct {
	FilePath string
	Priority int
}

// Index is the in-memory (and on-disk gob-encoded) token → postings
// table plus the full file list, used for "fp" (file-path) queries.
type Index struct {
	Tokens map[string][]Posting
	Files  []string
}

// Builder accumulates postings across many AddFile calls (one per
// whitelisted blob visited during the tree walk) before Finish renders
// the Index.
type Builder struct {
	idx Index
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{idx: Index{Tokens: make(map[string][]Posting)}}
}

// AddFile tokenizes content and records each distinct token's posting
// for filePath at the given priority.
func (b *Builder) AddFile(filePath string, content []byte, priority int) {
	b.idx.Files = append(b.idx.Files, filePath)
	seen := make(map[string]bool)
	for _, tok := range Tokenize(content) {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		b.idx.Tokens[tok] = append(b.idx.Tokens[tok], Posting{FilePath: filePath, Priority: priority})
	}
}

// Tokenize splits content on non-alphanumeric runes and lowercases the
// result, which is adequate for both autocomplete prefixes and simple
// full-text containment queries.
func Tokenize(content []byte) []string {
	var toks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, strings.ToLower(cur.String()))
			cur.Reset()
		}
	}
	for _, r := range string(content) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return toks
}

// Finish returns the completed Index.
func (b *Builder) Finish() *Index {
	for _, postings := range b.idx.Tokens {
		sort.Slice(postings, func(i, j int) bool { return postings[i].Priority > postings[j].Priority })
	}
	return &b.idx
}

// WriteFile gob-encodes idx to path.
func WriteFile(path string, idx *Index) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(idx)
}

// Reader is a read-only handle on an on-disk index, opened via mmap. The
// decoded Index is held in the heap; the mapping stays open until Close.
type Reader struct {
	ra  *mmap.ReaderAt
	idx *Index
}

// Open mmaps path and decodes its Index.
func Open(path string) (*Reader, error) {
	ra, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, ra.Len())
	if _, err := ra.ReadAt(buf, 0); err != nil && err != io.EOF {
		ra.Close()
		return nil, err
	}
	var idx Index
	if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(&idx); err != nil {
		ra.Close()
		return nil, err
	}
	return &Reader{ra: ra, idx: &idx}, nil
}

// Close releases the mmap.
func (r *Reader) Close() error { return r.ra.Close() }

// Autocomplete returns up to max distinct file paths whose tokens start
// with prefix, highest-priority postings first.
func (r *Reader) Autocomplete(prefix string, max int) []string {
	prefix = strings.ToLower(prefix)
	var postings []Posting
	for tok, ps := range r.idx.Tokens {
		if strings.HasPrefix(tok, prefix) {
			postings = append(postings, ps...)
		}
	}
	sort.Slice(postings, func(i, j int) bool { return postings[i].Priority > postings[j].Priority })
	seen := make(map[string]bool)
	var out []string
	for _, p := range postings {
		if seen[p.FilePath] {
			continue
		}
		seen[p.FilePath] = true
		out = append(out, p.FilePath)
		if len(out) >= max {
			break
		}
	}
	return out
}

// FilePaths returns every file path in the index (mode "fp").
func (r *Reader) FilePaths() []string {
	out := append([]string(nil), r.idx.Files...)
	sort.Strings(out)
	return out
}

// Search returns file paths containing needle as a whole token (mode
// "search"), highest priority first.
func (r *Reader) Search(needle string) []string {
	postings := r.idx.Tokens[strings.ToLower(needle)]
	seen := make(map[string]bool)
	var out []string
	for _, p := range postings {
		if seen[p.FilePath] {
			continue
		}
		seen[p.FilePath] = true
		out = append(out, p.FilePath)
	}
	return out
}
