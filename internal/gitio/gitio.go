// Package gitio defines the "git reader" capability that the core assumes
// per spec §6: opening a bare repository, enumerating its refs, and
// reading commits/trees/blobs/diffs/blame out of it. The core never binds
// to a specific git implementation directly; Repository is implemented
// here (GoGitOpener) on top of github.com/go-git/go-git/v5, the idiomatic
// pure-Go choice, but
// any implementation satisfying this interface can be substituted, the
// same way the library's MD5 implementation is pluggable (§9).
package gitio

import (
	"io"
	"time"
)

// ObjectType distinguishes git object kinds as surfaced to callers that
// don't want to import a concrete git library's enum.
type ObjectType int

const (
	ObjectCommit ObjectType = iota
	ObjectTree
	ObjectBlob
	ObjectTag
)

// Ref is a named pointer to an OID.
type Ref struct {
	Name string
	OID  string // lowercase hex
}

// Signature is a commit/tag author or committer identity.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// Commit is the subset of commit metadata the job producers need.
type Commit struct {
	OID       string
	Tree      string
	Parents   []string
	Author    Signature
	Committer Signature
	Subject   string
	Body      string
}

// TreeEntry is one line of a tree listing.
type TreeEntry struct {
	Name string
	Mode uint32
	OID  string
	Type ObjectType
	Size int64 // only valid for blobs
}

// DiffLine is one line of a unified diff, with libgit2-style origin
// markers: ' ' context, '+' addition, '-' deletion, relayed into the
// streaming phase the way job.c's diff callback appends into an arena for
// later replay.
type DiffLine struct {
	Origin byte
	Text   string
}

// FileDiff is the set of hunks for one changed file between two trees.
type FileDiff struct {
	OldPath, NewPath string
	Lines            []DiffLine
}

// BlameHunk is one contiguous range of lines attributed to a single
// commit, as produced by a blame walk.
type BlameHunk struct {
	LinesInHunk      int
	OrigStartLine    int
	FinalStartLine   int
	OrigCommit       string
	FinalCommit      string
	OrigSignature    Signature
	FinalSignature   Signature
	OrigSummary      string
	FinalSummary     string
}

// Repository is an open handle to one bare repository.
type Repository interface {
	// Refs returns every refs/heads/* and refs/tags/* ref, in
	// unspecified order; callers sort as needed.
	Refs() ([]Ref, error)

	// Resolve turns a ref name, short/long hex OID, or "HEAD" into a
	// full hex OID.
	Resolve(revision string) (string, error)

	// Commit reads a commit object.
	Commit(oid string) (*Commit, error)

	// Tree lists the direct children of the tree at (commitOID, path).
	// path == "" means the repository root.
	Tree(commitOID, path string) ([]TreeEntry, error)

	// Blob opens a blob for reading along with its size; the caller
	// must Close the reader.
	Blob(oid string) (io.ReadCloser, int64, error)

	// IsBinary reports whether the given blob looks binary (used to
	// decide whether tree/blob views inline the content or only link
	// to it).
	IsBinary(oid string) (bool, error)

	// Diff computes the unified diff between a commit and its first
	// parent (or against an empty tree, for a root commit).
	Diff(commitOID string) ([]FileDiff, error)

	// Blame computes per-line blame for path as of commitOID.
	Blame(commitOID, path string) ([]BlameHunk, error)

	// WalkTree visits every blob and subtree reachable from the tree at
	// commitOID, depth-first, calling visit(path, entry) for each (entry
	// Name holds the full path); visit returning false stops the walk
	// early. Subtrees more than 16 levels down are neither visited nor
	// descended into. Used by the search index builder (§4.H.4); the
	// archive producer walks Tree itself.
	WalkTree(commitOID string, visit func(path string, e TreeEntry) bool) error
}

// Opener opens a bare repository at path.
type Opener interface {
	Open(path string) (Repository, error)
}
