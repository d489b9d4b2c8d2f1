// Package cache implements the content-addressed disk cache described in
// the core (§4.B): a file store keyed by a hex fingerprint, with atomic
// publish-by-rename and an incremental, size-capped LRU trimmer. It is
// grounded on lib/cache.c's __jg2_cache_query/jg2_cache_trim pair, adapted
// to Go idiom the way internal/install.go commits squashfs files with
// github.com/google/renameio instead of hand-rolled rename-then-fsync.
package cache

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio"
	"golang.org/x/xerrors"
)

// QueryResult is the outcome of a cache lookup, matching the four-way
// result of __jg2_cache_query.
type QueryResult int

const (
	// NoCache means caching is disabled or degraded for this request;
	// the caller must produce output live and not attempt to write
	// through.
	NoCache QueryResult = iota
	// Exists means a committed artifact is already on disk; the caller
	// should stream it back verbatim.
	Exists
	// Creating means no artifact exists yet and the caller has
	// exclusive ownership of a temp file to write the fresh artifact
	// into, write-through, finalizing on completion.
	Creating
)

// Cache is a content-addressed file store rooted at Base.
type Cache struct {
	Base string

	// SizeLimit is the aggregate size, in bytes, the cache is trimmed
	// down to. Zero means the default of 256 MiB (§4.B).
	SizeLimit int64

	// UID carries the cachedir uid from the Vhost config. Query and
	// Finalize do not chown anything with it: cache directories and
	// files keep the ownership of the process that created them.
	UID int
}

// Entry is a handle to an in-progress or existing cache entry.
type Entry struct {
	// Path is the canonical (committed) path for this key.
	Path string
	// Size is populated when Result == Exists.
	Size int64

	result QueryResult
	tmp    *renameio.PendingFile
	final  string
}

// Result reports which of NoCache/Exists/Creating this entry represents.
func (e *Entry) Result() QueryResult { return e.result }

// path splits a 32-char hex fingerprint into the two-level shard path
// base/<k[0]>/<k[1]>/<k>[-suffix], mirroring §4.B's path layout.
func (c *Cache) path(keyHex, suffix string) string {
	name := keyHex
	if suffix != "" {
		name += "-" + suffix
	}
	return filepath.Join(c.Base, keyHex[0:1], keyHex[1:2], name)
}

// Query looks up keyHex (optionally namespaced by suffix, e.g. a job kind
// discriminator sharing a key prefix with a different artifact kind). When
// allowCreate is false a miss returns NoCache instead of Creating, used
// for e.g. bot requests that must not pollute the cache (§4.B "Touch on
// hit").
func (c *Cache) Query(keyHex, suffix string, allowCreate bool) (*Entry, error) {
	if c.Base == "" {
		return &Entry{result: NoCache}, nil
	}
	p := c.path(keyHex, suffix)
	if fi, err := os.Stat(p); err == nil {
		// touch for LRU: refresh mtime without altering content.
		now := time.Now()
		_ = os.Chtimes(p, now, now)
		return &Entry{Path: p, Size: fi.Size(), result: Exists}, nil
	} else if !os.IsNotExist(err) {
		// cache query errors degrade to NO_CACHE (§4.B failure semantics).
		return &Entry{result: NoCache}, nil
	}

	if !allowCreate {
		return &Entry{result: NoCache}, nil
	}

	if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
		return &Entry{result: NoCache}, nil
	}
	tmp, err := renameio.TempFile(filepath.Dir(p), p)
	if err != nil {
		return &Entry{result: NoCache}, nil
	}
	return &Entry{Path: p, result: Creating, tmp: tmp, final: p}, nil
}

// Write appends b to the in-progress temp file. It is a no-op (and
// returns a nil error) once the entry has been disabled by a prior
// failure, so job producers can keep writing live output unconditionally.
func (e *Entry) Write(b []byte) error {
	if e.tmp == nil {
		return nil
	}
	if _, err := e.tmp.Write(b); err != nil {
		e.abort()
		return xerrors.Errorf("cache write: %w", err)
	}
	return nil
}

// Finalize commits the temp file under its canonical name. Any I/O error
// aborts the write (closes and unlinks the temp) and disables the cache
// for the remainder of this job (§4.B failure semantics); it does not
// propagate to the caller, whose job has already produced correct live
// output regardless.
func (e *Entry) Finalize() {
	if e.tmp == nil {
		return
	}
	if err := e.tmp.CloseAtomicallyReplace(); err != nil {
		// CloseAtomicallyReplace leaves its temp file behind on
		// failure; remove it.
		e.tmp.Cleanup()
	}
	e.tmp = nil
}

// Abort releases the in-progress temp file without publishing it,
// e.g. when a context is destroyed mid-stream (§5 Cancellation,
// testable property 7: no "~"-suffixed temp ever lingers).
func (e *Entry) Abort() { e.abort() }

func (e *Entry) abort() {
	if e.tmp == nil {
		return
	}
	e.tmp.Cleanup()
	e.tmp = nil
}

// Open opens a committed entry for reading.
func Open(path string) (io.ReadCloser, error) {
	return os.Open(path)
}
