package jobs

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/distr1/jsongit2/internal/engine"
	"github.com/distr1/jsongit2/internal/engine/trie"
	"github.com/distr1/jsongit2/internal/gitio"
)

// searchWhitelist is the extension whitelist §4.H.4 describes; priority
// favors documentation and top-level source over generated/vendored
// material.
var searchWhitelist = map[string]int{
	".go": 10, ".c": 10, ".h": 10, ".cc": 10, ".cpp": 10, ".py": 9, ".js": 8,
	".ts": 8, ".rs": 9, ".java": 8, ".md": 7, ".txt": 5, ".rst": 6,
}

func searchPriority(filePath string) (int, bool) {
	p, ok := searchWhitelist[strings.ToLower(path.Ext(filePath))]
	return p, ok
}

// OngoingIndex is the marker pinned in a repo while a trie is building
// (§3 "Ongoing-index marker"), so concurrent requesters see build
// progress instead of duplicating the walk.
type OngoingIndex struct {
	mu         sync.Mutex
	Fingerprint string
	FilesToDo  int
	FilesDone  int
	Started    time.Time
	done       bool
	err        error
}

func NewOngoingIndex(fingerprint string) *OngoingIndex {
	return &OngoingIndex{Fingerprint: fingerprint, Started: time.Now()}
}

func (o *OngoingIndex) progress() (done, total int, finished bool, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.FilesDone, o.FilesToDo, o.done, o.err
}

// SearchIndexBuilder walks a revision's tree, feeding whitelisted blobs
// into a trie.Builder, and publishes the finished index to destPath on
// completion (§4.H.4 "Index build"). It updates Marker as it goes so
// concurrent SearchStillBuilding producers can report live progress.
type SearchIndexBuilder struct {
	Repo     gitio.Repository
	OID      string
	DestPath string
	Marker   *OngoingIndex

	built bool
}

func (b *SearchIndexBuilder) Start(context.Context) error {
	return nil
}

// Run performs the entire walk-and-build synchronously; callers
// typically invoke it on its own goroutine and poll Marker, since a full
// repository index build can run far longer than a single Step call
// should block for.
func (b *SearchIndexBuilder) Run() error {
	builder := trie.NewBuilder()

	var candidates []struct {
		path     string
		entry    gitio.TreeEntry
		priority int
	}
	err := b.Repo.WalkTree(b.OID, func(p string, e gitio.TreeEntry) bool {
		if e.Type != gitio.ObjectBlob {
			return true
		}
		if prio, ok := searchPriority(p); ok {
			candidates = append(candidates, struct {
				path     string
				entry    gitio.TreeEntry
				priority int
			}{p, e, prio})
		}
		return true
	})
	if err != nil {
		b.Marker.mu.Lock()
		b.Marker.err = err
		b.Marker.done = true
		b.Marker.mu.Unlock()
		return err
	}

	b.Marker.mu.Lock()
	b.Marker.FilesToDo = len(candidates)
	b.Marker.mu.Unlock()

	for _, c := range candidates {
		rc, _, err := b.Repo.Blob(c.entry.OID)
		if err == nil {
			data := make([]byte, c.entry.Size)
			_, _ = readFull(rc, data)
			rc.Close()
			builder.AddFile(c.path, data, c.priority)
		}
		b.Marker.mu.Lock()
		b.Marker.FilesDone++
		b.Marker.mu.Unlock()
	}

	idx := builder.Finish()
	if err := trie.WriteFile(b.DestPath, idx); err != nil {
		b.Marker.mu.Lock()
		b.Marker.err = err
		b.Marker.done = true
		b.Marker.mu.Unlock()
		return err
	}

	b.Marker.mu.Lock()
	b.Marker.done = true
	b.Marker.mu.Unlock()
	return nil
}

func (b *SearchIndexBuilder) Step(ctx context.Context, sink *engine.Sink, maxBytes int) (bool, error) {
	done, total, finished, err := b.Marker.progress()
	if err != nil {
		msg := fmt.Sprintf(`{"schema":"libjg2-1","cid":"","error":%q}`, err.Error())
		sink.WriteString(msg)
		return true, nil
	}
	if finished {
		return true, nil
	}
	sink.WriteString(fmt.Sprintf(`{"schema":"libjg2-1","cid":"","creating":{"done":%d,"total":%d}}`, done, total))
	return true, nil
}

func (b *SearchIndexBuilder) Destroy()             {}
func (b *SearchIndexBuilder) DestroyWhileRunning() {}

// SearchStillBuilding is the tiny response emitted to every requester
// that observes an index build already in progress, per §4.H.4
// "concurrent requesters ... all observe the same ongoing marker and
// receive a short still indexing JSON".
type SearchStillBuilding struct {
	Marker *OngoingIndex
}

func (s *SearchStillBuilding) Start(context.Context) error { return nil }

func (s *SearchStillBuilding) Step(ctx context.Context, sink *engine.Sink, maxBytes int) (bool, error) {
	done, total, _, _ := s.Marker.progress()
	sink.WriteString(fmt.Sprintf(`{"schema":"libjg2-1","cid":"","ongoing":{"done":%d,"total":%d}}`, done, total))
	return true, nil
}

func (s *SearchStillBuilding) Destroy()             {}
func (s *SearchStillBuilding) DestroyWhileRunning() {}

// QueryMode selects which of the three search query shapes to render.
type QueryMode int

const (
	QueryAutocomplete QueryMode = iota
	QueryFilePath
	QueryFullText
)

// SearchQuery answers an "ac"/"fp"/"search" request against an already
// built trie file (§4.H.4 "Query").
type SearchQuery struct {
	IndexPath string
	Mode      QueryMode
	Needle    string
	CID       string

	done bool
}

const maxAutocomplete = 16

func (s *SearchQuery) Start(context.Context) error { return nil }

func (s *SearchQuery) Step(ctx context.Context, sink *engine.Sink, maxBytes int) (bool, error) {
	if s.done {
		return true, nil
	}
	r, err := trie.Open(s.IndexPath)
	if err != nil {
		sink.WriteString(fmt.Sprintf(`{"schema":"libjg2-1","cid":%q,"error":%q}`, s.CID, err.Error()))
		s.done = true
		return true, nil
	}
	defer r.Close()

	var results []string
	key := "results"
	switch s.Mode {
	case QueryAutocomplete:
		results = r.Autocomplete(s.Needle, maxAutocomplete)
		key = "ac"
	case QueryFilePath:
		results = r.FilePaths()
		key = "fp"
	case QueryFullText:
		results = r.Search(s.Needle)
		key = "search"
	}

	sink.WriteString(fmt.Sprintf(`{"schema":"libjg2-1","cid":%q,%q:%s}`, s.CID, key, jsonStringArray(results)))
	s.done = true
	return true, nil
}

func (s *SearchQuery) Destroy()             {}
func (s *SearchQuery) DestroyWhileRunning() {}
