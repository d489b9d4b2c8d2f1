package jobs

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/distr1/jsongit2/internal/engine"
	"github.com/distr1/jsongit2/internal/gitio"
	"github.com/distr1/jsongit2/internal/purify"
)

// inlineDocPriority ranks candidate inline-doc filenames within a
// directory listing, lowest number wins (§4.H.1 "README.md > README >
// *.mkd > *.md").
func inlineDocPriority(name string) (int, bool) {
	switch {
	case name == "README.md":
		return 0, true
	case name == "README":
		return 1, true
	case strings.HasSuffix(name, ".mkd"):
		return 2, true
	case strings.HasSuffix(name, ".md"):
		return 3, true
	}
	return 0, false
}

// Tree resolves a revision+sub-path to either a directory listing or a
// blob (§4.H.1 "tree"). InlineDoc, if non-empty after Start runs, names
// the best inline-doc candidate found in a directory listing so the
// caller can chain a second Tree producer to read it.
type Tree struct {
	Repo     gitio.Repository
	OID      string // commit oid
	SubPath  string
	CID      string

	entries   []gitio.TreeEntry
	isBlob    bool
	blobEntry gitio.TreeEntry

	InlineDoc string

	i       int
	opened  bool
	blobGot bool
}

func (t *Tree) Start(context.Context) error {
	entries, err := t.Repo.Tree(t.OID, t.SubPath)
	if err != nil {
		return err
	}
	if len(entries) == 1 && entries[0].Name == "" {
		t.isBlob = true
		t.blobEntry = entries[0]
		return nil
	}
	sort.Slice(entries, func(i, j int) bool {
		di, dj := entries[i].Type == gitio.ObjectTree, entries[j].Type == gitio.ObjectTree
		if di != dj {
			return di
		}
		return entries[i].Name < entries[j].Name
	})
	t.entries = entries

	best := -1
	for _, e := range entries {
		if e.Type != gitio.ObjectBlob {
			continue
		}
		if p, ok := inlineDocPriority(e.Name); ok {
			if best == -1 || p < best {
				best = p
				t.InlineDoc = e.Name
			}
		}
	}
	return nil
}

func (t *Tree) Step(ctx context.Context, sink *engine.Sink, maxBytes int) (bool, error) {
	if t.isBlob {
		return t.stepBlob(sink, maxBytes)
	}
	return t.stepDir(sink, maxBytes)
}

func (t *Tree) stepBlob(sink *engine.Sink, maxBytes int) (bool, error) {
	if t.blobGot {
		return true, nil
	}
	binary, err := t.Repo.IsBinary(t.blobEntry.OID)
	if err != nil {
		return false, err
	}
	var body string
	if binary {
		body = fmt.Sprintf(`{"schema":"libjg2-1","cid":%q,"blobname":%q,"bloblink":"/plain/%s"}`,
			t.CID, purify.String(t.blobEntry.Name), t.blobEntry.OID)
	} else {
		rc, _, err := t.Repo.Blob(t.blobEntry.OID)
		if err != nil {
			return false, err
		}
		defer rc.Close()
		data := make([]byte, t.blobEntry.Size)
		_, _ = readFull(rc, data)
		body = fmt.Sprintf(`{"schema":"libjg2-1","cid":%q,"blobname":%q,"blob":%q}`,
			t.CID, purify.String(t.blobEntry.Name), purify.String(string(data)))
	}
	// the blob body is a single atomic unit: always written in full even
	// if it overruns maxBytes, since the sink is unbounded and drains
	// over subsequent Fill calls.
	sink.WriteString(body)
	t.blobGot = true
	return true, nil
}

func (t *Tree) stepDir(sink *engine.Sink, maxBytes int) (bool, error) {
	wrote := false
	if !t.opened {
		sink.WriteString(fmt.Sprintf(`{"schema":"libjg2-1","cid":%q,"tree":[`, t.CID))
		t.opened = true
		wrote = true
	}
	for t.i < len(t.entries) {
		e := t.entries[t.i]
		item := fmt.Sprintf(`{"name":%q,"mode":%d,"size":%d,"type":%q}`,
			purify.String(e.Name), e.Mode, e.Size, objectTypeName(e.Type))
		if t.i > 0 {
			item = "," + item
		}
		// a single item is always written even if it overruns
		// maxBytes, so a small caller buffer can never deadlock.
		if wrote && len(item) > maxBytes {
			return false, nil
		}
		sink.WriteString(item)
		maxBytes -= len(item)
		wrote = true
		t.i++
	}
	sink.WriteString("]}")
	return true, nil
}

// Next implements engine.Chainer: a directory listing whose best inline
// doc candidate was found during Start chains a second Tree producer
// that reads that blob, so its contents stream as the next items[]
// entry (§4.H.1 "chain a second tree job to emit its contents").
func (t *Tree) Next() engine.Producer {
	if t.isBlob || t.InlineDoc == "" {
		return nil
	}
	docPath := t.InlineDoc
	if t.SubPath != "" {
		docPath = t.SubPath + "/" + t.InlineDoc
	}
	return &Tree{Repo: t.Repo, OID: t.OID, SubPath: docPath, CID: t.CID}
}

func (t *Tree) Destroy()             {}
func (t *Tree) DestroyWhileRunning() {}

func objectTypeName(t gitio.ObjectType) string {
	switch t {
	case gitio.ObjectTree:
		return "tree"
	case gitio.ObjectCommit:
		return "commit"
	case gitio.ObjectTag:
		return "tag"
	default:
		return "blob"
	}
}

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}
