// Package jobs implements the concrete Producers of §4.H.1-4.H.4: one
// type per job kind, each built against the internal/gitio.Repository
// capability rather than any specific git backend.
package jobs

import (
	"context"
	"fmt"

	"github.com/distr1/jsongit2/internal/engine"
	"github.com/distr1/jsongit2/internal/gitio"
	"github.com/distr1/jsongit2/internal/purify"
)

// RefList emits a single items-array entry {"schema":…,"cid":…,
// "reflist":[{"name":…,"summary":{…}}…]} (§4.H.1). Used for mode=tags
// (refs/tags/*) and for mode=branches and mode=blog (refs/heads/*).
type RefList struct {
	Repo   gitio.Repository
	Refs   []gitio.Ref
	CID    string
	Filter func(gitio.Ref) bool // nil = include all

	filtered []gitio.Ref
	i        int
	opened   bool
}

func (r *RefList) Start(context.Context) error {
	for _, ref := range r.Refs {
		if r.Filter == nil || r.Filter(ref) {
			r.filtered = append(r.filtered, ref)
		}
	}
	return nil
}

func (r *RefList) Step(ctx context.Context, sink *engine.Sink, maxBytes int) (bool, error) {
	wrote := false
	if !r.opened {
		sink.WriteString(fmt.Sprintf(`{"schema":"libjg2-1","cid":%q,"reflist":[`, r.CID))
		r.opened = true
		wrote = true
	}
	for r.i < len(r.filtered) {
		ref := r.filtered[r.i]
		summary, err := summarizeObject(r.Repo, ref.OID)
		if err != nil {
			summary = fmt.Sprintf(`{"error":%q}`, purify.String(err.Error()))
		}
		item := fmt.Sprintf(`{"name":%q,"summary":%s}`, purify.String(ref.Name), summary)
		if r.i > 0 {
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
		r.i++
	}
	sink.WriteString("]}")
	return true, nil
}

func (r *RefList) Destroy()             {}
func (r *RefList) DestroyWhileRunning() {}

// summarizeObject renders the {"type":…, "oid":…} object summary of each
// ref-list entry.
func summarizeObject(repo gitio.Repository, oid string) (string, error) {
	c, err := repo.Commit(oid)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		`{"type":"commit","oid":%q,"author":%q,"authoremail":%q,"when":%d,"subject":%q}`,
		c.OID, purify.String(c.Author.Name), purify.String(c.Author.Email),
		c.Author.When.Unix(), purify.String(c.Subject),
	), nil
}
