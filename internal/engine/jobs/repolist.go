package jobs

import (
	"context"
	"fmt"
	"sort"

	"github.com/distr1/jsongit2/internal/engine"
	"github.com/distr1/jsongit2/internal/purify"
)

// RepoSummary is one visible repository's listing metadata (§4.H.1
// "repo list").
type RepoSummary struct {
	Name, Desc, Owner, URL string
}

// RepoList emits an alphabetized array of {reponame, desc, owner, url},
// already restricted by ACL by the caller (both the vhost's configured
// identity and the request's authorized identity must have passed before
// a RepoSummary reaches here).
type RepoList struct {
	Repos []RepoSummary
	CID   string

	sorted []RepoSummary
	i      int
	opened bool
}

func (r *RepoList) Start(context.Context) error {
	r.sorted = append([]RepoSummary(nil), r.Repos...)
	sort.Slice(r.sorted, func(i, j int) bool { return r.sorted[i].Name < r.sorted[j].Name })
	return nil
}

func (r *RepoList) Step(ctx context.Context, sink *engine.Sink, maxBytes int) (bool, error) {
	wrote := false
	if !r.opened {
		sink.WriteString(fmt.Sprintf(`{"schema":"libjg2-1","cid":%q,"repos":[`, r.CID))
		r.opened = true
		wrote = true
	}
	for r.i < len(r.sorted) {
		rs := r.sorted[r.i]
		item := fmt.Sprintf(`{"reponame":%q,"desc":%q,"owner":%q,"url":%q}`,
			purify.String(rs.Name), purify.String(rs.Desc), purify.String(rs.Owner), purify.String(rs.URL))
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

func (r *RepoList) Destroy()             {}
func (r *RepoList) DestroyWhileRunning() {}
