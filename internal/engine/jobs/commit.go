package jobs

import (
	"context"
	"fmt"

	"github.com/distr1/jsongit2/internal/engine"
	"github.com/distr1/jsongit2/internal/gitio"
	"github.com/distr1/jsongit2/internal/purify"
)

// Commit emits the commit header, body, and a unified diff against the
// first parent (§4.H.1 "commit"). Diff lines are collected once in
// Start (mirroring the C version's length-prefixed callback capture,
// simplified here to an in-memory slice since Go has no arena to spill
// into) and replayed as JSON during Step.
type Commit struct {
	Repo gitio.Repository
	OID  string
	CID  string

	commit *gitio.Commit
	diff   []gitio.FileDiff

	headerWritten bool
	fileIdx       int
	lineIdx       int
	inFile        bool
	done          bool
}

func (c *Commit) Start(context.Context) error {
	commit, err := c.Repo.Commit(c.OID)
	if err != nil {
		return err
	}
	c.commit = commit
	diff, err := c.Repo.Diff(c.OID)
	if err != nil {
		// a missing parent (root commit) or reader limitation still
		// yields a valid commit view, just without a diff.
		diff = nil
	}
	c.diff = diff
	return nil
}

func (c *Commit) Step(ctx context.Context, sink *engine.Sink, maxBytes int) (bool, error) {
	wrote := false
	if !c.headerWritten {
		header := fmt.Sprintf(
			`{"schema":"libjg2-1","cid":%q,"oid":%q,"tree":%q,"parents":%s,"author":%q,"authoremail":%q,"aut_when":%d,"committer":%q,"commiteremail":%q,"com_when":%d,"subject":%q,"body":%q,"diff":[`,
			c.CID, c.commit.OID, c.commit.Tree, jsonStringArray(c.commit.Parents),
			purify.String(c.commit.Author.Name), purify.String(c.commit.Author.Email), c.commit.Author.When.Unix(),
			purify.String(c.commit.Committer.Name), purify.String(c.commit.Committer.Email), c.commit.Committer.When.Unix(),
			purify.String(c.commit.Subject), purify.String(c.commit.Body),
		)
		// the header (including the full commit body) is a single
		// atomic unit: always written in full even if it overruns
		// maxBytes, since the sink is unbounded and drains over
		// subsequent Fill calls.
		sink.WriteString(header)
		c.headerWritten = true
		wrote = true
	}

	for c.fileIdx < len(c.diff) {
		fd := c.diff[c.fileIdx]
		if !c.inFile {
			prefix := ""
			if c.fileIdx > 0 {
				prefix = ","
			}
			open := fmt.Sprintf(`%s{"oldpath":%q,"newpath":%q,"lines":[`, prefix, purify.String(fd.OldPath), purify.String(fd.NewPath))
			if wrote && len(open) > maxBytes {
				return false, nil
			}
			sink.WriteString(open)
			maxBytes -= len(open)
			wrote = true
			c.inFile = true
		}
		for c.lineIdx < len(fd.Lines) {
			line := fd.Lines[c.lineIdx]
			item := fmt.Sprintf(`{"o":%q,"t":%q}`, string(line.Origin), purify.String(line.Text))
			if c.lineIdx > 0 {
				item = "," + item
			}
			if wrote && len(item) > maxBytes {
				return false, nil
			}
			sink.WriteString(item)
			maxBytes -= len(item)
			wrote = true
			c.lineIdx++
		}
		sink.WriteString("]}")
		c.fileIdx++
		c.lineIdx = 0
		c.inFile = false
	}

	sink.WriteString("]}")
	return true, nil
}

func (c *Commit) Destroy()             {}
func (c *Commit) DestroyWhileRunning() {}

func jsonStringArray(items []string) string {
	out := "["
	for i, s := range items {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%q", s)
	}
	return out + "]"
}
