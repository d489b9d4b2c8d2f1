package jobs

import (
	"fmt"
	"context"

	"github.com/distr1/jsongit2/internal/engine"
	"github.com/distr1/jsongit2/internal/gitio"
)

// Patch renders a commit as git-format-patch-style plain text (§6
// scenario 3 "patch"): a "From <oid> Mon Sep 17 00:00:00 2001" line,
// then From:/Date:/Subject: header lines (no "Author:" line), the commit
// body, then for each changed file a "diff --git" line, ---/+++ lines and
// every line gitio reported for it prefixed by its origin marker; no @@
// hunk headers are written. It shares Commit's
// collection step (same Repo.Commit/Repo.Diff calls) but streams plain
// text instead of a JSON array, and is always served through a raw
// engine.Context with no envelope.
type Patch struct {
	Repo gitio.Repository
	OID  string

	commit *gitio.Commit
	diff   []gitio.FileDiff

	headerWritten bool
	fileIdx       int
	lineIdx       int
	inFile        bool
}

func (p *Patch) Start(context.Context) error {
	commit, err := p.Repo.Commit(p.OID)
	if err != nil {
		return err
	}
	p.commit = commit
	diff, err := p.Repo.Diff(p.OID)
	if err != nil {
		diff = nil
	}
	p.diff = diff
	return nil
}

func (p *Patch) Step(ctx context.Context, sink *engine.Sink, maxBytes int) (bool, error) {
	wrote := false
	if !p.headerWritten {
		header := fmt.Sprintf(
			"From %s Mon Sep 17 00:00:00 2001\nFrom: %s <%s>\nDate: %s\nSubject: [PATCH] %s\n\n%s",
			p.commit.OID,
			p.commit.Author.Name, p.commit.Author.Email,
			p.commit.Author.When.Format("Mon, 2 Jan 2006 15:04:05 -0700"),
			p.commit.Subject, p.commit.Body,
		)
		if len(p.diff) > 0 {
			header += "\n---\n"
		}
		// the header (subject and full commit body) is a single atomic
		// unit: always written in full even if it overruns maxBytes,
		// since the sink is unbounded and drains over subsequent Fill
		// calls.
		sink.WriteString(header)
		p.headerWritten = true
		wrote = true
	}

	for p.fileIdx < len(p.diff) {
		fd := p.diff[p.fileIdx]
		if !p.inFile {
			open := fmt.Sprintf("diff --git a/%s b/%s\n--- a/%s\n+++ b/%s\n", fd.OldPath, fd.NewPath, fd.OldPath, fd.NewPath)
			if wrote && len(open) > maxBytes {
				return false, nil
			}
			sink.WriteString(open)
			maxBytes -= len(open)
			wrote = true
			p.inFile = true
		}
		for p.lineIdx < len(fd.Lines) {
			line := fd.Lines[p.lineIdx]
			item := fmt.Sprintf("%c%s\n", line.Origin, line.Text)
			if wrote && len(item) > maxBytes {
				return false, nil
			}
			sink.WriteString(item)
			maxBytes -= len(item)
			wrote = true
			p.lineIdx++
		}
		p.fileIdx++
		p.lineIdx = 0
		p.inFile = false
	}

	return true, nil
}

func (p *Patch) Destroy()             {}
func (p *Patch) DestroyWhileRunning() {}
