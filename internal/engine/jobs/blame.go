package jobs

import (
	"context"
	"fmt"
	"sort"

	"github.com/distr1/jsongit2/internal/engine"
	"github.com/distr1/jsongit2/internal/gitio"
	"github.com/distr1/jsongit2/internal/purify"
)

type blameRange struct {
	lines, origStart, finalStart int
}

type blameCommitRecord struct {
	origOID, finalOID     string
	origSig, finalSig     gitio.Signature
	origSummary, finalSummary string
	ranges                []blameRange
	sortKey               int64
}

// Blame aggregates per-line hunks from the underlying blame API into
// per-commit line-range records plus a contributor line-count ranking
// (§4.H.3). Stage 1 (collection) happens in Start; stage 2 (streaming
// emit) happens across Step calls.
type Blame struct {
	Repo    gitio.Repository
	CommitOID string
	Path    string
	CID     string

	records    []*blameCommitRecord
	contributors []contributorTotal

	opened    bool
	recIdx    int
	contribsWritten bool
}

type contributorTotal struct {
	name  string
	email string
	lines int
}

func (b *Blame) Start(context.Context) error {
	hunks, err := b.Repo.Blame(b.CommitOID, b.Path)
	if err != nil {
		return err
	}

	byCommit := map[string]*blameCommitRecord{}
	for _, h := range hunks {
		rec, ok := byCommit[h.FinalCommit]
		if !ok {
			rec = &blameCommitRecord{
				origOID:     h.OrigCommit,
				finalOID:    h.FinalCommit,
				origSig:     h.OrigSignature,
				finalSig:    h.FinalSignature,
				origSummary: h.OrigSummary,
				finalSummary: h.FinalSummary,
				sortKey:     h.FinalSignature.When.Unix(),
			}
			byCommit[h.FinalCommit] = rec
			b.records = append(b.records, rec)
		}
		rec.ranges = append(rec.ranges, blameRange{
			lines: h.LinesInHunk, origStart: h.OrigStartLine, finalStart: h.FinalStartLine,
		})
	}
	sort.Slice(b.records, func(i, j int) bool { return b.records[i].sortKey < b.records[j].sortKey })

	contribByEmail := map[string]*contributorTotal{}
	for _, rec := range b.records {
		ct, ok := contribByEmail[rec.finalSig.Email]
		if !ok {
			ct = &contributorTotal{name: rec.finalSig.Name, email: rec.finalSig.Email}
			contribByEmail[rec.finalSig.Email] = ct
			b.contributors = append(b.contributors, *ct)
		}
		lines := 0
		for _, r := range rec.ranges {
			lines += r.lines
		}
		for i := range b.contributors {
			if b.contributors[i].email == rec.finalSig.Email {
				b.contributors[i].lines += lines
			}
		}
	}
	sort.Slice(b.contributors, func(i, j int) bool { return b.contributors[i].lines > b.contributors[j].lines })

	return nil
}

func (b *Blame) Step(ctx context.Context, sink *engine.Sink, maxBytes int) (bool, error) {
	wrote := false
	if !b.opened {
		sink.WriteString(fmt.Sprintf(`{"schema":"libjg2-1","cid":%q,"blame":[`, b.CID))
		b.opened = true
		wrote = true
	}
	for b.recIdx < len(b.records) {
		rec := b.records[b.recIdx]
		item := fmt.Sprintf(
			`{"ord":%d,"orig_oid":%q,"final_oid":%q,"sig_orig":%q,"log_orig":%q,"sig_final":%q,"log_final":%q,"ranges":%s}`,
			b.recIdx, rec.origOID, rec.finalOID,
			purify.String(rec.origSig.Name), purify.String(rec.origSummary),
			purify.String(rec.finalSig.Name), purify.String(rec.finalSummary),
			renderRanges(rec.ranges),
		)
		if b.recIdx > 0 {
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
		b.recIdx++
	}
	if !b.contribsWritten {
		tail := `],"contributors":[`
		for i, c := range b.contributors {
			if i > 0 {
				tail += ","
			}
			tail += fmt.Sprintf(`{"lines":%d,"ordinal":%d,"name":%q}`, c.lines, i, purify.String(c.name))
		}
		tail += "]}"
		if wrote && len(tail) > maxBytes {
			return false, nil
		}
		sink.WriteString(tail)
		b.contribsWritten = true
	}
	return true, nil
}

func renderRanges(ranges []blameRange) string {
	out := "["
	for i, r := range ranges {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf(`{"lines":%d,"orig_start":%d,"final_start":%d}`, r.lines, r.origStart, r.finalStart)
	}
	return out + "]"
}

func (b *Blame) Destroy()             {}
func (b *Blame) DestroyWhileRunning() {}
