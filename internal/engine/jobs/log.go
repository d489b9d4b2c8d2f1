package jobs

import (
	"context"
	"fmt"

	"github.com/distr1/jsongit2/internal/engine"
	"github.com/distr1/jsongit2/internal/gitio"
	"github.com/distr1/jsongit2/internal/purify"
)

// Log walks the first-parent chain from StartOID for Count commits,
// emitting a "next" oid for pagination (§4.H.1).
type Log struct {
	Repo     gitio.Repository
	StartOID string
	Count    int
	CID      string

	cur     string
	emitted int
	opened  bool
	done    bool
	nextOID string
}

func (l *Log) Start(context.Context) error {
	l.cur = l.StartOID
	return nil
}

func (l *Log) Step(ctx context.Context, sink *engine.Sink, maxBytes int) (bool, error) {
	wrote := false
	if !l.opened {
		sink.WriteString(fmt.Sprintf(`{"schema":"libjg2-1","cid":%q,"log":[`, l.CID))
		l.opened = true
		wrote = true
	}
	for !l.done && l.emitted < l.Count && l.cur != "" {
		c, err := l.Repo.Commit(l.cur)
		if err != nil {
			errItem := fmt.Sprintf(`{"error":%q}`, purify.String(err.Error()))
			if l.emitted > 0 {
				errItem = "," + errItem
			}
			// a single item is always written even if it overruns
			// maxBytes; the sink is unbounded and drains over
			// subsequent Fill calls (§4.H "no atomic unit may be
			// starved by a small caller buffer").
			if wrote && len(errItem) > maxBytes {
				return false, nil
			}
			sink.WriteString(errItem)
			l.done = true
			wrote = true
			break
		}
		item := fmt.Sprintf(
			`{"oid":%q,"tree":%q,"author":%q,"authoremail":%q,"aut_when":%d,"committer":%q,"commiteremail":%q,"com_when":%d,"subject":%q,"body":%q}`,
			c.OID, c.Tree,
			purify.String(c.Author.Name), purify.String(c.Author.Email), c.Author.When.Unix(),
			purify.String(c.Committer.Name), purify.String(c.Committer.Email), c.Committer.When.Unix(),
			purify.String(c.Subject), purify.String(c.Body),
		)
		if l.emitted > 0 {
			item = "," + item
		}
		if wrote && len(item) > maxBytes {
			return false, nil
		}
		sink.WriteString(item)
		maxBytes -= len(item)
		wrote = true
		l.emitted++

		if len(c.Parents) == 0 {
			l.cur = ""
			break
		}
		l.cur = c.Parents[0]
	}
	if l.emitted >= l.Count || l.cur == "" {
		l.done = true
	}
	if !l.done {
		return false, nil
	}
	l.nextOID = l.cur
	tail := fmt.Sprintf(`],"next":%q}`, l.nextOID)
	if tail == `],"next":""}` {
		tail = `]}`
	}
	if wrote && len(tail) > maxBytes {
		return false, nil
	}
	sink.WriteString(tail)
	return true, nil
}

func (l *Log) Destroy()             {}
func (l *Log) DestroyWhileRunning() {}
