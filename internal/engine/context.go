package engine

import (
	"context"
	"fmt"
	"io"

	"github.com/distr1/jsongit2/internal/htmlsandwich"
)

// Done is the tristate §6 context_fill reports: more output is coming,
// the stream is complete, or the stream is complete but the host should
// keep the context's internal state alive past this request (used only
// by the search-index builder handing a still-running build off to a
// later poll, spec §4.H.4 "outlive").
type Done int

const (
	More Done = iota
	Final
	FinalKeepState
)

// EnvelopeMeta carries the fields of the stable JSON envelope (§6) that
// are known up front, before any producer has run.
type EnvelopeMeta struct {
	VPath      string
	Avatar     string
	ALang      string
	GenUnixUs  int64
	RepoName   string
	Desc       string
	Owner      string
	URL        string
	Flags      uint8 // bit0 blame, bit1 archive, bit2 blog
	HasReponame bool
}

func (m EnvelopeMeta) renderHeader() string {
	s := fmt.Sprintf(`{"schema":"libjg2-1","vpath":%q,"avatar":%q,"alang":%q,"gen_ut":%d`,
		m.VPath, m.Avatar, m.ALang, m.GenUnixUs)
	if m.HasReponame {
		s += fmt.Sprintf(`,"reponame":%q`, m.RepoName)
		if m.Desc != "" {
			s += fmt.Sprintf(`,"desc":%q`, m.Desc)
		}
		if m.Owner != "" {
			s += fmt.Sprintf(`,"owner":%q`, m.Owner)
		}
		if m.URL != "" {
			s += fmt.Sprintf(`,"url":%q`, m.URL)
		}
	}
	s += fmt.Sprintf(`,"f":%d,"items":[`, m.Flags)
	return s
}

// CacheWriter is the narrow slice of internal/cache.Entry the Context
// needs: a place to write through every byte of the non-epilogue body as
// it is produced, and a way to learn the write-through has been
// disabled (degrade to live-only, §4.B "Failure semantics").
type CacheWriter interface {
	Write(p []byte) error
}

// Context drives one request's producer chain through the state machine
// of §4.H, wrapping it in the stable JSON envelope and a fixed-shape
// epilogue, and optionally an HTML sandwich.
type Context struct {
	meta      EnvelopeMeta
	sandwich  *htmlsandwich.Sandwich
	wantHTML  bool
	metaDesc  string // rendered into the sandwich's meta-description slot

	producers []Producer
	started   []bool
	idx       int

	sink Sink

	cacheWrite CacheWriter // nil if not recording to cache

	passThrough io.Reader // non-nil while serving a cache hit

	raw bool // true for plain/patch/snapshot: stream producer bytes verbatim,
	// with no JSON envelope, no closing seal, and no epilogue (§8 "Plain:
	// bytes served equal the raw blob bytes exactly")

	headerWritten    bool
	bodyDone         bool // all producers finished and the closing "]" of items emitted
	epilogue         string
	epilogueOffset   int
	epilogueStarted  bool

	stats func() Stats

	sandwichState sandwichState
	destroyed     bool
}

type sandwichState int

const (
	sandwichPrefix sandwichState = iota
	sandwichMetaDesc
	sandwichMiddle
	sandwichBody
	sandwichSuffix
	sandwichDone
)

// NewContext builds a Context. producers is the chain to run in order
// (length 1 for an unchained job); passThrough, when non-nil, serves a
// committed cache hit instead of running any producer (§4.H step 2).
// statsFn is called once, lazily, to render the epilogue with final
// timing numbers.
func NewContext(meta EnvelopeMeta, producers []Producer, cacheWrite CacheWriter, passThrough io.Reader, statsFn func() Stats) *Context {
	return &Context{
		meta:       meta,
		producers:  producers,
		started:    make([]bool, len(producers)),
		cacheWrite: cacheWrite,
		passThrough: passThrough,
		stats:      statsFn,
	}
}

// NewRawContext builds a Context that streams a single producer's bytes
// verbatim: no JSON envelope, no closing seal, no epilogue. Used for
// plain, patch, and snapshot modes, whose output is the raw artifact
// itself rather than an items-array entry (§8 "Plain: bytes served
// equal the raw blob bytes exactly").
func NewRawContext(producer Producer, cacheWrite CacheWriter, passThrough io.Reader) *Context {
	return &Context{
		producers:   []Producer{producer},
		started:     make([]bool, 1),
		cacheWrite:  cacheWrite,
		passThrough: passThrough,
		raw:         true,
		stats:       func() Stats { return Stats{} },
	}
}

// WithSandwich enables HTML-sandwich wrapping using the given template
// and a pre-rendered meta description string.
func (c *Context) WithSandwich(s *htmlsandwich.Sandwich, metaDescription string) *Context {
	c.sandwich = s
	c.wantHTML = true
	c.metaDesc = metaDescription
	return c
}

func (c *Context) recordCacheWrite(p []byte) error {
	if c.cacheWrite == nil || len(p) == 0 {
		return nil
	}
	if err := c.cacheWrite.Write(p); err != nil {
		// §4.B: a write-through failure disables caching for the rest
		// of this job; live output continues uninterrupted.
		c.cacheWrite = nil
	}
	return nil
}

// Fill implements context_fill: it writes as much output as fits in buf
// and reports how much was written and whether the stream is complete.
func (c *Context) Fill(ctx context.Context, buf []byte) (n int, done Done, err error) {
	if c.wantHTML && c.sandwich != nil {
		n, err = c.fillSandwich(ctx, buf)
	} else {
		n, err = c.fillBody(ctx, buf)
	}
	if err != nil {
		return n, More, err
	}
	if c.raw {
		if c.bodyDone && c.sink.Len() == 0 && c.passThrough == nil {
			return n, Final, nil
		}
		return n, More, nil
	}
	if c.epilogueStarted && c.epilogueOffset >= len(c.epilogue) {
		return n, Final, nil
	}
	return n, More, nil
}

func (c *Context) fillSandwich(ctx context.Context, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		switch c.sandwichState {
		case sandwichPrefix:
			m := copy(buf[n:], c.sandwich.Prefix)
			c.sandwich.Prefix = c.sandwich.Prefix[m:]
			n += m
			if c.sandwich.Prefix == "" {
				c.sandwichState = sandwichMetaDesc
			}
		case sandwichMetaDesc:
			m := copy(buf[n:], c.metaDesc)
			c.metaDesc = c.metaDesc[m:]
			n += m
			if c.metaDesc == "" {
				c.sandwichState = sandwichMiddle
			}
		case sandwichMiddle:
			m := copy(buf[n:], c.sandwich.Middle)
			c.sandwich.Middle = c.sandwich.Middle[m:]
			n += m
			if c.sandwich.Middle == "" {
				c.sandwichState = sandwichBody
			}
		case sandwichBody:
			m, err := c.fillBody(ctx, buf[n:])
			n += m
			if err != nil {
				return n, err
			}
			if c.epilogueStarted && c.epilogueOffset >= len(c.epilogue) {
				c.sandwichState = sandwichSuffix
			}
			if m == 0 {
				return n, nil
			}
		case sandwichSuffix:
			m := copy(buf[n:], c.sandwich.Suffix)
			c.sandwich.Suffix = c.sandwich.Suffix[m:]
			n += m
			if c.sandwich.Suffix == "" {
				c.sandwichState = sandwichDone
			}
		case sandwichDone:
			return n, nil
		}
		if n == len(buf) {
			return n, nil
		}
	}
	return n, nil
}

// fillBody drives the JSON envelope + producer chain + epilogue; it's
// the entirety of the non-HTML state machine (HTML_HEAD_META/HTML_HEAD
// collapse into the sandwich states above; JOB1/JSON/HTML_TAIL/COMPLETE
// are this function plus the epilogue tail).
func (c *Context) fillBody(ctx context.Context, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		if c.passThrough != nil {
			m, err := c.passThrough.Read(buf[n:])
			if m > 0 {
				n += m
			}
			if err == io.EOF {
				c.passThrough = nil
				c.bodyDone = true
				continue
			}
			if err != nil {
				return n, err
			}
			if m == 0 {
				continue
			}
			continue
		}

		if c.sink.Len() > 0 {
			m := c.sink.Drain(buf[n:])
			if err := c.recordCacheWrite(buf[n : n+m]); err != nil {
				return n, err
			}
			n += m
			continue
		}

		if c.bodyDone {
			break
		}

		if !c.headerWritten {
			if !c.raw {
				c.sink.WriteString(c.meta.renderHeader())
			}
			c.headerWritten = true
			continue
		}

		if c.idx >= len(c.producers) {
			if !c.raw {
				c.sink.WriteString("]")
			}
			c.bodyDone = true
			continue
		}

		p := c.producers[c.idx]
		if !c.started[c.idx] {
			if err := p.Start(ctx); err != nil {
				return n, err
			}
			c.started[c.idx] = true
		}

		remaining := len(buf) - n - ReserveSeal
		if remaining < 1 {
			remaining = 1
		}
		final, err := p.Step(ctx, &c.sink, remaining)
		if err != nil {
			return n, err
		}
		if final {
			var next Producer
			if ch, ok := p.(Chainer); ok {
				next = ch.Next()
			}
			p.Destroy()
			if next != nil {
				// splice the successor in right after the producer that
				// just finished, so it streams as the next items[]
				// entry (§4.H "Chaining").
				tail := append([]Producer{next}, c.producers[c.idx+1:]...)
				c.producers = append(c.producers[:c.idx+1], tail...)
				startedTail := append([]bool{false}, c.started[c.idx+1:]...)
				c.started = append(c.started[:c.idx+1], startedTail...)
			}
			c.idx++
			if c.idx < len(c.producers) && !c.raw {
				c.sink.WriteString(",")
			}
		}
		if c.sink.Len() == 0 {
			// producer made no progress this call (e.g. needed more
			// room than was available); avoid spinning forever.
			return n, nil
		}
	}

	if !c.raw && n < len(buf) && c.bodyDone && c.sink.Len() == 0 && c.passThrough == nil {
		c.appendEpilogue()
		m := copy(buf[n:], c.epilogue[c.epilogueOffset:])
		c.epilogueOffset += m
		n += m
	}

	return n, nil
}

func (c *Context) appendEpilogue() {
	if c.epilogueStarted {
		return
	}
	c.epilogueStarted = true
	c.epilogue = c.stats().Render()
}

// Destroy releases every producer's resources. forRunning selects
// DestroyWhileRunning (host abandoned the context mid-stream) over the
// normal Destroy path.
func (c *Context) Destroy(forRunning bool) {
	if c.destroyed {
		return
	}
	c.destroyed = true
	for i := c.idx; i < len(c.producers); i++ {
		if !c.started[i] {
			continue
		}
		if forRunning {
			c.producers[i].DestroyWhileRunning()
		} else {
			c.producers[i].Destroy()
		}
	}
}
