package engine

import (
	"context"
	"strings"
	"testing"
)

type fakeProducer struct {
	items     []string
	i         int
	destroyed bool
}

func (f *fakeProducer) Start(context.Context) error { return nil }

func (f *fakeProducer) Step(ctx context.Context, sink *Sink, maxBytes int) (bool, error) {
	if f.i >= len(f.items) {
		return true, nil
	}
	// the first item considered in this call is always written in full
	// regardless of maxBytes, matching every real job's producer.
	item := f.items[f.i]
	sink.WriteString(item)
	f.i++
	if f.i < len(f.items) {
		sink.WriteString(",")
	}
	return f.i >= len(f.items), nil
}

func (f *fakeProducer) Destroy()             { f.destroyed = true }
func (f *fakeProducer) DestroyWhileRunning() { f.destroyed = true }

type fakeCacheWriter struct {
	buf strings.Builder
}

func (w *fakeCacheWriter) Write(p []byte) error {
	w.buf.Write(p)
	return nil
}

func drainAll(t *testing.T, c *Context, bufSize int) string {
	t.Helper()
	var out strings.Builder
	buf := make([]byte, bufSize)
	for i := 0; i < 10000; i++ {
		n, done, err := c.Fill(context.Background(), buf)
		if err != nil {
			t.Fatal(err)
		}
		out.Write(buf[:n])
		if done == Final {
			return out.String()
		}
	}
	t.Fatalf("Fill did not reach Final within iteration budget")
	return ""
}

func TestContextProducesSealedEnvelope(t *testing.T) {
	p := &fakeProducer{items: []string{`{"a":1}`, `{"a":2}`}}
	cw := &fakeCacheWriter{}
	statsCalls := 0
	c := NewContext(
		EnvelopeMeta{VPath: "/x", HasReponame: true, RepoName: "a"},
		[]Producer{p},
		cw,
		nil,
		func() Stats { statsCalls++; return Stats{GenEpochSeconds: 1, GenMicros: 2, CacheHitPct: 50, EtagHitPct: 10} },
	)

	for _, bufSize := range []int{1, 32, 256, 4096} {
		p.i = 0
		c = NewContext(
			EnvelopeMeta{VPath: "/x", HasReponame: true, RepoName: "a"},
			[]Producer{&fakeProducer{items: []string{`{"a":1}`, `{"a":2}`}}},
			nil, nil,
			func() Stats { return Stats{GenEpochSeconds: 1, GenMicros: 2} },
		)
		out := drainAll(t, c, bufSize)
		if !strings.HasPrefix(out, `{"schema":"libjg2-1"`) {
			t.Fatalf("buf size %d: missing schema prefix: %q", bufSize, out[:min(40, len(out))])
		}
		if !strings.Contains(out, `"items":[{"a":1},{"a":2}]`) {
			t.Fatalf("buf size %d: missing items array: %q", bufSize, out)
		}
		if !strings.HasSuffix(out, "}") {
			t.Fatalf("buf size %d: unsealed output: %q", bufSize, out)
		}
	}
	if statsCalls != 0 {
		t.Fatalf("unused context should not have called stats")
	}
}

func TestContextWritesThroughToCache(t *testing.T) {
	p := &fakeProducer{items: []string{`{"a":1}`}}
	cw := &fakeCacheWriter{}
	c := NewContext(
		EnvelopeMeta{VPath: "/x"},
		[]Producer{p},
		cw, nil,
		func() Stats { return Stats{} },
	)
	out := drainAll(t, c, 16)
	// the epilogue is never written through to the cache file (it's
	// regenerated fresh on every serve), so the recorded bytes should be
	// a strict prefix of the live output.
	if !strings.HasPrefix(out, cw.buf.String()) {
		t.Fatalf("cache write-through %q is not a prefix of live output %q", cw.buf.String(), out)
	}
	if strings.Contains(cw.buf.String(), `"s":`) {
		t.Fatalf("epilogue leaked into the cache write-through")
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
