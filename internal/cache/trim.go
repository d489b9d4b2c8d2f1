package cache

import (
	"container/heap"
	"os"
	"path/filepath"
	"time"
)

// defaultSizeLimit is applied when Cache.SizeLimit is zero, per §4.B.
const defaultSizeLimit = 256 * 1024 * 1024

// batchCount bounds the number of trim-victim candidates held in memory
// at once, per lib/cache.c's BATCH_COUNT.
const batchCount = 128

const numShards = 256

// Trimmer incrementally walks one of the 256 two-hex-digit subdirectories
// of a Cache per Step call, accumulating a bounded max-heap of the oldest
// files seen so far. When a full pass (256 Steps) completes, it evicts
// files in oldest-first order until the aggregate size is back under the
// limit, then computes a delay before the next pass should start,
// mirroring jg2_cache_trim's incremental single-pass-per-call design.
type Trimmer struct {
	c *Cache

	shard      int
	candidates victimHeap
	aggSize    int64
	fileCount  int64

	lastScanCompleted time.Time
	nextDelay         time.Duration
}

// NewTrimmer returns a Trimmer bound to c.
func NewTrimmer(c *Cache) *Trimmer {
	return &Trimmer{c: c}
}

// Due reports whether enough time has passed since the last completed
// scan for Step to be worth calling again (when a scan is already
// in-progress, i.e. shard != 0, Due always returns true: we're
// mid-pass and must keep going to avoid abandoning half a scan).
func (t *Trimmer) Due(now time.Time) bool {
	if t.shard != 0 {
		return true
	}
	return now.Sub(t.lastScanCompleted) >= t.nextDelay
}

type victim struct {
	name    string
	size    int64
	modTime time.Time
}

// victimHeap is a max-heap ordered by modTime: the newest candidate sits
// at the root so a newly observed, even-newer file can be cheaply
// discarded, and an older file can cheaply evict the current newest,
// exactly as the originating BATCH_COUNT bounded list does.
type victimHeap []victim

func (h victimHeap) Len() int            { return len(h) }
func (h victimHeap) Less(i, j int) bool  { return h[i].modTime.After(h[j].modTime) }
func (h victimHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *victimHeap) Push(x interface{}) { *h = append(*h, x.(victim)) }
func (h *victimHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// Step walks one subdirectory of the cache base. Call it repeatedly (the
// background worker calls it once per tick, or up to 8 times per tick
// when over the limit) until a full pass completes.
func (t *Trimmer) Step() error {
	h1 := hexDigit(t.shard >> 4)
	h2 := hexDigit(t.shard & 0xf)
	dir := filepath.Join(t.c.Base, string(h1), string(h2))

	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		fi, err := de.Info()
		if err != nil {
			continue
		}
		t.fileCount++
		t.aggSize += fi.Size()

		if len(t.candidates) == batchCount {
			// ignore anything newer than our current newest candidate
			if t.candidates[0].modTime.Before(fi.ModTime()) {
				continue
			}
			heap.Pop(&t.candidates)
		}
		heap.Push(&t.candidates, victim{
			name:    filepath.Join(dir, de.Name()),
			size:    fi.Size(),
			modTime: fi.ModTime(),
		})
	}

	t.shard++
	if t.shard != numShards {
		return nil
	}

	t.completePass()
	return nil
}

func (t *Trimmer) completePass() {
	limit := t.c.SizeLimit
	if limit == 0 {
		limit = defaultSizeLimit
	}

	if t.aggSize > limit {
		// oldest-first: our heap pops newest-first, so collect then
		// reverse.
		ordered := make([]victim, 0, len(t.candidates))
		h := t.candidates
		for h.Len() > 0 {
			ordered = append(ordered, heap.Pop(&h).(victim))
		}
		for i := len(ordered) - 1; i >= 0 && t.aggSize > limit; i-- {
			v := ordered[i]
			if err := os.Remove(v.name); err == nil {
				t.aggSize -= v.size
			}
		}
	}

	// estimate next-scan delay from headroom / average file size,
	// capped at one hour; zero means "scan again immediately" (§4.B).
	t.nextDelay = 0
	if t.aggSize < limit && t.fileCount > 0 {
		avg := (t.aggSize * 8) / t.fileCount / 10
		if avg <= 0 {
			avg = 4096
		}
		capacity := avg * batchCount
		projected := (t.aggSize * 11) / 10
		if projected < limit && capacity > 0 {
			secs := (128) * (limit - projected) / capacity
			t.nextDelay = time.Duration(secs) * time.Second
			if t.nextDelay > time.Hour {
				t.nextDelay = time.Hour
			}
		}
	}

	t.lastScanCompleted = time.Now()
	t.shard = 0
	t.candidates = nil
	t.aggSize = 0
	t.fileCount = 0
}

func hexDigit(n int) byte {
	const hex = "0123456789abcdef"
	return hex[n&0xf]
}
