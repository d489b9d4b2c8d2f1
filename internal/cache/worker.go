package cache

import (
	"context"
	"log"
	"sync"
	"time"
)

// Worker is a background goroutine that drives every attached Trimmer
// and, once a second, a caller-supplied refresh hook (the vhost reflist
// update in cache_trim_thread). Start and Stop are explicit: Attach and
// the detach function it returns neither start nor stop the loop.
// jsongit2 creates and starts one Worker per Vhost that has a cache
// directory, and stops it in Vhost.Destroy.
type Worker struct {
	mu       sync.Mutex
	trimmers map[*Trimmer]bool
	refresh  func()
	log      *log.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker returns an idle Worker. Call Start to begin its tick loop.
func NewWorker(refresh func()) *Worker {
	return &Worker{trimmers: make(map[*Trimmer]bool), refresh: refresh, log: log.Default()}
}

// SetLogger overrides the logger used for trim-step failures; by
// default a Worker logs to log.Default().
func (w *Worker) SetLogger(l *log.Logger) {
	if l != nil {
		w.log = l
	}
}

// Attach registers t for periodic trimming and returns a detach function.
// The caller must invoke Start itself (typically the first Attach on an
// idle worker).
func (w *Worker) Attach(t *Trimmer) (detach func()) {
	w.mu.Lock()
	w.trimmers[t] = true
	w.mu.Unlock()
	return func() {
		w.mu.Lock()
		delete(w.trimmers, t)
		w.mu.Unlock()
	}
}

// Start launches the tick loop. It is idempotent; calling Start on an
// already-running Worker is a no-op.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(ctx)
}

// Stop ends the tick loop and waits for it to exit, joined the way
// vhost_destroy joins cache_trim_thread.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	done := w.done
	w.cancel = nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	lastRefresh := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		w.mu.Lock()
		trimmers := make([]*Trimmer, 0, len(w.trimmers))
		for t := range w.trimmers {
			trimmers = append(trimmers, t)
		}
		w.mu.Unlock()

		now := time.Now()
		for _, t := range trimmers {
			steps := 1
			if t.shard != 0 || t.nextDelay == 0 {
				steps = 8 // over limit or mid-pass: speed up
			}
			if !t.Due(now) {
				continue
			}
			for i := 0; i < steps; i++ {
				if err := t.Step(); err != nil {
					w.log.Printf("cache: trim step: %v", err)
				}
				if t.shard == 0 {
					break // a fresh pass just completed
				}
			}
		}

		if w.refresh != nil && time.Since(lastRefresh) >= time.Second {
			w.refresh()
			lastRefresh = time.Now()
		}
	}
}
