// Package worker drains a FIFO queue of feed fetch requests in the
// background, keeping network I/O off the caller's thread.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tidings/internal/analyzer"
	"tidings/internal/model"
)

// FetchRequest is a snapshot of the fields the worker needs; it never holds
// a live feed reference, so a feed deleted mid-flight cannot be mutated.
type FetchRequest struct {
	FeedID  int64
	Locator string
	Tag     string
}

// Result is one completed fetch attempt. Err is set on network or parse
// failure; Meta and Articles are only valid when Err is nil.
type Result struct {
	FeedID   int64
	Meta     model.FeedMeta
	Articles []model.Article
	Err      error
}

// Worker owns the fetch queue. Requests are processed strictly in arrival
// order, and the queue is fully drained before the worker goes back to
// waiting, so manual refreshes enqueued ahead of scheduled ones win.
type Worker struct {
	registry *analyzer.Registry
	delay    time.Duration

	mu     sync.Mutex
	queue  []FetchRequest
	signal chan struct{}

	results chan Result
}

func New(registry *analyzer.Registry, interFetchDelay time.Duration) *Worker {
	return &Worker{
		registry: registry,
		delay:    interFetchDelay,
		signal:   make(chan struct{}, 1),
		results:  make(chan Result, 16),
	}
}

// Results delivers completed fetch attempts. The channel is closed when Run
// returns.
func (w *Worker) Results() <-chan Result {
	return w.results
}

// Enqueue appends requests to the queue and wakes the worker if it is idle.
// Duplicate requests for the same feed are allowed; reconciliation absorbs
// the redundant fetch.
func (w *Worker) Enqueue(reqs ...FetchRequest) {
	if len(reqs) == 0 {
		return
	}

	w.mu.Lock()
	w.queue = append(w.queue, reqs...)
	select {
	case w.signal <- struct{}{}:
	default:
	}
	w.mu.Unlock()
}

func (w *Worker) pop() (FetchRequest, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.queue) == 0 {
		return FetchRequest{}, false
	}
	req := w.queue[0]
	w.queue = w.queue[1:]
	return req, true
}

// Run processes the queue until ctx is cancelled. A single feed's failure
// is logged and reported as a Result; it never stops the loop.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.results)

	for {
		if ctx.Err() != nil {
			return
		}

		req, ok := w.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-w.signal:
			}
			continue
		}

		w.process(ctx, req)

		// Politeness delay between fetches so bursts of due feeds do not
		// hammer remote hosts.
		if w.delay > 0 {
			timer := time.NewTimer(w.delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}

func (w *Worker) process(ctx context.Context, req FetchRequest) {
	start := time.Now()

	result := Result{FeedID: req.FeedID}

	a, err := w.registry.Lookup(req.Tag)
	if err != nil {
		result.Err = err
	} else {
		result.Meta, result.Articles, result.Err = a.Fetch(ctx, req.Locator)
	}

	duration := time.Since(start).Milliseconds()
	if result.Err != nil {
		slog.Error("feed download failed",
			"feed_id", req.FeedID,
			"feed_url", req.Locator,
			"duration_ms", duration,
			"err", result.Err,
		)
	} else {
		slog.Info("feed downloaded",
			"feed_id", req.FeedID,
			"feed_url", req.Locator,
			"articles", len(result.Articles),
			"duration_ms", duration,
		)
	}

	select {
	case <-ctx.Done():
	case w.results <- result:
	}
}
