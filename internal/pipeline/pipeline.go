// Package pipeline fans reviews out to a fixed pool of workers and collects
// their results once every worker has finished.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"review-insights-go/internal/logger"
	"review-insights-go/internal/types"
)

// Analyzer turns one review into an analysis result.
type Analyzer interface {
	Extract(ctx context.Context, review types.Review) (types.AnalysisResult, error)
}

// AnalyzerFunc adapts a plain function to Analyzer.
type AnalyzerFunc func(ctx context.Context, review types.Review) (types.AnalysisResult, error)

func (f AnalyzerFunc) Extract(ctx context.Context, review types.Review) (types.AnalysisResult, error) {
	return f(ctx, review)
}

type Options struct {
	Workers     int
	MaxAttempts int           // per item, including the first
	RetryDelay  time.Duration // base wait before a failed item is requeued; grows per attempt
}

// ItemFailure records a review that produced no result.
type ItemFailure struct {
	Seq      int
	Review   types.Review
	Attempts int
	Err      error
}

func (f ItemFailure) Error() string {
	return fmt.Sprintf("item %d failed after %d attempt(s): %v", f.Seq, f.Attempts, f.Err)
}

func (f ItemFailure) Unwrap() error { return f.Err }

// Report is everything a run produced. Records are in completion order.
type Report struct {
	Records  []types.ResultRecord
	Failures []ItemFailure
	Retries  int
}

// Processed is the number of reviews that reached the pool.
func (r Report) Processed() int { return len(r.Records) + len(r.Failures) }

// SortBySeq restores submission order.
func (r *Report) SortBySeq() {
	sort.Slice(r.Records, func(i, j int) bool { return r.Records[i].Seq < r.Records[j].Seq })
	sort.Slice(r.Failures, func(i, j int) bool { return r.Failures[i].Seq < r.Failures[j].Seq })
}

type Dispatcher struct {
	analyzer Analyzer
	opts     Options
	log      *logger.Logger
}

func NewDispatcher(analyzer Analyzer, opts Options, log *logger.Logger) *Dispatcher {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if log == nil {
		log = logger.New()
	}
	return &Dispatcher{analyzer: analyzer, opts: opts, log: log.Component("pipeline")}
}

// Run processes every review exactly once per attempt and blocks until all
// workers have exited. Failed items go back on the queue until MaxAttempts is
// reached, then land in Report.Failures. Items still queued when ctx is
// cancelled are reported as failures with the context error.
func (d *Dispatcher) Run(ctx context.Context, reviews []types.Review) Report {
	n := len(reviews)
	queue := make(chan types.WorkItem, n)
	for i, r := range reviews {
		queue <- types.WorkItem{Seq: i, Review: r}
	}

	results := make(chan types.ResultRecord, n)
	failures := make(chan ItemFailure, n)
	var retries int64

	workers := d.opts.Workers
	if workers > n {
		workers = n
	}
	d.log.WithField("items", n).WithField("workers", workers).Info("dispatching reviews")

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.work(ctx, id, queue, results, failures, &retries)
		}(w)
	}
	wg.Wait()
	close(results)
	close(failures)

	var report Report
	for rec := range results {
		report.Records = append(report.Records, rec)
	}
	for f := range failures {
		report.Failures = append(report.Failures, f)
	}
	// leftovers exist only after cancellation
drain:
	for {
		select {
		case item := <-queue:
			f := ItemFailure{Seq: item.Seq, Review: item.Review, Attempts: item.Attempts, Err: ctx.Err()}
			d.logDropped(f)
			report.Failures = append(report.Failures, f)
		default:
			break drain
		}
	}
	report.Retries = int(atomic.LoadInt64(&retries))

	d.log.WithField("records", len(report.Records)).
		WithField("failures", len(report.Failures)).
		WithField("retries", report.Retries).
		Info("dispatch complete")
	return report
}

func (d *Dispatcher) work(ctx context.Context, id int, queue chan types.WorkItem, results chan<- types.ResultRecord, failures chan<- ItemFailure, retries *int64) {
	log := d.log.With("worker", id)
	for {
		if ctx.Err() != nil {
			return
		}
		var item types.WorkItem
		select {
		case item = <-queue:
		default:
			return
		}

		item.Attempts++
		res, err := d.process(ctx, item.Review)
		if err == nil {
			results <- types.ResultRecord{Seq: item.Seq, Review: item.Review, Result: res}
			continue
		}

		entry := log.WithError(err).WithField("seq", item.Seq).WithField("attempt", item.Attempts)
		if ctx.Err() == nil && item.Attempts < d.opts.MaxAttempts {
			wait := d.retryDelay(item.Attempts)
			entry.WithField("retry_in_ms", wait.Milliseconds()).Warn("review failed, requeueing")
			if !sleep(ctx, wait) {
				f := ItemFailure{Seq: item.Seq, Review: item.Review, Attempts: item.Attempts, Err: ctx.Err()}
				d.logDropped(f)
				failures <- f
				return
			}
			atomic.AddInt64(retries, 1)
			// capacity is len(reviews) and this item was just taken off
			queue <- item
			continue
		}
		f := ItemFailure{Seq: item.Seq, Review: item.Review, Attempts: item.Attempts, Err: err}
		d.logDropped(f)
		failures <- f
	}
}

// retryDelay returns the wait after the given failed attempt, following the
// same exponential schedule the completion client uses between calls.
func (d *Dispatcher) retryDelay(attempt int) time.Duration {
	if d.opts.RetryDelay <= 0 {
		return 0
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.opts.RetryDelay
	b.MaxInterval = 8 * d.opts.RetryDelay
	b.MaxElapsedTime = 0
	wait := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		wait = b.NextBackOff()
	}
	return wait
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// process runs the analyzer and turns a panic into an ErrWorkerFatal error.
func (d *Dispatcher) process(ctx context.Context, review types.Review) (res types.AnalysisResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", types.ErrWorkerFatal, r)
		}
	}()
	return d.analyzer.Extract(ctx, review)
}

func (d *Dispatcher) logDropped(f ItemFailure) {
	entry := d.log.WithError(f.Err).WithField("seq", f.Seq).WithField("attempts", f.Attempts)
	if errors.Is(f.Err, context.Canceled) || errors.Is(f.Err, context.DeadlineExceeded) {
		entry.Warn("review dropped: run cancelled")
		return
	}
	entry.Error("review dropped")
}
