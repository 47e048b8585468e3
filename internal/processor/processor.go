// Package processor drives a batch run: load reviews, analyze them on the
// worker pool, write the output table and summarize the run.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"review-insights-go/internal/aggregator"
	"review-insights-go/internal/config"
	"review-insights-go/internal/dataset"
	"review-insights-go/internal/extractor"
	"review-insights-go/internal/llm"
	"review-insights-go/internal/logger"
	"review-insights-go/internal/pipeline"
	"review-insights-go/internal/prompt"
	"review-insights-go/internal/store"
	"review-insights-go/internal/types"
	"review-insights-go/internal/vocab"
)

// Services bundles the two external boundaries.
type Services struct {
	Completer extractor.Completer
	Embedder  vocab.Embedder
}

// ServicesFor returns the OpenAI-backed services, or the offline mock when cfg.UseMockLLM is set.
func ServicesFor(cfg config.Config, log *logger.Logger) Services {
	if cfg.UseMockLLM {
		m := llm.NewMock()
		return Services{Completer: m, Embedder: m}
	}
	c := llm.NewClient(cfg, log)
	return Services{Completer: c, Embedder: c}
}

// Result is what one batch run produced.
type Result struct {
	RunID      string             `json:"run_id"`
	OutputPath string             `json:"output_path"`
	Report     pipeline.Report    `json:"-"`
	Summary    aggregator.Summary `json:"summary"`
	Duration   time.Duration      `json:"duration"`
}

type Driver struct {
	cfg      config.Config
	services Services
	log      *logger.Logger

	once    sync.Once
	ex      *extractor.Extractor
	initErr error
}

func NewDriver(cfg config.Config, services Services, log *logger.Logger) *Driver {
	if log == nil {
		log = logger.New()
	}
	return &Driver{cfg: cfg, services: services, log: log.Component("processor")}
}

// Prepare embeds the purchase-method vocabulary and builds the extractor.
// It runs once; later calls return the first outcome.
func (d *Driver) Prepare(ctx context.Context) error {
	d.once.Do(func() {
		matcher, err := vocab.NewMatcher(ctx, d.services.Embedder, vocab.PurchaseMethods)
		if err != nil {
			d.initErr = fmt.Errorf("build vocabulary cache: %w", err)
			return
		}
		d.ex = extractor.New(d.services.Completer, matcher, extractor.Options{
			Model:       d.cfg.CompletionModel,
			MaxTokens:   d.cfg.MaxTokens,
			Temperature: d.cfg.Temperature,
			Examples:    prompt.DefaultExamples,
		}, d.log)
		d.log.WithField("terms", matcher.Terms()).Info("vocabulary cache ready")
	})
	return d.initErr
}

// Analyze runs the extractor on a single review.
func (d *Driver) Analyze(ctx context.Context, review types.Review) (types.AnalysisResult, error) {
	if err := d.Prepare(ctx); err != nil {
		return types.AnalysisResult{}, err
	}
	return d.ex.Extract(ctx, review)
}

// Run processes cfg.InputPath into cfg.OutputPath. Results gathered before a
// cancellation are still written; the context error is returned afterwards.
func (d *Driver) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	runID := uuid.New().String()
	log := d.log.With("run_id", runID)
	log.WithField("input", d.cfg.InputPath).
		WithField("output", d.cfg.OutputPath).
		WithField("workers", d.cfg.WorkerCount).
		WithField("mock", d.cfg.UseMockLLM).
		Info("starting run")

	reviews, err := dataset.Load(d.cfg.InputPath)
	if err != nil {
		return Result{}, fmt.Errorf("load reviews: %w", err)
	}
	log.WithField("reviews", len(reviews)).Info("reviews loaded")

	if err := d.Prepare(ctx); err != nil {
		return Result{}, err
	}

	dispatcher := pipeline.NewDispatcher(d.ex, pipeline.Options{
		Workers:     d.cfg.WorkerCount,
		MaxAttempts: d.cfg.ItemMaxAttempts,
		RetryDelay:  d.cfg.Retry.InitialInterval,
	}, log)
	report := dispatcher.Run(ctx, reviews)
	if d.cfg.PreserveOrder {
		report.SortBySeq()
	}

	// a cancelled ctx must not prevent writing what finished
	if err := d.write(context.WithoutCancel(ctx), runID, report); err != nil {
		return Result{}, err
	}

	res := Result{
		RunID:      runID,
		OutputPath: d.cfg.OutputPath,
		Report:     report,
		Summary:    aggregator.Aggregate(report),
		Duration:   time.Since(start),
	}
	logSummary(log, res)

	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("run interrupted: %w", err)
	}
	return res, nil
}

func (d *Driver) write(ctx context.Context, runID string, report pipeline.Report) error {
	path := d.cfg.OutputPath
	if !store.IsSQLitePath(path) {
		if err := dataset.Write(path, report.Records); err != nil {
			return fmt.Errorf("write results: %w", err)
		}
		return nil
	}

	s, err := store.Open(ctx, path)
	if err != nil {
		return err
	}
	saveErr := s.SaveRun(ctx, runID, report.Records, report.Failures)
	return errors.Join(saveErr, s.Close())
}

func logSummary(log *logger.Logger, res Result) {
	s := res.Summary
	entry := log.WithField("processed", s.Processed).
		WithField("succeeded", s.Succeeded).
		WithField("dropped", s.Dropped).
		WithField("sentinel", s.Sentinel).
		WithField("fallback", s.Fallback).
		WithField("retries", s.Retries).
		WithField("avg_latency_ms", s.AvgLatencyMs).
		WithField("top_products", aggregator.Top(s.ByProductType, 3)).
		WithField("purchase_methods", s.ByPurchaseMethod).
		WithField("duration_ms", res.Duration.Milliseconds())
	if s.Dropped > 0 {
		entry.Warn("run finished with dropped reviews")
		return
	}
	entry.Info("run finished")
}
