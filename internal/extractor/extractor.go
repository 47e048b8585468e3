package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"review-insights-go/internal/logger"
	"review-insights-go/internal/prompt"
	"review-insights-go/internal/types"
)

// Completer sends one prompt to the completion service and returns the reply text.
type Completer interface {
	Complete(ctx context.Context, req types.CompletionRequest) (string, error)
}

// Matcher snaps a free-text purchase method onto the canonical vocabulary.
type Matcher interface {
	Match(ctx context.Context, text string) (string, error)
}

// Options holds the fixed request parameters.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
	Examples    []types.FewShotExample
	Now         func() time.Time
}

type Extractor struct {
	completer Completer
	matcher   Matcher
	opts      Options
	log       *logger.Logger
}

func New(completer Completer, matcher Matcher, opts Options, log *logger.Logger) *Extractor {
	if opts.Examples == nil {
		opts.Examples = prompt.DefaultExamples
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = logger.New()
	}
	return &Extractor{
		completer: completer,
		matcher:   matcher,
		opts:      opts,
		log:       log.Component("extractor"),
	}
}

// OutcomeKind says what the primary request produced.
type OutcomeKind int

const (
	// OutcomeParsed: the reply held exactly seven values.
	OutcomeParsed OutcomeKind = iota
	// OutcomeMismatch: the reply arrived but did not hold seven values.
	OutcomeMismatch
	// OutcomeNeedsFallback: the completion call itself failed.
	OutcomeNeedsFallback
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeParsed:
		return "parsed"
	case OutcomeMismatch:
		return "mismatch"
	case OutcomeNeedsFallback:
		return "needs_fallback"
	default:
		return "unknown"
	}
}

// Outcome is the result of the primary request.
type Outcome struct {
	Kind       OutcomeKind
	Values     [types.FieldCount]string // set for OutcomeParsed
	Parsed     int                      // number of values found
	Err        error                    // set for OutcomeNeedsFallback
	ReceivedAt time.Time
}

// Primary issues the single full-analysis request and classifies the reply.
func (e *Extractor) Primary(ctx context.Context, review types.Review) Outcome {
	reply, err := e.completer.Complete(ctx, types.CompletionRequest{
		Model:       e.opts.Model,
		System:      prompt.SystemInstruction,
		Prompt:      prompt.Build(review, e.opts.Examples),
		MaxTokens:   e.opts.MaxTokens,
		Temperature: e.opts.Temperature,
	})
	received := e.opts.Now()
	if err != nil {
		return Outcome{Kind: OutcomeNeedsFallback, Err: types.NewServiceError("completion", "analyze", err), ReceivedAt: received}
	}

	values := ParseAnswer(reply)
	if len(values) != types.FieldCount {
		return Outcome{Kind: OutcomeMismatch, Parsed: len(values), ReceivedAt: received}
	}
	out := Outcome{Kind: OutcomeParsed, Parsed: len(values), ReceivedAt: received}
	copy(out.Values[:], values)
	return out
}

// Extract runs the primary request and, when the call fails, the per-field fallback.
// A reply with the wrong number of lines yields a sentinel record, not an error.
func (e *Extractor) Extract(ctx context.Context, review types.Review) (types.AnalysisResult, error) {
	start := e.opts.Now()
	out := e.Primary(ctx, review)

	switch out.Kind {
	case OutcomeParsed:
		method, err := e.normalizePurchase(ctx, out.Values[types.FieldPurchaseMethod])
		if err != nil {
			return types.AnalysisResult{}, err
		}
		out.Values[types.FieldPurchaseMethod] = method
		res := types.NewAnalysisResult(out.Values)
		res.StartTime, res.EndTime = start, out.ReceivedAt
		return res, nil

	case OutcomeMismatch:
		e.log.WithError(types.ErrParseMismatch).
			WithField("parsed", out.Parsed).
			Warn("unexpected answer shape, recording sentinel")
		res := types.SentinelResult()
		res.StartTime, res.EndTime = start, out.ReceivedAt
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return types.AnalysisResult{}, fmt.Errorf("extract: %w", ctxErr)
	}
	e.log.WithError(out.Err).Warn("primary request failed, querying fields one by one")

	values, end, err := e.fallback(ctx, review)
	if err != nil {
		return types.AnalysisResult{}, fmt.Errorf("fallback after %v: %w", out.Err, err)
	}
	res := types.NewAnalysisResult(values)
	res.StartTime, res.EndTime = start, end
	res.Fallback = true
	return res, nil
}

// fallback asks for each field separately. Any failing call aborts the item.
func (e *Extractor) fallback(ctx context.Context, review types.Review) ([types.FieldCount]string, time.Time, error) {
	var values [types.FieldCount]string
	var end time.Time
	for _, field := range types.Fields {
		reply, err := e.completer.Complete(ctx, types.CompletionRequest{
			Model:       e.opts.Model,
			System:      prompt.FieldInstruction(field),
			Prompt:      prompt.BuildField(review, field, e.opts.Examples),
			MaxTokens:   e.opts.MaxTokens,
			Temperature: e.opts.Temperature,
		})
		end = e.opts.Now()
		if err != nil {
			return values, end, types.NewServiceError("completion", "field "+field.String(), err)
		}

		value := CleanFieldAnswer(reply, field)
		if field == types.FieldPurchaseMethod {
			if value, err = e.normalizePurchase(ctx, value); err != nil {
				return values, end, err
			}
		}
		values[field] = value
	}
	return values, end, nil
}

func (e *Extractor) normalizePurchase(ctx context.Context, raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		text = types.NoneMarker
	}
	term, err := e.matcher.Match(ctx, text)
	if err != nil {
		return "", fmt.Errorf("match purchase method %q: %w", text, err)
	}
	if term != raw {
		e.log.WithField("raw", raw).WithField("term", term).Debug("purchase method normalized")
	}
	return term, nil
}

// ParseAnswer splits a reply into values, one per "N. label: value" line.
// Lines without a ": " separator are ignored. The separator is looked up
// before trimming so "6. label: " still counts as an empty value.
func ParseAnswer(reply string) []string {
	var values []string
	for _, line := range strings.Split(strings.TrimSpace(reply), "\n") {
		_, value, ok := strings.Cut(strings.TrimRight(line, "\r"), ": ")
		if !ok {
			continue
		}
		values = append(values, strings.TrimSpace(value))
	}
	return values
}

// CleanFieldAnswer reduces a single-field reply to its bare value.
func CleanFieldAnswer(reply string, field types.Field) string {
	label := prompt.Labels[field]
	for _, line := range strings.Split(strings.TrimSpace(reply), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if i := strings.Index(line, label+":"); i >= 0 {
			line = strings.TrimSpace(line[i+len(label)+1:])
		}
		if line == "" {
			continue
		}
		return line
	}
	return types.NoneMarker
}

// IsServiceFailure reports whether err came from the completion or embedding service.
func IsServiceFailure(err error) bool {
	return errors.Is(err, types.ErrServiceFailure)
}
