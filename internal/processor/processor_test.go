package processor

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"review-insights-go/internal/config"
	"review-insights-go/internal/logger"
	"review-insights-go/internal/prompt"
	"review-insights-go/internal/store"
	"review-insights-go/internal/types"
	"review-insights-go/internal/vocab"
)

type stubCompleter struct {
	mu       sync.Mutex
	calls    int
	byReview map[string]int
	reply    func(req types.CompletionRequest) (string, error)
}

func (s *stubCompleter) Complete(_ context.Context, req types.CompletionRequest) (string, error) {
	s.mu.Lock()
	s.calls++
	if s.byReview == nil {
		s.byReview = map[string]int{}
	}
	for _, r := range []string{"첫번째 리뷰", "두번째 리뷰"} {
		if strings.Contains(req.Prompt, "리뷰 분석:\n"+r+"\n\n") {
			s.byReview[r]++
		}
	}
	s.mu.Unlock()
	return s.reply(req)
}

// stubEmbedder places "렌트" next to 렌탈 and everything unknown next to 모름.
type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	switch text {
	case vocab.TermPurchase:
		return []float32{1, 0, 0, 0}, nil
	case vocab.TermRental:
		return []float32{0, 1, 0, 0}, nil
	case vocab.TermSubscription:
		return []float32{0, 0, 1, 0}, nil
	case "렌트":
		return []float32{0.1, 0.9, 0.05, 0}, nil
	default:
		return []float32{0, 0, 0, 1}, nil
	}
}

func writeInput(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "input.csv")
	if err := os.WriteFile(path, []byte("reviews\n첫번째 리뷰\n두번째 리뷰\n"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path
}

func testConfig(t *testing.T, output string) config.Config {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.UseMockLLM = true
	cfg.InputPath = writeInput(t, dir)
	cfg.OutputPath = filepath.Join(dir, "out", output)
	cfg.WorkerCount = 2
	cfg.ItemMaxAttempts = 1
	return cfg
}

func readOutput(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	return rows
}

func wellFormed(purchase string) string {
	return prompt.FormatAnswer([types.FieldCount]string{"자취", "정수기", purchase, "긍정", "물맛", types.NoneMarker, "만족"})
}

func TestRunNormalizesPurchaseMethod(t *testing.T) {
	cfg := testConfig(t, "output.csv")
	c := &stubCompleter{reply: func(types.CompletionRequest) (string, error) { return wellFormed("렌트"), nil }}

	res, err := NewDriver(cfg, Services{Completer: c, Embedder: stubEmbedder{}}, logger.Discard()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	rows := readOutput(t, cfg.OutputPath)
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if strings.Join(rows[0], ",") != strings.Join(types.OutputHeader, ",") {
		t.Fatalf("unexpected header %v", rows[0])
	}
	for _, row := range rows[1:] {
		if row[3] != vocab.TermRental {
			t.Fatalf("purchase_method = %q, want %q", row[3], vocab.TermRental)
		}
	}
	if rows[1][0] != "첫번째 리뷰" || rows[2][0] != "두번째 리뷰" {
		t.Fatalf("rows not in input order: %q, %q", rows[1][0], rows[2][0])
	}
	if c.calls != 2 {
		t.Fatalf("expected one completion per review, got %d", c.calls)
	}
	if res.RunID == "" || res.Summary.Succeeded != 2 || res.Summary.ByPurchaseMethod[vocab.TermRental] != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRunFallsBackFieldByField(t *testing.T) {
	cfg := testConfig(t, "output.csv")
	c := &stubCompleter{reply: func(req types.CompletionRequest) (string, error) {
		if req.System == prompt.SystemInstruction {
			return "", errors.New("500 internal server error")
		}
		for i, label := range prompt.Labels {
			if strings.HasSuffix(req.Prompt, label+":") {
				if types.Field(i) == types.FieldPurchaseMethod {
					return "렌트", nil
				}
				return "값", nil
			}
		}
		return "", errors.New("unexpected prompt")
	}}

	res, err := NewDriver(cfg, Services{Completer: c, Embedder: stubEmbedder{}}, logger.Discard()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for review, n := range c.byReview {
		// one failed primary request plus one request per field
		if n-1 != types.FieldCount {
			t.Fatalf("review %q: %d field requests, want %d", review, n-1, types.FieldCount)
		}
	}
	if len(c.byReview) != 2 {
		t.Fatalf("expected requests for 2 reviews, got %v", c.byReview)
	}
	if res.Summary.Fallback != 2 {
		t.Fatalf("fallback count = %d, want 2", res.Summary.Fallback)
	}
	for _, row := range readOutput(t, cfg.OutputPath)[1:] {
		if row[3] != vocab.TermRental || row[1] != "값" {
			t.Fatalf("unexpected fallback row %v", row)
		}
	}
}

func TestRunReportsDroppedReviews(t *testing.T) {
	cfg := testConfig(t, "output.csv")
	cfg.ItemMaxAttempts = 2
	c := &stubCompleter{reply: func(req types.CompletionRequest) (string, error) {
		if strings.Contains(req.Prompt, "리뷰 분석:\n두번째 리뷰\n\n") {
			return "", errors.New("connection reset")
		}
		return wellFormed("구매"), nil
	}}

	res, err := NewDriver(cfg, Services{Completer: c, Embedder: stubEmbedder{}}, logger.Discard()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Summary.Dropped != 1 || res.Summary.Succeeded != 1 || res.Summary.Retries != 1 {
		t.Fatalf("unexpected summary %+v", res.Summary)
	}
	if f := res.Report.Failures[0]; f.Review != "두번째 리뷰" || f.Attempts != 2 {
		t.Fatalf("unexpected failure %+v", f)
	}
	if rows := readOutput(t, cfg.OutputPath); len(rows) != 2 {
		t.Fatalf("dropped review must not be written, got %d rows", len(rows))
	}
}

func TestRunWritesSQLite(t *testing.T) {
	cfg := testConfig(t, "results.db")
	c := &stubCompleter{reply: func(types.CompletionRequest) (string, error) { return wellFormed("렌트"), nil }}

	res, err := NewDriver(cfg, Services{Completer: c, Embedder: stubEmbedder{}}, logger.Discard()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	s, err := store.Open(context.Background(), cfg.OutputPath)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer s.Close()
	recs, err := s.Records(context.Background(), res.RunID)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(recs) != 2 || recs[0].Result.PurchaseMethod != vocab.TermRental {
		t.Fatalf("unexpected stored records %+v", recs)
	}
}

func TestRunWithMockServices(t *testing.T) {
	cfg := testConfig(t, "output.xlsx")
	res, err := NewDriver(cfg, ServicesFor(cfg, logger.Discard()), logger.Discard()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Summary.Succeeded != 2 || res.Summary.Dropped != 0 {
		t.Fatalf("unexpected summary %+v", res.Summary)
	}
	for method := range res.Summary.ByPurchaseMethod {
		found := false
		for _, term := range vocab.PurchaseMethods {
			found = found || term == method
		}
		if !found {
			t.Fatalf("purchase method %q is not canonical", method)
		}
	}
	if _, err := os.Stat(cfg.OutputPath); err != nil {
		t.Fatalf("xlsx output missing: %v", err)
	}
}

func TestRunMissingInput(t *testing.T) {
	cfg := testConfig(t, "output.csv")
	cfg.InputPath = filepath.Join(t.TempDir(), "missing.csv")
	if _, err := NewDriver(cfg, ServicesFor(cfg, logger.Discard()), logger.Discard()).Run(context.Background()); err == nil {
		t.Fatal("expected error for missing input")
	}
}

func TestRunCancelledStillWritesOutput(t *testing.T) {
	cfg := testConfig(t, "output.csv")
	ctx, cancel := context.WithCancel(context.Background())
	c := &stubCompleter{reply: func(types.CompletionRequest) (string, error) { return wellFormed("구매"), nil }}
	d := NewDriver(cfg, Services{Completer: c, Embedder: stubEmbedder{}}, logger.Discard())
	if err := d.Prepare(ctx); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	cancel()

	res, err := d.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	if res.Summary.Processed != 2 || res.Summary.Dropped != 2 {
		t.Fatalf("every review should be accounted for, got %+v", res.Summary)
	}
	if rows := readOutput(t, cfg.OutputPath); len(rows) != 1 {
		t.Fatalf("expected header only, got %d rows", len(rows))
	}
}

func TestAnalyzeSingleReview(t *testing.T) {
	cfg := testConfig(t, "output.csv")
	c := &stubCompleter{reply: func(types.CompletionRequest) (string, error) { return wellFormed("렌트"), nil }}
	res, err := NewDriver(cfg, Services{Completer: c, Embedder: stubEmbedder{}}, logger.Discard()).Analyze(context.Background(), "정수기 렌트")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.PurchaseMethod != vocab.TermRental || res.ProductType != "정수기" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestPrepareFailsWhenEmbeddingFails(t *testing.T) {
	cfg := testConfig(t, "output.csv")
	d := NewDriver(cfg, Services{Completer: &stubCompleter{}, Embedder: failingEmbedder{}}, logger.Discard())
	err := d.Prepare(context.Background())
	if !errors.Is(err, types.ErrServiceFailure) {
		t.Fatalf("expected service failure, got %v", err)
	}
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("401 unauthorized")
}
