package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"review-insights-go/internal/config"
	"review-insights-go/internal/extractor"
	"review-insights-go/internal/logger"
	"review-insights-go/internal/processor"
	"review-insights-go/internal/types"
)

func main() {
	_ = godotenv.Load() // loads .env

	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "optional YAML config file")
	serve := flag.Bool("serve", false, "serve /analyze over HTTP instead of running a batch")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.New().WithError(err).Fatal("invalid configuration")
	}
	log := logger.NewWithOptions(logger.Options{Environment: cfg.Environment, Level: cfg.LogLevel})
	log.WithField("service", "review-insights-go").
		WithField("model", cfg.CompletionModel).
		WithField("mock", cfg.UseMockLLM).
		Info("starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver := processor.NewDriver(cfg, processor.ServicesFor(cfg, log), log)

	if *serve {
		if err := runServer(ctx, cfg, driver, log); err != nil {
			log.WithError(err).Fatal("server terminated")
		}
		return
	}

	res, err := driver.Run(ctx)
	if err != nil {
		log.WithError(err).Fatal("run failed")
	}
	fmt.Printf("run %s: %d/%d reviews written to %s (%d dropped)\n",
		res.RunID, res.Summary.Succeeded, res.Summary.Processed, res.OutputPath, res.Summary.Dropped)
}

type analyzeRequest struct {
	Review string `json:"review"`
}

type analyzeResponse struct {
	Review string               `json:"review"`
	Result types.AnalysisResult `json:"result"`
	Row    []string             `json:"row"`
}

func runServer(ctx context.Context, cfg config.Config, driver *processor.Driver, log *logger.Logger) error {
	if err := driver.Prepare(ctx); err != nil {
		return err
	}

	mux := http.NewServeMux()

	// health
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		log.WithRequest(r).Debug("health check")
		fmt.Fprint(w, "ok")
	})

	mux.HandleFunc("/analyze", func(w http.ResponseWriter, r *http.Request) {
		reqLog := log.WithRequest(r).WithField("handler", "analyze")

		review, err := readReview(r)
		if err != nil {
			reqLog.WithField("error", err.Error()).Warn("bad request")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		start := time.Now()
		res, err := driver.Analyze(r.Context(), types.Review(review))
		reqLog = reqLog.WithField("duration_ms", time.Since(start).Milliseconds())
		if err != nil {
			reqLog.WithField("error", err.Error()).Error("analysis failed")
			status := http.StatusInternalServerError
			if extractor.IsServiceFailure(err) {
				status = http.StatusBadGateway
			}
			http.Error(w, "analysis failed", status)
			return
		}
		reqLog.WithField("fallback", res.Fallback).
			WithField("sentinel", res.IsSentinel()).
			Info("review analyzed")

		rec := types.ResultRecord{Review: types.Review(review), Result: res}
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(analyzeResponse{Review: review, Result: res, Row: rec.Row()}); err != nil {
			reqLog.WithField("error", err.Error()).Error("failed to write response")
		}
	})

	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// readReview accepts ?review= on GET and a JSON body or plain text on POST.
func readReview(r *http.Request) (string, error) {
	var review string
	switch r.Method {
	case http.MethodGet:
		review = r.URL.Query().Get("review")
	case http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			return "", fmt.Errorf("read body: %w", err)
		}
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			var req analyzeRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return "", fmt.Errorf("decode body: %w", err)
			}
			review = req.Review
		} else {
			review = string(body)
		}
	default:
		return "", fmt.Errorf("method %s not allowed", r.Method)
	}
	if strings.TrimSpace(review) == "" {
		return "", errors.New("missing review")
	}
	return review, nil
}
