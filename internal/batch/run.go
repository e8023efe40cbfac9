package batch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/croplens/croplens/internal/imageref"
	"github.com/croplens/croplens/internal/predict"
)

// ErrCancelled marks items the run never started because the batch was
// cancelled externally.
var ErrCancelled = errors.New("batch cancelled before item started")

// predictor is the slice of the pipeline the orchestrator needs.
type predictor interface {
	Predict(ctx context.Context, img imageref.Image, opts predict.Options) (*predict.Result, error)
}

// ItemCallback observes each outcome as it completes, in completion order.
// Outcome order in the returned Result still matches input order.
type ItemCallback func(index int, outcome ItemOutcome)

// Run drives the single-image pipeline across the inputs. Failures in one
// input never abort or affect the others, and the run itself never fails
// because of item failures. Cancelling ctx stops dispatching new items and
// marks them cancelled while items already in flight drain on a detached
// context.
func Run(ctx context.Context, pl predictor, images []imageref.Image, cfg Config) *Result {
	return RunWithCallback(ctx, pl, images, cfg, nil)
}

// RunWithCallback is Run with a per-item completion observer.
func RunWithCallback(ctx context.Context, pl predictor, images []imageref.Image, cfg Config, onItem ItemCallback) *Result {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	start := time.Now()
	items := make([]ItemOutcome, len(images))

	g := &errgroup.Group{}
	g.SetLimit(cfg.Workers)

	for i, img := range images {
		if ctx.Err() != nil {
			// Stop issuing new work; everything not yet dispatched is
			// marked cancelled.
			out := ItemOutcome{Source: img.Source(), Error: ErrCancelled.Error(), ErrorKind: "cancelled"}
			items[i] = out
			if onItem != nil {
				onItem(i, out)
			}
			continue
		}

		g.Go(func() error {
			// Detached so a batch cancellation lets this item finish rather
			// than abandoning it mid-flight.
			itemCtx := context.WithoutCancel(ctx)
			out := runItem(itemCtx, pl, img, cfg)
			items[i] = out
			if onItem != nil {
				onItem(i, out)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{Items: items}
	res.Summary = summarize(items, cfg.Workers, time.Since(start))
	slog.Info("batch run finished",
		"total", res.Summary.Total,
		"succeeded", res.Summary.Succeeded,
		"failed", res.Summary.Failed,
		"status", res.Summary.Status,
		"duration_ms", res.Summary.DurationMs)
	return res
}

// runItem runs one input through the pipeline with bounded retries of
// transient failures.
func runItem(ctx context.Context, pl predictor, img imageref.Image, cfg Config) ItemOutcome {
	out := ItemOutcome{Source: img.Source()}
	start := time.Now()

	backoff := cfg.InitialBackoff
	if backoff <= 0 {
		backoff = DefaultConfig().InitialBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = DefaultConfig().MaxBackoff
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		attemptStart := time.Now()
		res, err := pl.Predict(ctx, img, predict.Options{UseCache: cfg.UseCache})
		out.Attempts = attempt
		out.AttemptTimesMs = append(out.AttemptTimesMs, time.Since(attemptStart).Milliseconds())

		if err == nil {
			out.Success = true
			out.Prediction = res
			out.DurationMs = time.Since(start).Milliseconds()
			return out
		}

		lastErr = err
		if !retryable(err) || attempt == cfg.MaxAttempts {
			break
		}

		slog.Warn("retrying image after transient failure",
			"source", img.Source(), "attempt", attempt, "backoff", backoff, "error", err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			attempt = cfg.MaxAttempts
		}
		backoff = min(backoff*2, maxBackoff)
	}

	out.Error = lastErr.Error()
	out.ErrorKind = errorKind(lastErr)
	out.DurationMs = time.Since(start).Milliseconds()
	return out
}

// retryable reports whether an item error is worth another attempt:
// aggregate failures with a transient side are, validation and schema
// problems are not.
func retryable(err error) bool {
	var agg *predict.AggregateError
	if errors.As(err, &agg) {
		return agg.Transient()
	}
	return false
}

// errorKind maps an item error to the taxonomy reported in outcomes.
func errorKind(err error) string {
	var vErr *imageref.ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}
	var agg *predict.AggregateError
	if errors.As(err, &agg) {
		return "aggregate_failure"
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return "error"
}

func summarize(items []ItemOutcome, workers int, elapsed time.Duration) Summary {
	s := Summary{Total: len(items), Workers: workers, DurationMs: elapsed.Milliseconds()}
	for _, it := range items {
		if it.Success {
			s.Succeeded++
		} else {
			s.Failed++
		}
	}
	switch {
	case s.Failed == 0:
		s.Status = StatusSuccess
	case s.Succeeded == 0:
		s.Status = StatusFailed
	default:
		s.Status = StatusPartial
	}
	return s
}
