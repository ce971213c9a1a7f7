package assetgen

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mosaicdev/assetgen/pace"
)

const (
	// DefaultMaxRetries is the number of additional attempts after the first
	// (so 4 invocations total by default).
	DefaultMaxRetries = 3

	// DefaultRetryDelay is used when a provider gives no explicit figure.
	DefaultRetryDelay = 60 * time.Second
)

// Retryer drives a single backend invocation through bounded, classified
// retries. It is an explicit state machine: each attempt either terminates
// the call (success, fatal verdict, or exhausted budget) or sleeps for the
// classified delay and tries again.
type Retryer struct {
	// MaxRetries is the attempt budget beyond the first invocation.
	MaxRetries int

	// AttemptTimeout bounds each individual backend invocation. Zero means
	// unbounded: only the run-level context limits the call. An attempt that
	// hits this deadline is treated as a transport failure, so it stays
	// eligible for the default retry path while the run itself is still live.
	AttemptTimeout time.Duration

	classifier *Classifier
	sleeper    pace.Sleeper
	logger     *slog.Logger
}

// NewRetryer creates a retryer with the default attempt budget.
func NewRetryer(classifier *Classifier, sleeper pace.Sleeper, logger *slog.Logger) *Retryer {
	if classifier == nil {
		classifier = NewClassifier(DefaultRetryDelay, logger)
	}
	if sleeper == nil {
		sleeper = pace.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retryer{
		MaxRetries: DefaultMaxRetries,
		classifier: classifier,
		sleeper:    sleeper,
		logger:     logger,
	}
}

// Do invokes the backend until it succeeds, the classifier stops it, or the
// attempt budget is exhausted. It returns the number of attempts made and,
// on failure, the last attempt's error.
func (r *Retryer) Do(ctx context.Context, backend Backend, req *GenerationRequest) (*Image, int, error) {
	total := r.MaxRetries + 1
	if total < 1 {
		total = 1
	}

	var lastErr error
	for attempt := 1; attempt <= total; attempt++ {
		img, err := r.invoke(ctx, backend, req)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("attempt succeeded after retries",
					"slot", req.Slot.String(),
					"attempt", attempt,
				)
			}
			return img, attempt, nil
		}
		lastErr = err

		be, ok := AsBackendError(err)
		if !ok {
			r.logger.Error("attempt failed with unclassifiable error",
				"slot", req.Slot.String(),
				"attempt", attempt,
				"error", err.Error(),
			)
			return nil, attempt, err
		}

		verdict := r.classifier.Classify(be)
		if !verdict.Retry {
			r.logger.Error("attempt failed with fatal verdict",
				"slot", req.Slot.String(),
				"attempt", attempt,
				"reason", verdict.Reason,
			)
			return nil, attempt, err
		}

		if attempt == total {
			r.logger.Error("attempt budget exhausted",
				"slot", req.Slot.String(),
				"attempts", total,
				"reason", verdict.Reason,
			)
			break
		}

		delay := verdict.Delay
		if delay <= 0 {
			delay = r.classifier.DefaultDelay
		}
		r.logger.Warn("attempt failed, retrying",
			"slot", req.Slot.String(),
			"attempt", attempt,
			"reason", verdict.Reason,
			"delay", delay.String(),
		)
		if err := r.sleeper.Sleep(ctx, delay); err != nil {
			return nil, attempt, err
		}
	}

	return nil, total, lastErr
}

// invoke runs one attempt under the per-attempt deadline. A timed-out
// attempt whose run context is still live becomes a transport BackendError;
// run-level cancellation passes through untouched so Do aborts.
func (r *Retryer) invoke(ctx context.Context, backend Backend, req *GenerationRequest) (*Image, error) {
	if r.AttemptTimeout <= 0 {
		return backend.Invoke(ctx, req)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, r.AttemptTimeout)
	defer cancel()

	img, err := backend.Invoke(attemptCtx, req)
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, &BackendError{
			Backend:    backend.Kind(),
			Diagnostic: "request timed out after " + r.AttemptTimeout.String(),
			Transport:  true,
			Err:        err,
		}
	}
	return img, err
}
