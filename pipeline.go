package assetgen

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mosaicdev/assetgen/manifest"
)

// Run drives every slot through its backend, persists artifacts, and then
// synchronizes the manifest once. A slot's terminal failure never aborts
// its siblings: each slot is independent and the run always attempts all of
// them (partial failure yields a partial RunResult, not an error).
//
// Before every slot after the first the pipeline waits the configured
// inter-call delay, regardless of the prior slot's outcome. That floor
// covers provider throughput limits that apply across calls; delays within
// a single slot's retries come from the Retryer.
//
// A non-nil error is returned only when the run cannot proceed at all
// (no requests, purge failure, or context cancellation mid-run); in the
// cancellation case the partial RunResult accompanies the error.
func (p *Pipeline) Run(ctx context.Context, requests []*GenerationRequest) (*RunResult, error) {
	if len(requests) == 0 {
		return nil, ErrNoSlots
	}

	runID := uuid.NewString()
	logger := p.logger.With("run_id", runID)
	start := time.Now()

	logger.Info("run starting",
		"slots", len(requests),
		"inter_call_delay", p.interCallDelay.String(),
		"parallelism", p.parallelism,
	)

	// The purge must complete before any save begins.
	if err := p.store.Clear(ctx); err != nil {
		return nil, fmt.Errorf("clearing content directory: %w", err)
	}

	var outcomes []SlotOutcome
	var runErr error
	if p.parallelism > 1 {
		outcomes, runErr = p.runParallel(ctx, logger, requests)
	} else {
		outcomes, runErr = p.runSequential(ctx, logger, requests)
	}

	result := &RunResult{
		RunID:    runID,
		Outcomes: outcomes,
	}

	// An interrupted run leaves the manifest exactly as it was.
	if runErr == nil {
		result.ConfigUpdated, result.Changes = p.syncManifest(logger, outcomes)
	}

	result.Duration = time.Since(start)

	succeeded := 0
	for _, o := range outcomes {
		if o.Succeeded() {
			succeeded++
		}
	}
	logger.Info("run finished",
		"duration_ms", result.Duration.Milliseconds(),
		"succeeded", succeeded,
		"failed", len(outcomes)-succeeded,
		"config_updated", result.ConfigUpdated,
	)

	return result, runErr
}

func (p *Pipeline) runSequential(ctx context.Context, logger *slog.Logger, requests []*GenerationRequest) ([]SlotOutcome, error) {
	outcomes := make([]SlotOutcome, 0, len(requests))
	for i, req := range requests {
		if i > 0 {
			logger.Debug("waiting before next slot", "delay", p.interCallDelay.String())
			if err := p.sleeper.Sleep(ctx, p.interCallDelay); err != nil {
				return outcomes, err
			}
		}
		outcomes = append(outcomes, p.runSlot(ctx, logger, req))
	}
	return outcomes, nil
}

// runParallel executes slots with bounded concurrency. Launches are still
// staggered by the inter-call delay so the pipeline-level call-rate floor
// holds even when slots overlap. Only for backends that do not share a
// rate-limit budget.
func (p *Pipeline) runParallel(ctx context.Context, logger *slog.Logger, requests []*GenerationRequest) ([]SlotOutcome, error) {
	outcomes := make([]SlotOutcome, len(requests))

	g := &errgroup.Group{}
	g.SetLimit(p.parallelism)

	launched := 0
	var sleepErr error
	for i, req := range requests {
		if i > 0 {
			if err := p.sleeper.Sleep(ctx, p.interCallDelay); err != nil {
				sleepErr = err
				break
			}
		}
		g.Go(func() error {
			outcomes[i] = p.runSlot(ctx, logger, req)
			return nil
		})
		launched++
	}
	_ = g.Wait()
	return outcomes[:launched], sleepErr
}

// runSlot resolves the backend, runs the retry loop, and persists the
// artifact. Every failure path is captured in the outcome rather than
// returned, so the caller keeps iterating.
func (p *Pipeline) runSlot(ctx context.Context, logger *slog.Logger, req *GenerationRequest) SlotOutcome {
	slotStart := time.Now()

	if err := ValidateRequest(req); err != nil {
		logger.Error("slot request invalid",
			"slot", string(req.Slot),
			"error", err.Error(),
		)
		return SlotOutcome{Slot: req.Slot, Err: err}
	}

	backend, ok := p.backends[req.Backend]
	if !ok {
		err := fmt.Errorf("%w: %s", ErrNoBackend, req.Backend)
		logger.Error("slot has no backend", "slot", req.Slot.String(), "kind", req.Backend.String())
		return SlotOutcome{Slot: req.Slot, Err: err}
	}

	logger.Info("slot starting",
		"slot", req.Slot.String(),
		"backend", req.Backend.String(),
	)

	img, attempts, err := p.retryer.Do(ctx, backend, req)
	if err != nil {
		logger.Error("slot failed",
			"slot", req.Slot.String(),
			"attempts", attempts,
			"duration_ms", time.Since(slotStart).Milliseconds(),
			"error", err.Error(),
		)
		return SlotOutcome{Slot: req.Slot, Err: err, Attempts: attempts}
	}

	artifact, err := p.store.Save(ctx, req.Slot, img.Data, img.MIMEType)
	if err != nil {
		logger.Error("slot artifact save failed",
			"slot", req.Slot.String(),
			"error", err.Error(),
		)
		return SlotOutcome{Slot: req.Slot, Err: err, Attempts: attempts}
	}

	logger.Info("slot completed",
		"slot", req.Slot.String(),
		"filename", artifact.Filename,
		"size_bytes", artifact.SizeBytes,
		"attempts", attempts,
		"duration_ms", time.Since(slotStart).Milliseconds(),
	)
	return SlotOutcome{Slot: req.Slot, Artifact: artifact, Attempts: attempts}
}

// syncManifest builds the update map from succeeded slots and applies it.
// Sync failures are reported and swallowed: generation is the deliverable.
func (p *Pipeline) syncManifest(logger *slog.Logger, outcomes []SlotOutcome) (bool, []manifest.Change) {
	if p.manifest == nil {
		return false, nil
	}

	updates := p.manifestUpdates(outcomes)
	if len(updates) == 0 {
		logger.Info("no artifacts to sync into manifest")
		return false, nil
	}

	updated, changes, err := p.manifest.Apply(updates)
	if err != nil {
		logger.Warn("manifest sync failed", "error", err.Error())
		return false, nil
	}
	return updated, changes
}
