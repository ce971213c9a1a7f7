package assetgen

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mosaicdev/assetgen/manifest"
	"github.com/mosaicdev/assetgen/pace"
)

// ErrInterCallDelayRequired is returned when a pipeline is built without an
// explicit inter-call delay. There is no safe universal default: the right
// figure depends on the operator's provider accounts and their live rate
// limits, so it must be chosen deliberately.
var ErrInterCallDelayRequired = errors.New("inter-call delay must be configured explicitly")

// Pipeline drives the declared asset slots through their backends, persists
// artifacts, and synchronizes the manifest. Build one with NewPipeline; a
// pipeline is immutable after construction and a single run executes slots
// sequentially unless bounded parallelism is opted into.
type Pipeline struct {
	backends map[BackendKind]Backend
	store    Store
	retryer  *Retryer
	manifest *manifest.Synchronizer
	baseURL  string
	homeURL  string

	interCallDelay time.Duration
	requestTimeout time.Duration
	parallelism    int
	retryPolicy    *retryPolicy

	sleeper pace.Sleeper
	logger  *slog.Logger
}

// PipelineOption configures the Pipeline.
type PipelineOption func(*Pipeline)

// WithBackend registers a backend under its own kind. Registering a second
// backend of the same kind replaces the first.
func WithBackend(b Backend) PipelineOption {
	return func(p *Pipeline) {
		p.backends[b.Kind()] = b
	}
}

// WithInterCallDelay sets the pipeline-level floor applied before every
// slot after the first. Required.
func WithInterCallDelay(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		p.interCallDelay = d
	}
}

// WithRequestTimeout bounds each individual backend call, independent of
// retry delays and the run-level context. An attempt that exceeds it is
// classified as a transport failure and retried like any other connection
// problem. Zero (the default) leaves attempts bounded only by the run
// context.
func WithRequestTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		p.requestTimeout = d
	}
}

// WithRetryPolicy overrides the attempt budget (retries beyond the first
// attempt) and the delay used when a provider gives no explicit figure.
func WithRetryPolicy(maxRetries int, defaultDelay time.Duration) PipelineOption {
	return func(p *Pipeline) {
		p.retryPolicy = &retryPolicy{maxRetries: maxRetries, defaultDelay: defaultDelay}
	}
}

// WithLogger sets a structured logger for the pipeline.
func WithLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithSleeper overrides the sleep primitive used for retry delays and
// inter-call pacing. Tests inject fakes; callers wanting countdown logs
// wrap pace.Countdown around pace.Default().
func WithSleeper(sleeper pace.Sleeper) PipelineOption {
	return func(p *Pipeline) {
		p.sleeper = sleeper
	}
}

// WithManifest enables config synchronization after a run. Artifact URLs
// are derived from baseURL plus the artifact filename.
func WithManifest(sync *manifest.Synchronizer, baseURL string) PipelineOption {
	return func(p *Pipeline) {
		p.manifest = sync
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHomeURL sets the value offered for the manifest's homeUrl field. The
// synchronizer only applies it while the document still carries the
// placeholder domain.
func WithHomeURL(homeURL string) PipelineOption {
	return func(p *Pipeline) {
		p.homeURL = homeURL
	}
}

// WithParallelism opts into bounded-parallel slot execution. Use only when
// the backends in play do not share a rate-limit budget; provider limits
// are typically global per API key, which is why sequential is the default.
func WithParallelism(n int) PipelineOption {
	return func(p *Pipeline) {
		p.parallelism = n
	}
}

// retryPolicy is captured by option and resolved in NewPipeline, once the
// final logger and sleeper are known.
type retryPolicy struct {
	maxRetries   int
	defaultDelay time.Duration
}

// NewPipeline creates a pipeline over the given store.
//
// Example:
//
//	store := assetgen.NewDirStore("public/generated", "gemini")
//	pipe, err := assetgen.NewPipeline(store,
//	    assetgen.WithBackend(imageBackend),
//	    assetgen.WithBackend(screenshotBackend),
//	    assetgen.WithInterCallDelay(12*time.Second),
//	    assetgen.WithManifest(sync, "https://app.example.org/generated"),
//	)
func NewPipeline(store Store, opts ...PipelineOption) (*Pipeline, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}

	p := &Pipeline{
		backends: make(map[BackendKind]Backend),
		store:    store,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.interCallDelay <= 0 {
		return nil, ErrInterCallDelayRequired
	}
	if p.sleeper == nil {
		p.sleeper = pace.Default()
	}
	if p.parallelism < 1 {
		p.parallelism = 1
	}

	policy := p.retryPolicy
	if policy == nil {
		policy = &retryPolicy{maxRetries: DefaultMaxRetries, defaultDelay: DefaultRetryDelay}
	}
	classifier := NewClassifier(policy.defaultDelay, p.logger)
	p.retryer = NewRetryer(classifier, p.sleeper, p.logger)
	p.retryer.MaxRetries = policy.maxRetries
	p.retryer.AttemptTimeout = p.requestTimeout

	return p, nil
}

// manifestUpdates maps succeeded slots onto manifest fields. The homeUrl
// candidate rides along whenever any artifact was produced; the
// synchronizer decides whether it is still eligible.
func (p *Pipeline) manifestUpdates(outcomes []SlotOutcome) map[string]string {
	updates := make(map[string]string)
	for _, o := range outcomes {
		if !o.Succeeded() {
			continue
		}
		url := p.artifactURL(o.Artifact)
		switch o.Slot {
		case SlotIcon:
			updates[manifest.FieldIconURL] = url
		case SlotEmbed:
			updates[manifest.FieldImageURL] = url
		case SlotSplash:
			updates[manifest.FieldSplashImageURL] = url
		}
	}
	if len(updates) > 0 && p.homeURL != "" {
		updates[manifest.FieldHomeURL] = p.homeURL
	}
	return updates
}

// artifactURL derives the public URL for an artifact.
func (p *Pipeline) artifactURL(a *Artifact) string {
	if p.baseURL == "" {
		return a.Filename
	}
	return p.baseURL + "/" + a.Filename
}

// Close releases all backend resources.
func (p *Pipeline) Close() error {
	var errs []error
	for kind, backend := range p.backends {
		if err := backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", kind, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
