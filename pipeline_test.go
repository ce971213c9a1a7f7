package assetgen

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/mosaicdev/assetgen/manifest"
)

const testManifest = `{
  "name": "Test App",
  "homeUrl": "https://example.com",
  "iconUrl": "https://example.com/icon.png",
  "imageUrl": "https://example.com/image.png",
  "splashImageUrl": "https://example.com/splash.png",
  "splashBackgroundColor": "#0f172a",
  "customUnknownField": {"nested": true}
}`

func writeTestManifest(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "farcaster.json")
	if err := os.WriteFile(path, []byte(testManifest), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func allSlotRequests() []*GenerationRequest {
	return []*GenerationRequest{
		{Slot: SlotIcon, Backend: BackendTextToImage, Prompt: "icon prompt"},
		{Slot: SlotEmbed, Backend: BackendMultimodalImage, Prompt: "embed prompt"},
		{Slot: SlotSplash, Backend: BackendScreenshot, Prompt: "https://app.example.org"},
	}
}

func buildTestPipeline(t *testing.T, sleeper *recordingSleeper, manifestPath string, backends ...Backend) *Pipeline {
	t.Helper()
	opts := []PipelineOption{
		WithInterCallDelay(12 * time.Second),
		WithSleeper(sleeper),
		WithHomeURL("https://app.example.org"),
	}
	for _, b := range backends {
		opts = append(opts, WithBackend(b))
	}
	if manifestPath != "" {
		opts = append(opts, WithManifest(manifest.NewSynchronizer(manifestPath, nil), "https://app.example.org/generated"))
	}
	pipe, err := NewPipeline(NewDirStore(t.TempDir(), "gemini"), opts...)
	if err != nil {
		t.Fatalf("building pipeline: %v", err)
	}
	return pipe
}

// Scenario A: all three slots succeed on the first attempt.
func TestPipeline_AllSlotsSucceed(t *testing.T) {
	sleeper := &recordingSleeper{}
	manifestPath := writeTestManifest(t)

	pipe := buildTestPipeline(t, sleeper, manifestPath,
		&MockBackend{KindValue: BackendTextToImage},
		&MockBackend{KindValue: BackendMultimodalImage},
		&MockBackend{KindValue: BackendScreenshot},
	)
	defer pipe.Close()

	result, err := pipe.Run(context.Background(), allSlotRequests())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Artifacts()) != 3 {
		t.Fatalf("expected 3 artifacts, got %d", len(result.Artifacts()))
	}
	for _, outcome := range result.Outcomes {
		if outcome.Attempts != 1 {
			t.Errorf("slot %s: expected 1 attempt, got %d", outcome.Slot, outcome.Attempts)
		}
	}

	// Two inter-call waits, no retry waits.
	delays := sleeper.Delays()
	if len(delays) != 2 {
		t.Fatalf("expected 2 inter-call delays, got %v", delays)
	}
	for _, d := range delays {
		if d != 12*time.Second {
			t.Errorf("expected 12s inter-call delay, got %v", d)
		}
	}

	if !result.ConfigUpdated {
		t.Fatal("expected manifest to be updated")
	}
	doc, err := os.ReadFile(manifestPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{"iconUrl", "imageUrl", "splashImageUrl"} {
		url := gjson.GetBytes(doc, field).String()
		if !strings.HasPrefix(url, "https://app.example.org/generated/gemini-") {
			t.Errorf("%s not updated, got %q", field, url)
		}
	}
	if got := gjson.GetBytes(doc, "homeUrl").String(); got != "https://app.example.org" {
		t.Errorf("homeUrl not replaced, got %q", got)
	}
	if !gjson.GetBytes(doc, "customUnknownField.nested").Bool() {
		t.Error("unknown field was not preserved")
	}
}

// Scenario B: the icon slot is rate limited twice with explicit delays,
// then succeeds.
func TestPipeline_RateLimitedSlotRecovers(t *testing.T) {
	sleeper := &recordingSleeper{}

	iconCalls := 0
	icon := &MockBackend{
		KindValue: BackendTextToImage,
		InvokeFunc: func(ctx context.Context, req *GenerationRequest) (*Image, error) {
			iconCalls++
			switch iconCalls {
			case 1:
				return nil, rateLimited("30s")
			case 2:
				return nil, rateLimited("45s")
			default:
				return &Image{Data: []byte("icon"), MIMEType: "image/png"}, nil
			}
		},
	}

	pipe := buildTestPipeline(t, sleeper, "",
		icon,
		&MockBackend{KindValue: BackendMultimodalImage},
		&MockBackend{KindValue: BackendScreenshot},
	)
	defer pipe.Close()

	result, err := pipe.Run(context.Background(), allSlotRequests())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outcome, ok := result.Outcome(SlotIcon)
	if !ok || !outcome.Succeeded() {
		t.Fatalf("expected icon artifact, got %+v", outcome)
	}
	if outcome.Attempts != 3 {
		t.Errorf("expected 3 attempts for icon, got %d", outcome.Attempts)
	}

	// 30s + 45s retry delays plus two 12s inter-call delays.
	if total := sleeper.Total(); total < 75*time.Second {
		t.Errorf("expected at least 75s of logged delay, got %v", total)
	}
}

// Scenario C: the embed slot fails fatally on every attempt; siblings still
// produce artifacts and only their fields are synchronized.
func TestPipeline_FatalSlotDoesNotAbortSiblings(t *testing.T) {
	sleeper := &recordingSleeper{}
	manifestPath := writeTestManifest(t)

	embed := &MockBackend{
		KindValue: BackendMultimodalImage,
		InvokeFunc: func(ctx context.Context, req *GenerationRequest) (*Image, error) {
			return nil, fatal("unsupported instruction")
		},
	}

	pipe := buildTestPipeline(t, sleeper, manifestPath,
		&MockBackend{KindValue: BackendTextToImage},
		embed,
		&MockBackend{KindValue: BackendScreenshot},
	)
	defer pipe.Close()

	result, err := pipe.Run(context.Background(), allSlotRequests())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Outcomes) != 3 {
		t.Fatalf("expected all 3 slots attempted, got %d", len(result.Outcomes))
	}

	embedOutcome, _ := result.Outcome(SlotEmbed)
	if embedOutcome.Succeeded() {
		t.Fatal("embed should have failed")
	}
	if !strings.Contains(embedOutcome.Err.Error(), "unsupported instruction") {
		t.Errorf("expected literal fatal reason, got %v", embedOutcome.Err)
	}
	if embed.Invocations() != 1 {
		t.Errorf("fatal failure should not be retried, got %d invocations", embed.Invocations())
	}

	for _, slot := range []Slot{SlotIcon, SlotSplash} {
		outcome, _ := result.Outcome(slot)
		if !outcome.Succeeded() {
			t.Errorf("slot %s should have succeeded: %v", slot, outcome.Err)
		}
	}

	doc, err := os.ReadFile(manifestPath)
	if err != nil {
		t.Fatal(err)
	}
	if got := gjson.GetBytes(doc, "imageUrl").String(); got != "https://example.com/image.png" {
		t.Errorf("imageUrl should be untouched for the failed slot, got %q", got)
	}
	if got := gjson.GetBytes(doc, "iconUrl").String(); !strings.Contains(got, "gemini-icon-") {
		t.Errorf("iconUrl should be updated, got %q", got)
	}
	if got := gjson.GetBytes(doc, "splashImageUrl").String(); !strings.Contains(got, "gemini-splash-") {
		t.Errorf("splashImageUrl should be updated, got %q", got)
	}
}

func TestPipeline_ExhaustedSlotContinues(t *testing.T) {
	sleeper := &recordingSleeper{}

	icon := &MockBackend{
		KindValue: BackendTextToImage,
		InvokeFunc: func(ctx context.Context, req *GenerationRequest) (*Image, error) {
			return nil, rateLimited("1s")
		},
	}

	pipe := buildTestPipeline(t, sleeper, "",
		icon,
		&MockBackend{KindValue: BackendMultimodalImage},
		&MockBackend{KindValue: BackendScreenshot},
	)
	defer pipe.Close()

	result, err := pipe.Run(context.Background(), allSlotRequests())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if icon.Invocations() != 4 {
		t.Errorf("expected 4 invocations before giving up, got %d", icon.Invocations())
	}
	iconOutcome, _ := result.Outcome(SlotIcon)
	if iconOutcome.Succeeded() {
		t.Fatal("icon should have failed")
	}
	if len(result.Artifacts()) != 2 {
		t.Errorf("expected 2 artifacts from surviving slots, got %d", len(result.Artifacts()))
	}
	failed := result.Failed()
	if len(failed) != 1 || failed[0].Slot != SlotIcon {
		t.Errorf("expected the icon slot in Failed(), got %+v", failed)
	}
}

func TestPipeline_RequestTimeoutRetriesStuckCall(t *testing.T) {
	sleeper := &recordingSleeper{}

	calls := 0
	icon := &MockBackend{
		KindValue: BackendTextToImage,
		InvokeFunc: func(ctx context.Context, req *GenerationRequest) (*Image, error) {
			calls++
			if calls == 1 {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return &Image{Data: []byte("icon"), MIMEType: "image/png"}, nil
		},
	}

	pipe, err := NewPipeline(NewDirStore(t.TempDir(), "gemini"),
		WithBackend(icon),
		WithInterCallDelay(time.Second),
		WithRequestTimeout(20*time.Millisecond),
		WithSleeper(sleeper),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer pipe.Close()

	result, err := pipe.Run(context.Background(), []*GenerationRequest{
		{Slot: SlotIcon, Backend: BackendTextToImage, Prompt: "icon"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outcome, _ := result.Outcome(SlotIcon)
	if !outcome.Succeeded() {
		t.Fatalf("expected icon artifact after retry, got %v", outcome.Err)
	}
	if outcome.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", outcome.Attempts)
	}
	if icon.Invocations() != 2 {
		t.Errorf("expected 2 invocations, got %d", icon.Invocations())
	}
}

func TestPipeline_MissingBackendFailsSlotOnly(t *testing.T) {
	sleeper := &recordingSleeper{}
	pipe := buildTestPipeline(t, sleeper, "",
		&MockBackend{KindValue: BackendTextToImage},
		&MockBackend{KindValue: BackendScreenshot},
	)
	defer pipe.Close()

	result, err := pipe.Run(context.Background(), allSlotRequests())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	embedOutcome, _ := result.Outcome(SlotEmbed)
	if !errors.Is(embedOutcome.Err, ErrNoBackend) {
		t.Errorf("expected ErrNoBackend, got %v", embedOutcome.Err)
	}
	if len(result.Artifacts()) != 2 {
		t.Errorf("expected 2 artifacts, got %d", len(result.Artifacts()))
	}
}

func TestPipeline_InvalidRequestFailsFast(t *testing.T) {
	backend := &MockBackend{KindValue: BackendTextToImage}
	pipe := buildTestPipeline(t, &recordingSleeper{}, "", backend)
	defer pipe.Close()

	result, err := pipe.Run(context.Background(), []*GenerationRequest{
		{Slot: SlotIcon, Backend: BackendTextToImage, Prompt: ""},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outcome, _ := result.Outcome(SlotIcon)
	if !errors.Is(outcome.Err, ErrEmptyPrompt) {
		t.Errorf("expected ErrEmptyPrompt, got %v", outcome.Err)
	}
	if backend.Invocations() != 0 {
		t.Errorf("invalid request must not reach the backend, got %d invocations", backend.Invocations())
	}
}

func TestPipeline_RequiresExplicitInterCallDelay(t *testing.T) {
	_, err := NewPipeline(NewDirStore(t.TempDir(), "gemini"))
	if !errors.Is(err, ErrInterCallDelayRequired) {
		t.Errorf("expected ErrInterCallDelayRequired, got %v", err)
	}
}

func TestPipeline_NoSlots(t *testing.T) {
	pipe := buildTestPipeline(t, &recordingSleeper{}, "")
	defer pipe.Close()

	if _, err := pipe.Run(context.Background(), nil); !errors.Is(err, ErrNoSlots) {
		t.Errorf("expected ErrNoSlots, got %v", err)
	}
}

func TestPipeline_ClearRunsBeforeSaves(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "gemini-icon-stale.png")
	if err := os.WriteFile(stale, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}

	pipe, err := NewPipeline(NewDirStore(dir, "gemini"),
		WithBackend(&MockBackend{KindValue: BackendTextToImage}),
		WithInterCallDelay(time.Second),
		WithSleeper(&recordingSleeper{}),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer pipe.Close()

	result, err := pipe.Run(context.Background(), []*GenerationRequest{
		{Slot: SlotIcon, Backend: BackendTextToImage, Prompt: "icon"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale artifact should have been purged")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly the new artifact, got %d files", len(entries))
	}
	outcome, _ := result.Outcome(SlotIcon)
	if entries[0].Name() != outcome.Artifact.Filename {
		t.Errorf("directory file %q does not match artifact %q", entries[0].Name(), outcome.Artifact.Filename)
	}
}

func TestPipeline_ParallelModeProducesAllArtifacts(t *testing.T) {
	sleeper := &recordingSleeper{}
	pipe, err := NewPipeline(NewDirStore(t.TempDir(), "gemini"),
		WithBackend(&MockBackend{KindValue: BackendTextToImage}),
		WithBackend(&MockBackend{KindValue: BackendMultimodalImage}),
		WithBackend(&MockBackend{KindValue: BackendScreenshot}),
		WithInterCallDelay(time.Second),
		WithSleeper(sleeper),
		WithParallelism(2),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer pipe.Close()

	result, err := pipe.Run(context.Background(), allSlotRequests())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Artifacts()) != 3 {
		t.Errorf("expected 3 artifacts, got %d", len(result.Artifacts()))
	}
	// Launches are still staggered by the inter-call floor.
	if len(sleeper.Delays()) != 2 {
		t.Errorf("expected 2 stagger delays, got %v", sleeper.Delays())
	}
}
