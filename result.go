package assetgen

import (
	"time"

	"github.com/mosaicdev/assetgen/manifest"
)

// Artifact is a successfully generated and persisted asset plus its
// metadata. Created once per successful slot completion, never mutated.
type Artifact struct {
	Slot      Slot
	Filename  string
	Path      string
	SizeBytes int
	MIMEType  string
}

// SlotOutcome is the terminal result of one slot: an artifact or the final
// irrecoverable error, plus how many attempts it took.
type SlotOutcome struct {
	Slot     Slot
	Artifact *Artifact // nil when the slot failed
	Err      error     // nil when the slot succeeded
	Attempts int
}

// Succeeded reports whether the slot produced an artifact.
func (o SlotOutcome) Succeeded() bool {
	return o.Err == nil && o.Artifact != nil
}

// RunResult is the aggregate outcome of one pipeline run.
type RunResult struct {
	// RunID uniquely identifies the run in logs.
	RunID string

	// Outcomes holds one entry per attempted slot, in declared order.
	Outcomes []SlotOutcome

	// Duration is total wall-clock time including retries and pacing.
	Duration time.Duration

	// ConfigUpdated reports whether the manifest was rewritten.
	ConfigUpdated bool

	// Changes is the manifest changelog, empty when nothing changed.
	Changes []manifest.Change
}

// Outcome returns the outcome for a slot, with ok reporting presence.
func (r *RunResult) Outcome(slot Slot) (SlotOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.Slot == slot {
			return o, true
		}
	}
	return SlotOutcome{}, false
}

// Artifacts returns the artifacts of all succeeded slots.
func (r *RunResult) Artifacts() []*Artifact {
	var artifacts []*Artifact
	for _, o := range r.Outcomes {
		if o.Succeeded() {
			artifacts = append(artifacts, o.Artifact)
		}
	}
	return artifacts
}

// Failed returns the slots that did not produce an artifact.
func (r *RunResult) Failed() []SlotOutcome {
	var failed []SlotOutcome
	for _, o := range r.Outcomes {
		if !o.Succeeded() {
			failed = append(failed, o)
		}
	}
	return failed
}
