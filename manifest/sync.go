// Package manifest synchronizes generated asset URLs into the shared
// mini-app configuration document.
//
// The document is a JSON tree owned by the caller's storage; besides the
// recognized URL fields it carries arbitrary fields this package knows
// nothing about. Apply performs a single read-merge-write per run and
// leaves everything it does not explicitly update untouched, byte for byte.
package manifest

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Recognized top-level fields.
const (
	FieldIconURL        = "iconUrl"
	FieldImageURL       = "imageUrl"
	FieldSplashImageURL = "splashImageUrl"
	FieldHomeURL        = "homeUrl"
)

// PlaceholderDomain marks a homeUrl that has never been pointed at a real
// deployment. Only such values are eligible for replacement; a homeUrl an
// operator already set by hand is never overwritten.
const PlaceholderDomain = "example.com"

// ErrNotJSON is returned when the document exists but cannot be parsed.
var ErrNotJSON = errors.New("manifest is not valid JSON")

// updatableFields is the fixed merge order, so changelogs are deterministic.
var updatableFields = []string{FieldIconURL, FieldImageURL, FieldSplashImageURL, FieldHomeURL}

// Change records one field update for the changelog.
type Change struct {
	Field string
	Old   string
	New   string
}

func (c Change) String() string {
	return fmt.Sprintf("%s: %q -> %q", c.Field, c.Old, c.New)
}

// Synchronizer applies recognized field updates to a manifest document.
type Synchronizer struct {
	path   string
	logger *slog.Logger
}

// NewSynchronizer creates a synchronizer for the document at path.
func NewSynchronizer(path string, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{path: path, logger: logger}
}

// Path returns the document location.
func (s *Synchronizer) Path() string {
	return s.path
}

// Apply merges the recognized updates into the document and rewrites it
// exactly once. Unrecognized update keys are ignored; unrecognized document
// fields pass through untouched. The homeUrl field only changes while its
// current value still carries the placeholder domain.
//
// The returned bool reports whether anything changed. Errors here are
// expected to be treated as best-effort by callers: generation is the
// primary deliverable, config sync is not.
func (s *Synchronizer) Apply(updates map[string]string) (bool, []Change, error) {
	doc, err := os.ReadFile(s.path)
	if err != nil {
		return false, nil, fmt.Errorf("reading manifest: %w", err)
	}
	if !gjson.ValidBytes(doc) {
		return false, nil, fmt.Errorf("%s: %w", s.path, ErrNotJSON)
	}

	merged := doc
	var changes []Change
	for _, field := range updatableFields {
		value, ok := updates[field]
		if !ok || value == "" {
			continue
		}
		current := gjson.GetBytes(merged, field).String()
		if field == FieldHomeURL && !strings.Contains(current, PlaceholderDomain) {
			s.logger.Debug("homeUrl already set, leaving it alone", "current", current)
			continue
		}
		if current == value {
			continue
		}
		merged, err = sjson.SetBytes(merged, field, value)
		if err != nil {
			return false, nil, fmt.Errorf("setting %s: %w", field, err)
		}
		changes = append(changes, Change{Field: field, Old: current, New: value})
	}

	if len(changes) == 0 {
		s.logger.Info("manifest already up to date", "path", s.path)
		return false, nil, nil
	}

	if err := writeFileAtomic(s.path, merged); err != nil {
		return false, nil, fmt.Errorf("writing manifest: %w", err)
	}

	for _, c := range changes {
		s.logger.Info("manifest field updated",
			"field", c.Field,
			"old", c.Old,
			"new", c.New,
		)
	}
	return true, changes, nil
}

// writeFileAtomic writes via temp file and rename so a crash never leaves a
// torn document under the final name.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
