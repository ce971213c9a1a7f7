package assetgen

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store persists generated payloads and reports the resulting artifacts.
// DirStore is the local-filesystem implementation; cloud-backed stores can
// wrap their own clients with this interface.
type Store interface {
	// Save persists a payload under a deterministic, collision-free name.
	Save(ctx context.Context, slot Slot, data []byte, mimeType string) (*Artifact, error)

	// Clear purges stale artifacts before a run. Best effort: individual
	// deletion failures are logged and skipped.
	Clear(ctx context.Context) error
}

// DirStore writes artifacts into a flat content directory.
type DirStore struct {
	dir    string
	tag    string
	scoped bool
	logger *slog.Logger
	now    func() time.Time
}

var _ Store = (*DirStore)(nil)

// DirStoreOption configures a DirStore.
type DirStoreOption func(*DirStore)

// WithScopedClear restricts Clear to files carrying this store's tag prefix,
// leaving artifacts from other providers in place.
func WithScopedClear() DirStoreOption {
	return func(s *DirStore) {
		s.scoped = true
	}
}

// WithStoreLogger sets a structured logger for the store.
func WithStoreLogger(logger *slog.Logger) DirStoreOption {
	return func(s *DirStore) {
		s.logger = logger
	}
}

// WithStoreClock overrides the timestamp source used for filenames.
func WithStoreClock(now func() time.Time) DirStoreOption {
	return func(s *DirStore) {
		s.now = now
	}
}

// NewDirStore creates a store rooted at dir. The tag is prefixed to every
// filename and identifies which provider produced the artifact.
func NewDirStore(dir, tag string, opts ...DirStoreOption) *DirStore {
	s := &DirStore{
		dir:    dir,
		tag:    tag,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the content directory.
func (s *DirStore) Dir() string {
	return s.dir
}

// Clear removes existing files from the content directory, creating it if
// absent. It must complete before any Save of the same run begins.
func (s *DirStore) Clear(_ context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating content directory: %w", err)
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("reading content directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if s.scoped && !strings.HasPrefix(entry.Name(), s.tag+"-") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Warn("could not remove stale artifact",
				"path", path,
				"error", err.Error(),
			)
			continue
		}
		s.logger.Debug("removed stale artifact", "path", path)
	}
	return nil
}

// Save writes the payload under its final name via a temp file and rename,
// so a crash mid-write never leaves a partial artifact visible.
func (s *DirStore) Save(_ context.Context, slot Slot, data []byte, mimeType string) (*Artifact, error) {
	ext, ok := extensionFromMIME(mimeType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMediaType, mimeType)
	}
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating content directory: %w", err)
	}

	name := s.filename(slot, ext)
	final := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, "."+name+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("writing artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("closing artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("renaming artifact into place: %w", err)
	}

	s.logger.Info("artifact saved",
		"slot", slot.String(),
		"filename", name,
		"size_bytes", len(data),
		"media_type", mimeType,
	)

	return &Artifact{
		Slot:      slot,
		Filename:  name,
		Path:      final,
		SizeBytes: len(data),
		MIMEType:  mimeType,
	}, nil
}

var timestampSanitizer = strings.NewReplacer(":", "-", ".", "-")

// filename is <tag>-<slot>-<timestamp>.<ext>. The timestamp is RFC 3339 UTC
// with ':' and '.' replaced so names are safe on every filesystem;
// nanosecond resolution keeps names distinct within a run.
func (s *DirStore) filename(slot Slot, ext string) string {
	ts := timestampSanitizer.Replace(s.now().UTC().Format(time.RFC3339Nano))
	return fmt.Sprintf("%s-%s-%s.%s", s.tag, slot, ts, ext)
}

// extensionFromMIME maps media types to stable file suffixes. Unknown types
// are rejected so a slot fails rather than persisting a misnamed artifact.
func extensionFromMIME(mime string) (string, bool) {
	switch mime {
	case "image/png":
		return "png", true
	case "image/jpeg":
		return "jpg", true
	case "image/webp":
		return "webp", true
	case "image/gif":
		return "gif", true
	default:
		return "", false
	}
}
