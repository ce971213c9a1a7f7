package assetgen

import (
	"errors"
	"fmt"
	"net/url"
)

// Validation errors
var (
	ErrNilRequest        = errors.New("request cannot be nil")
	ErrUnknownSlot       = errors.New("unknown slot")
	ErrUnknownBackend    = errors.New("unknown backend kind")
	ErrEmptyPrompt       = errors.New("prompt cannot be empty")
	ErrInvalidTargetURL  = errors.New("target URL is invalid")
	ErrInvalidDimensions = errors.New("dimensions must be positive")
)

var knownSlots = map[Slot]bool{
	SlotIcon:   true,
	SlotEmbed:  true,
	SlotSplash: true,
}

var knownBackends = map[BackendKind]bool{
	BackendTextToImage:     true,
	BackendMultimodalImage: true,
	BackendScreenshot:      true,
}

// ValidateRequest checks a request before any network call is made, so a
// malformed slot fails fast instead of burning retry budget.
func ValidateRequest(req *GenerationRequest) error {
	if req == nil {
		return ErrNilRequest
	}
	if !knownSlots[req.Slot] {
		return fmt.Errorf("%w: %q", ErrUnknownSlot, req.Slot)
	}
	if !knownBackends[req.Backend] {
		return fmt.Errorf("%w: %q", ErrUnknownBackend, req.Backend)
	}

	if req.Backend == BackendScreenshot {
		if err := validateTargetURL(req.Prompt); err != nil {
			return err
		}
	} else if req.Prompt == "" {
		return ErrEmptyPrompt
	}

	if req.Dimensions != nil && (req.Dimensions.Width <= 0 || req.Dimensions.Height <= 0) {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, req.Dimensions.Width, req.Dimensions.Height)
	}

	return nil
}

func validateTargetURL(target string) error {
	if target == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTargetURL)
	}
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTargetURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrInvalidTargetURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidTargetURL)
	}
	return nil
}
