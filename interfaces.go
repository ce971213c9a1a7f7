package assetgen

import "context"

// Backend is the uniform interface over a single generation capability
// (text-to-image, multimodal image, or screenshot). Implement this interface
// to add support for new providers.
//
// Implementations must not retry internally - retries are the Retryer's
// responsibility. A failed call must return a *BackendError carrying the
// provider's diagnostic payload so the classifier can decide whether the
// failure is worth retrying.
type Backend interface {
	// Kind reports which capability this backend provides.
	Kind() BackendKind

	// Invoke performs exactly one generation attempt. It may block for the
	// duration of a network round trip; callers bound it with the context.
	Invoke(ctx context.Context, req *GenerationRequest) (*Image, error)

	// Close releases any resources held by the backend.
	Close() error
}

// Image is a raw generated payload plus its media type.
type Image struct {
	Data     []byte
	MIMEType string
}
