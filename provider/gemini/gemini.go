// Package gemini provides generation backends built on Google's Gemini API
// via the official Go SDK: https://github.com/googleapis/go-genai
//
// Two backends are exposed: ImageBackend (multimodal image generation via
// GenerateContent) and TextToImageBackend (the dedicated Imagen endpoint).
// Both translate SDK failures into *assetgen.BackendError so the classifier
// can read the provider's structured diagnostics.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/mosaicdev/assetgen"
)

const (
	// DefaultImageModel is the multimodal image model.
	DefaultImageModel = "gemini-2.5-flash-image"

	// DefaultImagenModel is the dedicated text-to-image model.
	DefaultImagenModel = "imagen-3.0-generate-002"
)

// ParamAspectRatio overrides the aspect ratio computed from the request's
// dimensions.
const ParamAspectRatio = "aspect_ratio"

// Config configures a backend.
type Config struct {
	// APIKey for the Gemini API. Empty lets the SDK fall back to the
	// GOOGLE_API_KEY / GEMINI_API_KEY environment variables.
	APIKey string

	// Model overrides the backend's default model name.
	Model string
}

func newClient(ctx context.Context, cfg *Config) (*genai.Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	clientCfg := &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.APIKey != "" {
		clientCfg.APIKey = cfg.APIKey
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}
	return client, nil
}

// ImageBackend implements the multimodal-image capability.
type ImageBackend struct {
	client *genai.Client
	model  string
}

var _ assetgen.Backend = (*ImageBackend)(nil)

// NewImageBackend creates a multimodal image backend.
func NewImageBackend(ctx context.Context, cfg *Config) (*ImageBackend, error) {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	model := DefaultImageModel
	if cfg != nil && cfg.Model != "" {
		model = cfg.Model
	}
	return &ImageBackend{client: client, model: model}, nil
}

// Kind reports the capability this backend provides.
func (b *ImageBackend) Kind() assetgen.BackendKind {
	return assetgen.BackendMultimodalImage
}

// Invoke performs one generation attempt.
func (b *ImageBackend) Invoke(ctx context.Context, req *assetgen.GenerationRequest) (*assetgen.Image, error) {
	contents := []*genai.Content{
		{
			Parts: []*genai.Part{
				{Text: req.Prompt},
			},
		},
	}

	genConfig := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}
	if ratio := aspectRatioFor(req); ratio != "" {
		genConfig.ImageConfig = &genai.ImageConfig{AspectRatio: ratio}
	}

	result, err := b.client.Models.GenerateContent(ctx, b.model, contents, genConfig)
	if err != nil {
		return nil, translateError(b.Kind(), err)
	}
	return firstInlineImage(b.Kind(), result)
}

// Close releases any resources held by the backend. The genai.Client does
// not require explicit closing in the current SDK.
func (b *ImageBackend) Close() error {
	return nil
}

// TextToImageBackend implements the text-to-image capability using the
// dedicated Imagen generation endpoint.
type TextToImageBackend struct {
	client *genai.Client
	model  string
}

var _ assetgen.Backend = (*TextToImageBackend)(nil)

// NewTextToImageBackend creates an Imagen-backed text-to-image backend.
func NewTextToImageBackend(ctx context.Context, cfg *Config) (*TextToImageBackend, error) {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	model := DefaultImagenModel
	if cfg != nil && cfg.Model != "" {
		model = cfg.Model
	}
	return &TextToImageBackend{client: client, model: model}, nil
}

// Kind reports the capability this backend provides.
func (b *TextToImageBackend) Kind() assetgen.BackendKind {
	return assetgen.BackendTextToImage
}

// Invoke performs one generation attempt.
func (b *TextToImageBackend) Invoke(ctx context.Context, req *assetgen.GenerationRequest) (*assetgen.Image, error) {
	genConfig := &genai.GenerateImagesConfig{
		NumberOfImages: 1,
	}
	if ratio := aspectRatioFor(req); ratio != "" {
		genConfig.AspectRatio = ratio
	}

	resp, err := b.client.Models.GenerateImages(ctx, b.model, req.Prompt, genConfig)
	if err != nil {
		return nil, translateError(b.Kind(), err)
	}
	if resp == nil || len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil ||
		len(resp.GeneratedImages[0].Image.ImageBytes) == 0 {
		return nil, emptyResponseError(b.Kind())
	}

	img := resp.GeneratedImages[0].Image
	mimeType := img.MIMEType
	if mimeType == "" {
		// The Imagen endpoint returns PNG unless asked otherwise.
		mimeType = "image/png"
	}
	return &assetgen.Image{Data: img.ImageBytes, MIMEType: mimeType}, nil
}

// Close releases any resources held by the backend.
func (b *TextToImageBackend) Close() error {
	return nil
}

// firstInlineImage extracts the first image part of a GenerateContent
// response. A response with no image payload is a fatal failure: there is
// nothing to retry when the model answered without an image.
func firstInlineImage(kind assetgen.BackendKind, result *genai.GenerateContentResponse) (*assetgen.Image, error) {
	if result == nil || len(result.Candidates) == 0 {
		return nil, emptyResponseError(kind)
	}
	for _, candidate := range result.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				mimeType := part.InlineData.MIMEType
				if mimeType == "" {
					mimeType = "image/png"
				}
				return &assetgen.Image{Data: part.InlineData.Data, MIMEType: mimeType}, nil
			}
		}
	}
	return nil, emptyResponseError(kind)
}

func emptyResponseError(kind assetgen.BackendKind) error {
	return &assetgen.BackendError{
		Backend:    kind,
		Diagnostic: "response contained no image payload",
		Err:        assetgen.ErrEmptyPayload,
	}
}

// translateError converts an SDK error into a classifiable BackendError.
// Structured API errors keep their full body (including google.rpc details)
// as the diagnostic; everything else is treated as a transport failure.
func translateError(kind assetgen.BackendKind, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &assetgen.BackendError{
			Backend:    kind,
			StatusCode: apiErr.Code,
			Diagnostic: diagnosticBody(apiErr),
			Err:        err,
		}
	}
	return &assetgen.BackendError{
		Backend:    kind,
		Diagnostic: err.Error(),
		Transport:  true,
		Err:        err,
	}
}

// diagnosticBody rebuilds the provider's error envelope so the classifier
// sees the same shape the wire carried.
func diagnosticBody(apiErr genai.APIError) string {
	body, err := json.Marshal(apiErr)
	if err != nil {
		return apiErr.Error()
	}
	return `{"error":` + string(body) + `}`
}

// aspectRatioFor maps requested pixel dimensions onto the nearest aspect
// ratio the image APIs accept. An explicit aspect_ratio param wins.
func aspectRatioFor(req *assetgen.GenerationRequest) string {
	if ratio, ok := req.Param(ParamAspectRatio); ok {
		return ratio
	}
	d := req.Dimensions
	if d == nil || d.Width <= 0 || d.Height <= 0 {
		return ""
	}

	target := float64(d.Width) / float64(d.Height)
	candidates := []struct {
		name  string
		value float64
	}{
		{"1:1", 1},
		{"16:9", 16.0 / 9.0},
		{"9:16", 9.0 / 16.0},
		{"4:3", 4.0 / 3.0},
		{"3:4", 3.0 / 4.0},
	}

	best := candidates[0]
	bestDiff := diff(target, best.value)
	for _, c := range candidates[1:] {
		if delta := diff(target, c.value); delta < bestDiff {
			best, bestDiff = c, delta
		}
	}
	return best.name
}

func diff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
