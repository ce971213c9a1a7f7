package assetgen

// Slot identifies one logical asset the pipeline is responsible for producing.
type Slot string

const (
	SlotIcon   Slot = "icon"
	SlotEmbed  Slot = "embed"
	SlotSplash Slot = "splash"
)

// String returns the slot name.
func (s Slot) String() string {
	return string(s)
}

// BackendKind identifies the generation capability a request is bound to.
type BackendKind string

const (
	BackendTextToImage     BackendKind = "text-to-image"
	BackendMultimodalImage BackendKind = "multimodal-image"
	BackendScreenshot      BackendKind = "screenshot"
)

// String returns the backend kind identifier.
func (k BackendKind) String() string {
	return string(k)
}

// Dimensions is the requested output size in pixels.
type Dimensions struct {
	Width  int
	Height int
}

// GenerationRequest describes one asset slot's generation call. A request is
// constructed once per slot per run and must not be mutated afterwards.
type GenerationRequest struct {
	// Slot names the asset this request produces.
	Slot Slot

	// Backend selects the capability used to produce it.
	Backend BackendKind

	// Prompt is the text prompt for image models, or the target URL for
	// screenshot backends.
	Prompt string

	// Dimensions of the output. Nil means the backend's own default
	// (screenshot backends fall back to their configured viewport).
	Dimensions *Dimensions

	// Params carries provider-specific generation options by name.
	Params map[string]string
}

// Param returns a provider option by name, with ok reporting presence.
func (r *GenerationRequest) Param(name string) (string, bool) {
	v, ok := r.Params[name]
	return v, ok
}
