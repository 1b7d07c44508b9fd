package prompt

import "github.com/soragate/soragate/internal/catalog"

type Kind string

const (
	TextToImage       Kind = "text_to_image"
	ImageToImage      Kind = "image_to_image"
	TextToVideo       Kind = "text_to_video"
	ImageToVideo      Kind = "image_to_video"
	CharacterCreate   Kind = "character_create"
	CharacterGenerate Kind = "character_generate"
	Remix             Kind = "remix"
	Storyboard        Kind = "storyboard"
)

// MediaRef points at an input image or video: either inline base64 payload
// (data URI already stripped) or a URL the submitter downloads first.
type MediaRef struct {
	Data string
	URL  string
}

func (m *MediaRef) Inline() bool { return m != nil && m.Data != "" }

// Segment is one storyboard shot. Duration keeps the digits as the user
// wrote them ("5.0" stays "5.0"); Seconds is the parsed value.
type Segment struct {
	Seconds  float64
	Duration string
	Text     string
}

// Intent is the compiled form of one multimodal request. Kind selects the
// variant; the variant never changes after compilation.
type Intent struct {
	Kind Kind
	Spec catalog.Spec

	Prompt  string
	StyleID string

	Image *MediaRef
	Video *MediaRef

	RemixTargetID string
	Segments      []Segment
}
