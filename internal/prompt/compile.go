package prompt

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/soragate/soragate/internal/catalog"
)

var ErrMalformedPrompt = errors.New("malformed prompt")

// Part is one ordered element of the inbound multimodal message.
type Part struct {
	Text  string
	Image *MediaRef
	Video *MediaRef
}

var (
	styleRe    = regexp.MustCompile(`\{([^}]+)\}`)
	segmentRe  = regexp.MustCompile(`\[(\d+(?:\.\d+)?)s\]\s*([^\[]+)`)
	remixURLRe = regexp.MustCompile(`https://sora\.chatgpt\.com/p/s_[a-f0-9]{32}`)
	remixIDRe  = regexp.MustCompile(`s_[a-f0-9]{32}`)
	collapseRe = regexp.MustCompile(`\s+`)
)

// Compile turns the raw parts plus the decoded model spec into exactly one
// Intent. Variant selection is structural: a video part without text is always
// CharacterCreate, with text always CharacterGenerate; storyboard is checked
// before remix; style tags and input media compose with every variant.
func Compile(parts []Part, spec catalog.Spec) (Intent, error) {
	var texts []string
	var image, video *MediaRef
	for _, p := range parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
		if p.Image != nil && image == nil {
			image = p.Image
		}
		if p.Video != nil && video == nil {
			video = p.Video
		}
	}
	text := strings.TrimSpace(strings.Join(texts, " "))

	if text == "" && image == nil && video == nil {
		return Intent{}, ErrMalformedPrompt
	}

	text, styleID := ExtractStyle(text)

	in := Intent{
		Spec:    spec,
		StyleID: styleID,
		Image:   image,
		Video:   video,
	}

	// Video reference wins over everything else.
	if video != nil {
		if text == "" {
			in.Kind = CharacterCreate
			return in, nil
		}
		in.Kind = CharacterGenerate
		in.Prompt = text
		return in, nil
	}

	if spec.Kind == catalog.KindVideo {
		if segs := parseSegments(text); len(segs) >= 2 {
			in.Kind = Storyboard
			in.Prompt = text
			in.Segments = segs
			return in, nil
		}
		if id := remixIDRe.FindString(text); id != "" {
			in.Kind = Remix
			in.RemixTargetID = id
			in.Prompt = stripRemixID(text)
			return in, nil
		}
	}

	if image != nil {
		if spec.Kind == catalog.KindVideo {
			in.Kind = ImageToVideo
		} else {
			in.Kind = ImageToImage
		}
		in.Prompt = text
		return in, nil
	}

	if text == "" {
		return Intent{}, ErrMalformedPrompt
	}
	if spec.Kind == catalog.KindVideo {
		in.Kind = TextToVideo
	} else {
		in.Kind = TextToImage
	}
	in.Prompt = text
	return in, nil
}

// ExtractStyle pulls the first {styleId} token out of text and strips every
// brace group, so running it again on the result finds nothing.
func ExtractStyle(text string) (cleaned, styleID string) {
	m := styleRe.FindStringSubmatch(text)
	if m == nil {
		return text, ""
	}
	styleID = strings.TrimSpace(m[1])
	cleaned = styleRe.ReplaceAllString(text, "")
	cleaned = strings.TrimSpace(collapseRe.ReplaceAllString(cleaned, " "))
	return cleaned, styleID
}

func parseSegments(text string) []Segment {
	matches := segmentRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	segs := make([]Segment, 0, len(matches))
	for _, m := range matches {
		secs, err := strconv.ParseFloat(m[1], 64)
		if err != nil || secs < 0 {
			return nil
		}
		segs = append(segs, Segment{Seconds: secs, Duration: m[1], Text: strings.TrimSpace(m[2])})
	}
	return segs
}

// Leading free text before the first bracket group becomes overall
// instructions for the storyboard.
func SplitInstructions(text string) string {
	i := strings.Index(text, "[")
	if i <= 0 {
		return ""
	}
	return strings.TrimSpace(text[:i])
}

func stripRemixID(text string) string {
	out := remixURLRe.ReplaceAllString(text, "")
	out = remixIDRe.ReplaceAllString(out, "")
	return strings.TrimSpace(collapseRe.ReplaceAllString(out, " "))
}
