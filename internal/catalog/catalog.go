package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
)

var ErrUnknownModel = errors.New("unknown model")

type MediaKind string

const (
	KindImage MediaKind = "image"
	KindVideo MediaKind = "video"
)

type Tier string

const (
	TierStandard Tier = "standard"
	TierPro      Tier = "pro"
	TierProHD    Tier = "pro-hd"
)

// Spec describes everything a model identifier encodes: media kind, geometry,
// duration and the upstream parameters the backend expects for it.
type Spec struct {
	ID          string    `json:"-"`
	Kind        MediaKind `json:"type"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	Orientation string    `json:"orientation,omitempty"`
	NFrames     int       `json:"n_frames,omitempty"`
	Model       string    `json:"model,omitempty"` // upstream model name, defaults to sy_8
	Size        string    `json:"size,omitempty"`  // small | large (HD)
	RequirePro  bool      `json:"require_pro,omitempty"`
}

// Seconds returns the video duration; 30 frames per second upstream.
func (s Spec) Seconds() float64 {
	if s.Kind != KindVideo {
		return 0
	}
	return float64(s.NFrames) / 30.0
}

func (s Spec) UpstreamModel() string {
	if s.Model == "" {
		return "sy_8"
	}
	return s.Model
}

func (s Spec) UpstreamSize() string {
	if s.Size == "" {
		return "small"
	}
	return s.Size
}

func (s Spec) Tier() Tier {
	if !s.RequirePro {
		return TierStandard
	}
	if s.Size == "large" {
		return TierProHD
	}
	return TierPro
}

type Catalog struct {
	specs map[string]Spec
}

// Load returns the built-in catalog, or one parsed from the JSON file at path.
// The file format is {"model-id": {spec fields}}; it replaces the built-in set
// entirely so deployments can add durations and aspects without a code change.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return &Catalog{specs: builtin()}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var specs map[string]Spec
	if err := json.Unmarshal(raw, &specs); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	for id, s := range specs {
		if s.Kind != KindImage && s.Kind != KindVideo {
			return nil, fmt.Errorf("catalog: model %q: bad type %q", id, s.Kind)
		}
		s.ID = id
		specs[id] = s
	}
	return &Catalog{specs: specs}, nil
}

func (c *Catalog) Resolve(model string) (Spec, error) {
	s, ok := c.specs[model]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	return s, nil
}

// IDs returns all model identifiers in stable order.
func (c *Catalog) IDs() []string {
	out := make([]string, 0, len(c.specs))
	for id := range c.specs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func builtin() map[string]Spec {
	specs := map[string]Spec{
		"gpt-image":           {Kind: KindImage, Width: 360, Height: 360},
		"gpt-image-landscape": {Kind: KindImage, Width: 540, Height: 360},
		"gpt-image-portrait":  {Kind: KindImage, Width: 360, Height: 540},
	}

	video := func(prefix string, frames int, model, size string, pro bool) {
		for _, orient := range []string{"landscape", "portrait"} {
			id := fmt.Sprintf("%s-%s-%ds", prefix, orient, frames/30)
			specs[id] = Spec{
				Kind:        KindVideo,
				Orientation: orient,
				NFrames:     frames,
				Model:       model,
				Size:        size,
				RequirePro:  pro,
			}
		}
	}

	video("sora2", 300, "", "", false)
	video("sora2", 450, "", "", false)
	// 25s exceeds the standard allowance upstream even on the base model
	video("sora2", 750, "sy_8", "small", true)

	video("sora2pro", 300, "sy_ore", "small", true)
	video("sora2pro", 450, "sy_ore", "small", true)
	video("sora2pro", 750, "sy_ore", "small", true)

	video("sora2pro-hd", 300, "sy_ore", "large", true)
	video("sora2pro-hd", 450, "sy_ore", "large", true)

	for id, s := range specs {
		s.ID = id
		specs[id] = s
	}
	return specs
}
