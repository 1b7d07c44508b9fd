package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/soragate/soragate/internal/store"
)

type imageInpaintItem struct {
	Type          string `json:"type"`
	FrameIndex    int    `json:"frame_index"`
	UploadMediaID string `json:"upload_media_id"`
}

type videoInpaintItem struct {
	Kind     string `json:"kind"`
	UploadID string `json:"upload_id"`
}

type ImageRequest struct {
	Prompt  string
	Width   int
	Height  int
	MediaID string
}

type VideoRequest struct {
	Prompt      string
	Orientation string
	NFrames     int
	Model       string
	Size        string
	StyleID     string
	MediaID     string
}

type StoryboardRequest struct {
	// Prompt is the already rendered shot timeline.
	Prompt      string
	Orientation string
	NFrames     int
	StyleID     string
	MediaID     string
}

type RemixRequest struct {
	TargetID    string
	Prompt      string
	Orientation string
	NFrames     int
	Model       string
	StyleID     string
}

type createResponse struct {
	ID string `json:"id"`
}

// CreateImage starts an image task and returns its task id.
func (c *Client) CreateImage(ctx context.Context, cred store.Credential, req ImageRequest) (string, error) {
	operation := "simple_compose"
	items := []imageInpaintItem{}
	if req.MediaID != "" {
		operation = "remix"
		items = append(items, imageInpaintItem{Type: "image", FrameIndex: 0, UploadMediaID: req.MediaID})
	}
	body := map[string]any{
		"type":          "image_gen",
		"operation":     operation,
		"prompt":        req.Prompt,
		"width":         req.Width,
		"height":        req.Height,
		"n_variants":    1,
		"n_frames":      1,
		"inpaint_items": items,
	}
	var out createResponse
	if err := c.doJSON(ctx, cred, http.MethodPost, "/video_gen", body, true, &out); err != nil {
		return "", classify("image", err)
	}
	return out.ID, nil
}

// CreateVideo starts a video task and returns its task id.
func (c *Client) CreateVideo(ctx context.Context, cred store.Credential, req VideoRequest) (string, error) {
	items := []videoInpaintItem{}
	if req.MediaID != "" {
		items = append(items, videoInpaintItem{Kind: "upload", UploadID: req.MediaID})
	}
	body := map[string]any{
		"kind":          "video",
		"prompt":        req.Prompt,
		"orientation":   req.Orientation,
		"size":          req.Size,
		"n_frames":      req.NFrames,
		"model":         req.Model,
		"inpaint_items": items,
		"style_id":      nullable(req.StyleID),
	}
	var out createResponse
	if err := c.doJSON(ctx, cred, http.MethodPost, "/nf/create", body, true, &out); err != nil {
		return "", classify("video", err)
	}
	return out.ID, nil
}

// CreateStoryboard starts a multi-shot video task. The backend treats the
// whole timeline as one job.
func (c *Client) CreateStoryboard(ctx context.Context, cred store.Credential, req StoryboardRequest) (string, error) {
	items := []videoInpaintItem{}
	if req.MediaID != "" {
		items = append(items, videoInpaintItem{Kind: "upload", UploadID: req.MediaID})
	}
	body := map[string]any{
		"kind":               "video",
		"prompt":             req.Prompt,
		"title":              "Draft your video",
		"orientation":        req.Orientation,
		"size":               "small",
		"n_frames":           req.NFrames,
		"storyboard_id":      nil,
		"inpaint_items":      items,
		"remix_target_id":    nil,
		"model":              "sy_8",
		"metadata":           nil,
		"style_id":           nullable(req.StyleID),
		"cameo_ids":          nil,
		"cameo_replacements": nil,
		"audio_caption":      nil,
		"audio_transcript":   nil,
		"video_caption":      nil,
	}
	var out createResponse
	if err := c.doJSON(ctx, cred, http.MethodPost, "/nf/create/storyboard", body, true, &out); err != nil {
		return "", classify("storyboard", err)
	}
	return out.ID, nil
}

// CreateRemix starts a video task derived from a published generation.
func (c *Client) CreateRemix(ctx context.Context, cred store.Credential, req RemixRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = "sy_8"
	}
	body := map[string]any{
		"kind":               "video",
		"prompt":             req.Prompt,
		"inpaint_items":      []videoInpaintItem{},
		"remix_target_id":    req.TargetID,
		"cameo_ids":          []string{},
		"cameo_replacements": map[string]string{},
		"model":              model,
		"orientation":        req.Orientation,
		"n_frames":           req.NFrames,
		"style_id":           nullable(req.StyleID),
	}
	var out createResponse
	if err := c.doJSON(ctx, cred, http.MethodPost, "/nf/create", body, true, &out); err != nil {
		return "", classify("remix", err)
	}
	return out.ID, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func classify(op string, err error) error {
	var be *BackendError
	if errors.As(err, &be) {
		kind := KindPayload
		if be.Credential() {
			kind = KindCredential
		}
		return &SubmissionError{Kind: kind, Op: op, Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// The caller went away or the stage timed out; the credential is
		// not at fault and must not be cooled down.
		return fmt.Errorf("submit %s: %w", op, err)
	}
	// Other transport failures look like credential problems to the retry
	// policy: another credential may route differently.
	return &SubmissionError{Kind: KindCredential, Op: op, Err: err}
}
