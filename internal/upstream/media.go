package upstream

import (
	"context"
	"strings"

	"github.com/soragate/soragate/internal/store"
)

type uploadResponse struct {
	ID string `json:"id"`
}

func imageMIME(filename string) string {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	}
	return "image/png"
}

// UploadImage pushes reference-image bytes and returns the media id used in
// inpaint items.
func (c *Client) UploadImage(ctx context.Context, cred store.Credential, data []byte, filename string) (string, error) {
	if filename == "" {
		filename = "image.png"
	}
	var out uploadResponse
	err := c.doMultipart(ctx, cred, "/uploads",
		filePart{field: "file", filename: filename, contentType: imageMIME(filename), data: data},
		map[string]string{"file_name": filename}, &out)
	if err != nil {
		return "", &UploadError{Stage: "image", Err: err}
	}
	return out.ID, nil
}

// UploadCharacterVideo pushes the source clip for a character and returns the
// cameo id to poll.
func (c *Client) UploadCharacterVideo(ctx context.Context, cred store.Credential, data []byte) (string, error) {
	var out uploadResponse
	err := c.doMultipart(ctx, cred, "/characters/upload",
		filePart{field: "file", filename: "video.mp4", contentType: "video/mp4", data: data},
		map[string]string{"timestamps": "0,3"}, &out)
	if err != nil {
		return "", &UploadError{Stage: "character-video", Err: err}
	}
	return out.ID, nil
}

// UploadProfileImage pushes an avatar and returns its asset pointer.
func (c *Client) UploadProfileImage(ctx context.Context, cred store.Credential, data []byte) (string, error) {
	var out struct {
		AssetPointer string `json:"asset_pointer"`
	}
	err := c.doMultipart(ctx, cred, "/project_y/file/upload",
		filePart{field: "file", filename: "profile.webp", contentType: "image/webp", data: data},
		map[string]string{"use_case": "profile"}, &out)
	if err != nil {
		return "", &UploadError{Stage: "profile-image", Err: err}
	}
	return out.AssetPointer, nil
}
