package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/soragate/soragate/internal/store"
)

// PublishPost publishes a finished generation as a post and returns the post
// id. Posts exist only long enough to obtain the watermark-free rendition;
// the caller deletes them afterwards.
func (c *Client) PublishPost(ctx context.Context, cred store.Credential, generationID string) (string, error) {
	body := map[string]any{
		"attachments_to_create": []map[string]string{
			{"generation_id": generationID, "kind": "sora"},
		},
		"post_text": "",
	}
	var out struct {
		Post struct {
			ID string `json:"id"`
		} `json:"post"`
	}
	if err := c.doJSON(ctx, cred, http.MethodPost, "/project_y/post", body, true, &out); err != nil {
		return "", err
	}
	return out.Post.ID, nil
}

// DeletePost removes a published post.
func (c *Client) DeletePost(ctx context.Context, cred store.Credential, postID string) error {
	return c.doJSON(ctx, cred, http.MethodDelete, "/project_y/post/"+postID, nil, false, nil)
}

// WatermarkFreeURL resolves the direct download link for a published post.
// With no parse service configured the public CDN mirror pattern is used; the
// mirror keys renditions by post id.
func (c *Client) WatermarkFreeURL(ctx context.Context, postID string) (string, error) {
	if c.parseURL == "" {
		return fmt.Sprintf("https://oscdn2.dyysy.com/MP4/%s.mp4", postID), nil
	}

	body := map[string]string{
		"url":   fmt.Sprintf("https://sora.chatgpt.com/p/%s", postID),
		"token": c.parseToken,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.parseURL+"/get-sora-link", bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	// The parse service is reached directly, not through the credential's
	// proxy route.
	resp, err := c.resolver.Direct().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("parse service: status %d: %s", resp.StatusCode, payload)
	}
	var out struct {
		Error        string `json:"error"`
		DownloadLink string `json:"download_link"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", fmt.Errorf("decode parse response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("parse service: %s", out.Error)
	}
	if out.DownloadLink == "" {
		return "", fmt.Errorf("parse service returned no download link")
	}
	return out.DownloadLink, nil
}
