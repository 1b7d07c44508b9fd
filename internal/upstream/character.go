package upstream

import (
	"context"
	"fmt"
	"net/http"

	"github.com/soragate/soragate/internal/store"
)

// Cameo is the processing state of an uploaded character clip.
type Cameo struct {
	Status          string `json:"status"`
	StatusMessage   string `json:"status_message"`
	UsernameHint    string `json:"username_hint"`
	DisplayNameHint string `json:"display_name_hint"`
	ProfileAssetURL string `json:"profile_asset_url"`
}

// Ready reports whether processing finished.
func (c Cameo) Ready() bool {
	return c.StatusMessage == "Completed" || c.Status == "finalized"
}

// Failed reports whether processing was rejected.
func (c Cameo) Failed() bool { return c.Status == "failed" }

// CameoStatus reads the processing state of a cameo.
func (c *Client) CameoStatus(ctx context.Context, cred store.Credential, cameoID string) (Cameo, error) {
	var out Cameo
	path := "/project_y/cameos/in_progress/" + cameoID
	if err := c.doJSON(ctx, cred, http.MethodGet, path, nil, false, &out); err != nil {
		return Cameo{}, err
	}
	return out, nil
}

type FinalizeRequest struct {
	CameoID             string
	Username            string
	DisplayName         string
	ProfileAssetPointer string
}

// FinalizeCharacter completes character creation and returns the character id.
func (c *Client) FinalizeCharacter(ctx context.Context, cred store.Credential, req FinalizeRequest) (string, error) {
	body := map[string]any{
		"cameo_id":               req.CameoID,
		"username":               req.Username,
		"display_name":           req.DisplayName,
		"profile_asset_pointer":  req.ProfileAssetPointer,
		"instruction_set":        nil,
		"safety_instruction_set": nil,
	}
	var out struct {
		Character struct {
			CharacterID string `json:"character_id"`
		} `json:"character"`
	}
	if err := c.doJSON(ctx, cred, http.MethodPost, "/characters/finalize", body, false, &out); err != nil {
		return "", err
	}
	if out.Character.CharacterID == "" {
		return "", fmt.Errorf("finalize: empty character id")
	}
	return out.Character.CharacterID, nil
}

// SetCharacterPublic makes the character usable from prompts.
func (c *Client) SetCharacterPublic(ctx context.Context, cred store.Credential, cameoID string) error {
	path := "/project_y/cameos/by_id/" + cameoID + "/update_v2"
	return c.doJSON(ctx, cred, http.MethodPost, path, map[string]any{"visibility": "public"}, false, nil)
}

// DeleteCharacter removes a character created for a one-off generation.
func (c *Client) DeleteCharacter(ctx context.Context, cred store.Credential, characterID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/project_y/characters/"+characterID, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req, cred, false)
	return c.send(req, cred, nil)
}
