package job

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/soragate/soragate/internal/prompt"
	"github.com/soragate/soragate/internal/store"
	"github.com/soragate/soragate/internal/upstream"
)

// DeriveUsername turns the backend's username hint into a unique handle:
// drop everything before the last dot, append three random digits.
func DeriveUsername(hint string) string {
	base := hint
	if i := strings.LastIndex(hint, "."); i >= 0 {
		base = hint[i+1:]
	}
	if base == "" {
		base = "character"
	}
	return fmt.Sprintf("%s%d", base, 100+rand.Intn(900))
}

// submitCharacter runs the character pipeline: upload the source clip, wait
// for cameo processing, mirror the generated avatar, finalize, publish. For
// CharacterGenerate it then submits a video job with the handle prepended.
func (s *Submitter) submitCharacter(ctx context.Context, intent prompt.Intent, cred store.Credential, notify func(string)) (submitResult, error) {
	if intent.Video == nil {
		return submitResult{}, &upstream.SubmissionError{
			Kind: upstream.KindPayload,
			Op:   string(intent.Kind),
			Err:  fmt.Errorf("missing video reference"),
		}
	}

	videoData, err := s.resolveCharacterVideo(ctx, cred, intent.Video)
	if err != nil {
		return submitResult{}, err
	}

	notify("Uploading character video...\n")
	uctx, cancel := context.WithTimeout(ctx, s.opts.UploadTimeout)
	cameoID, err := s.backend.UploadCharacterVideo(uctx, cred, videoData)
	cancel()
	if err != nil {
		return submitResult{}, err
	}

	notify("Waiting for character processing...\n")
	cameo, err := s.waitForCameo(ctx, cred, cameoID)
	if err != nil {
		return submitResult{}, err
	}

	username := DeriveUsername(cameo.UsernameHint)
	displayName := cameo.DisplayNameHint
	if displayName == "" {
		displayName = "Character"
	}
	notify(fmt.Sprintf("Character recognized: %s (@%s)\n", displayName, username))

	if cameo.ProfileAssetURL == "" {
		return submitResult{}, &upstream.UploadError{Stage: "avatar", Err: fmt.Errorf("no profile asset url")}
	}
	notify("Mirroring character avatar...\n")
	avatar, err := s.backend.DownloadAsset(ctx, cred, cameo.ProfileAssetURL)
	if err != nil {
		return submitResult{}, &upstream.UploadError{Stage: "avatar-download", Err: err}
	}
	assetPointer, err := s.backend.UploadProfileImage(ctx, cred, avatar)
	if err != nil {
		return submitResult{}, err
	}

	notify("Finalizing character...\n")
	characterID, err := s.backend.FinalizeCharacter(ctx, cred, upstream.FinalizeRequest{
		CameoID:             cameoID,
		Username:            username,
		DisplayName:         displayName,
		ProfileAssetPointer: assetPointer,
	})
	if err != nil {
		return submitResult{}, &upstream.SubmissionError{Kind: upstream.KindPayload, Op: "finalize-character", Err: err}
	}
	if err := s.backend.SetCharacterPublic(ctx, cred, cameoID); err != nil {
		return submitResult{}, &upstream.SubmissionError{Kind: upstream.KindPayload, Op: "publish-character", Err: err}
	}

	res := submitResult{username: username, characterID: characterID}
	if intent.Kind == prompt.CharacterCreate {
		return res, nil
	}

	notify("Generating video with character...\n")
	spec := intent.Spec
	sctx, cancel := context.WithTimeout(ctx, s.opts.SubmitTimeout)
	defer cancel()
	taskID, err := s.backend.CreateVideo(sctx, cred, upstream.VideoRequest{
		Prompt:      fmt.Sprintf("@%s %s", username, intent.Prompt),
		Orientation: spec.Orientation,
		NFrames:     spec.NFrames,
		Model:       spec.UpstreamModel(),
		Size:        spec.UpstreamSize(),
		StyleID:     intent.StyleID,
	})
	if err != nil {
		return submitResult{}, err
	}
	res.taskID = taskID
	return res, nil
}

func (s *Submitter) resolveCharacterVideo(ctx context.Context, cred store.Credential, ref *prompt.MediaRef) ([]byte, error) {
	if ref.Inline() {
		data, err := base64.StdEncoding.DecodeString(ref.Data)
		if err != nil {
			return nil, &upstream.SubmissionError{Kind: upstream.KindPayload, Op: "decode-video", Err: err}
		}
		return data, nil
	}
	data, err := s.backend.DownloadAsset(ctx, cred, ref.URL)
	if err != nil {
		return nil, &upstream.UploadError{Stage: "fetch-video", Err: err}
	}
	return data, nil
}

func (s *Submitter) waitForCameo(ctx context.Context, cred store.Credential, cameoID string) (upstream.Cameo, error) {
	deadline := time.Now().Add(s.opts.CameoTimeout)
	ticker := time.NewTicker(s.opts.CameoInterval)
	defer ticker.Stop()

	errStreak := 0
	for {
		select {
		case <-ctx.Done():
			return upstream.Cameo{}, ctx.Err()
		case <-ticker.C:
		}
		if time.Now().After(deadline) {
			return upstream.Cameo{}, &upstream.UploadError{Stage: "cameo", Err: fmt.Errorf("processing timeout")}
		}

		cameo, err := s.backend.CameoStatus(ctx, cred, cameoID)
		if err != nil {
			errStreak++
			if errStreak >= 3 {
				return upstream.Cameo{}, &upstream.UploadError{Stage: "cameo", Err: err}
			}
			continue
		}
		errStreak = 0

		if cameo.Failed() {
			return upstream.Cameo{}, &upstream.SubmissionError{
				Kind: upstream.KindPayload,
				Op:   "cameo",
				Err:  fmt.Errorf("character processing failed: %s", cameo.StatusMessage),
			}
		}
		if cameo.Ready() {
			return cameo, nil
		}
	}
}
