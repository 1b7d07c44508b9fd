package job

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/soragate/soragate/internal/catalog"
	"github.com/soragate/soragate/internal/pool"
	"github.com/soragate/soragate/internal/prompt"
	"github.com/soragate/soragate/internal/store"
	"github.com/soragate/soragate/internal/upstream"
)

// Backend is the slice of the upstream client the job layer needs. Tests
// substitute a fake.
type Backend interface {
	UploadImage(ctx context.Context, cred store.Credential, data []byte, filename string) (string, error)
	UploadCharacterVideo(ctx context.Context, cred store.Credential, data []byte) (string, error)
	UploadProfileImage(ctx context.Context, cred store.Credential, data []byte) (string, error)
	DownloadAsset(ctx context.Context, cred store.Credential, url string) ([]byte, error)

	CreateImage(ctx context.Context, cred store.Credential, req upstream.ImageRequest) (string, error)
	CreateVideo(ctx context.Context, cred store.Credential, req upstream.VideoRequest) (string, error)
	CreateStoryboard(ctx context.Context, cred store.Credential, req upstream.StoryboardRequest) (string, error)
	CreateRemix(ctx context.Context, cred store.Credential, req upstream.RemixRequest) (string, error)

	PendingTasks(ctx context.Context, cred store.Credential) ([]upstream.PendingTask, error)
	Drafts(ctx context.Context, cred store.Credential, limit int) ([]upstream.Draft, error)
	ImageTasks(ctx context.Context, cred store.Credential, limit int) ([]upstream.ImageTask, error)

	PublishPost(ctx context.Context, cred store.Credential, generationID string) (string, error)
	DeletePost(ctx context.Context, cred store.Credential, postID string) error
	WatermarkFreeURL(ctx context.Context, postID string) (string, error)

	CameoStatus(ctx context.Context, cred store.Credential, cameoID string) (upstream.Cameo, error)
	FinalizeCharacter(ctx context.Context, cred store.Credential, req upstream.FinalizeRequest) (string, error)
	SetCharacterPublic(ctx context.Context, cred store.Credential, cameoID string) error
	DeleteCharacter(ctx context.Context, cred store.Credential, characterID string) error
}

// CredentialPool is the rotation surface the submitter drives.
type CredentialPool interface {
	Acquire(tier catalog.Tier, kind catalog.MediaKind) (store.Credential, error)
	ReportSuccess(ctx context.Context, id uint)
	ReportFailure(ctx context.Context, id uint)
}

type SubmitterOptions struct {
	UploadTimeout time.Duration
	SubmitTimeout time.Duration
	// ImageTimeout doubles as the single-flight lock TTL.
	ImageTimeout  time.Duration
	CameoTimeout  time.Duration
	CameoInterval time.Duration
}

type Submitter struct {
	backend Backend
	pool    CredentialPool
	locker  pool.Locker
	policy  RetryPolicy
	opts    SubmitterOptions
}

func NewSubmitter(backend Backend, p CredentialPool, locker pool.Locker, policy RetryPolicy, opts SubmitterOptions) *Submitter {
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = 2 * time.Minute
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = time.Minute
	}
	if opts.ImageTimeout <= 0 {
		opts.ImageTimeout = 5 * time.Minute
	}
	if opts.CameoTimeout <= 0 {
		opts.CameoTimeout = 10 * time.Minute
	}
	if opts.CameoInterval <= 0 {
		opts.CameoInterval = 5 * time.Second
	}
	return &Submitter{backend: backend, pool: p, locker: locker, policy: policy, opts: opts}
}

type submitResult struct {
	taskID      string
	username    string
	characterID string
}

// Submit rotates to a usable credential and creates the upstream job. The
// returned release func frees the image single-flight lock and must be called
// when the job settles.
func (s *Submitter) Submit(ctx context.Context, intent prompt.Intent, notify func(string)) (*Job, func(), error) {
	var lastErr error
	for attempt := 0; attempt < s.policy.MaxAttempts; attempt++ {
		if attempt > 0 && s.policy.Backoff > 0 {
			select {
			case <-time.After(s.policy.Backoff):
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			}
		}

		cred, err := s.pool.Acquire(intent.Spec.Tier(), intent.Spec.Kind)
		if err != nil {
			if lastErr != nil {
				return nil, nil, lastErr
			}
			return nil, nil, err
		}

		release := func() {}
		if intent.Spec.Kind == catalog.KindImage && s.locker != nil {
			ok, lockErr := s.locker.TryLock(ctx, cred.ID, s.opts.ImageTimeout)
			if lockErr != nil {
				return nil, nil, lockErr
			}
			if !ok {
				// Another image job is running on this credential.
				lastErr = fmt.Errorf("credential %d busy", cred.ID)
				continue
			}
			id := cred.ID
			release = func() { _ = s.locker.Unlock(context.Background(), id) }
		}

		res, err := s.submitOnce(ctx, intent, cred, notify)
		if err != nil && s.policy.Classify(err) == ActionRetrySame {
			notify("Upload failed, retrying on the same account...\n")
			res, err = s.submitOnce(ctx, intent, cred, notify)
		}
		if err != nil {
			release()
			switch s.policy.Classify(err) {
			case ActionRotate:
				s.pool.ReportFailure(ctx, cred.ID)
				lastErr = err
				continue
			default:
				return nil, nil, err
			}
		}

		j, err := newJob(intent, cred)
		if err != nil {
			release()
			return nil, nil, err
		}
		j.TaskID = res.taskID
		j.Username = res.username
		j.CharacterID = res.characterID
		return j, release, nil
	}
	return nil, nil, lastErr
}

func (s *Submitter) submitOnce(ctx context.Context, intent prompt.Intent, cred store.Credential, notify func(string)) (submitResult, error) {
	switch intent.Kind {
	case prompt.CharacterCreate, prompt.CharacterGenerate:
		return s.submitCharacter(ctx, intent, cred, notify)
	}

	mediaID, err := s.uploadReference(ctx, intent, cred, notify)
	if err != nil {
		return submitResult{}, err
	}

	sctx, cancel := context.WithTimeout(ctx, s.opts.SubmitTimeout)
	defer cancel()

	spec := intent.Spec
	var taskID string
	switch intent.Kind {
	case prompt.TextToImage, prompt.ImageToImage:
		taskID, err = s.backend.CreateImage(sctx, cred, upstream.ImageRequest{
			Prompt:  intent.Prompt,
			Width:   spec.Width,
			Height:  spec.Height,
			MediaID: mediaID,
		})
	case prompt.TextToVideo, prompt.ImageToVideo:
		taskID, err = s.backend.CreateVideo(sctx, cred, upstream.VideoRequest{
			Prompt:      intent.Prompt,
			Orientation: spec.Orientation,
			NFrames:     spec.NFrames,
			Model:       spec.UpstreamModel(),
			Size:        spec.UpstreamSize(),
			StyleID:     intent.StyleID,
			MediaID:     mediaID,
		})
	case prompt.Storyboard:
		taskID, err = s.backend.CreateStoryboard(sctx, cred, upstream.StoryboardRequest{
			Prompt:      renderStoryboard(intent),
			Orientation: spec.Orientation,
			NFrames:     spec.NFrames,
			StyleID:     intent.StyleID,
			MediaID:     mediaID,
		})
	case prompt.Remix:
		taskID, err = s.backend.CreateRemix(sctx, cred, upstream.RemixRequest{
			TargetID:    intent.RemixTargetID,
			Prompt:      intent.Prompt,
			Orientation: spec.Orientation,
			NFrames:     spec.NFrames,
			StyleID:     intent.StyleID,
		})
	default:
		err = &upstream.SubmissionError{
			Kind: upstream.KindPayload,
			Op:   string(intent.Kind),
			Err:  fmt.Errorf("unsupported intent"),
		}
	}
	if err != nil {
		return submitResult{}, err
	}
	return submitResult{taskID: taskID}, nil
}

// uploadReference pushes the inline or remote input image, if any.
func (s *Submitter) uploadReference(ctx context.Context, intent prompt.Intent, cred store.Credential, notify func(string)) (string, error) {
	if intent.Image == nil {
		return "", nil
	}
	notify("Uploading reference image...\n")

	data, err := s.resolveMedia(ctx, cred, intent.Image)
	if err != nil {
		return "", err
	}

	uctx, cancel := context.WithTimeout(ctx, s.opts.UploadTimeout)
	defer cancel()
	mediaID, err := s.backend.UploadImage(uctx, cred, data, "image.png")
	if err != nil {
		return "", err
	}
	notify("Reference image uploaded.\n")
	return mediaID, nil
}

func (s *Submitter) resolveMedia(ctx context.Context, cred store.Credential, ref *prompt.MediaRef) ([]byte, error) {
	if ref.Inline() {
		data, err := base64.StdEncoding.DecodeString(ref.Data)
		if err != nil {
			return nil, &upstream.SubmissionError{Kind: upstream.KindPayload, Op: "decode-media", Err: err}
		}
		return data, nil
	}
	dctx, cancel := context.WithTimeout(ctx, s.opts.UploadTimeout)
	defer cancel()
	data, err := s.backend.DownloadAsset(dctx, cred, ref.URL)
	if err != nil {
		return nil, &upstream.UploadError{Stage: "fetch-media", Err: err}
	}
	return data, nil
}

// renderStoryboard turns the parsed shot list into the backend's timeline
// format, with leading free text as trailing instructions.
func renderStoryboard(intent prompt.Intent) string {
	shots := make([]string, 0, len(intent.Segments))
	for i, seg := range intent.Segments {
		shots = append(shots, fmt.Sprintf("Shot %d:\nduration: %ssec\nScene: %s", i+1, seg.Duration, seg.Text))
	}
	timeline := strings.Join(shots, "\n\n")
	if instructions := prompt.SplitInstructions(intent.Prompt); instructions != "" {
		return fmt.Sprintf("current timeline:\n%s\n\ninstructions:\n%s", timeline, instructions)
	}
	return timeline
}
