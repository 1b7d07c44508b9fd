package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/soragate/soragate/internal/catalog"
	"github.com/soragate/soragate/internal/prompt"
	"github.com/soragate/soragate/internal/store"
	"github.com/soragate/soragate/internal/upstream"
)

// fakeBackend implements Backend with overridable hooks; the zero value
// answers every call with a canned success.
type fakeBackend struct {
	mu sync.Mutex

	uploadImageCalls int
	deletedChars     []string
	deletedPosts     []string

	onUploadImage      func(data []byte) (string, error)
	onUploadCharVideo  func(data []byte) (string, error)
	onUploadProfile    func(data []byte) (string, error)
	onDownloadAsset    func(url string) ([]byte, error)
	onCreateImage      func(req upstream.ImageRequest) (string, error)
	onCreateVideo      func(req upstream.VideoRequest) (string, error)
	onCreateStoryboard func(req upstream.StoryboardRequest) (string, error)
	onCreateRemix      func(req upstream.RemixRequest) (string, error)
	onPendingTasks     func() ([]upstream.PendingTask, error)
	onDrafts           func() ([]upstream.Draft, error)
	onImageTasks       func() ([]upstream.ImageTask, error)
	onCameoStatus      func() (upstream.Cameo, error)
	onFinalize         func(req upstream.FinalizeRequest) (string, error)
	onPublishPost      func(generationID string) (string, error)
	onWatermarkFree    func(postID string) (string, error)
}

func (f *fakeBackend) UploadImage(_ context.Context, _ store.Credential, data []byte, _ string) (string, error) {
	f.mu.Lock()
	f.uploadImageCalls++
	f.mu.Unlock()
	if f.onUploadImage != nil {
		return f.onUploadImage(data)
	}
	return "media-1", nil
}

func (f *fakeBackend) UploadCharacterVideo(_ context.Context, _ store.Credential, data []byte) (string, error) {
	if f.onUploadCharVideo != nil {
		return f.onUploadCharVideo(data)
	}
	return "cameo-1", nil
}

func (f *fakeBackend) UploadProfileImage(_ context.Context, _ store.Credential, data []byte) (string, error) {
	if f.onUploadProfile != nil {
		return f.onUploadProfile(data)
	}
	return "asset-pointer-1", nil
}

func (f *fakeBackend) DownloadAsset(_ context.Context, _ store.Credential, url string) ([]byte, error) {
	if f.onDownloadAsset != nil {
		return f.onDownloadAsset(url)
	}
	return []byte("bytes"), nil
}

func (f *fakeBackend) CreateImage(_ context.Context, _ store.Credential, req upstream.ImageRequest) (string, error) {
	if f.onCreateImage != nil {
		return f.onCreateImage(req)
	}
	return "task-img-1", nil
}

func (f *fakeBackend) CreateVideo(_ context.Context, _ store.Credential, req upstream.VideoRequest) (string, error) {
	if f.onCreateVideo != nil {
		return f.onCreateVideo(req)
	}
	return "task-vid-1", nil
}

func (f *fakeBackend) CreateStoryboard(_ context.Context, _ store.Credential, req upstream.StoryboardRequest) (string, error) {
	if f.onCreateStoryboard != nil {
		return f.onCreateStoryboard(req)
	}
	return "task-sb-1", nil
}

func (f *fakeBackend) CreateRemix(_ context.Context, _ store.Credential, req upstream.RemixRequest) (string, error) {
	if f.onCreateRemix != nil {
		return f.onCreateRemix(req)
	}
	return "task-rx-1", nil
}

func (f *fakeBackend) PendingTasks(_ context.Context, _ store.Credential) ([]upstream.PendingTask, error) {
	if f.onPendingTasks != nil {
		return f.onPendingTasks()
	}
	return nil, nil
}

func (f *fakeBackend) Drafts(_ context.Context, _ store.Credential, _ int) ([]upstream.Draft, error) {
	if f.onDrafts != nil {
		return f.onDrafts()
	}
	return nil, nil
}

func (f *fakeBackend) ImageTasks(_ context.Context, _ store.Credential, _ int) ([]upstream.ImageTask, error) {
	if f.onImageTasks != nil {
		return f.onImageTasks()
	}
	return nil, nil
}

func (f *fakeBackend) PublishPost(_ context.Context, _ store.Credential, generationID string) (string, error) {
	if f.onPublishPost != nil {
		return f.onPublishPost(generationID)
	}
	return "s_post-1", nil
}

func (f *fakeBackend) DeletePost(_ context.Context, _ store.Credential, postID string) error {
	f.mu.Lock()
	f.deletedPosts = append(f.deletedPosts, postID)
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) WatermarkFreeURL(_ context.Context, postID string) (string, error) {
	if f.onWatermarkFree != nil {
		return f.onWatermarkFree(postID)
	}
	return "https://cdn.example/clean/" + postID + ".mp4", nil
}

func (f *fakeBackend) CameoStatus(_ context.Context, _ store.Credential, _ string) (upstream.Cameo, error) {
	if f.onCameoStatus != nil {
		return f.onCameoStatus()
	}
	return upstream.Cameo{
		Status:          "finalized",
		StatusMessage:   "Completed",
		UsernameHint:    "co.user.hero",
		DisplayNameHint: "Hero",
		ProfileAssetURL: "https://cdn.example/avatar.webp",
	}, nil
}

func (f *fakeBackend) FinalizeCharacter(_ context.Context, _ store.Credential, req upstream.FinalizeRequest) (string, error) {
	if f.onFinalize != nil {
		return f.onFinalize(req)
	}
	return "char-1", nil
}

func (f *fakeBackend) SetCharacterPublic(_ context.Context, _ store.Credential, _ string) error {
	return nil
}

func (f *fakeBackend) DeleteCharacter(_ context.Context, _ store.Credential, characterID string) error {
	f.mu.Lock()
	f.deletedChars = append(f.deletedChars, characterID)
	f.mu.Unlock()
	return nil
}

// fakePool hands out credentials in order and records outcome reports.
type fakePool struct {
	mu         sync.Mutex
	creds      []store.Credential
	idx        int
	acquireErr error

	successes []uint
	failures  []uint
}

func (p *fakePool) Acquire(_ catalog.Tier, _ catalog.MediaKind) (store.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.acquireErr != nil {
		return store.Credential{}, p.acquireErr
	}
	c := p.creds[p.idx%len(p.creds)]
	p.idx++
	return c, nil
}

func (p *fakePool) ReportSuccess(_ context.Context, id uint) {
	p.mu.Lock()
	p.successes = append(p.successes, id)
	p.mu.Unlock()
}

func (p *fakePool) ReportFailure(_ context.Context, id uint) {
	p.mu.Lock()
	p.failures = append(p.failures, id)
	p.mu.Unlock()
}

func videoIntent(t *testing.T, text string) prompt.Intent {
	t.Helper()
	cat, err := catalog.Load("")
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	spec, err := cat.Resolve("sora2-landscape-10s")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return prompt.Intent{Kind: prompt.TextToVideo, Spec: spec, Prompt: text}
}

func imageIntent(t *testing.T, text string) prompt.Intent {
	t.Helper()
	cat, err := catalog.Load("")
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	spec, err := cat.Resolve("gpt-image")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return prompt.Intent{Kind: prompt.TextToImage, Spec: spec, Prompt: text}
}

func TestJobStateMonotonic(t *testing.T) {
	j, err := newJob(videoIntent(t, "a dog"), store.Credential{ID: 1})
	if err != nil {
		t.Fatalf("newJob: %v", err)
	}
	if j.Status() != store.JobSubmitted {
		t.Fatalf("initial status = %s", j.Status())
	}
	if !j.advance(store.JobRunning) {
		t.Fatal("submitted -> running rejected")
	}
	if j.advance(store.JobSubmitted) {
		t.Fatal("running -> submitted accepted")
	}
	if !j.advance(store.JobFailed) {
		t.Fatal("running -> failed rejected")
	}
	if j.advance(store.JobSucceeded) {
		t.Fatal("terminal state changed")
	}
	if !j.terminal() {
		t.Fatal("failed not terminal")
	}
}

func TestJobProgressClamp(t *testing.T) {
	j, err := newJob(videoIntent(t, "p"), store.Credential{ID: 1})
	if err != nil {
		t.Fatalf("newJob: %v", err)
	}
	if !j.setProgress(40) || j.Progress() != 40 {
		t.Fatalf("progress = %d", j.Progress())
	}
	if j.setProgress(25) {
		t.Fatal("progress moved backwards")
	}
	if !j.setProgress(150) || j.Progress() != 100 {
		t.Fatalf("progress = %d, want clamp to 100", j.Progress())
	}
	if j.setProgress(100) {
		t.Fatal("repeat of max reported as movement")
	}
}

func TestJobRecord(t *testing.T) {
	j, err := newJob(videoIntent(t, "a dog surfing"), store.Credential{ID: 7})
	if err != nil {
		t.Fatalf("newJob: %v", err)
	}
	j.TaskID = "task_123"
	j.setProgress(100)

	rec := j.Record(Event{
		Status:     store.JobSucceeded,
		ResultURLs: []string{"https://cdn.example/v.mp4"},
	})
	if rec.ID != j.ID || rec.TaskID != "task_123" || rec.CredentialID != 7 {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Model != "sora2-landscape-10s" || rec.Kind != string(prompt.TextToVideo) {
		t.Fatalf("record = %+v", rec)
	}
	if got := rec.GetResultURLs(); len(got) != 1 || got[0] != "https://cdn.example/v.mp4" {
		t.Fatalf("urls = %v", got)
	}
	if rec.Error != nil {
		t.Fatalf("error = %v", *rec.Error)
	}

	rec = j.Record(Event{Status: store.JobFailed, Err: errors.New("boom")})
	if rec.Error == nil || *rec.Error != "boom" {
		t.Fatalf("error not recorded: %+v", rec)
	}
}

func TestDeriveUsername(t *testing.T) {
	for i := 0; i < 20; i++ {
		got := DeriveUsername("co.user.hero")
		if len(got) != len("hero")+3 || got[:4] != "hero" {
			t.Fatalf("username = %q", got)
		}
	}
	if got := DeriveUsername(""); got[:9] != "character" {
		t.Fatalf("fallback = %q", got)
	}
	if got := DeriveUsername("plain"); got[:5] != "plain" {
		t.Fatalf("no-dot hint = %q", got)
	}
}

func TestRenderStoryboard(t *testing.T) {
	intent := prompt.Intent{
		Kind:   prompt.Storyboard,
		Prompt: "make it moody [2s]a door opens [3.5s]lights flicker",
		Segments: []prompt.Segment{
			{Seconds: 2, Duration: "2", Text: "a door opens"},
			{Seconds: 3.5, Duration: "3.5", Text: "lights flicker"},
		},
	}
	got := renderStoryboard(intent)
	want := "current timeline:\nShot 1:\nduration: 2sec\nScene: a door opens\n\nShot 2:\nduration: 3.5sec\nScene: lights flicker\n\ninstructions:\nmake it moody"
	if got != want {
		t.Fatalf("rendered:\n%s\nwant:\n%s", got, want)
	}

	intent.Prompt = "[2s]a door opens [3.5s]lights flicker"
	got = renderStoryboard(intent)
	if got != "Shot 1:\nduration: 2sec\nScene: a door opens\n\nShot 2:\nduration: 3.5sec\nScene: lights flicker" {
		t.Fatalf("rendered without instructions:\n%s", got)
	}
}

func TestRenderStoryboardKeepsDurationText(t *testing.T) {
	// "[5.0s]" must render as "5.0sec", not "5sec".
	intent := prompt.Intent{
		Kind:   prompt.Storyboard,
		Prompt: "[5.0s]a slow pan [2.50s]hold",
		Segments: []prompt.Segment{
			{Seconds: 5, Duration: "5.0", Text: "a slow pan"},
			{Seconds: 2.5, Duration: "2.50", Text: "hold"},
		},
	}
	got := renderStoryboard(intent)
	want := "Shot 1:\nduration: 5.0sec\nScene: a slow pan\n\nShot 2:\nduration: 2.50sec\nScene: hold"
	if got != want {
		t.Fatalf("rendered:\n%s\nwant:\n%s", got, want)
	}
}

func collectEvents(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %d so far", len(out))
		}
	}
}

func terminalEvent(t *testing.T, evs []Event) Event {
	t.Helper()
	if len(evs) == 0 {
		t.Fatal("no events")
	}
	last := evs[len(evs)-1]
	if !last.Terminal {
		t.Fatalf("last event not terminal: %+v", last)
	}
	for _, ev := range evs[:len(evs)-1] {
		if ev.Terminal {
			t.Fatalf("multiple terminal events: %+v", evs)
		}
	}
	return last
}
