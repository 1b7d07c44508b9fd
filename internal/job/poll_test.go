package job

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/soragate/soragate/internal/store"
	"github.com/soragate/soragate/internal/upstream"
)

func quickPoller(backend Backend) *Poller {
	return NewPoller(backend, PollerOptions{
		Interval:      time.Millisecond,
		NoteInterval:  time.Millisecond,
		MaxPollErrors: 3,
	})
}

func TestPollImageSucceeds(t *testing.T) {
	calls := 0
	backend := &fakeBackend{
		onImageTasks: func() ([]upstream.ImageTask, error) {
			calls++
			task := upstream.ImageTask{ID: "task-img", Status: "processing", ProgressPct: 0.4}
			if calls >= 3 {
				task.Status = "succeeded"
				task.Generations = []struct {
					URL string `json:"url"`
				}{{URL: "https://cdn.example/a.png"}, {URL: "https://cdn.example/b.png"}}
			}
			return []upstream.ImageTask{task}, nil
		},
	}

	j, err := newJob(imageIntent(t, "x"), store.Credential{ID: 1})
	if err != nil {
		t.Fatalf("newJob: %v", err)
	}
	j.TaskID = "task-img"

	evs := collectEvents(t, quickPoller(backend).Drive(context.Background(), j))
	last := terminalEvent(t, evs)
	if last.Status != store.JobSucceeded || len(last.ResultURLs) != 2 {
		t.Fatalf("terminal = %+v", last)
	}
	if j.Status() != store.JobSucceeded || j.Progress() != 100 {
		t.Fatalf("job = %s %d%%", j.Status(), j.Progress())
	}

	sawProgress := false
	for _, ev := range evs[:len(evs)-1] {
		if strings.Contains(ev.Note, "40% completed") {
			sawProgress = true
		}
	}
	if !sawProgress {
		t.Fatalf("no progress note in %+v", evs)
	}
}

func TestPollImageFailure(t *testing.T) {
	backend := &fakeBackend{
		onImageTasks: func() ([]upstream.ImageTask, error) {
			return []upstream.ImageTask{{ID: "task-img", Status: "failed", ErrorMessage: "server overloaded"}}, nil
		},
	}
	j, err := newJob(imageIntent(t, "x"), store.Credential{ID: 1})
	if err != nil {
		t.Fatalf("newJob: %v", err)
	}
	j.TaskID = "task-img"

	last := terminalEvent(t, collectEvents(t, quickPoller(backend).Drive(context.Background(), j)))
	if last.Status != store.JobFailed || last.Err == nil || !strings.Contains(last.Err.Error(), "server overloaded") {
		t.Fatalf("terminal = %+v", last)
	}
}

func TestPollImageSucceededWithoutResults(t *testing.T) {
	backend := &fakeBackend{
		onImageTasks: func() ([]upstream.ImageTask, error) {
			return []upstream.ImageTask{{ID: "task-img", Status: "succeeded"}}, nil
		},
	}
	j, err := newJob(imageIntent(t, "x"), store.Credential{ID: 1})
	if err != nil {
		t.Fatalf("newJob: %v", err)
	}
	j.TaskID = "task-img"

	last := terminalEvent(t, collectEvents(t, quickPoller(backend).Drive(context.Background(), j)))
	if last.Status != store.JobFailed {
		t.Fatalf("terminal = %+v", last)
	}
}

func TestPollVideoPendingThenDraft(t *testing.T) {
	calls := 0
	progress := 0.62
	backend := &fakeBackend{
		onPendingTasks: func() ([]upstream.PendingTask, error) {
			calls++
			if calls <= 2 {
				return []upstream.PendingTask{{ID: "task-vid", Status: "processing", ProgressPct: &progress}}, nil
			}
			return nil, nil
		},
		onDrafts: func() ([]upstream.Draft, error) {
			if calls <= 2 {
				return nil, nil
			}
			return []upstream.Draft{{
				TaskID:          "task-vid",
				URL:             "https://cdn.example/w.mp4",
				DownloadableURL: "https://cdn.example/dl.mp4",
			}}, nil
		},
	}

	j, err := newJob(videoIntent(t, "x"), store.Credential{ID: 1})
	if err != nil {
		t.Fatalf("newJob: %v", err)
	}
	j.TaskID = "task-vid"

	evs := collectEvents(t, quickPoller(backend).Drive(context.Background(), j))
	last := terminalEvent(t, evs)
	if last.Status != store.JobSucceeded {
		t.Fatalf("terminal = %+v", last)
	}
	if len(last.ResultURLs) != 1 || last.ResultURLs[0] != "https://cdn.example/dl.mp4" {
		t.Fatalf("urls = %v, want downloadable variant", last.ResultURLs)
	}

	sawProgress := false
	for _, ev := range evs {
		if strings.Contains(ev.Note, "62%") {
			sawProgress = true
		}
	}
	if !sawProgress {
		t.Fatalf("no progress note in %+v", evs)
	}
}

func TestPollVideoWatermarkFree(t *testing.T) {
	var published string
	backend := &fakeBackend{
		onDrafts: func() ([]upstream.Draft, error) {
			return []upstream.Draft{{ID: "gen-77", TaskID: "task-vid", DownloadableURL: "https://cdn.example/marked.mp4"}}, nil
		},
		onPublishPost: func(generationID string) (string, error) {
			published = generationID
			return "s_post-9", nil
		},
	}
	j, err := newJob(videoIntent(t, "x"), store.Credential{ID: 1})
	if err != nil {
		t.Fatalf("newJob: %v", err)
	}
	j.TaskID = "task-vid"

	poller := NewPoller(backend, PollerOptions{
		Interval:      time.Millisecond,
		NoteInterval:  time.Millisecond,
		MaxPollErrors: 3,
		WatermarkFree: true,
	})
	last := terminalEvent(t, collectEvents(t, poller.Drive(context.Background(), j)))
	if last.Status != store.JobSucceeded {
		t.Fatalf("terminal = %+v", last)
	}
	if len(last.ResultURLs) != 1 || last.ResultURLs[0] != "https://cdn.example/clean/s_post-9.mp4" {
		t.Fatalf("urls = %v", last.ResultURLs)
	}
	if published != "gen-77" {
		t.Fatalf("published generation = %q", published)
	}
	if len(backend.deletedPosts) != 1 || backend.deletedPosts[0] != "s_post-9" {
		t.Fatalf("deleted posts = %v", backend.deletedPosts)
	}
}

func TestPollVideoWatermarkFreeFallsBack(t *testing.T) {
	backend := &fakeBackend{
		onDrafts: func() ([]upstream.Draft, error) {
			return []upstream.Draft{{ID: "gen-77", TaskID: "task-vid", DownloadableURL: "https://cdn.example/marked.mp4"}}, nil
		},
		onPublishPost: func(string) (string, error) {
			return "", errors.New("publish rejected")
		},
	}
	j, err := newJob(videoIntent(t, "x"), store.Credential{ID: 1})
	if err != nil {
		t.Fatalf("newJob: %v", err)
	}
	j.TaskID = "task-vid"

	poller := NewPoller(backend, PollerOptions{
		Interval:      time.Millisecond,
		NoteInterval:  time.Millisecond,
		MaxPollErrors: 3,
		WatermarkFree: true,
	})
	evs := collectEvents(t, poller.Drive(context.Background(), j))
	last := terminalEvent(t, evs)
	if last.Status != store.JobSucceeded {
		t.Fatalf("terminal = %+v", last)
	}
	if len(last.ResultURLs) != 1 || last.ResultURLs[0] != "https://cdn.example/marked.mp4" {
		t.Fatalf("urls = %v", last.ResultURLs)
	}
	sawFallback := false
	for _, ev := range evs {
		if strings.Contains(ev.Note, "Falling back to the standard video") {
			sawFallback = true
		}
	}
	if !sawFallback {
		t.Fatalf("no fallback note in %+v", evs)
	}
}

func TestPollVideoViolation(t *testing.T) {
	backend := &fakeBackend{
		onDrafts: func() ([]upstream.Draft, error) {
			return []upstream.Draft{{
				TaskID:    "task-vid",
				Kind:      "sora_content_violation",
				ReasonStr: "depicts a real person",
			}}, nil
		},
	}
	j, err := newJob(videoIntent(t, "x"), store.Credential{ID: 1})
	if err != nil {
		t.Fatalf("newJob: %v", err)
	}
	j.TaskID = "task-vid"

	last := terminalEvent(t, collectEvents(t, quickPoller(backend).Drive(context.Background(), j)))
	if last.Status != store.JobFailed || last.Err == nil {
		t.Fatalf("terminal = %+v", last)
	}
	if !strings.Contains(last.Err.Error(), "content policy violation: depicts a real person") {
		t.Fatalf("err = %v", last.Err)
	}
}

func TestPollErrorStreakExhausts(t *testing.T) {
	backend := &fakeBackend{
		onPendingTasks: func() ([]upstream.PendingTask, error) {
			return nil, errors.New("bad gateway")
		},
	}
	j, err := newJob(videoIntent(t, "x"), store.Credential{ID: 1})
	if err != nil {
		t.Fatalf("newJob: %v", err)
	}
	j.TaskID = "task-vid"

	last := terminalEvent(t, collectEvents(t, quickPoller(backend).Drive(context.Background(), j)))
	if last.Status != store.JobFailed || !errors.Is(last.Err, ErrPollingExhausted) {
		t.Fatalf("terminal = %+v", last)
	}
}

func TestPollErrorStreakResets(t *testing.T) {
	calls := 0
	backend := &fakeBackend{
		onImageTasks: func() ([]upstream.ImageTask, error) {
			calls++
			// Two failures, one success, repeating; never reaches the limit
			// of three consecutive errors.
			if calls%3 != 0 {
				return nil, errors.New("flaky")
			}
			if calls >= 6 {
				return []upstream.ImageTask{{
					ID:     "task-img",
					Status: "succeeded",
					Generations: []struct {
						URL string `json:"url"`
					}{{URL: "https://cdn.example/a.png"}},
				}}, nil
			}
			return []upstream.ImageTask{{ID: "task-img", Status: "processing"}}, nil
		},
	}
	j, err := newJob(imageIntent(t, "x"), store.Credential{ID: 1})
	if err != nil {
		t.Fatalf("newJob: %v", err)
	}
	j.TaskID = "task-img"

	last := terminalEvent(t, collectEvents(t, quickPoller(backend).Drive(context.Background(), j)))
	if last.Status != store.JobSucceeded {
		t.Fatalf("terminal = %+v", last)
	}
}

func TestPollDeadlineExpires(t *testing.T) {
	backend := &fakeBackend{} // never returns a matching task
	p := NewPoller(backend, PollerOptions{
		Interval:     time.Millisecond,
		ImageTimeout: 20 * time.Millisecond,
	})
	j, err := newJob(imageIntent(t, "x"), store.Credential{ID: 1})
	if err != nil {
		t.Fatalf("newJob: %v", err)
	}
	j.TaskID = "task-img"

	last := terminalEvent(t, collectEvents(t, p.Drive(context.Background(), j)))
	if last.Status != store.JobExpired || !errors.Is(last.Err, ErrExpired) {
		t.Fatalf("terminal = %+v", last)
	}
	if j.Status() != store.JobExpired {
		t.Fatalf("job status = %s", j.Status())
	}
}

func TestPollContextCancelled(t *testing.T) {
	backend := &fakeBackend{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	j, err := newJob(videoIntent(t, "x"), store.Credential{ID: 1})
	if err != nil {
		t.Fatalf("newJob: %v", err)
	}
	j.TaskID = "task-vid"

	last := terminalEvent(t, collectEvents(t, quickPoller(backend).Drive(ctx, j)))
	if last.Status != store.JobExpired || !errors.Is(last.Err, ErrExpired) {
		t.Fatalf("terminal = %+v", last)
	}
}
