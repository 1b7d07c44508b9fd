package job

import (
	"context"
	"fmt"
	"time"

	"github.com/soragate/soragate/internal/catalog"
	"github.com/soragate/soragate/internal/store"
	"github.com/soragate/soragate/internal/upstream"
)

type PollerOptions struct {
	Interval      time.Duration
	ImageTimeout  time.Duration
	VideoTimeout  time.Duration
	MaxPollErrors int
	// NoteInterval paces progress commentary for long-running videos.
	NoteInterval time.Duration
	DraftLimit   int
	ImageLimit   int
	// WatermarkFree publishes each finished video as a short-lived post to
	// obtain the clean rendition instead of the drafted one.
	WatermarkFree bool
}

// Poller watches one submitted job until it settles.
type Poller struct {
	backend Backend
	opts    PollerOptions
}

func NewPoller(backend Backend, opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.ImageTimeout <= 0 {
		opts.ImageTimeout = 5 * time.Minute
	}
	if opts.VideoTimeout <= 0 {
		opts.VideoTimeout = 20 * time.Minute
	}
	if opts.MaxPollErrors <= 0 {
		opts.MaxPollErrors = 5
	}
	if opts.NoteInterval <= 0 {
		opts.NoteInterval = 30 * time.Second
	}
	if opts.DraftLimit <= 0 {
		opts.DraftLimit = 15
	}
	if opts.ImageLimit <= 0 {
		opts.ImageLimit = 20
	}
	return &Poller{backend: backend, opts: opts}
}

// Drive polls until the job reaches a terminal state. The returned channel
// carries progress events and exactly one terminal event, then closes. The
// driving goroutine stops when ctx is cancelled; the upstream job is left to
// finish on its own.
func (p *Poller) Drive(ctx context.Context, j *Job) <-chan Event {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		p.run(ctx, j, out)
	}()
	return out
}

func (p *Poller) run(ctx context.Context, j *Job, out chan<- Event) {
	isVideo := j.Intent.Spec.Kind == catalog.KindVideo
	timeout := p.opts.ImageTimeout
	if isVideo {
		timeout = p.opts.VideoTimeout
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	errStreak := 0
	lastNote := time.Now()

	for {
		select {
		case <-ctx.Done():
			j.advance(store.JobExpired)
			p.emit(out, Event{Terminal: true, Status: store.JobExpired, Err: ErrExpired})
			return
		case <-ticker.C:
		}
		if time.Now().After(deadline) {
			j.advance(store.JobExpired)
			p.emit(out, Event{
				Terminal: true,
				Status:   store.JobExpired,
				Err:      fmt.Errorf("%w: no result within %s", ErrExpired, timeout),
			})
			return
		}

		var done bool
		var err error
		if isVideo {
			done, err = p.pollVideo(ctx, j, out, &lastNote)
		} else {
			done, err = p.pollImage(ctx, j, out)
		}
		if done {
			return
		}
		if err != nil {
			errStreak++
			if errStreak >= p.opts.MaxPollErrors {
				j.advance(store.JobFailed)
				p.emit(out, Event{
					Terminal: true,
					Status:   store.JobFailed,
					Err:      fmt.Errorf("%w: %v", ErrPollingExhausted, err),
				})
				return
			}
			continue
		}
		errStreak = 0
	}
}

// pollVideo checks the pending list first; a task that vanished from it is
// looked up in the drafts for its terminal result.
func (p *Poller) pollVideo(ctx context.Context, j *Job, out chan<- Event, lastNote *time.Time) (bool, error) {
	pending, err := p.backend.PendingTasks(ctx, j.Credential)
	if err != nil {
		return false, err
	}
	for _, t := range pending {
		if t.ID != j.TaskID {
			continue
		}
		j.advance(store.JobRunning)
		j.setProgress(t.Progress())
		if time.Since(*lastNote) >= p.opts.NoteInterval {
			*lastNote = time.Now()
			p.emit(out, Event{
				Note:     fmt.Sprintf("**Video Generation Progress**: %d%% (%s)\n", j.Progress(), t.Status),
				Progress: j.Progress(),
			})
		}
		return false, nil
	}

	drafts, err := p.backend.Drafts(ctx, j.Credential, p.opts.DraftLimit)
	if err != nil {
		return false, err
	}
	for _, d := range drafts {
		if d.TaskID != j.TaskID {
			continue
		}
		if reason, bad := d.Violation(); bad {
			j.advance(store.JobFailed)
			p.emit(out, Event{
				Terminal: true,
				Status:   store.JobFailed,
				Err:      fmt.Errorf("content policy violation: %s", reason),
			})
			return true, nil
		}
		j.advance(store.JobRunning)
		j.setProgress(100)
		url := d.BestURL()
		if p.opts.WatermarkFree {
			if clean, err := p.watermarkFree(ctx, j, out, d); err != nil {
				p.emit(out, Event{
					Note: fmt.Sprintf("Failed to get watermark-free version: %v\nFalling back to the standard video...\n", err),
				})
			} else {
				url = clean
			}
		}
		j.advance(store.JobSucceeded)
		p.emit(out, Event{
			Terminal:   true,
			Status:     store.JobSucceeded,
			Progress:   100,
			ResultURLs: []string{url},
		})
		return true, nil
	}
	// Not pending and not drafted yet: the listing lags, keep polling.
	return false, nil
}

// watermarkFree publishes the finished generation as a post, resolves the
// clean rendition URL and removes the post again. The post is a vehicle, not
// a result; its deletion is best-effort.
func (p *Poller) watermarkFree(ctx context.Context, j *Job, out chan<- Event, d upstream.Draft) (string, error) {
	p.emit(out, Event{Note: "Publishing video to get watermark-free version...\n"})
	postID, err := p.backend.PublishPost(ctx, j.Credential, d.ID)
	if err != nil {
		return "", err
	}
	if postID == "" {
		return "", fmt.Errorf("publish returned no post id")
	}
	url, err := p.backend.WatermarkFreeURL(ctx, postID)
	if derr := p.backend.DeletePost(ctx, j.Credential, postID); derr != nil {
		p.emit(out, Event{Note: fmt.Sprintf("Warning: failed to delete published post: %v\n", derr)})
	}
	if err != nil {
		return "", err
	}
	return url, nil
}

func (p *Poller) pollImage(ctx context.Context, j *Job, out chan<- Event) (bool, error) {
	tasks, err := p.backend.ImageTasks(ctx, j.Credential, p.opts.ImageLimit)
	if err != nil {
		return false, err
	}
	for _, t := range tasks {
		if t.ID != j.TaskID {
			continue
		}
		switch t.Status {
		case "succeeded":
			urls := t.URLs()
			if len(urls) == 0 {
				j.advance(store.JobFailed)
				p.emit(out, Event{
					Terminal: true,
					Status:   store.JobFailed,
					Err:      fmt.Errorf("generation finished without results"),
				})
				return true, nil
			}
			j.advance(store.JobRunning)
			j.setProgress(100)
			j.advance(store.JobSucceeded)
			p.emit(out, Event{
				Terminal:   true,
				Status:     store.JobSucceeded,
				Progress:   100,
				ResultURLs: urls,
			})
			return true, nil
		case "failed":
			j.advance(store.JobFailed)
			msg := t.ErrorMessage
			if msg == "" {
				msg = "generation failed"
			}
			p.emit(out, Event{Terminal: true, Status: store.JobFailed, Err: fmt.Errorf("%s", msg)})
			return true, nil
		default:
			j.advance(store.JobRunning)
			if j.setProgress(t.Progress()) {
				p.emit(out, Event{
					Note:     fmt.Sprintf("**Processing**\n\nGeneration in progress: %d%% completed...\n", j.Progress()),
					Progress: j.Progress(),
				})
			}
		}
		return false, nil
	}
	return false, nil
}

func (p *Poller) emit(out chan<- Event, ev Event) {
	out <- ev
}
