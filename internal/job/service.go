package job

import (
	"context"
	"log"
	"time"

	"github.com/soragate/soragate/internal/prompt"
	"github.com/soragate/soragate/internal/store"
)

// Recorder persists terminal job state.
type Recorder interface {
	RecordTerminalJob(ctx context.Context, rec *store.JobRecord) error
}

// Auditor publishes terminal job events to the audit queue. Best-effort, a
// broker outage never fails the request.
type Auditor interface {
	PublishTerminal(ctx context.Context, rec *store.JobRecord) error
}

// Service wires submission, polling and bookkeeping into one event stream
// per request.
type Service struct {
	submitter *Submitter
	poller    *Poller
	pool      CredentialPool
	recorder  Recorder
	auditor   Auditor
}

func NewService(submitter *Submitter, poller *Poller, p CredentialPool, recorder Recorder, auditor Auditor) *Service {
	return &Service{submitter: submitter, poller: poller, pool: p, recorder: recorder, auditor: auditor}
}

// Execute runs the whole generation. The returned channel carries progress
// events and exactly one terminal event, then closes.
func (s *Service) Execute(ctx context.Context, intent prompt.Intent) <-chan Event {
	out := make(chan Event, 16)
	go func() {
		defer close(out)

		notify := func(note string) {
			out <- Event{Note: note}
		}

		j, release, err := s.submitter.Submit(ctx, intent, notify)
		if err != nil {
			out <- Event{Terminal: true, Status: store.JobFailed, Err: err}
			return
		}
		defer release()

		// Character creation has no upstream task to poll.
		if j.TaskID == "" && intent.Kind == prompt.CharacterCreate {
			j.advance(store.JobSucceeded)
			ev := Event{Terminal: true, Status: store.JobSucceeded, Username: j.Username}
			s.settle(j, ev)
			out <- ev
			return
		}

		for ev := range s.poller.Drive(ctx, j) {
			if !ev.Terminal {
				out <- ev
				continue
			}
			ev.Username = j.Username
			s.settle(j, ev)
			out <- ev
			return
		}
	}()
	return out
}

// settle reports the outcome to the pool, persists the record and publishes
// the audit event. Runs on a detached context so a disconnected caller still
// gets bookkeeping.
func (s *Service) settle(j *Job, ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch ev.Status {
	case store.JobSucceeded:
		s.pool.ReportSuccess(ctx, j.Credential.ID)
	case store.JobFailed:
		s.pool.ReportFailure(ctx, j.Credential.ID)
	}

	// One-off characters created for a generation are cleaned up.
	if j.CharacterID != "" && j.Intent.Kind == prompt.CharacterGenerate {
		if err := s.submitter.backend.DeleteCharacter(ctx, j.Credential, j.CharacterID); err != nil {
			log.Printf("job=%s character cleanup failed: %v", j.ID, err)
		}
	}

	rec := j.Record(ev)
	if s.recorder != nil {
		if err := s.recorder.RecordTerminalJob(ctx, rec); err != nil {
			log.Printf("job=%s record failed: %v", j.ID, err)
		}
	}
	if s.auditor != nil {
		if err := s.auditor.PublishTerminal(ctx, rec); err != nil {
			log.Printf("job=%s audit publish failed: %v", j.ID, err)
		}
	}
}
