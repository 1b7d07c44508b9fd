// Package job owns the lifecycle of one generation: submission with
// credential rotation, fixed-interval polling and the event stream the HTTP
// layer renders.
package job

import (
	"errors"

	"github.com/soragate/soragate/internal/common"
	"github.com/soragate/soragate/internal/prompt"
	"github.com/soragate/soragate/internal/store"
)

var (
	// ErrPollingExhausted: too many consecutive poll failures.
	ErrPollingExhausted = errors.New("polling exhausted")
	// ErrExpired: the job hit its absolute deadline or the caller went away.
	ErrExpired = errors.New("job expired")
)

// Job tracks one generation from submission to a terminal state. It is driven
// by a single goroutine; states only move forward.
type Job struct {
	ID         string
	TaskID     string
	Credential store.Credential
	Intent     prompt.Intent

	// Set by the character pipeline.
	Username    string
	CharacterID string

	status   store.JobStatus
	progress int
}

func newJob(intent prompt.Intent, cred store.Credential) (*Job, error) {
	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	return &Job{
		ID:         id,
		Credential: cred,
		Intent:     intent,
		status:     store.JobSubmitted,
	}, nil
}

func (j *Job) Status() store.JobStatus { return j.status }

func (j *Job) Progress() int { return j.progress }

var stateRank = map[store.JobStatus]int{
	store.JobSubmitted: 0,
	store.JobRunning:   1,
	store.JobSucceeded: 2,
	store.JobFailed:    2,
	store.JobExpired:   2,
}

// advance moves the job forward; transitions backwards or out of a terminal
// state are ignored.
func (j *Job) advance(next store.JobStatus) bool {
	if stateRank[j.status] >= stateRank[next] {
		return false
	}
	j.status = next
	return true
}

// setProgress clamps to the monotonically non-decreasing [0,100] range and
// reports whether the value moved.
func (j *Job) setProgress(pct int) bool {
	if pct > 100 {
		pct = 100
	}
	if pct <= j.progress {
		return false
	}
	j.progress = pct
	return true
}

func (j *Job) terminal() bool {
	return stateRank[j.status] == 2
}

// Event is one step of a running generation. Note carries progress
// commentary; Terminal events carry the outcome.
type Event struct {
	Note     string
	Progress int

	Terminal   bool
	Status     store.JobStatus
	ResultURLs []string
	Username   string
	Err        error
}

// Record converts the finished job into its persistence row.
func (j *Job) Record(ev Event) *store.JobRecord {
	rec := &store.JobRecord{
		ID:           j.ID,
		TaskID:       j.TaskID,
		CredentialID: j.Credential.ID,
		Model:        j.Intent.Spec.ID,
		Kind:         string(j.Intent.Kind),
		Prompt:       j.Intent.Prompt,
		Status:       ev.Status,
		Progress:     j.progress,
	}
	rec.SetResultURLs(ev.ResultURLs)
	if ev.Err != nil {
		msg := ev.Err.Error()
		rec.Error = &msg
	}
	return rec
}
