package job

import (
	"context"
	"errors"
	"time"

	"github.com/soragate/soragate/internal/upstream"
)

// Action tells the submitter what a failed attempt means.
type Action int

const (
	// ActionFatal: the request itself is broken, stop.
	ActionFatal Action = iota
	// ActionRotate: the credential is at fault, try the next one.
	ActionRotate
	// ActionRetrySame: transient stage failure, retry once on the same
	// credential.
	ActionRetrySame
)

// RetryPolicy bounds the rotation loop. Classify maps a submission error to
// the action taken.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	Classify    func(error) Action
}

// DefaultRetryPolicy rotates on credential errors, retries uploads in place
// and gives up on payload errors.
func DefaultRetryPolicy(maxAttempts int) RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		Backoff:     time.Second,
		Classify: func(err error) Action {
			if errors.Is(err, context.Canceled) {
				return ActionFatal
			}
			var up *upstream.UploadError
			if errors.As(err, &up) {
				return ActionRetrySame
			}
			var sub *upstream.SubmissionError
			if errors.As(err, &sub) {
				if sub.Kind == upstream.KindCredential {
					return ActionRotate
				}
				return ActionFatal
			}
			return ActionFatal
		},
	}
}
