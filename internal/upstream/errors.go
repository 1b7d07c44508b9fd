package upstream

import "fmt"

// SubmissionErrorKind separates errors the pool should react to from errors
// that are the request's own fault.
type SubmissionErrorKind string

const (
	// KindCredential: auth, quota, rate limit. Rotating to another
	// credential may succeed.
	KindCredential SubmissionErrorKind = "credential"
	// KindPayload: the request itself is unacceptable. Retrying anywhere
	// is pointless.
	KindPayload SubmissionErrorKind = "payload"
)

// UploadError wraps a failed media upload. Uploads are retried on the same
// credential, never rotated.
type UploadError struct {
	Stage string
	Err   error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Stage, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// SubmissionError is a job-creation failure classified for the retry policy.
type SubmissionError struct {
	Kind SubmissionErrorKind
	Op   string
	Err  error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// BackendError is a non-2xx reply from the generation backend.
type BackendError struct {
	Status int
	Body   string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend status %d: %s", e.Status, e.Body)
}

// Credential reports whether the status points at the credential rather than
// the payload.
func (e *BackendError) Credential() bool {
	switch e.Status {
	case 401, 403, 429:
		return true
	}
	return e.Status >= 500
}
