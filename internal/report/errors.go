package report

import (
	"errors"
	"fmt"
)

// ErrBooksClosedUnsupported signals that the cube does not support close
// of business queries. Not a failure: the caller falls back to the window
// start as the bookmark.
var ErrBooksClosedUnsupported = errors.New("close of business is not supported for this cube")

// SubmissionError is a rejected report request. Fatal, not retried: it
// signals a malformed definition or a failed filter validation.
type SubmissionError struct {
	Cube     string
	Status   string
	Response string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("report submission failed for cube %q: status %q (%s)",
		e.Cube, e.Status, e.Response)
}

// UnexpectedStatusError is an unrecognized job status during polling.
// Fatal: polling aborts rather than looping on an unknown state.
type UnexpectedStatusError struct {
	JobID  string
	Status string
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("unexpected status %q while polling report job %s", e.Status, e.JobID)
}
