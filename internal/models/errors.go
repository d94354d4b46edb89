package models

import "fmt"

// Error taxonomy. Stages wrap their failures in one of these types; the job
// dispatcher and HTTP handlers inspect them with errors.As and nothing else.

// ValidationError means the job contract is malformed or incomplete.
// The job never starts processing.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// FetchError means a remote input was unreachable or timed out. Offset jobs
// absorb it into the fallback result; render jobs fail on it.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// RenderError means the transcoding engine exited non-zero or a graph
// precondition failed (e.g. zero eligible clips). Fatal for render jobs.
type RenderError struct {
	Msg string
	// Detail carries the engine's diagnostic tail when available.
	Detail string
}

func (e *RenderError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Msg, e.Detail)
	}
	return e.Msg
}

// UploadError means publishing the rendered artifact failed. Fatal for
// render jobs; the dispatcher must not re-render.
type UploadError struct {
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed: %v", e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }
