// Package rpc holds the request/reply shapes exchanged across the serving
// core's RPC surface. Framing and transport are deliberately out of scope;
// this package only names the data.
package rpc

// Message is a single role-tagged chat turn. Role is application-defined by
// convention ("system", "user", "assistant").
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Status is the job lifecycle state, one of the Status* constants below.
type Status string

const (
	// StatusOK marks a job that ran synchronously and completed inline.
	StatusOK Status = "OK"
	// StatusQueued marks a job accepted onto the prompt queue but not yet run.
	StatusQueued Status = "QUEUED"
	// StatusCompleted marks a job drained from the queue that generated
	// successfully.
	StatusCompleted Status = "COMPLETED"
	// StatusError marks a job drained from the queue whose generation failed.
	StatusError Status = "ERROR"
)

// InferenceRunRequest is the ordered sequence of messages a caller submits to
// InferenceRun.
type InferenceRunRequest struct {
	Messages []Message
}

// InferenceRunReply is returned by InferenceRun and stored (by job id) in the
// result cache for later retrieval via InferenceStatus/InferenceResult.
type InferenceRunReply struct {
	Response *Message `json:"response,omitempty"`
	Status   Status   `json:"status"`
	UUID     string   `json:"uuid"`
}

// QueuedJob is one pending item on the prompt queue.
type QueuedJob struct {
	JobID   string
	Request InferenceRunRequest
}
