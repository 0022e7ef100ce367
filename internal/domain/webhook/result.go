package webhook

// Status is the outcome class of a dispatch.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusIgnored Status = "ignored"
)

// Reasons used for ignored results.
const (
	ReasonDuplicate    = "duplicate"
	ReasonUnrecognized = "unrecognized event type"
)

// Result is the outcome of dispatching one event.
type Result struct {
	Status  Status         `json:"status"`
	Message string         `json:"message,omitempty"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`

	// Severity is the audit severity the handler asks for; empty means the
	// default for Status.
	Severity string `json:"-"`

	// Attempts is filled in by the retry coordinator.
	Attempts int `json:"attempts,omitempty"`
}

// Success builds a success result.
func Success(msg string, details map[string]any) Result {
	return Result{Status: StatusSuccess, Message: msg, Details: details}
}

// Failure builds a failure result.
func Failure(err error) Result {
	r := Result{Status: StatusFailure, Err: err}
	if err != nil {
		r.Message = err.Error()
	}
	return r
}

// Ignored builds an ignored result.
func Ignored(reason string) Result {
	return Result{Status: StatusIgnored, Message: reason}
}

// IsDuplicate reports whether r is the ignored result for a replayed id.
func (r Result) IsDuplicate() bool {
	return r.Status == StatusIgnored && r.Message == ReasonDuplicate
}
