package proto

import "encoding/json"

// StepStatus is the lifecycle state of an audit step.
type StepStatus string

const (
	StepRunning StepStatus = "running"
	StepSuccess StepStatus = "success"
	StepError   StepStatus = "error"
	// StepAborted closes steps left running by a cancelled or failed request.
	StepAborted StepStatus = "aborted"
)

// MarshalText implements the [encoding.TextMarshaler] interface.
func (s StepStatus) MarshalText() ([]byte, error) {
	return []byte(s), nil
}

// UnmarshalText implements the [encoding.TextUnmarshaler] interface.
func (s *StepStatus) UnmarshalText(data []byte) error {
	*s = StepStatus(data)
	return nil
}

// AuditStep is one timed step of a request's execution trace.
type AuditStep struct {
	SessionID  string          `json:"session_id,omitempty"`
	Step       string          `json:"step"`
	Status     StepStatus      `json:"status"`
	StartedAt  Time            `json:"started_at"`
	EndedAt    *Time           `json:"ended_at"`
	DurationMS *int64          `json:"duration_ms"`
	Details    json.RawMessage `json:"details"`
	Error      *string         `json:"error"`
}

// AuditStats summarizes a session's trail.
type AuditStats struct {
	TotalSteps      int   `json:"total_steps"`
	Completed       int   `json:"completed"`
	Errors          int   `json:"errors"`
	TotalDurationMS int64 `json:"total_duration_ms"`
	AvgDurationMS   int64 `json:"avg_duration_ms"`
}

// AuditReport is the response of the audit endpoint.
type AuditReport struct {
	SessionID string      `json:"session_id"`
	Trail     []AuditStep `json:"trail"`
	Stats     AuditStats  `json:"stats"`
}
