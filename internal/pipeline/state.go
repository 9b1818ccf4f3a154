package pipeline

import (
	"encoding/json"
	"strings"
	"time"
)

// Status is a pipeline lifecycle stage. Wire names are the upper-case constants.
type Status string

const (
	StatusQueued       Status = "QUEUED"
	StatusTranscribing Status = "TRANSCRIBING"
	StatusTranscribed  Status = "TRANSCRIBED"
	StatusLLMRunning   Status = "LLM_RUNNING"
	StatusDone         Status = "DONE"
	StatusError        Status = "ERROR"
)

var statusOrder = map[Status]int{
	StatusQueued:       0,
	StatusTranscribing: 1,
	StatusTranscribed:  2,
	StatusLLMRunning:   3,
	StatusDone:         4,
	StatusError:        4,
}

// AllStatuses lists statuses in lifecycle order.
func AllStatuses() []Status {
	return []Status{StatusQueued, StatusTranscribing, StatusTranscribed, StatusLLMRunning, StatusDone, StatusError}
}

// ParseStatus accepts a status name in any case.
func ParseStatus(value string) (Status, bool) {
	s := Status(strings.ToUpper(strings.TrimSpace(value)))
	if _, ok := statusOrder[s]; !ok {
		return "", false
	}
	return s, true
}

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// CanAdvanceTo reports whether moving from s to next keeps the status monotonic.
func (s Status) CanAdvanceTo(next Status) bool {
	if s.Terminal() {
		return false
	}
	from, ok := statusOrder[s]
	if !ok {
		return false
	}
	to, ok := statusOrder[next]
	return ok && to > from
}

// State is the persisted record of one pipeline.
type State struct {
	PipelineID        string          `json:"pipelineId"`
	UserID            string          `json:"userId"`
	AudioURL          string          `json:"audioUrl"`
	Status            Status          `json:"status"`
	RequestID         string          `json:"requestId,omitempty"`
	Provider          string          `json:"provider,omitempty"`
	ProviderRequestID string          `json:"providerRequestId,omitempty"`
	Transcript        *string         `json:"transcript,omitempty"`
	RawResult         json.RawMessage `json:"rawResult,omitempty"`
	LLMResult         json.RawMessage `json:"llmResult,omitempty"`
	Error             string          `json:"error,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
	TranscribingSince *time.Time      `json:"transcribingSince,omitempty"`
	SubmitInvocation  string          `json:"submitInvocation,omitempty"`
	ResultInvocation  string          `json:"resultInvocation,omitempty"`
}

// StatusState is the externally visible projection of a pipeline.
type StatusState struct {
	Status            Status          `json:"status"`
	Transcript        *string         `json:"transcript,omitempty"`
	LLMResult         json.RawMessage `json:"llmResult,omitempty"`
	Error             string          `json:"error,omitempty"`
	ProviderRequestID string          `json:"providerRequestId,omitempty"`
}

// View projects the state to its status view.
func (s State) View() StatusState {
	return StatusState{
		Status:            s.Status,
		Transcript:        s.Transcript,
		LLMResult:         s.LLMResult,
		Error:             s.Error,
		ProviderRequestID: s.ProviderRequestID,
	}
}

// TranscriptText returns the transcript or "" when none was stored.
func (s State) TranscriptText() string {
	if s.Transcript == nil {
		return ""
	}
	return *s.Transcript
}

func (s *State) advance(next Status, now time.Time) bool {
	if !s.Status.CanAdvanceTo(next) {
		return false
	}
	s.Status = next
	s.UpdatedAt = now
	return true
}

func (s *State) fail(msg string, now time.Time) bool {
	if !s.advance(StatusError, now) {
		return false
	}
	s.Error = msg
	return true
}
