package model

import "time"

// State is the lifecycle state of a session.
type State int32

const (
	StateActive State = iota
	StateSubmitting
	StateSubmitted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateSubmitting:
		return "SUBMITTING"
	case StateSubmitted:
		return "SUBMITTED"
	default:
		return "UNKNOWN"
	}
}

// Trigger records what started a submission.
type Trigger string

const (
	TriggerManual  Trigger = "manual"
	TriggerTimeout Trigger = "timeout"
)

// Session is one candidate attempt. ExpiryInstant never changes once set.
type Session struct {
	SessionID           string
	CandidateCredential string
	ExpiryInstant       time.Time
	Code                string
	Language            Language
	LastPersistedCode   string
	LastSavedAt         time.Time
	TestResults         []bool
	State               State
	Challenge           Challenge
}

// Snapshot is the read-only view handed to callers and remote clients.
type Snapshot struct {
	SessionID   string    `json:"session_id"`
	State       string    `json:"state"`
	Language    Language  `json:"language"`
	Code        string    `json:"code"`
	Remaining   int64     `json:"remaining"`
	Clock       string    `json:"clock"`
	LastSavedAt time.Time `json:"last_saved_at,omitempty"`
	TestResults []bool    `json:"test_results,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	LastOutput  string    `json:"last_output,omitempty"`
	PasteCount  int       `json:"paste_count"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Draft is the payload of an autosave persist.
type Draft struct {
	Code     string   `json:"code"`
	Language Language `json:"language"`
}

// FinalSubmission is the payload persisted when a session is submitted.
type FinalSubmission struct {
	Code       string   `json:"code"`
	Language   Language `json:"language"`
	Results    []bool   `json:"result"`
	MemoryUsed int64    `json:"execution_memory"`
	TimeUsed   float64  `json:"execution_time"`
}

// SubmitOutcome describes the result of a submit attempt.
// Duplicate is set when the call was absorbed by an earlier submission.
type SubmitOutcome struct {
	SessionID   string    `json:"session_id"`
	State       string    `json:"state"`
	Trigger     Trigger   `json:"trigger"`
	Results     []bool    `json:"results,omitempty"`
	SubmittedAt time.Time `json:"submitted_at,omitempty"`
	Duplicate   bool      `json:"duplicate"`
}
