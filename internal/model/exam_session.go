package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusSubmitted  SessionStatus = "SUBMITTED"
)

// SaveStatus tracks hand-off of a finalized result to the result sink.
type SaveStatus string

const (
	SaveStatusPending SaveStatus = "PENDING"
	SaveStatusSaving  SaveStatus = "SAVING"
	SaveStatusSaved   SaveStatus = "SAVED"
	SaveStatusFailed  SaveStatus = "FAILED"
)

// SessionState is the mutable progress of one attempt. Owned by the engine.
type SessionState struct {
	Cursor    int       `json:"cursor"`
	Answers   AnswerMap `json:"answers"`
	StartedAt time.Time `json:"started_at"`
	Submitted bool      `json:"submitted"`
}

// Status maps the submitted flag to a SessionStatus.
func (s *SessionState) Status() SessionStatus {
	if s.Submitted {
		return SessionStatusSubmitted
	}
	return SessionStatusInProgress
}

// ActiveSession is the Redis-tracked summary of a live session, shown to admins.
type ActiveSession struct {
	SessionID  uuid.UUID `json:"session_id"`
	FullName   string    `json:"full_name"`
	SchoolName string    `json:"school_name"`
	StartedAt  time.Time `json:"started_at"`
	Deadline   time.Time `json:"deadline"`
}

// ExamSessionState is returned to the student on every poll or reload.
type ExamSessionState struct {
	SessionID        uuid.UUID          `json:"session_id"`
	Status           SessionStatus      `json:"status"`
	Cursor           int                `json:"cursor"`
	TotalQuestions   int                `json:"total_questions"`
	CurrentQuestion  QuestionForStudent `json:"current_question"`
	SelectedAnswer   *string            `json:"selected_answer"`
	Answered         []bool             `json:"answered"`
	AnsweredCount    int                `json:"answered_count"`
	ProgressFraction float64            `json:"progress_fraction"`
	RemainingSeconds int                `json:"remaining_seconds"`
	TimeWarning      bool               `json:"time_warning"`
}

// RecordAnswerRequest is the payload for selecting an option.
type RecordAnswerRequest struct {
	QuestionID *int   `json:"question_id" binding:"required"`
	Option     string `json:"option" binding:"required"`
}

// GoToRequest is the payload for jumping to a question via the navigation grid.
type GoToRequest struct {
	Index *int `json:"index" binding:"required,min=0"`
}
