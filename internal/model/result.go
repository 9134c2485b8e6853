package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamResult is produced once by the finalize transition and never mutated afterwards.
type ExamResult struct {
	Answers          AnswerMap `json:"answers"`
	Score            int       `json:"score"`
	TotalQuestions   int       `json:"total_questions"`
	TimeSpentSeconds int       `json:"time_spent_seconds"`
}

// Percentage returns the score as a rounded percentage of the total.
func (r *ExamResult) Percentage() int {
	if r.TotalQuestions == 0 {
		return 0
	}
	return (r.Score*200 + r.TotalQuestions) / (r.TotalQuestions * 2)
}

// Clone returns a copy that shares no state with r.
func (r *ExamResult) Clone() *ExamResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Answers = r.Answers.Clone()
	return &out
}

// ResultRecord is the payload handed to the result sink.
type ResultRecord struct {
	SessionID        uuid.UUID `json:"session_id"`
	FullName         string    `json:"full_name"`
	SchoolName       string    `json:"school_name"`
	Answers          AnswerMap `json:"answers"`
	Score            int       `json:"score"`
	TotalQuestions   int       `json:"total_questions"`
	TimeSpentSeconds int       `json:"time_spent_seconds"`
}

// NewResultRecord combines identity and result into a sink record.
func NewResultRecord(sessionID uuid.UUID, identity StudentIdentity, r *ExamResult) ResultRecord {
	return ResultRecord{
		SessionID:        sessionID,
		FullName:         identity.FullName,
		SchoolName:       identity.SchoolName,
		Answers:          r.Answers.Clone(),
		Score:            r.Score,
		TotalQuestions:   r.TotalQuestions,
		TimeSpentSeconds: r.TimeSpentSeconds,
	}
}

// Response is a stored result row, as listed to administrators.
type Response struct {
	ID               int64     `json:"id"`
	SessionID        uuid.UUID `json:"session_id"`
	FullName         string    `json:"full_name"`
	SchoolName       string    `json:"school_name"`
	Answers          AnswerMap `json:"answers"`
	Score            int       `json:"score"`
	TotalQuestions   int       `json:"total_questions"`
	TimeSpentSeconds int       `json:"time_spent_seconds"`
	CreatedAt        time.Time `json:"created_at"`
}

// ReviewItem is one question in the post-exam review.
type ReviewItem struct {
	Question       QuestionForStudent `json:"question"`
	SelectedAnswer *string            `json:"selected_answer"`
	CorrectAnswer  string             `json:"correct_answer"`
	Correct        bool               `json:"correct"`
}

// ResultView is the result page payload: score, save status and review.
type ResultView struct {
	SessionID  uuid.UUID    `json:"session_id"`
	Result     ExamResult   `json:"result"`
	Percentage int          `json:"percentage"`
	Passed     bool         `json:"passed"`
	SaveStatus SaveStatus   `json:"save_status"`
	SaveError  string       `json:"save_error,omitempty"`
	Review     []ReviewItem `json:"review"`
}

// ResponseSortField enumerates sortable columns in the admin listing.
type ResponseSortField string

const (
	SortByCreatedAt      ResponseSortField = "created_at"
	SortByFullName       ResponseSortField = "full_name"
	SortBySchoolName     ResponseSortField = "school_name"
	SortByScore          ResponseSortField = "score"
	SortByTimeSpent      ResponseSortField = "time_spent_seconds"
	SortByTotalQuestions ResponseSortField = "total_questions"
)

// ListResponsesQuery holds the admin listing filters.
type ListResponsesQuery struct {
	Search    string            `form:"search" binding:"omitempty,max=255"`
	SortField ResponseSortField `form:"sort" binding:"omitempty,oneof=created_at full_name school_name score time_spent_seconds total_questions"`
	SortDesc  bool              `form:"-"`
	Direction string            `form:"direction" binding:"omitempty,oneof=asc desc"`
	Page      int               `form:"page" binding:"omitempty,min=1"`
	PerPage   int               `form:"per_page" binding:"omitempty,min=1,max=100"`
}

// Normalize applies defaults: newest first, page 1, 20 per page.
func (q *ListResponsesQuery) Normalize() {
	if q.SortField == "" {
		q.SortField = SortByCreatedAt
	}
	q.SortDesc = q.Direction != "asc"
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 {
		q.PerPage = 20
	}
}
