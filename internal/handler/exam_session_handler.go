package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-quiz/internal/model"
	"github.com/stemsi/exstem-quiz/internal/response"
	"github.com/stemsi/exstem-quiz/internal/service"
	"github.com/stemsi/exstem-quiz/internal/validator"
)

// ExamSessionHandler handles the test-taker's exam endpoints.
type ExamSessionHandler struct {
	sessionService *service.ExamSessionService
	log            zerolog.Logger
}

// NewExamSessionHandler creates a new ExamSessionHandler.
func NewExamSessionHandler(sessionService *service.ExamSessionService, log zerolog.Logger) *ExamSessionHandler {
	return &ExamSessionHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "exam_session_handler").Logger(),
	}
}

// StartSession godoc
// POST /api/v1/exam/sessions
// Captures the test-taker's identity and starts a timed session.
func (h *ExamSessionHandler) StartSession(c *gin.Context) {
	var req model.StudentIdentity
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	state, err := h.sessionService.Start(c.Request.Context(), req)
	if err != nil {
		failSession(c, err)
		return
	}

	response.Success(c, http.StatusCreated, state)
}

// GetState godoc
// GET /api/v1/exam/sessions/:session_id
// Returns the current question, progress and remaining time.
func (h *ExamSessionHandler) GetState(c *gin.Context) {
	id, ok := parseSessionID(c)
	if !ok {
		return
	}

	state, err := h.sessionService.State(id)
	if err != nil {
		failSession(c, err)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// RecordAnswer godoc
// PUT /api/v1/exam/sessions/:session_id/answers
// Selects an option for a question, replacing any earlier choice.
func (h *ExamSessionHandler) RecordAnswer(c *gin.Context) {
	id, ok := parseSessionID(c)
	if !ok {
		return
	}

	var req model.RecordAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	state, err := h.sessionService.RecordAnswer(id, *req.QuestionID, req.Option)
	if err != nil {
		failSession(c, err)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// GoTo godoc
// POST /api/v1/exam/sessions/:session_id/goto
// Jumps to any question from the navigation grid.
func (h *ExamSessionHandler) GoTo(c *gin.Context) {
	id, ok := parseSessionID(c)
	if !ok {
		return
	}

	var req model.GoToRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	state, err := h.sessionService.GoTo(id, *req.Index)
	if err != nil {
		failSession(c, err)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// Next godoc
// POST /api/v1/exam/sessions/:session_id/next
// Advances one question. Requires the current question to be answered.
func (h *ExamSessionHandler) Next(c *gin.Context) {
	id, ok := parseSessionID(c)
	if !ok {
		return
	}

	state, err := h.sessionService.Next(id)
	if err != nil {
		failSession(c, err)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// Prev godoc
// POST /api/v1/exam/sessions/:session_id/prev
func (h *ExamSessionHandler) Prev(c *gin.Context) {
	id, ok := parseSessionID(c)
	if !ok {
		return
	}

	state, err := h.sessionService.Prev(id)
	if err != nil {
		failSession(c, err)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// Submit godoc
// POST /api/v1/exam/sessions/:session_id/submit
// Finalizes the exam. Safe to repeat; every call returns the same result.
// A failed save is reported in save_status, never as a request failure.
func (h *ExamSessionHandler) Submit(c *gin.Context) {
	id, ok := parseSessionID(c)
	if !ok {
		return
	}

	view, err := h.sessionService.Submit(c.Request.Context(), id)
	if err != nil {
		failSession(c, err)
		return
	}

	response.Success(c, http.StatusOK, view)
}

// GetResult godoc
// GET /api/v1/exam/sessions/:session_id/result
// Returns score, percentage, pass flag, save status and the answer review.
func (h *ExamSessionHandler) GetResult(c *gin.Context) {
	id, ok := parseSessionID(c)
	if !ok {
		return
	}

	view, err := h.sessionService.Result(id)
	if err != nil {
		failSession(c, err)
		return
	}

	response.Success(c, http.StatusOK, view)
}

// RetrySave godoc
// POST /api/v1/exam/sessions/:session_id/result/retry-save
// Hands a result whose save failed to the result store again.
func (h *ExamSessionHandler) RetrySave(c *gin.Context) {
	id, ok := parseSessionID(c)
	if !ok {
		return
	}

	view, err := h.sessionService.RetrySave(c.Request.Context(), id)
	if err != nil {
		if view != nil {
			status, code := sessionError(err)
			response.FailWithData(c, status, code, view)
			return
		}
		failSession(c, err)
		return
	}

	response.Success(c, http.StatusOK, view)
}
