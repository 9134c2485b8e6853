package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-quiz/internal/examsession"
	"github.com/stemsi/exstem-quiz/internal/response"
	"github.com/stemsi/exstem-quiz/internal/service"
)

// sessionError maps exam session errors to an HTTP status and error code.
func sessionError(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound, response.ErrSessionNotFound
	case errors.Is(err, examsession.ErrSessionClosed):
		return http.StatusConflict, response.ErrSessionClosed
	case errors.Is(err, examsession.ErrInvalidOption):
		return http.StatusUnprocessableEntity, response.ErrInvalidOption
	case errors.Is(err, examsession.ErrOutOfRange):
		return http.StatusUnprocessableEntity, response.ErrOutOfRange
	case errors.Is(err, service.ErrForwardLocked):
		return http.StatusConflict, response.ErrAnswerRequired
	case errors.Is(err, service.ErrNotSubmitted):
		return http.StatusConflict, response.ErrSessionOpen
	case errors.Is(err, service.ErrAlreadySaved):
		return http.StatusConflict, response.ErrAlreadySaved
	case errors.Is(err, service.ErrSaveInProgress):
		return http.StatusConflict, response.ErrSavePending
	case errors.Is(err, examsession.ErrPersistenceFailed):
		return http.StatusBadGateway, response.ErrSaveFailed
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

// failSession writes the error envelope for err.
func failSession(c *gin.Context, err error) {
	var ve *service.ValidationError
	if errors.As(err, &ve) {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, ve.Fields)
		return
	}
	status, code := sessionError(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	response.Fail(c, status, code)
}

// parseSessionID reads :session_id, writing a 400 on failure.
func parseSessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
