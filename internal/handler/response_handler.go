package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-quiz/internal/model"
	"github.com/stemsi/exstem-quiz/internal/response"
	"github.com/stemsi/exstem-quiz/internal/service"
	"github.com/stemsi/exstem-quiz/internal/validator"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ResponseHandler serves the admin view of stored exam responses.
type ResponseHandler struct {
	responseService *service.ResponseService
	sessionService  *service.ExamSessionService
	log             zerolog.Logger
}

// NewResponseHandler creates a new ResponseHandler.
func NewResponseHandler(
	responseService *service.ResponseService,
	sessionService *service.ExamSessionService,
	log zerolog.Logger,
) *ResponseHandler {
	return &ResponseHandler{
		responseService: responseService,
		sessionService:  sessionService,
		log:             log.With().Str("component", "response_handler").Logger(),
	}
}

// ListResponses godoc
// GET /api/v1/admin/responses?search=&sort=&direction=&page=&per_page=
func (h *ResponseHandler) ListResponses(c *gin.Context) {
	var q model.ListResponsesQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	items, page, err := h.responseService.List(c.Request.Context(), q)
	if err != nil {
		h.log.Error().Err(err).Msg("list responses")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"responses": items}, page)
}

// ExportCSV godoc
// GET /api/v1/admin/responses/export.csv
func (h *ResponseHandler) ExportCSV(c *gin.Context) {
	h.export(c, "csv", "text/csv; charset=utf-8", h.responseService.ExportCSV)
}

// ExportXLSX godoc
// GET /api/v1/admin/responses/export.xlsx
func (h *ResponseHandler) ExportXLSX(c *gin.Context) {
	h.export(c, "xlsx", xlsxContentType, h.responseService.ExportXLSX)
}

type exportFunc func(ctx context.Context, q model.ListResponsesQuery, w io.Writer) (int, error)

// export renders the whole file before any header is written so a failed
// export still returns the JSON error envelope.
func (h *ResponseHandler) export(c *gin.Context, ext, contentType string, render exportFunc) {
	var q model.ListResponsesQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	var buf bytes.Buffer
	rows, err := render(c.Request.Context(), q, &buf)
	if err != nil {
		h.log.Error().Err(err).Str("format", ext).Msg("export responses")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	name := service.ExportFileName(ext, time.Now())
	h.log.Info().Str("format", ext).Int("rows", rows).Msg("responses exported")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

// ListActiveSessions godoc
// GET /api/v1/admin/sessions/active
func (h *ResponseHandler) ListActiveSessions(c *gin.Context) {
	sessions, err := h.sessionService.ListActive(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("list active sessions")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"sessions": sessions, "total": len(sessions)})
}
