package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-quiz/internal/model"
	"github.com/stemsi/exstem-quiz/internal/response"
	"github.com/stemsi/exstem-quiz/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResponses struct {
	items []model.Response
	err   error
	last  model.ListResponsesQuery
}

func (f *fakeResponses) List(_ context.Context, q model.ListResponsesQuery) ([]model.Response, int, error) {
	f.last = q
	return f.items, len(f.items), f.err
}

func (f *fakeResponses) ListAll(_ context.Context, q model.ListResponsesQuery) ([]model.Response, error) {
	f.last = q
	return f.items, f.err
}

func newResponseRouter(t *testing.T, repo *fakeResponses) (*gin.Engine, *service.ExamSessionService) {
	t.Helper()
	sessions := newSessionService(t, &switchSink{})
	h := NewResponseHandler(service.NewResponseService(repo, zerolog.Nop()), sessions, zerolog.Nop())

	r := gin.New()
	g := r.Group("/api/v1/admin")
	g.GET("/responses", h.ListResponses)
	g.GET("/responses/export.csv", h.ExportCSV)
	g.GET("/responses/export.xlsx", h.ExportXLSX)
	g.GET("/sessions/active", h.ListActiveSessions)
	return r, sessions
}

func oneResponse() []model.Response {
	return []model.Response{{
		ID: 1, SessionID: uuid.New(), FullName: "Rahim Uddin", SchoolName: "Dhaka College",
		Score: 2, TotalQuestions: 3, TimeSpentSeconds: 600,
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}}
}

func TestListResponses(t *testing.T) {
	repo := &fakeResponses{items: oneResponse()}
	r, _ := newResponseRouter(t, repo)

	w, env := call(t, r, http.MethodGet, "/api/v1/admin/responses?search=dhaka&sort=score&direction=asc&page=1&per_page=10", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, "dhaka", repo.last.Search)
	assert.Equal(t, model.SortByScore, repo.last.SortField)
	assert.False(t, repo.last.SortDesc)
	assert.Equal(t, 10, repo.last.PerPage)

	data := decodeData[struct {
		Responses []model.Response `json:"responses"`
	}](t, env)
	require.Len(t, data.Responses, 1)
	assert.Equal(t, "Rahim Uddin", data.Responses[0].FullName)
	assert.Contains(t, w.Body.String(), `"total_items":1`)
}

func TestListResponses_RejectsBadQuery(t *testing.T) {
	r, _ := newResponseRouter(t, &fakeResponses{})

	for _, q := range []string{"sort=password_hash", "direction=sideways", "per_page=1000"} {
		w, env := call(t, r, http.MethodGet, "/api/v1/admin/responses?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
		require.NotNil(t, env.Error, q)
		assert.Equal(t, string(response.ErrValidation), env.Error.Code)
	}
}

func TestExportCSV(t *testing.T) {
	r, _ := newResponseRouter(t, &fakeResponses{items: oneResponse()})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/admin/responses/export.csv", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Regexp(t, `^attachment; filename="exam-responses-\d{4}-\d{2}-\d{2}\.csv"$`, w.Header().Get("Content-Disposition"))
	assert.Equal(t,
		"Name,School,Score,Total Questions,Time Spent (seconds),Date\nRahim Uddin,Dhaka College,2,3,600,2026-03-01\n",
		w.Body.String())
}

func TestExportXLSX(t *testing.T) {
	r, _ := newResponseRouter(t, &fakeResponses{items: oneResponse()})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/admin/responses/export.xlsx", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".xlsx")
	assert.Equal(t, "PK", w.Body.String()[:2], "xlsx is a zip container")
}

func TestExport_FailureKeepsJSONEnvelope(t *testing.T) {
	r, _ := newResponseRouter(t, &fakeResponses{err: errors.New("db down")})

	w, env := call(t, r, http.MethodGet, "/api/v1/admin/responses/export.csv", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, w.Header().Get("Content-Disposition"))
	require.NotNil(t, env.Error)
	assert.Equal(t, string(response.ErrInternal), env.Error.Code)
}

func TestListActiveSessions(t *testing.T) {
	r, sessions := newResponseRouter(t, &fakeResponses{})

	st, err := sessions.Start(context.Background(), model.StudentIdentity{FullName: "Rahim Uddin", SchoolName: "Dhaka College"})
	require.NoError(t, err)

	w, env := call(t, r, http.MethodGet, "/api/v1/admin/sessions/active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData[struct {
		Sessions []model.ActiveSession `json:"sessions"`
		Total    int                   `json:"total"`
	}](t, env)
	assert.Equal(t, 1, data.Total)
	assert.Equal(t, st.SessionID, data.Sessions[0].SessionID)
}
