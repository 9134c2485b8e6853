package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-quiz/internal/config"
	"github.com/stemsi/exstem-quiz/internal/model"
	"github.com/stemsi/exstem-quiz/internal/questionbank"
	"github.com/stemsi/exstem-quiz/internal/service"
	"github.com/stemsi/exstem-quiz/internal/validator"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

type switchSink struct {
	mu  sync.Mutex
	err error
	n   int
}

func (s *switchSink) Persist(context.Context, model.ResultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return s.err
}

func (s *switchSink) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

type listTracker struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]model.ActiveSession
}

func (l *listTracker) Track(_ context.Context, s model.ActiveSession) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions[s.SessionID] = s
	return nil
}

func (l *listTracker) Untrack(_ context.Context, id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, id)
	return nil
}

func (l *listTracker) List(context.Context) ([]model.ActiveSession, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.ActiveSession, 0, len(l.sessions))
	for _, s := range l.sessions {
		out = append(out, s)
	}
	return out, nil
}

func newSessionService(t *testing.T, sink *switchSink) *service.ExamSessionService {
	t.Helper()
	return newBankSessionService(t, sink, questionbank.Default())
}

func newBankSessionService(t *testing.T, sink *switchSink, bank []model.Question) *service.ExamSessionService {
	t.Helper()
	cfg := &config.Config{
		ExamDuration:     30 * time.Minute,
		WarningThreshold: 5 * time.Minute,
		PassPercent:      60,
		PersistTimeout:   time.Second,
	}
	svc := service.NewExamSessionService(cfg, bank, sink,
		&listTracker{sessions: make(map[uuid.UUID]model.ActiveSession)}, zerolog.Nop())
	t.Cleanup(func() { svc.Shutdown(context.Background()) })
	return svc
}

func newExamRouter(svc *service.ExamSessionService) *gin.Engine {
	h := NewExamSessionHandler(svc, zerolog.Nop())
	r := gin.New()
	g := r.Group("/api/v1/exam")
	g.POST("/sessions", h.StartSession)
	g.GET("/sessions/:session_id", h.GetState)
	g.PUT("/sessions/:session_id/answers", h.RecordAnswer)
	g.POST("/sessions/:session_id/goto", h.GoTo)
	g.POST("/sessions/:session_id/next", h.Next)
	g.POST("/sessions/:session_id/prev", h.Prev)
	g.POST("/sessions/:session_id/submit", h.Submit)
	g.GET("/sessions/:session_id/result", h.GetResult)
	g.POST("/sessions/:session_id/result/retry-save", h.RetrySave)
	return r
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

func call(t *testing.T, r http.Handler, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}
