package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-quiz/internal/config"
	"github.com/stemsi/exstem-quiz/internal/model"
	"github.com/stemsi/exstem-quiz/internal/response"
	"github.com/stemsi/exstem-quiz/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // a slow Redis must not stall the SSE loop
)

var ssePing = []byte(`{"type":"ping"}`)

// MonitorHandler streams the live-session index to admins over SSE.
type MonitorHandler struct {
	rdb            *redis.Client
	sessionService *service.ExamSessionService
	log            zerolog.Logger
}

func NewMonitorHandler(rdb *redis.Client, sessionService *service.ExamSessionService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		rdb:            rdb,
		sessionService: sessionService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

type activeSnapshot struct {
	Type     string                `json:"type"`
	Total    int                   `json:"total"`
	Sessions []model.ActiveSession `json:"sessions"`
}

// ActiveSessionsSSE godoc
// GET /api/v1/admin/sessions/active/stream
// Sends a snapshot, then forwards start/finish events as they are published.
// A periodic snapshot resynchronises the client with instances it cannot hear.
func (h *MonitorHandler) ActiveSessionsSSE(c *gin.Context) {
	reqCtx := c.Request.Context()

	first, err := h.snapshot(reqCtx)
	if err != nil {
		h.log.Error().Err(err).Msg("initial active-session snapshot")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.SSEvent("message", first)
	c.Writer.Flush()

	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.SessionEventsChannel())
	defer pubsub.Close()
	ch := pubsub.Channel()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	h.log.Info().Msg("Admin attached to active-session SSE")

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Msg("Admin detached from active-session SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Published payloads are already JSON.
			writeSSEData(c, []byte(msg.Payload))

		case <-refreshTicker.C:
			snap, err := h.snapshot(reqCtx)
			if err != nil {
				h.log.Warn().Err(err).Msg("Failed to refresh active sessions")
				continue
			}
			c.SSEvent("message", snap)
			c.Writer.Flush()

		case <-keepAliveTicker.C:
			writeSSEData(c, ssePing)
		}
	}
}

func (h *MonitorHandler) snapshot(parent context.Context) (*activeSnapshot, error) {
	ctx, cancel := context.WithTimeout(parent, refreshTimeout)
	defer cancel()

	sessions, err := h.sessionService.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	return &activeSnapshot{Type: "snapshot", Total: len(sessions), Sessions: sessions}, nil
}

func writeSSEData(c *gin.Context, payload []byte) {
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(payload)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
