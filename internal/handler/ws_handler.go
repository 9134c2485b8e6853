package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-quiz/internal/model"
	"github.com/stemsi/exstem-quiz/internal/response"
	"github.com/stemsi/exstem-quiz/internal/service"
	ws "github.com/stemsi/exstem-quiz/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a live exam session over WebSocket: countdown ticks,
// expiry and grading go out; answers, navigation and submit come in.
type WSHandler struct {
	sessionService *service.ExamSessionService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService *service.ExamSessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/exam/sessions/:session_id/stream
func (h *WSHandler) SessionStream(c *gin.Context) {
	id, ok := parseSessionID(c)
	if !ok {
		return
	}

	// Resolve before upgrading so an unknown session gets a normal HTTP error.
	state, err := h.sessionService.State(id)
	if err != nil {
		failSession(c, err)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(raw)
	defer raw.Close()

	wsLog := h.log.With().Str("session_id", id.String()).Logger()
	wsLog.Info().Msg("Stream connected")

	events, unsubscribe, err := h.sessionService.Subscribe(id)
	if err != nil {
		_ = conn.WriteError(string(response.ErrSessionNotFound), response.GetMessage(response.ErrSessionNotFound))
		return
	}
	defer unsubscribe()

	_ = conn.WriteTyped(ws.StateResponse{Event: ws.EventState, State: state})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.pump(ctx, conn, events, wsLog)

	for {
		action, msg, err := conn.ReadRequest()
		if err != nil {
			if msg != nil {
				_ = conn.WriteError(string(response.ErrInvalidPayload), response.GetMessage(response.ErrInvalidPayload))
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch action {
		case ws.ActionAnswer:
			var req ws.AnswerRequest
			if err := ws.Decode(msg, &req); err != nil || req.QuestionID == nil || req.Option == "" {
				_ = conn.WriteError(string(response.ErrInvalidPayload), "question_id and option are required")
				continue
			}
			h.replyState(conn, func() (*model.ExamSessionState, error) {
				return h.sessionService.RecordAnswer(id, *req.QuestionID, req.Option)
			})
		case ws.ActionGoTo:
			var req ws.GoToRequest
			if err := ws.Decode(msg, &req); err != nil || req.Index == nil {
				_ = conn.WriteError(string(response.ErrInvalidPayload), "index is required")
				continue
			}
			h.replyState(conn, func() (*model.ExamSessionState, error) {
				return h.sessionService.GoTo(id, *req.Index)
			})
		case ws.ActionNext:
			h.replyState(conn, func() (*model.ExamSessionState, error) { return h.sessionService.Next(id) })
		case ws.ActionPrev:
			h.replyState(conn, func() (*model.ExamSessionState, error) { return h.sessionService.Prev(id) })
		case ws.ActionSubmit:
			// The graded event reaches this client through the subscription.
			submitCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
			if _, err := h.sessionService.Submit(submitCtx, id); err != nil {
				_, code := sessionError(err)
				_ = conn.WriteError(string(code), response.GetMessage(code))
			}
			done()
		case ws.ActionPing:
			_ = conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(action)).Msg("Unknown action")
			_ = conn.WriteError(string(response.ErrInvalidPayload), "unknown action: "+string(action))
		}
	}
}

// pump forwards session events until the session finishes or ctx ends. After
// the final event it closes the connection, which also ends the read loop.
func (h *WSHandler) pump(ctx context.Context, conn *ws.Conn, events <-chan service.SessionEvent, log zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				select {
				case <-ctx.Done():
				default:
					_ = conn.Close("session finished")
				}
				return
			}
			var err error
			switch ev.Kind {
			case service.EventTick:
				err = conn.WriteTyped(ws.TickResponse{Event: ws.EventTick, RemainingSeconds: ev.RemainingSeconds, Warning: ev.Warning})
			case service.EventExpired:
				err = conn.WriteTyped(ws.ExpiredResponse{Event: ws.EventExpired})
			case service.EventGraded:
				err = conn.WriteTyped(ws.GradedResponse{Event: ws.EventGraded, Result: ev.Result})
			}
			if err != nil {
				log.Debug().Err(err).Str("event", string(ev.Kind)).Msg("Stream write failed")
				return
			}
		}
	}
}

func (h *WSHandler) replyState(conn *ws.Conn, op func() (*model.ExamSessionState, error)) {
	state, err := op()
	if err != nil {
		_, code := sessionError(err)
		_ = conn.WriteError(string(code), response.GetMessage(code))
		return
	}
	_ = conn.WriteTyped(ws.StateResponse{Event: ws.EventState, State: state})
}
