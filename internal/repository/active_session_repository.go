package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-quiz/internal/config"
	"github.com/stemsi/exstem-quiz/internal/model"
)

// SessionIndexClient is the subset of the Redis client used for the live-session index.
type SessionIndexClient interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// SessionEventType names an index change announced to monitors.
type SessionEventType string

const (
	SessionEventStarted  SessionEventType = "session_started"
	SessionEventFinished SessionEventType = "session_finished"
)

// SessionIndexEvent is published on every index change.
type SessionIndexEvent struct {
	Type      SessionEventType     `json:"type"`
	SessionID uuid.UUID            `json:"session_id"`
	Session   *model.ActiveSession `json:"session,omitempty"`
}

// ActiveSessionRepository indexes in-progress sessions in a Redis hash so
// administrators can see who is sitting the exam right now.
type ActiveSessionRepository struct {
	rdb SessionIndexClient
}

// NewActiveSessionRepository creates a new ActiveSessionRepository.
func NewActiveSessionRepository(rdb SessionIndexClient) *ActiveSessionRepository {
	return &ActiveSessionRepository{rdb: rdb}
}

// Track adds or replaces a session in the index and announces it.
func (r *ActiveSessionRepository) Track(ctx context.Context, s model.ActiveSession) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal active session: %w", err)
	}
	if err := r.rdb.HSet(ctx, config.CacheKey.ActiveSessionsKey(), s.SessionID.String(), raw).Err(); err != nil {
		return err
	}
	return r.publish(ctx, SessionIndexEvent{Type: SessionEventStarted, SessionID: s.SessionID, Session: &s})
}

// Untrack removes a session from the index and announces it.
func (r *ActiveSessionRepository) Untrack(ctx context.Context, sessionID uuid.UUID) error {
	if err := r.rdb.HDel(ctx, config.CacheKey.ActiveSessionsKey(), sessionID.String()).Err(); err != nil {
		return err
	}
	return r.publish(ctx, SessionIndexEvent{Type: SessionEventFinished, SessionID: sessionID})
}

func (r *ActiveSessionRepository) publish(ctx context.Context, ev SessionIndexEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal session event: %w", err)
	}
	return r.rdb.Publish(ctx, config.CacheKey.SessionEventsChannel(), raw).Err()
}

// List returns every indexed session, oldest first. Corrupt entries are skipped.
func (r *ActiveSessionRepository) List(ctx context.Context) ([]model.ActiveSession, error) {
	entries, err := r.rdb.HGetAll(ctx, config.CacheKey.ActiveSessionsKey()).Result()
	if err != nil {
		return nil, err
	}

	sessions := make([]model.ActiveSession, 0, len(entries))
	for _, raw := range entries {
		var s model.ActiveSession
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			continue
		}
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})
	return sessions, nil
}
