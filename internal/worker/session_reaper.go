package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const DefaultReapInterval = time.Minute

// SessionEvictor drops finalized sessions from memory once they are older than retention.
type SessionEvictor interface {
	EvictFinished(ctx context.Context, retention time.Duration) int
}

// SessionReaper periodically frees submitted sessions so the live registry stays bounded.
type SessionReaper struct {
	sessions  SessionEvictor
	retention time.Duration
	interval  time.Duration
	log       zerolog.Logger
}

func NewSessionReaper(sessions SessionEvictor, retention, interval time.Duration, log zerolog.Logger) *SessionReaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	return &SessionReaper{
		sessions:  sessions,
		retention: retention,
		interval:  interval,
		log:       log.With().Str("component", "session_reaper").Logger(),
	}
}

// Start runs until ctx is cancelled. Call in a goroutine.
func (w *SessionReaper) Start(ctx context.Context) {
	w.log.Info().Dur("retention", w.retention).Msg("SessionReaper started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("SessionReaper stopped")
			return
		case <-ticker.C:
			if n := w.sessions.EvictFinished(ctx, w.retention); n > 0 {
				w.log.Info().Int("evicted", n).Msg("Finished sessions evicted")
			}
		}
	}
}
