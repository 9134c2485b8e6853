// Package sink provides the durable destinations for finalized exam results.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-quiz/internal/model"
)

// ErrInvalidRecord is returned for records that can never be stored.
var ErrInvalidRecord = errors.New("invalid result record")

// ResponseInserter stores a single result row.
type ResponseInserter interface {
	Insert(ctx context.Context, rec model.ResultRecord) error
}

// ListPusher is the subset of the Redis client used to enqueue results.
type ListPusher interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// PostgresSink writes each result straight into the responses table.
type PostgresSink struct {
	repo ResponseInserter
	log  zerolog.Logger
}

// NewPostgresSink creates a sink backed by the response repository.
func NewPostgresSink(repo ResponseInserter, log zerolog.Logger) *PostgresSink {
	return &PostgresSink{
		repo: repo,
		log:  log.With().Str("component", "postgres_sink").Logger(),
	}
}

// Persist inserts rec.
func (s *PostgresSink) Persist(ctx context.Context, rec model.ResultRecord) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	if err := s.repo.Insert(ctx, rec); err != nil {
		return fmt.Errorf("insert response: %w", err)
	}
	s.log.Debug().Str("session_id", rec.SessionID.String()).Msg("Result stored")
	return nil
}

// QueueSink pushes results onto a Redis list. The result worker drains the list
// into Postgres in batches, so a request never waits on the database.
type QueueSink struct {
	rdb   ListPusher
	queue string
	log   zerolog.Logger
}

// NewQueueSink creates a sink that enqueues onto queue.
func NewQueueSink(rdb ListPusher, queue string, log zerolog.Logger) *QueueSink {
	return &QueueSink{
		rdb:   rdb,
		queue: queue,
		log:   log.With().Str("component", "queue_sink").Logger(),
	}
}

// Persist enqueues rec as JSON.
func (s *QueueSink) Persist(ctx context.Context, rec model.ResultRecord) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := s.rdb.RPush(ctx, s.queue, raw).Err(); err != nil {
		return fmt.Errorf("enqueue result: %w", err)
	}
	s.log.Debug().Str("session_id", rec.SessionID.String()).Str("queue", s.queue).Msg("Result queued")
	return nil
}

func checkRecord(rec model.ResultRecord) error {
	if rec.FullName == "" || rec.SchoolName == "" {
		return fmt.Errorf("%w: identity is empty", ErrInvalidRecord)
	}
	if rec.Score < 0 || rec.Score > rec.TotalQuestions {
		return fmt.Errorf("%w: score %d of %d", ErrInvalidRecord, rec.Score, rec.TotalQuestions)
	}
	return nil
}
