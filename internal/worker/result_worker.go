package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-quiz/internal/config"
	"github.com/stemsi/exstem-quiz/internal/model"
)

const (
	ResultBatchSize    = 50
	ResultBatchTimeout = 2 * time.Second
	ResultPollTimeout  = 1 * time.Second
	MaxResultAttempts  = 5
)

// queuedResult is the queue payload. Attempts counts failed inserts and is
// absent on first delivery, so records pushed by the sink decode unchanged.
type queuedResult struct {
	model.ResultRecord
	Attempts int `json:"attempts,omitempty"`
}

// QueueClient is the subset of the Redis client the result worker uses.
type QueueClient interface {
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// ResultStore writes result rows.
type ResultStore interface {
	InsertBatch(ctx context.Context, recs []model.ResultRecord) error
	Insert(ctx context.Context, rec model.ResultRecord) error
}

// ResultWorker drains the persist_results_queue into the responses table.
type ResultWorker struct {
	store ResultStore
	rdb   QueueClient
	log   zerolog.Logger

	batchSize    int
	batchTimeout time.Duration
	pollTimeout  time.Duration
}

func NewResultWorker(store ResultStore, rdb QueueClient, log zerolog.Logger) *ResultWorker {
	return &ResultWorker{
		store:        store,
		rdb:          rdb,
		log:          log.With().Str("component", "result_worker").Logger(),
		batchSize:    ResultBatchSize,
		batchTimeout: ResultBatchTimeout,
		pollTimeout:  ResultPollTimeout,
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

// Start runs until ctx is cancelled, then flushes what it holds. Call in a goroutine.
func (w *ResultWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ResultWorker started")

	batch := make([]queuedResult, 0, w.batchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= w.batchSize || time.Since(lastFlush) >= w.batchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Int("pending", len(batch)).Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, w.pollTimeout, config.WorkerKey.PersistResultsQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var rec queuedResult
			if err := json.Unmarshal([]byte(item[1]), &rec); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload, moving to dead queue")
				w.rdb.RPush(ctx, config.WorkerKey.DeadResultsQueue, item[1])
				continue
			}

			batch = append(batch, rec)
		}
	}
}

// ----------------------------------------------------------------
// Batch insert with per-record fallback
// ----------------------------------------------------------------

func (w *ResultWorker) flushSafe(ctx context.Context, batch []queuedResult) {
	if len(batch) == 0 {
		return
	}

	recs := make([]model.ResultRecord, len(batch))
	for i := range batch {
		recs[i] = batch[i].ResultRecord
	}

	err := w.store.InsertBatch(ctx, recs)
	if err == nil {
		w.log.Debug().Int("count", len(batch)).Msg("Results flushed")
		return
	}

	w.log.Warn().Err(err).Int("count", len(batch)).Msg("bulk insert failed, using fallback")

	for _, rec := range batch {
		if err := w.store.Insert(ctx, rec.ResultRecord); err != nil {
			w.requeue(ctx, rec, err)
		}
	}
}

// requeue puts a failed record back on the persist queue, or on the dead queue
// once the failure is permanent or the attempts are used up.
func (w *ResultWorker) requeue(ctx context.Context, rec queuedResult, cause error) {
	rec.Attempts++
	queue := config.WorkerKey.PersistResultsQueue
	if isPermanent(cause) || rec.Attempts >= MaxResultAttempts {
		queue = config.WorkerKey.DeadResultsQueue
	}

	w.log.Error().Err(cause).
		Str("session_id", rec.SessionID.String()).
		Int("attempts", rec.Attempts).
		Str("queue", queue).
		Msg("single insert failed")

	raw, err := json.Marshal(rec)
	if err != nil {
		w.log.Error().Err(err).Msg("Failed to marshal result for requeue")
		return
	}
	w.rdb.RPush(ctx, queue, raw)
}

// isPermanent reports errors a retry cannot fix: data exceptions (22) and
// integrity constraint violations (23).
func isPermanent(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23")
}
