package examsession

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-quiz/internal/model"
)

// ResultSink durably stores a finalized result. The engine calls it at most
// once per session and never retries on its behalf.
type ResultSink interface {
	Persist(ctx context.Context, rec model.ResultRecord) error
}

// Trigger identifies what caused a session to finalize.
type Trigger string

const (
	TriggerSubmit Trigger = "submit"
	TriggerExpire Trigger = "expire"
)

const defaultPersistTimeout = 10 * time.Second

// Engine owns one exam attempt: the question cursor, the answer map and the
// submission latch. All methods are safe for concurrent use; mutations are
// serialized on a single mutex.
type Engine struct {
	id             uuid.UUID
	questions      []model.Question
	positions      map[int]int
	identity       model.StudentIdentity
	sink           ResultSink
	clock          Clock
	log            zerolog.Logger
	persistTimeout time.Duration
	onFinalize     func(*model.ExamResult, Trigger)

	mu      sync.Mutex
	state   model.SessionState
	result  *model.ExamResult
	trigger Trigger
	save    model.SaveStatus
	saveErr error
	timer   *Countdown
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock used for StartedAt and time spent.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger attaches a logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithSessionID sets the identifier carried into the result record.
func WithSessionID(id uuid.UUID) Option {
	return func(e *Engine) { e.id = id }
}

// WithPersistTimeout bounds the sink call made when the countdown expires.
func WithPersistTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.persistTimeout = d
		}
	}
}

// WithFinalizeHook registers fn to run once, after the sink call of the first
// finalize returns. It is called without the engine lock held.
func WithFinalizeHook(fn func(*model.ExamResult, Trigger)) Option {
	return func(e *Engine) { e.onFinalize = fn }
}

// NewEngine starts a session over an ordered, read-only question bank.
// The identity must already be validated.
func NewEngine(questions []model.Question, identity model.StudentIdentity, sink ResultSink, opts ...Option) (*Engine, error) {
	if len(questions) == 0 {
		return nil, ErrEmptyBank
	}
	if sink == nil {
		return nil, fmt.Errorf("new engine: result sink is required")
	}

	positions := make(map[int]int, len(questions))
	for i := range questions {
		if _, dup := positions[questions[i].ID]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateQuestion, questions[i].ID)
		}
		positions[questions[i].ID] = i
	}

	e := &Engine{
		id:             uuid.New(),
		questions:      questions,
		positions:      positions,
		identity:       identity,
		sink:           sink,
		clock:          SystemClock,
		log:            zerolog.Nop(),
		persistTimeout: defaultPersistTimeout,
		save:           model.SaveStatusPending,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.state = model.SessionState{
		Cursor:    0,
		Answers:   model.AnswerMap{},
		StartedAt: e.clock.Now(),
	}
	return e, nil
}

// ID returns the session identifier.
func (e *Engine) ID() uuid.UUID { return e.id }

// Identity returns the test-taker's identity.
func (e *Engine) Identity() model.StudentIdentity { return e.identity }

// Questions returns the bank. Callers must not modify it.
func (e *Engine) Questions() []model.Question { return e.questions }

// QuestionCount returns the size of the bank.
func (e *Engine) QuestionCount() int { return len(e.questions) }

// RecordAnswer stores option as the answer to questionID, overwriting any prior choice.
func (e *Engine) RecordAnswer(questionID int, option string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recordLocked(questionID, option)
}

// AnswerCurrent records option against the question under the cursor.
func (e *Engine) AnswerCurrent(option string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.recordLocked(e.questions[e.state.Cursor].ID, option)
}

func (e *Engine) recordLocked(questionID int, option string) error {
	if e.state.Submitted {
		return ErrSessionClosed
	}
	pos, ok := e.positions[questionID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownQuestion, questionID)
	}
	if !e.questions[pos].HasOption(option) {
		return fmt.Errorf("%w: question %d", ErrInvalidOption, questionID)
	}

	e.state.Answers[questionID] = option
	return nil
}

// GoTo moves the cursor. Forward motion is not restricted here; callers that
// want the answer-before-next rule check IsAnswered on the cursor first.
func (e *Engine) GoTo(index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Submitted {
		return ErrSessionClosed
	}
	if index < 0 || index >= len(e.questions) {
		return fmt.Errorf("%w: %d not in [0, %d]", ErrOutOfRange, index, len(e.questions)-1)
	}

	e.state.Cursor = index
	return nil
}

// Submit finalizes the session on explicit user action.
func (e *Engine) Submit(ctx context.Context) *model.ExamResult {
	return e.finalize(ctx, TriggerSubmit)
}

// Expire finalizes the session when time runs out.
func (e *Engine) Expire(ctx context.Context) *model.ExamResult {
	return e.finalize(ctx, TriggerExpire)
}

// finalize runs exactly once. The submitted flag is checked and set under the
// mutex together with scoring; every later caller receives an equal copy of the
// result and the sink is never called again. The stored result is never handed out.
func (e *Engine) finalize(ctx context.Context, trigger Trigger) *model.ExamResult {
	e.mu.Lock()
	if e.state.Submitted {
		res := e.result.Clone()
		e.mu.Unlock()
		e.log.Debug().
			Str("trigger", string(trigger)).
			Msg("Finalize ignored, session already submitted")
		return res
	}

	e.state.Submitted = true
	e.trigger = trigger
	res := Score(e.questions, e.state.Answers, e.state.StartedAt, e.clock.Now())
	e.result = res
	e.save = model.SaveStatusSaving
	timer := e.timer
	rec := model.NewResultRecord(e.id, e.identity, res)
	e.mu.Unlock()

	if timer != nil {
		timer.Cancel()
	}

	e.log.Info().
		Str("trigger", string(trigger)).
		Int("score", res.Score).
		Int("total", res.TotalQuestions).
		Int("time_spent", res.TimeSpentSeconds).
		Msg("Session finalized")

	err := e.sink.Persist(ctx, rec)

	e.mu.Lock()
	if err != nil {
		e.save = model.SaveStatusFailed
		e.saveErr = fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	} else {
		e.save = model.SaveStatusSaved
	}
	e.mu.Unlock()

	if err != nil {
		e.log.Error().Err(err).Msg("Result sink failed")
	}
	if e.onFinalize != nil {
		e.onFinalize(res.Clone(), trigger)
	}
	return res.Clone()
}

// BindCountdown starts c against the session deadline (StartedAt + d) and wires
// its expiry to Expire. The countdown is cancelled when the session finalizes.
func (e *Engine) BindCountdown(c *Countdown, d time.Duration) error {
	e.mu.Lock()
	if e.state.Submitted {
		e.mu.Unlock()
		return ErrSessionClosed
	}
	if e.timer != nil {
		e.mu.Unlock()
		return ErrTimerBound
	}
	e.timer = c
	deadline := e.state.StartedAt.Add(d)
	e.mu.Unlock()

	return c.StartUntil(deadline, func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.persistTimeout)
		defer cancel()
		e.Expire(ctx)
	})
}

// MarkSaved records the outcome of a save retried above the engine.
func (e *Engine) MarkSaved(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.state.Submitted {
		return
	}
	if err != nil {
		e.save = model.SaveStatusFailed
		e.saveErr = fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
		return
	}
	e.save = model.SaveStatusSaved
	e.saveErr = nil
}

// CurrentQuestion returns the question under the cursor and its index.
func (e *Engine) CurrentQuestion() (model.Question, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.questions[e.state.Cursor], e.state.Cursor
}

// Cursor returns the current question index.
func (e *Engine) Cursor() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Cursor
}

// IsAnswered reports whether the question at index has an answer.
// Out-of-range indexes are reported as unanswered.
func (e *Engine) IsAnswered(index int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.questions) {
		return false
	}
	_, ok := e.state.Answers[e.questions[index].ID]
	return ok
}

// Answer returns the recorded option for questionID.
func (e *Engine) Answer(questionID int) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.state.Answers[questionID]
	return v, ok
}

// AnsweredCount returns how many questions have an answer.
func (e *Engine) AnsweredCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.state.Answers)
}

// ProgressFraction is AnsweredCount divided by the bank size.
func (e *Engine) ProgressFraction() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return float64(len(e.state.Answers)) / float64(len(e.questions))
}

// Snapshot returns a copy of the session state.
func (e *Engine) Snapshot() model.SessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.state
	s.Answers = e.state.Answers.Clone()
	return s
}

// Submitted reports whether the session has finalized.
func (e *Engine) Submitted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Submitted
}

// Result returns the finalized result, or false while in progress.
func (e *Engine) Result() (*model.ExamResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result.Clone(), e.result != nil
}

// Trigger returns what finalized the session, empty while in progress.
func (e *Engine) Trigger() Trigger {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.trigger
}

// SaveStatus returns the persistence state and, if it failed, the reason.
func (e *Engine) SaveStatus() (model.SaveStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.save, e.saveErr
}

// Record rebuilds the sink record for a finalized session.
func (e *Engine) Record() (model.ResultRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.result == nil {
		return model.ResultRecord{}, false
	}
	return model.NewResultRecord(e.id, e.identity, e.result), true
}

// Countdown returns the bound countdown, nil if none.
func (e *Engine) Countdown() *Countdown {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timer
}
