package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-quiz/internal/config"
	"github.com/stemsi/exstem-quiz/internal/examsession"
	"github.com/stemsi/exstem-quiz/internal/model"
	"github.com/stemsi/exstem-quiz/internal/validator"
)

// Exam session errors.
var (
	ErrSessionNotFound = errors.New("exam session not found")
	ErrForwardLocked   = errors.New("current question must be answered before moving on")
	ErrNotSubmitted    = errors.New("exam session has not been submitted")
	ErrAlreadySaved    = errors.New("result is already saved")
	ErrSaveInProgress  = errors.New("result save is still in progress")
)

// ValidationError carries field-level messages for a rejected identity.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %v", e.Fields)
}

// ActiveSessionTracker indexes live sessions outside the process.
type ActiveSessionTracker interface {
	Track(ctx context.Context, s model.ActiveSession) error
	Untrack(ctx context.Context, sessionID uuid.UUID) error
	List(ctx context.Context) ([]model.ActiveSession, error)
}

// EventKind names a session stream event.
type EventKind string

const (
	EventTick    EventKind = "tick"
	EventExpired EventKind = "expired"
	EventGraded  EventKind = "graded"
)

// SessionEvent is pushed to stream subscribers.
type SessionEvent struct {
	Kind             EventKind
	RemainingSeconds int
	Warning          bool
	Result           *model.ResultView
}

const subscriberBuffer = 16

// liveSession is one in-memory attempt plus its stream subscribers.
type liveSession struct {
	engine   *examsession.Engine
	deadline time.Time

	// navMu serializes the check-then-move of Next so the forward lock holds.
	navMu sync.Mutex
	// saveMu serializes retries against each other.
	saveMu sync.Mutex

	mu         sync.Mutex
	subs       map[int]chan SessionEvent
	nextSub    int
	final      []SessionEvent
	finishedAt time.Time
}

// ExamSessionService owns every live exam attempt. Each attempt has its own
// engine; nothing about one student's session is shared with another.
type ExamSessionService struct {
	cfg       *config.Config
	questions []model.Question
	sink      examsession.ResultSink
	tracker   ActiveSessionTracker
	clock     examsession.Clock
	log       zerolog.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*liveSession
}

// ExamSessionOption configures an ExamSessionService.
type ExamSessionOption func(*ExamSessionService)

// WithSessionClock overrides the wall clock for every engine and countdown.
func WithSessionClock(c examsession.Clock) ExamSessionOption {
	return func(s *ExamSessionService) { s.clock = c }
}

// NewExamSessionService creates a new ExamSessionService over a validated bank.
func NewExamSessionService(
	cfg *config.Config,
	questions []model.Question,
	sink examsession.ResultSink,
	tracker ActiveSessionTracker,
	log zerolog.Logger,
	opts ...ExamSessionOption,
) *ExamSessionService {
	s := &ExamSessionService{
		cfg:       cfg,
		questions: questions,
		sink:      sink,
		tracker:   tracker,
		clock:     examsession.SystemClock,
		log:       log.With().Str("component", "exam_session_service").Logger(),
		sessions:  make(map[uuid.UUID]*liveSession),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start validates the identity and opens a fresh, timed session.
func (s *ExamSessionService) Start(ctx context.Context, identity model.StudentIdentity) (*model.ExamSessionState, error) {
	if fields := validator.Struct(identity); fields != nil {
		return nil, &ValidationError{Fields: fields}
	}

	id := uuid.New()
	ls := &liveSession{subs: make(map[int]chan SessionEvent)}
	sessLog := s.log.With().Str("session_id", id.String()).Logger()

	engine, err := examsession.NewEngine(s.questions, identity, s.sink,
		examsession.WithSessionID(id),
		examsession.WithClock(s.clock),
		examsession.WithLogger(sessLog),
		examsession.WithPersistTimeout(s.cfg.PersistTimeout),
		examsession.WithFinalizeHook(func(_ *model.ExamResult, trigger examsession.Trigger) {
			s.onFinalized(id, ls, trigger)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}
	ls.engine = engine

	countdown := examsession.NewCountdown(
		examsession.WithCountdownClock(s.clock),
		examsession.WithWarningThreshold(s.cfg.WarningThreshold),
		examsession.WithTickHandler(func(t examsession.Tick) {
			ls.publish(SessionEvent{Kind: EventTick, RemainingSeconds: t.RemainingSeconds(), Warning: t.Warning})
		}),
	)

	ls.deadline = engine.Snapshot().StartedAt.Add(s.cfg.ExamDuration)

	// Index and register before the countdown starts so an immediate expiry finds the session.
	if err := s.tracker.Track(ctx, model.ActiveSession{
		SessionID:  id,
		FullName:   identity.FullName,
		SchoolName: identity.SchoolName,
		StartedAt:  engine.Snapshot().StartedAt,
		Deadline:   ls.deadline,
	}); err != nil {
		sessLog.Warn().Err(err).Msg("Failed to index active session")
	}

	s.mu.Lock()
	s.sessions[id] = ls
	s.mu.Unlock()

	if err := engine.BindCountdown(countdown, s.cfg.ExamDuration); err != nil {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		_ = s.tracker.Untrack(ctx, id)
		return nil, fmt.Errorf("start countdown: %w", err)
	}

	sessLog.Info().
		Str("school_name", identity.SchoolName).
		Time("deadline", ls.deadline).
		Msg("Exam session started")

	return s.stateOf(id, ls), nil
}

// onFinalized runs once per session after the result sink returns.
func (s *ExamSessionService) onFinalized(id uuid.UUID, ls *liveSession, trigger examsession.Trigger) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
	defer cancel()
	if err := s.tracker.Untrack(ctx, id); err != nil {
		s.log.Warn().Err(err).Str("session_id", id.String()).Msg("Failed to remove session from active index")
	}

	view := s.resultView(id, ls.engine)
	events := make([]SessionEvent, 0, 2)
	if trigger == examsession.TriggerExpire {
		events = append(events, SessionEvent{Kind: EventExpired})
	}
	events = append(events, SessionEvent{Kind: EventGraded, Result: view})
	ls.finish(events, s.clock.Now())
}

// get returns the live session or ErrSessionNotFound.
func (s *ExamSessionService) get(id uuid.UUID) (*liveSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ls, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return ls, nil
}

// State returns the student's view of the session.
func (s *ExamSessionService) State(id uuid.UUID) (*model.ExamSessionState, error) {
	ls, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return s.stateOf(id, ls), nil
}

// RecordAnswer stores the selected option for a question.
func (s *ExamSessionService) RecordAnswer(id uuid.UUID, questionID int, option string) (*model.ExamSessionState, error) {
	ls, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if err := ls.engine.RecordAnswer(questionID, option); err != nil {
		return nil, err
	}
	return s.stateOf(id, ls), nil
}

// GoTo jumps to any question. The navigation grid is never forward-locked.
func (s *ExamSessionService) GoTo(id uuid.UUID, index int) (*model.ExamSessionState, error) {
	ls, err := s.get(id)
	if err != nil {
		return nil, err
	}
	ls.navMu.Lock()
	defer ls.navMu.Unlock()
	if err := ls.engine.GoTo(index); err != nil {
		return nil, err
	}
	return s.stateOf(id, ls), nil
}

// Next advances one question, but only once the current one is answered.
func (s *ExamSessionService) Next(id uuid.UUID) (*model.ExamSessionState, error) {
	ls, err := s.get(id)
	if err != nil {
		return nil, err
	}
	ls.navMu.Lock()
	defer ls.navMu.Unlock()

	if ls.engine.Submitted() {
		return nil, examsession.ErrSessionClosed
	}
	cursor := ls.engine.Cursor()
	if !ls.engine.IsAnswered(cursor) {
		return nil, ErrForwardLocked
	}
	if err := ls.engine.GoTo(cursor + 1); err != nil {
		return nil, err
	}
	return s.stateOf(id, ls), nil
}

// Prev moves back one question.
func (s *ExamSessionService) Prev(id uuid.UUID) (*model.ExamSessionState, error) {
	ls, err := s.get(id)
	if err != nil {
		return nil, err
	}
	ls.navMu.Lock()
	defer ls.navMu.Unlock()
	if err := ls.engine.GoTo(ls.engine.Cursor() - 1); err != nil {
		return nil, err
	}
	return s.stateOf(id, ls), nil
}

// Submit finalizes the session. Repeated calls return the same result. The
// sink call outlives the caller's request so a client disconnect cannot abort it.
func (s *ExamSessionService) Submit(ctx context.Context, id uuid.UUID) (*model.ResultView, error) {
	ls, err := s.get(id)
	if err != nil {
		return nil, err
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PersistTimeout)
	defer cancel()
	ls.engine.Submit(persistCtx)

	return s.resultView(id, ls.engine), nil
}

// Result returns the result page of a finalized session.
func (s *ExamSessionService) Result(id uuid.UUID) (*model.ResultView, error) {
	ls, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if !ls.engine.Submitted() {
		return nil, ErrNotSubmitted
	}
	return s.resultView(id, ls.engine), nil
}

// RetrySave hands a result whose save failed to the sink again.
func (s *ExamSessionService) RetrySave(ctx context.Context, id uuid.UUID) (*model.ResultView, error) {
	ls, err := s.get(id)
	if err != nil {
		return nil, err
	}

	ls.saveMu.Lock()
	defer ls.saveMu.Unlock()

	rec, ok := ls.engine.Record()
	if !ok {
		return nil, ErrNotSubmitted
	}
	switch status, _ := ls.engine.SaveStatus(); status {
	case model.SaveStatusSaved:
		return nil, ErrAlreadySaved
	case model.SaveStatusFailed:
	default:
		return nil, ErrSaveInProgress
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PersistTimeout)
	defer cancel()
	err = s.sink.Persist(persistCtx, rec)
	ls.engine.MarkSaved(err)

	view := s.resultView(id, ls.engine)
	if err != nil {
		s.log.Error().Err(err).Str("session_id", id.String()).Msg("Result save retry failed")
		return view, fmt.Errorf("%w: %v", examsession.ErrPersistenceFailed, err)
	}
	s.log.Info().Str("session_id", id.String()).Msg("Result saved on retry")
	return view, nil
}

// Subscribe streams the session's events. For a finalized session the channel
// carries the final events and is already closed. The returned func
// unsubscribes and is safe to call more than once.
func (s *ExamSessionService) Subscribe(id uuid.UUID) (<-chan SessionEvent, func(), error) {
	ls, err := s.get(id)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := ls.subscribe()
	return ch, cancel, nil
}

// ListActive returns the live sessions known to the tracker.
func (s *ExamSessionService) ListActive(ctx context.Context) ([]model.ActiveSession, error) {
	sessions, err := s.tracker.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return sessions, nil
}

// EvictFinished drops sessions finalized more than retention ago and reports how many.
func (s *ExamSessionService) EvictFinished(_ context.Context, retention time.Duration) int {
	cutoff := s.clock.Now().Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, ls := range s.sessions {
		ls.mu.Lock()
		done := !ls.finishedAt.IsZero() && !ls.finishedAt.After(cutoff)
		ls.mu.Unlock()
		if done {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// Shutdown finalizes every in-progress session as if its time had run out, so
// recorded answers are scored and handed to the sink before the process exits.
func (s *ExamSessionService) Shutdown(ctx context.Context) {
	s.mu.RLock()
	live := make([]*liveSession, 0, len(s.sessions))
	for _, ls := range s.sessions {
		if !ls.engine.Submitted() {
			live = append(live, ls)
		}
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, ls := range live {
		wg.Add(1)
		go func(ls *liveSession) {
			defer wg.Done()
			ls.engine.Expire(ctx)
		}(ls)
	}
	wg.Wait()

	if len(live) > 0 {
		s.log.Info().Int("sessions", len(live)).Msg("In-progress sessions finalized on shutdown")
	}
}

func (s *ExamSessionService) stateOf(id uuid.UUID, ls *liveSession) *model.ExamSessionState {
	snap := ls.engine.Snapshot()
	questions := ls.engine.Questions()

	answered := make([]bool, len(questions))
	for i := range questions {
		_, answered[i] = snap.Answers[questions[i].ID]
	}

	current := questions[snap.Cursor]
	var selected *string
	if v, ok := snap.Answers[current.ID]; ok {
		selected = &v
	}

	state := &model.ExamSessionState{
		SessionID:        id,
		Status:           snap.Status(),
		Cursor:           snap.Cursor,
		TotalQuestions:   len(questions),
		CurrentQuestion:  current.ForStudent(),
		SelectedAnswer:   selected,
		Answered:         answered,
		AnsweredCount:    len(snap.Answers),
		ProgressFraction: float64(len(snap.Answers)) / float64(len(questions)),
	}
	if cd := ls.engine.Countdown(); cd != nil && !snap.Submitted {
		state.RemainingSeconds = cd.RemainingSeconds()
		state.TimeWarning = cd.Warning()
	}
	return state
}

// resultView builds the result page. Review lists correctly answered questions
// first, each group keeping bank order.
func (s *ExamSessionService) resultView(id uuid.UUID, e *examsession.Engine) *model.ResultView {
	res, ok := e.Result()
	if !ok {
		return nil
	}

	review := make([]model.ReviewItem, 0, len(e.Questions()))
	for _, q := range e.Questions() {
		item := model.ReviewItem{
			Question:      q.ForStudent(),
			CorrectAnswer: q.CorrectAnswer,
		}
		if v, ok := res.Answers[q.ID]; ok {
			item.SelectedAnswer = &v
			item.Correct = v == q.CorrectAnswer
		}
		review = append(review, item)
	}
	sort.SliceStable(review, func(i, j int) bool {
		return review[i].Correct && !review[j].Correct
	})

	pct := res.Percentage()
	status, saveErr := e.SaveStatus()
	view := &model.ResultView{
		SessionID:  id,
		Result:     *res,
		Percentage: pct,
		Passed:     pct >= s.cfg.PassPercent,
		SaveStatus: status,
		Review:     review,
	}
	if saveErr != nil {
		view.SaveError = saveErr.Error()
	}
	return view
}

func (ls *liveSession) subscribe() (<-chan SessionEvent, func()) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.final != nil {
		ch := make(chan SessionEvent, len(ls.final))
		for _, ev := range ls.final {
			ch <- ev
		}
		close(ch)
		return ch, func() {}
	}

	ch := make(chan SessionEvent, subscriberBuffer)
	key := ls.nextSub
	ls.nextSub++
	ls.subs[key] = ch

	return ch, func() {
		ls.mu.Lock()
		defer ls.mu.Unlock()
		if c, ok := ls.subs[key]; ok {
			delete(ls.subs, key)
			close(c)
		}
	}
}

// publish delivers ev to every subscriber without blocking; slow readers miss ticks.
func (ls *liveSession) publish(ev SessionEvent) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for _, ch := range ls.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// finish delivers the final events and closes every subscriber.
func (ls *liveSession) finish(events []SessionEvent, at time.Time) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	ls.final = events
	ls.finishedAt = at
	for key, ch := range ls.subs {
		for _, ev := range events {
			select {
			case ch <- ev:
			default:
				// Make room: final events matter more than stale ticks.
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- ev:
				default:
				}
			}
		}
		close(ch)
		delete(ls.subs, key)
	}
}
