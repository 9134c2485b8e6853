package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-quiz/internal/config"
	"github.com/stemsi/exstem-quiz/internal/examsession"
	"github.com/stemsi/exstem-quiz/internal/model"
	"github.com/stemsi/exstem-quiz/internal/questionbank"
)

// manualClock only moves when the test says so; its ticker fires on Tick.
type manualClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*manualTicker
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) NewTicker(time.Duration) examsession.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTicker{ch: make(chan time.Time)}
	c.tickers = append(c.tickers, t)
	return t
}

// Tick advances time by d and delivers one tick to the newest ticker.
func (c *manualClock) Tick(t *testing.T, d time.Duration) {
	t.Helper()
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	tk := c.tickers[len(c.tickers)-1]
	c.mu.Unlock()

	select {
	case tk.ch <- now:
	case <-time.After(2 * time.Second):
		t.Fatal("countdown did not receive tick")
	}
}

type manualTicker struct {
	ch chan time.Time
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }
func (t *manualTicker) Stop()               {}

// stubSink records every persisted record and fails while err is set.
type stubSink struct {
	mu      sync.Mutex
	records []model.ResultRecord
	err     error
}

func (s *stubSink) Persist(_ context.Context, rec model.ResultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return s.err
}

func (s *stubSink) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *stubSink) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// memTracker is an in-process ActiveSessionTracker.
type memTracker struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]model.ActiveSession
	failList bool
}

func newMemTracker() *memTracker {
	return &memTracker{sessions: make(map[uuid.UUID]model.ActiveSession)}
}

func (m *memTracker) Track(_ context.Context, s model.ActiveSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.SessionID] = s
	return nil
}

func (m *memTracker) Untrack(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memTracker) List(context.Context) ([]model.ActiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failList {
		return nil, errors.New("redis down")
	}
	out := make([]model.ActiveSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (m *memTracker) has(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	return ok
}

func testConfig() *config.Config {
	return &config.Config{
		ExamDuration:     30 * time.Minute,
		WarningThreshold: 5 * time.Minute,
		PassPercent:      60,
		PersistTimeout:   time.Second,
	}
}

type serviceFixture struct {
	svc     *ExamSessionService
	clock   *manualClock
	sink    *stubSink
	tracker *memTracker
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		clock:   newManualClock(),
		sink:    &stubSink{},
		tracker: newMemTracker(),
	}
	f.svc = NewExamSessionService(testConfig(), questionbank.Default(), f.sink, f.tracker, zerolog.Nop(),
		WithSessionClock(f.clock))
	t.Cleanup(func() { f.svc.Shutdown(context.Background()) })
	return f
}

var testStudent = model.StudentIdentity{FullName: "Rahim Uddin", SchoolName: "Dhaka College"}

// drain collects events until the channel closes.
func drain(t *testing.T, ch <-chan SessionEvent) []SessionEvent {
	t.Helper()
	var out []SessionEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("event stream was not closed")
			return out
		}
	}
}

func withoutTicks(events []SessionEvent) []EventKind {
	var kinds []EventKind
	for _, ev := range events {
		if ev.Kind != EventTick {
			kinds = append(kinds, ev.Kind)
		}
	}
	return kinds
}
