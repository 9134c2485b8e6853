package examsession

import (
	"context"
	"sync"
	"time"

	"github.com/stemsi/exstem-quiz/internal/model"
)

// fakeClock is a manually advanced clock. Its tickers fire only when the test sends.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	ticker *fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticker = &fakeTicker{ch: make(chan time.Time)}
	return c.ticker
}

// Tick advances the clock by d and delivers one tick. It returns false if no
// countdown goroutine received it. Callers wait on the tick handler before the
// next Tick so the clock never moves under an evaluation in flight.
func (c *fakeClock) Tick(d time.Duration) bool {
	c.Advance(d)
	c.mu.Lock()
	t := c.ticker
	c.mu.Unlock()
	select {
	case t.ch <- c.Now():
		return true
	case <-time.After(200 * time.Millisecond):
		return false
	}
}

type fakeTicker struct {
	ch chan time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               {}

// recordingSink counts Persist calls and can be told to fail or block.
type recordingSink struct {
	mu      sync.Mutex
	records []model.ResultRecord
	err     error
	release chan struct{}
}

func (s *recordingSink) Persist(ctx context.Context, rec model.ResultRecord) error {
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return s.err
}

func (s *recordingSink) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *recordingSink) Last() model.ResultRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[len(s.records)-1]
}

func matrixBank() []model.Question {
	return []model.Question{
		{
			ID:            1,
			Prompt:        "If $A=[[1,2],[3,4]]$, what is $A^{2}$?",
			Options:       []string{"[[7, 10], [15, 22]]", "[[2, 4], [6, 8]]", "[[1, 0], [0, 1]]", "[[10, 14], [21, 30]]", "[[5, 6], [7, 8]]"},
			CorrectAnswer: "[[7, 10], [15, 22]]",
		},
		{
			ID:            2,
			Prompt:        "What is the determinant of [[3, 5], [-2, 4]]?",
			Options:       []string{"22", "17", "6", "-22", "1"},
			CorrectAnswer: "22",
		},
		{
			ID:            3,
			Prompt:        "A = [[2, 0], [1, 3]], what is A^{-1}?",
			Options:       []string{"[[3/5, 0], [-1/5, 2/5]]", "[[3, 0], [-1, 2]]", "[[3/2, 0], [-1/2, 1]]", "[[3/2, 0], [1/2, 1]]", "[[3/2, 1/2], [0, 1]]"},
			CorrectAnswer: "[[3/2, 0], [-1/2, 1]]",
		},
	}
}

var testIdentity = model.StudentIdentity{FullName: "Rahim Uddin", SchoolName: "Dhaka College"}
