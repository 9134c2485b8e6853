package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-quiz/internal/examsession"
	"github.com/stemsi/exstem-quiz/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStart_RejectsBlankIdentity(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.Start(context.Background(), model.StudentIdentity{FullName: "  ", SchoolName: "Dhaka College"})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "full_name")
	active, _ := f.svc.ListActive(context.Background())
	assert.Empty(t, active)
}

func TestStart_OpensTrackedSession(t *testing.T) {
	f := newServiceFixture(t)

	state, err := f.svc.Start(context.Background(), testStudent)
	require.NoError(t, err)

	assert.Equal(t, model.SessionStatusInProgress, state.Status)
	assert.Equal(t, 0, state.Cursor)
	assert.Equal(t, 3, state.TotalQuestions)
	assert.Equal(t, 1, state.CurrentQuestion.ID)
	assert.Nil(t, state.SelectedAnswer)
	assert.Equal(t, []bool{false, false, false}, state.Answered)
	assert.Equal(t, 30*60, state.RemainingSeconds)
	assert.False(t, state.TimeWarning)

	active, err := f.svc.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, state.SessionID, active[0].SessionID)
	assert.Equal(t, "Dhaka College", active[0].SchoolName)
	assert.Equal(t, f.clock.Now().Add(30*time.Minute), active[0].Deadline)
}

func TestSessionsAreIsolated(t *testing.T) {
	f := newServiceFixture(t)
	a, err := f.svc.Start(context.Background(), testStudent)
	require.NoError(t, err)
	b, err := f.svc.Start(context.Background(), model.StudentIdentity{FullName: "Nusrat Jahan", SchoolName: "Viqarunnisa"})
	require.NoError(t, err)
	require.NotEqual(t, a.SessionID, b.SessionID)

	_, err = f.svc.RecordAnswer(a.SessionID, 1, "[[7, 10], [15, 22]]")
	require.NoError(t, err)

	sb, err := f.svc.State(b.SessionID)
	require.NoError(t, err)
	assert.Zero(t, sb.AnsweredCount)
}

func TestUnknownSession(t *testing.T) {
	f := newServiceFixture(t)
	id := uuid.New()

	_, err := f.svc.State(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.svc.Submit(context.Background(), id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, _, err = f.svc.Subscribe(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRecordAnswer(t *testing.T) {
	f := newServiceFixture(t)
	st, err := f.svc.Start(context.Background(), testStudent)
	require.NoError(t, err)
	id := st.SessionID

	_, err = f.svc.RecordAnswer(id, 1, "not an option")
	assert.ErrorIs(t, err, examsession.ErrInvalidOption)
	_, err = f.svc.RecordAnswer(id, 99, "22")
	assert.ErrorIs(t, err, examsession.ErrInvalidOption)

	st, err = f.svc.RecordAnswer(id, 1, "[[2, 4], [6, 8]]")
	require.NoError(t, err)
	st, err = f.svc.RecordAnswer(id, 1, "[[7, 10], [15, 22]]")
	require.NoError(t, err)

	require.NotNil(t, st.SelectedAnswer)
	assert.Equal(t, "[[7, 10], [15, 22]]", *st.SelectedAnswer)
	assert.Equal(t, 1, st.AnsweredCount)
	assert.InDelta(t, 1.0/3.0, st.ProgressFraction, 1e-9)
}

func TestNext_ForwardLock(t *testing.T) {
	f := newServiceFixture(t)
	st, err := f.svc.Start(context.Background(), testStudent)
	require.NoError(t, err)
	id := st.SessionID

	_, err = f.svc.Next(id)
	assert.ErrorIs(t, err, ErrForwardLocked)

	_, err = f.svc.RecordAnswer(id, 1, "[[1, 0], [0, 1]]")
	require.NoError(t, err)
	st, err = f.svc.Next(id)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Cursor)

	// Back to an answered question and forward again is allowed.
	st, err = f.svc.Prev(id)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Cursor)
	_, err = f.svc.Next(id)
	require.NoError(t, err)

	_, err = f.svc.Next(id)
	assert.ErrorIs(t, err, ErrForwardLocked)
}

func TestGoTo_GridIgnoresForwardLock(t *testing.T) {
	f := newServiceFixture(t)
	st, err := f.svc.Start(context.Background(), testStudent)
	require.NoError(t, err)
	id := st.SessionID

	st, err = f.svc.GoTo(id, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Cursor)
	assert.Equal(t, 3, st.CurrentQuestion.ID)

	_, err = f.svc.GoTo(id, 3)
	assert.ErrorIs(t, err, examsession.ErrOutOfRange)
	_, err = f.svc.GoTo(id, -1)
	assert.ErrorIs(t, err, examsession.ErrOutOfRange)

	_, err = f.svc.GoTo(id, 0)
	require.NoError(t, err)
	_, err = f.svc.Prev(id)
	assert.ErrorIs(t, err, examsession.ErrOutOfRange)
}

func TestSubmit_IdempotentAndReviewOrder(t *testing.T) {
	f := newServiceFixture(t)
	st, err := f.svc.Start(context.Background(), testStudent)
	require.NoError(t, err)
	id := st.SessionID

	_, err = f.svc.Result(id)
	assert.ErrorIs(t, err, ErrNotSubmitted)

	// Q1 wrong, Q2 unanswered, Q3 right.
	_, err = f.svc.RecordAnswer(id, 1, "[[2, 4], [6, 8]]")
	require.NoError(t, err)
	_, err = f.svc.RecordAnswer(id, 3, "[[3/2, 0], [-1/2, 1]]")
	require.NoError(t, err)

	f.clock.mu.Lock()
	f.clock.now = f.clock.now.Add(90 * time.Second)
	f.clock.mu.Unlock()

	view, err := f.svc.Submit(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, 1, view.Result.Score)
	assert.Equal(t, 3, view.Result.TotalQuestions)
	assert.Equal(t, 90, view.Result.TimeSpentSeconds)
	assert.Equal(t, 33, view.Percentage)
	assert.False(t, view.Passed)
	assert.Equal(t, model.SaveStatusSaved, view.SaveStatus)

	require.Len(t, view.Review, 3)
	assert.Equal(t, 3, view.Review[0].Question.ID)
	assert.True(t, view.Review[0].Correct)
	assert.Equal(t, 1, view.Review[1].Question.ID)
	assert.False(t, view.Review[1].Correct)
	assert.Equal(t, 2, view.Review[2].Question.ID)
	assert.Nil(t, view.Review[2].SelectedAnswer)
	assert.Equal(t, "22", view.Review[2].CorrectAnswer)

	again, err := f.svc.Submit(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, view.Result, again.Result)
	assert.Equal(t, 1, f.sink.calls())

	res, err := f.svc.Result(id)
	require.NoError(t, err)
	assert.Equal(t, view.Result, res.Result)

	assert.False(t, f.tracker.has(id), "finalized session must leave the active index")
}

func TestSubmit_ClosesSessionForMutations(t *testing.T) {
	f := newServiceFixture(t)
	st, err := f.svc.Start(context.Background(), testStudent)
	require.NoError(t, err)
	id := st.SessionID

	_, err = f.svc.Submit(context.Background(), id)
	require.NoError(t, err)

	_, err = f.svc.RecordAnswer(id, 1, "[[7, 10], [15, 22]]")
	assert.ErrorIs(t, err, examsession.ErrSessionClosed)
	_, err = f.svc.GoTo(id, 1)
	assert.ErrorIs(t, err, examsession.ErrSessionClosed)
	_, err = f.svc.Next(id)
	assert.ErrorIs(t, err, examsession.ErrSessionClosed)

	st, err = f.svc.State(id)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusSubmitted, st.Status)
	assert.Zero(t, st.RemainingSeconds)
}

func TestSubmit_PassAtThreshold(t *testing.T) {
	f := newServiceFixture(t)
	st, err := f.svc.Start(context.Background(), testStudent)
	require.NoError(t, err)
	id := st.SessionID

	_, err = f.svc.RecordAnswer(id, 1, "[[7, 10], [15, 22]]")
	require.NoError(t, err)
	_, err = f.svc.RecordAnswer(id, 2, "22")
	require.NoError(t, err)

	view, err := f.svc.Submit(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 67, view.Percentage)
	assert.True(t, view.Passed)
}

func TestSubmit_SurvivesCancelledRequest(t *testing.T) {
	f := newServiceFixture(t)
	st, err := f.svc.Start(context.Background(), testStudent)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	view, err := f.svc.Submit(ctx, st.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SaveStatusSaved, view.SaveStatus)
	assert.Equal(t, 1, f.sink.calls())
}

func TestRetrySave(t *testing.T) {
	f := newServiceFixture(t)
	st, err := f.svc.Start(context.Background(), testStudent)
	require.NoError(t, err)
	id := st.SessionID

	_, err = f.svc.RetrySave(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotSubmitted)

	f.sink.setErr(errors.New("connection refused"))
	view, err := f.svc.Submit(context.Background(), id)
	require.NoError(t, err, "a failed save never fails the submission")
	assert.Equal(t, model.SaveStatusFailed, view.SaveStatus)
	assert.Contains(t, view.SaveError, "connection refused")

	view, err = f.svc.RetrySave(context.Background(), id)
	assert.ErrorIs(t, err, examsession.ErrPersistenceFailed)
	require.NotNil(t, view)
	assert.Equal(t, model.SaveStatusFailed, view.SaveStatus)

	f.sink.setErr(nil)
	view, err = f.svc.RetrySave(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.SaveStatusSaved, view.SaveStatus)
	assert.Empty(t, view.SaveError)
	assert.Equal(t, 3, f.sink.calls())

	_, err = f.svc.RetrySave(context.Background(), id)
	assert.ErrorIs(t, err, ErrAlreadySaved)
	assert.Equal(t, 3, f.sink.calls())

	f.sink.mu.Lock()
	first, last := f.sink.records[0], f.sink.records[2]
	f.sink.mu.Unlock()
	assert.Equal(t, first, last, "a retry resends the original record")
}

func TestSubscribe_ExpiryEvents(t *testing.T) {
	f := newServiceFixture(t)
	st, err := f.svc.Start(context.Background(), testStudent)
	require.NoError(t, err)
	id := st.SessionID

	_, err = f.svc.RecordAnswer(id, 2, "22")
	require.NoError(t, err)

	events, cancel, err := f.svc.Subscribe(id)
	require.NoError(t, err)
	defer cancel()

	f.clock.Tick(t, 26*time.Minute)
	var warned bool
	for !warned {
		select {
		case ev := <-events:
			if ev.Kind == EventTick && ev.RemainingSeconds == 4*60 {
				warned = ev.Warning
			}
		case <-time.After(2 * time.Second):
			t.Fatal("no warning tick")
		}
	}

	f.clock.Tick(t, 4*time.Minute)
	got := drain(t, events)
	assert.Equal(t, []EventKind{EventExpired, EventGraded}, withoutTicks(got))

	graded := got[len(got)-1]
	require.NotNil(t, graded.Result)
	assert.Equal(t, 1, graded.Result.Result.Score)
	assert.Equal(t, 30*60, graded.Result.Result.TimeSpentSeconds)
	assert.Equal(t, 1, f.sink.calls())
	assert.False(t, f.tracker.has(id))

	// Late subscribers get the final events on a closed channel.
	late, lateCancel, err := f.svc.Subscribe(id)
	require.NoError(t, err)
	defer lateCancel()
	assert.Equal(t, []EventKind{EventExpired, EventGraded}, withoutTicks(drain(t, late)))

	// A submit racing the expiry changes nothing.
	view, err := f.svc.Submit(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, graded.Result.Result, view.Result)
	assert.Equal(t, 1, f.sink.calls())
}

func TestSubscribe_SubmitEvents(t *testing.T) {
	f := newServiceFixture(t)
	st, err := f.svc.Start(context.Background(), testStudent)
	require.NoError(t, err)

	events, cancel, err := f.svc.Subscribe(st.SessionID)
	require.NoError(t, err)
	defer cancel()
	cancel() // unsubscribing twice is harmless
	cancel()

	events2, cancel2, err := f.svc.Subscribe(st.SessionID)
	require.NoError(t, err)
	defer cancel2()

	_, err = f.svc.Submit(context.Background(), st.SessionID)
	require.NoError(t, err)

	assert.Empty(t, withoutTicks(drain(t, events)))
	assert.Equal(t, []EventKind{EventGraded}, withoutTicks(drain(t, events2)))
}

func TestEvictFinished(t *testing.T) {
	f := newServiceFixture(t)
	done, err := f.svc.Start(context.Background(), testStudent)
	require.NoError(t, err)
	live, err := f.svc.Start(context.Background(), testStudent)
	require.NoError(t, err)

	_, err = f.svc.Submit(context.Background(), done.SessionID)
	require.NoError(t, err)

	assert.Zero(t, f.svc.EvictFinished(context.Background(), time.Hour))

	f.clock.mu.Lock()
	f.clock.now = f.clock.now.Add(2 * time.Hour)
	f.clock.mu.Unlock()

	assert.Equal(t, 1, f.svc.EvictFinished(context.Background(), time.Hour))
	_, err = f.svc.Result(done.SessionID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.svc.State(live.SessionID)
	assert.NoError(t, err, "in-progress sessions are never evicted")
}

func TestShutdown_FinalizesInProgress(t *testing.T) {
	f := newServiceFixture(t)
	a, err := f.svc.Start(context.Background(), testStudent)
	require.NoError(t, err)
	b, err := f.svc.Start(context.Background(), testStudent)
	require.NoError(t, err)
	_, err = f.svc.Submit(context.Background(), b.SessionID)
	require.NoError(t, err)

	f.svc.Shutdown(context.Background())

	assert.Equal(t, 2, f.sink.calls())
	res, err := f.svc.Result(a.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SaveStatusSaved, res.SaveStatus)
	active, err := f.svc.ListActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestListActive_TrackerError(t *testing.T) {
	f := newServiceFixture(t)
	f.tracker.failList = true
	_, err := f.svc.ListActive(context.Background())
	assert.Error(t, err)
}
