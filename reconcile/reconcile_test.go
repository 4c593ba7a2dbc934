package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consy/database"
	"consy/models"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// scriptedStore returns fixed counts per step and records the call order.
type scriptedStore struct {
	mu     sync.Mutex
	counts map[string]int
	errs   map[string]error
	calls  []string
	at     []time.Time
}

func (s *scriptedStore) step(name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, name)
	if err := s.errs[name]; err != nil {
		return 0, err
	}
	return s.counts[name], nil
}

func (s *scriptedStore) RepairFriendEdges(_ context.Context, at time.Time) (int, error) {
	s.at = append(s.at, at)
	return s.step("friend")
}

func (s *scriptedStore) DropPendingForFriends(context.Context) (int, error) {
	return s.step("drop")
}

func (s *scriptedStore) RepairPendingEdges(_ context.Context, at time.Time) (int, error) {
	s.at = append(s.at, at)
	return s.step("pending")
}

func (s *scriptedStore) RecountLikes(_ context.Context, kind models.TargetKind) (int, error) {
	return s.step("likes:" + string(kind))
}

func (s *scriptedStore) RecountComments(context.Context) (int, error) {
	return s.step("comments")
}

func (s *scriptedStore) RecountReplies(context.Context) (int, error) {
	return s.step("replies")
}

func (s *scriptedStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newSweeper(store Store) (*Sweeper, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	s := NewSweeper(store, logger)
	s.now = func() time.Time { return t0 }
	return s, hook
}

func TestSweepRunsStepsInOrder(t *testing.T) {
	store := &scriptedStore{counts: map[string]int{
		"friend":        2,
		"drop":          1,
		"likes:comment": 3,
		"replies":       1,
	}}
	s, hook := newSweeper(store)

	rep, err := s.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"friend", "drop", "pending",
		"likes:post", "likes:comment", "likes:reply",
		"comments", "replies",
	}, store.calls)
	assert.Equal(t, []time.Time{t0, t0}, store.at)
	assert.Equal(t, Report{FriendEdges: 2, StalePending: 1, CommentLikes: 3, ReplyCounts: 1}, rep)
	assert.Equal(t, 7, rep.Total())

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, 7, entry.Data["repaired"])
}

func TestSweepContinuesPastFailedStep(t *testing.T) {
	boom := errors.New("disk full")
	store := &scriptedStore{
		counts: map[string]int{"comments": 4},
		errs:   map[string]error{"pending": boom, "likes:reply": errors.New("later")},
	}
	s, hook := newSweeper(store)

	rep, err := s.Sweep(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Len(t, store.calls, 8)
	assert.Equal(t, 4, rep.CommentCounts)

	var failed []interface{}
	for _, e := range hook.AllEntries() {
		if e.Message == "reconcile step failed" {
			failed = append(failed, e.Data["step"])
		}
	}
	assert.Equal(t, []interface{}{"pending edges", "reply likes"}, failed)
}

func TestSweepStopsOnCancelledContext(t *testing.T) {
	store := &scriptedStore{}
	s, _ := newSweeper(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Sweep(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, store.calls)
}

func TestSweepConsistentDatabase(t *testing.T) {
	ctx := context.Background()
	db, err := database.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for _, id := range []string{"a", "b"} {
		require.NoError(t, db.UpsertUser(ctx, models.Profile{ID: id, Username: id, CreatedAt: t0}))
	}
	added, err := db.AddPendingRequest(ctx, "a", "b", t0)
	require.NoError(t, err)
	require.True(t, added)
	require.NoError(t, db.InsertPost(ctx, &models.Post{ID: "p1", AuthorID: "a", Text: "x", CreatedAt: t0}))

	s, hook := newSweeper(db)
	rep, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Total())
	assert.Equal(t, logrus.DebugLevel, hook.LastEntry().Level)
}

func TestSchedulerRunsAndStops(t *testing.T) {
	store := &scriptedStore{}
	s, _ := newSweeper(store)
	logger, _ := test.NewNullLogger()
	sched := NewScheduler(s, "@every 1s", time.Second, logger)

	require.NoError(t, sched.Start(context.Background()))
	require.NoError(t, sched.Start(context.Background()))

	assert.Eventually(t, func() bool { return sched.Runs() >= 1 }, 3*time.Second, 50*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, sched.Stop(stopCtx))
	require.NoError(t, sched.Stop(stopCtx))

	n := store.callCount()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, n, store.callCount())
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	s, _ := newSweeper(&scriptedStore{})
	logger, _ := test.NewNullLogger()
	sched := NewScheduler(s, "every tuesday", time.Second, logger)
	assert.Error(t, sched.Start(context.Background()))
}
