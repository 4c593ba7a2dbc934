package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consy/apperr"
	"consy/database"
	"consy/events"
	"consy/models"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db  *database.DB
	rec *events.Recorder
	svc *Service
	now time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, db.UpsertUser(ctx, models.Profile{ID: id, Username: id, CreatedAt: t0}))
	}

	f := &fixture{db: db, rec: &events.Recorder{}, now: t0}
	logger, _ := test.NewNullLogger()
	opts = append([]Option{WithClock(func() time.Time { return f.now })}, opts...)
	f.svc = NewService(db, f.rec, logger, opts...)
	return f
}

// tick advances the fixture clock so consecutive writes get distinct times.
func (f *fixture) tick() {
	f.now = f.now.Add(time.Second)
}

func (f *fixture) send(t *testing.T, from, to, body string) *models.Message {
	t.Helper()
	f.tick()
	m, err := f.svc.Send(context.Background(), SendInput{SenderID: from, ReceiverID: to, Body: body})
	require.NoError(t, err)
	return m
}

func TestRoomIDIsCommutative(t *testing.T) {
	pairs := [][2]string{{"a", "b"}, {"zed", "amy"}, {"", "x"}, {"same", "same"}, {"Ab", "aB"}}
	for _, p := range pairs {
		assert.Equal(t, RoomID(p[0], p[1]), RoomID(p[1], p[0]))
	}
	assert.Equal(t, "chat_alice_bob", RoomID("bob", "alice"))
}

func TestSendValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cases := []SendInput{
		{SenderID: "", ReceiverID: "b", Body: "hi"},
		{SenderID: "a", ReceiverID: "", Body: "hi"},
		{SenderID: "a", ReceiverID: "b", Body: "   "},
		{SenderID: "a", ReceiverID: "a", Body: "hi"},
		{SenderID: "a", ReceiverID: "b", RoomID: RoomID("a", "c"), Body: "hi"},
		{SenderID: "a", ReceiverID: "b", Body: "hi", ReplyToID: "missing"},
	}
	for _, in := range cases {
		_, err := f.svc.Send(ctx, in)
		assert.True(t, apperr.Is(err, apperr.InvalidInput), "%+v", in)
	}
	assert.Empty(t, f.rec.Events())
}

func TestSendPublishesToRoom(t *testing.T) {
	f := newFixture(t)
	m := f.send(t, "a", "b", "hi")

	assert.NotEmpty(t, m.ID)
	assert.Equal(t, RoomID("a", "b"), m.RoomID)
	assert.Equal(t, models.MessageSent, m.Status)
	assert.Empty(t, m.ReadBy)
	assert.False(t, m.IsEdited)

	got := f.rec.OfType(events.ReceiveMessage)
	require.Len(t, got, 1)
	assert.Equal(t, m.RoomID, got[0].Room)
}

func TestReplySnippet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	long := strings.Repeat("é", 150)
	orig := f.send(t, "a", "b", long)

	reply, err := f.svc.Send(ctx, SendInput{SenderID: "b", ReceiverID: "a", Body: "ok", ReplyToID: orig.ID})
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyTo)
	assert.Equal(t, orig.ID, reply.ReplyTo.ID)
	assert.Equal(t, "a", reply.ReplyTo.SenderID)
	assert.Equal(t, strings.Repeat("é", 100), reply.ReplyTo.Snippet)

	stored, err := f.db.GetMessage(ctx, reply.ID)
	require.NoError(t, err)
	assert.Equal(t, reply.ReplyTo, stored.ReplyTo)

	// A message from another room cannot be quoted.
	other := f.send(t, "a", "c", "elsewhere")
	_, err = f.svc.Send(ctx, SendInput{SenderID: "a", ReceiverID: "b", Body: "x", ReplyToID: other.ID})
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

func TestEditKeepsHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.send(t, "a", "b", "hi")

	f.tick()
	edited, err := f.svc.Edit(ctx, m.ID, "a", "hi there")
	require.NoError(t, err)
	assert.Equal(t, "hi there", edited.Body)
	assert.True(t, edited.IsEdited)
	require.Len(t, edited.EditHistory, 1)
	assert.Equal(t, "hi", edited.EditHistory[0].Text)

	bodies := []string{"hi there", "v3", "v4"}
	for i, next := range []string{"v3", "v4", "v5"} {
		f.tick()
		_, err := f.svc.Edit(ctx, m.ID, "a", next)
		require.NoError(t, err)
		stored, err := f.db.GetMessage(ctx, m.ID)
		require.NoError(t, err)
		require.Len(t, stored.EditHistory, i+2)
		assert.Equal(t, bodies[i], stored.EditHistory[i+1].Text)
	}
	assert.Len(t, f.rec.OfType(events.MessageEdited), 4)

	_, err = f.svc.Edit(ctx, m.ID, "b", "hijack")
	assert.True(t, apperr.Is(err, apperr.Forbidden))
	_, err = f.svc.Edit(ctx, "missing", "a", "x")
	assert.True(t, apperr.Is(err, apperr.NotFound))
	_, err = f.svc.Edit(ctx, m.ID, "a", "")
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

func TestDeleteHidesMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	keep := f.send(t, "a", "b", "keep")
	gone := f.send(t, "a", "b", "gone")

	require.True(t, apperr.Is(f.svc.Delete(ctx, gone.ID, "b"), apperr.Forbidden))
	require.NoError(t, f.svc.Delete(ctx, gone.ID, "a"))
	require.NoError(t, f.svc.Delete(ctx, gone.ID, "a"))
	assert.Len(t, f.rec.OfType(events.MessageDeleted), 1)

	history, err := f.svc.History(ctx, "b", "a", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, keep.ID, history[0].ID)

	_, err = f.svc.Edit(ctx, gone.ID, "a", "revive")
	assert.True(t, apperr.Is(err, apperr.InvalidState))

	stored, err := f.db.GetMessage(ctx, gone.ID)
	require.NoError(t, err)
	assert.True(t, stored.Deleted)
	assert.Equal(t, "gone", stored.Body)

	last, err := f.svc.LastMessage(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, keep.ID, last.ID)

	assert.True(t, apperr.Is(f.svc.Delete(ctx, "missing", "a"), apperr.NotFound))
}

func TestMarkReadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.send(t, "a", "b", "hi")

	first, err := f.svc.MarkRead(ctx, m.ID, "b")
	require.NoError(t, err)
	second, err := f.svc.MarkRead(ctx, m.ID, "b")
	require.NoError(t, err)

	assert.Equal(t, []string{"b"}, first.ReadBy)
	assert.Equal(t, first.ReadBy, second.ReadBy)
	assert.Equal(t, models.MessageRead, second.Status)
	assert.Len(t, f.rec.OfType(events.MessageRead), 1)

	own, err := f.svc.MarkRead(ctx, m.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, own.ReadBy)

	_, err = f.svc.MarkRead(ctx, "missing", "b")
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestUnreadCountAfterPartialRead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.send(t, "a", "b", "1")
	f.send(t, "a", "b", "2")
	f.send(t, "a", "b", "3")

	_, err := f.svc.MarkRead(ctx, first.ID, "b")
	require.NoError(t, err)

	n, err := f.svc.UnreadCount(ctx, "b", "a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.svc.UnreadCount(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	updated, err := f.svc.MarkAllRead(ctx, "b", "a")
	require.NoError(t, err)
	assert.Equal(t, 2, updated)
	assert.Len(t, f.rec.OfType(events.MessageRead), 3)

	n, err = f.svc.UnreadCount(ctx, "b", "a")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestHistoryOrderingAndLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithHistoryLimit(3))

	var ids []string
	for i := 0; i < 5; i++ {
		from, to := "a", "b"
		if i%2 == 1 {
			from, to = to, from
		}
		ids = append(ids, f.send(t, from, to, "m").ID)
	}
	// Same timestamp as the last message; the id orders it after.
	late, err := f.svc.Send(ctx, SendInput{SenderID: "a", ReceiverID: "b", Body: "same time"})
	require.NoError(t, err)
	ids = append(ids, late.ID)

	history, err := f.svc.History(ctx, "a", "b", 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].CreatedAt.Before(history[i-1].CreatedAt))
	}
	assert.Equal(t, ids[3:], []string{history[0].ID, history[1].ID, history[2].ID})

	clamped, err := f.svc.History(ctx, "b", "a", 50)
	require.NoError(t, err)
	assert.Len(t, clamped, 3)

	two, err := f.svc.History(ctx, "b", "a", 2)
	require.NoError(t, err)
	assert.Equal(t, ids[4:], []string{two[0].ID, two[1].ID})

	none, err := f.svc.LastMessage(ctx, "a", "c")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = f.svc.History(ctx, "a", "", 10)
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

func TestHistoryNeverExceedsDefaultCap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i := 0; i < DefaultHistoryLimit+50; i++ {
		f.send(t, "a", "b", "m")
	}

	history, err := f.svc.History(ctx, "a", "b", 1000)
	require.NoError(t, err)
	assert.Len(t, history, DefaultHistoryLimit)
}
