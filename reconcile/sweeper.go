// Package reconcile repairs drift between records that are written
// together but can be left inconsistent by writers outside this service:
// the two ends of a friend edge and the denormalized counters of the post
// tree.
package reconcile

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"consy/models"
)

// Store is the set of repair statements the sweep runs
type Store interface {
	RepairFriendEdges(ctx context.Context, at time.Time) (int, error)
	DropPendingForFriends(ctx context.Context) (int, error)
	RepairPendingEdges(ctx context.Context, at time.Time) (int, error)
	RecountLikes(ctx context.Context, kind models.TargetKind) (int, error)
	RecountComments(ctx context.Context) (int, error)
	RecountReplies(ctx context.Context) (int, error)
}

// Report counts the rows each step of a sweep changed
type Report struct {
	FriendEdges   int `json:"friendEdges"`
	StalePending  int `json:"stalePending"`
	PendingEdges  int `json:"pendingEdges"`
	PostLikes     int `json:"postLikes"`
	CommentLikes  int `json:"commentLikes"`
	ReplyLikes    int `json:"replyLikes"`
	CommentCounts int `json:"commentCounts"`
	ReplyCounts   int `json:"replyCounts"`
}

// Total is the number of rows changed across all steps.
func (r Report) Total() int {
	return r.FriendEdges + r.StalePending + r.PendingEdges +
		r.PostLikes + r.CommentLikes + r.ReplyLikes +
		r.CommentCounts + r.ReplyCounts
}

// Sweeper runs one reconciliation pass at a time
type Sweeper struct {
	store Store
	log   logrus.FieldLogger
	now   func() time.Time
}

// NewSweeper creates a sweeper over store
func NewSweeper(store Store, log logrus.FieldLogger) *Sweeper {
	return &Sweeper{store: store, log: log, now: time.Now}
}

type step struct {
	name string
	into *int
	run  func(ctx context.Context) (int, error)
}

// Sweep runs every repair step. Friend edges are completed before stale
// pending edges are dropped, so a pair that became friends on one side only
// ends up as friends on both. A failing step is logged and skipped; the
// first error is returned with the partial report.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var rep Report
	at := s.now().UTC()
	start := time.Now()

	steps := []step{
		{"friend edges", &rep.FriendEdges, func(ctx context.Context) (int, error) { return s.store.RepairFriendEdges(ctx, at) }},
		{"stale pending", &rep.StalePending, s.store.DropPendingForFriends},
		{"pending edges", &rep.PendingEdges, func(ctx context.Context) (int, error) { return s.store.RepairPendingEdges(ctx, at) }},
		{"post likes", &rep.PostLikes, s.recountLikes(models.TargetPost)},
		{"comment likes", &rep.CommentLikes, s.recountLikes(models.TargetComment)},
		{"reply likes", &rep.ReplyLikes, s.recountLikes(models.TargetReply)},
		{"comment counts", &rep.CommentCounts, s.store.RecountComments},
		{"reply counts", &rep.ReplyCounts, s.store.RecountReplies},
	}

	var firstErr error
	for _, st := range steps {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		n, err := st.run(ctx)
		if err != nil {
			s.log.WithError(err).WithField("step", st.name).Error("reconcile step failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		*st.into = n
	}

	entry := s.log.WithFields(logrus.Fields{
		"repaired": rep.Total(),
		"duration": time.Since(start).String(),
	})
	if rep.Total() > 0 {
		entry.WithFields(logrus.Fields{
			"friend_edges":   rep.FriendEdges,
			"stale_pending":  rep.StalePending,
			"pending_edges":  rep.PendingEdges,
			"post_likes":     rep.PostLikes,
			"comment_likes":  rep.CommentLikes,
			"reply_likes":    rep.ReplyLikes,
			"comment_counts": rep.CommentCounts,
			"reply_counts":   rep.ReplyCounts,
		}).Warn("reconcile repaired drift")
	} else {
		entry.Debug("reconcile found no drift")
	}
	return rep, firstErr
}

func (s *Sweeper) recountLikes(kind models.TargetKind) func(context.Context) (int, error) {
	return func(ctx context.Context) (int, error) {
		return s.store.RecountLikes(ctx, kind)
	}
}
