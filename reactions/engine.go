// Package reactions toggles likes on posts, comments and replies through a
// single likeable capability.
package reactions

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"consy/apperr"
	"consy/events"
	"consy/models"
)

// Likeable is a collection whose entries carry a likes set and a like
// count. ToggleLike must apply the read and the write atomically.
type Likeable interface {
	Kind() models.TargetKind
	ToggleLike(ctx context.Context, targetID, userID string, at time.Time) (models.LikeResult, error)
}

// Observer is notified of every toggle outcome
type Observer interface {
	ObserveToggle(kind models.TargetKind, liked bool)
}

var likedEvents = map[models.TargetKind]string{
	models.TargetPost:    events.PostLiked,
	models.TargetComment: events.CommentLiked,
	models.TargetReply:   events.ReplyLiked,
}

// Engine dispatches toggles to the collection that owns the target
type Engine struct {
	targets  map[models.TargetKind]Likeable
	pub      events.Publisher
	log      logrus.FieldLogger
	observer Observer
	now      func() time.Time
}

// NewEngine creates an engine over the given collections
func NewEngine(pub events.Publisher, log logrus.FieldLogger, targets ...Likeable) *Engine {
	e := &Engine{
		targets: make(map[models.TargetKind]Likeable, len(targets)),
		pub:     pub,
		log:     log,
		now:     time.Now,
	}
	for _, t := range targets {
		e.targets[t.Kind()] = t
	}
	return e
}

// SetObserver registers an observer for toggle outcomes.
func (e *Engine) SetObserver(o Observer) {
	e.observer = o
}

// Toggle likes the target for userID, or unlikes it when already liked
func (e *Engine) Toggle(ctx context.Context, kind models.TargetKind, targetID, userID string) (models.LikeResult, error) {
	if targetID == "" || userID == "" {
		return models.LikeResult{}, apperr.New(apperr.InvalidInput, "Missing userId or targetId")
	}
	target, ok := e.targets[kind]
	if !ok || !kind.Valid() {
		return models.LikeResult{}, apperr.New(apperr.InvalidInput, "Unknown target kind")
	}

	res, err := target.ToggleLike(ctx, targetID, userID, e.now().UTC())
	if err != nil {
		if apperr.KindOf(err) == apperr.StoreFailure {
			e.log.WithError(err).WithFields(logrus.Fields{
				"target_id": targetID,
				"kind":      kind,
				"user_id":   userID,
			}).Error("failed to toggle like")
		}
		return models.LikeResult{}, err
	}
	if e.observer != nil {
		e.observer.ObserveToggle(kind, res.Liked)
	}

	e.pub.Publish(ctx, events.Event{
		Type: likedEvents[kind],
		Payload: map[string]interface{}{
			"targetId":  targetID,
			"userId":    userID,
			"liked":     res.Liked,
			"likeCount": res.LikeCount,
		},
	})
	return res, nil
}
