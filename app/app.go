// Package app assembles the server from configuration: store, realtime
// hub, services, HTTP router and background workers.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"consy/chat"
	"consy/config"
	"consy/database"
	"consy/events"
	"consy/feed"
	"consy/friends"
	"consy/handlers"
	"consy/metrics"
	"consy/middleware"
	"consy/models"
	"consy/reactions"
	"consy/realtime"
	"consy/reconcile"
)

const (
	limiterCleanupInterval = 5 * time.Minute
	sweepTimeout           = 2 * time.Minute
)

// App holds the wired components of one server instance
type App struct {
	Config  *config.Config
	Log     logrus.FieldLogger
	DB      *database.DB
	Hub     *realtime.Hub
	Metrics *metrics.Metrics
	Router  http.Handler

	relay     *realtime.RedisRelay
	redis     *redis.Client
	limiter   *middleware.RateLimiter
	scheduler *reconcile.Scheduler
	cancel    context.CancelFunc
}

// New opens the store and wires every component. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*App, error) {
	db, err := database.Open(ctx, cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:  cfg,
		Log:     log,
		DB:      db,
		Hub:     realtime.NewHub(log.WithField("component", "hub")),
		Metrics: metrics.New(),
	}
	a.Hub.SetObserver(a.Metrics)

	var pub events.Publisher = a.Hub
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		a.redis = redis.NewClient(opts)
		a.relay = realtime.NewRedisRelay(a.redis, cfg.RedisChannel, a.Hub, log.WithField("component", "relay"))
		pub = a.relay
	}
	pub = a.Metrics.Publisher(pub)

	var targets []reactions.Likeable
	for _, kind := range []models.TargetKind{models.TargetPost, models.TargetComment, models.TargetReply} {
		if lt, ok := db.Likeable(kind); ok {
			targets = append(targets, lt)
		}
	}
	engine := reactions.NewEngine(pub, log.WithField("component", "reactions"), targets...)
	engine.SetObserver(a.Metrics)

	a.limiter = middleware.NewRateLimiter(float64(cfg.RateLimitRPS), cfg.RateLimitBurst, log)
	a.Router = handlers.NewRouter(handlers.Deps{
		Friends:     friends.NewService(db, pub, log.WithField("component", "friends"), friends.WithPresence(a.Hub)),
		Chat:        chat.NewService(db, pub, log.WithField("component", "chat"), chat.WithHistoryLimit(cfg.HistoryLimit)),
		Feed:        feed.NewService(db, pub, log.WithField("component", "feed")),
		Reactions:   engine,
		Users:       db,
		Hub:         a.Hub,
		Metrics:     a.Metrics,
		Identity:    middleware.NewIdentity(cfg.AuthSecret, log, "/healthz", "/metrics"),
		RateLimiter: a.limiter,
		Health:      db.Ping,
		Log:         log,
	})

	sweeper := reconcile.NewSweeper(db, log.WithField("component", "reconcile"))
	a.scheduler = reconcile.NewScheduler(sweeper, cfg.ReconcileSchedule, sweepTimeout, log)
	return a, nil
}

// Start runs the hub, the Redis relay, limiter cleanup and the reconcile
// schedule until Close.
func (a *App) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	go a.Hub.Run(ctx)
	if a.relay != nil {
		go func() {
			if err := a.relay.Run(ctx); err != nil && ctx.Err() == nil {
				a.Log.WithError(err).Error("redis relay stopped; events stay local")
			}
		}()
	}
	a.limiter.StartCleanup(ctx, limiterCleanupInterval)

	if a.Config.ReconcileSchedule != "" {
		if err := a.scheduler.Start(ctx); err != nil {
			cancel()
			return err
		}
	}
	return nil
}

// Close stops the background workers and releases the store and Redis
// connections.
func (a *App) Close(ctx context.Context) error {
	if err := a.scheduler.Stop(ctx); err != nil {
		a.Log.WithError(err).Warn("reconcile scheduler did not stop in time")
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Log.WithError(err).Warn("failed to close redis client")
		}
	}
	return a.DB.Close()
}
