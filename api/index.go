package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"consy/app"
	"consy/config"
	"consy/logging"
)

var (
	once     sync.Once
	instance *app.App
	initErr  error
)

func build() {
	cfg, err := config.Load()
	if err != nil {
		initErr = err
		return
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	// Serverless invocations share the process; the app lives until it is
	// recycled.
	ctx := context.Background()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		initErr = err
		return
	}
	if err := a.Start(ctx); err != nil {
		a.Close(ctx)
		initErr = err
		return
	}
	instance = a
}

// Handler is the serverless function entry point. The router is built on
// the first request.
func Handler(w http.ResponseWriter, r *http.Request) {
	once.Do(build)
	if initErr != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"message": "Server error",
		})
		return
	}
	instance.Router.ServeHTTP(w, r)
}
