// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"laststand/internal/auth"
	"laststand/internal/cache"
	"laststand/internal/config"
	"laststand/internal/engine"
	"laststand/internal/genai"
	"laststand/internal/handlers"
	"laststand/internal/lobby"
	"laststand/internal/media"
	"laststand/internal/middleware"
)

func main() {
	auth.Init()
	cfg := config.Load()

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	files, err := media.NewFileStore(cfg.MediaDir, "/media", cfg.MediaTTL)
	if err != nil {
		log.Fatalf("media store init failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	files.StartReaper(ctx, cfg.MediaTTL/2)

	e := engine.New(
		lobby.NewStore(),
		genai.NewClient(cfg.TextAPIBase),
		media.NewService(media.NewClient(cfg.MediaAPIBase), files),
	)

	// Round history is optional: without Redis the game runs unrecorded.
	if cfg.RedisAddr != "" {
		pub, err := cache.Connect(cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			logger.Warnf("redis unavailable, round history disabled: %v", err)
		} else {
			e.History = pub
		}
	}

	mux := http.NewServeMux()

	mux.Handle("/auth/login", middleware.LogMiddleware(logger)(
		handlers.LoginHandler(cfg.BotToken),
	))
	mux.Handle("/ws", http.HandlerFunc(
		handlers.GameWSHandler(logger, e),
	))
	mux.Handle("/media/", middleware.LogMiddleware(logger)(
		http.StripPrefix("/media/", http.FileServer(http.Dir(cfg.MediaDir))),
	))
	mux.HandleFunc("/healthz", handlers.HealthzHandler())

	logger.Infof("Running on %s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, mux); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
