package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mdplane/internal/api"
	"mdplane/internal/apikeys"
	"mdplane/internal/appendengine"
	"mdplane/internal/audit"
	"mdplane/internal/claimops"
	"mdplane/internal/config"
	"mdplane/internal/fileengine"
	"mdplane/internal/ratelimit"
	"mdplane/internal/search"
	"mdplane/internal/session"
	"mdplane/internal/store"
	"mdplane/internal/webhook"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("db", zap.Error(err))
	}
	defer st.Close()

	auditQueue := audit.New(st, logger, cfg.TestMode)
	auditQueue.Start()
	defer auditQueue.Stop()

	dispatcher := webhook.New(st, logger, cfg.AllowHTTPWebhooks)
	limiter := ratelimit.New(0, cfg.TestMode)

	files := fileengine.New(st, auditQueue, dispatcher, cfg.FileMaxSizeBytes, cfg.MaxWorkspaceStorageBytes)
	appends := appendengine.New(st)
	claims := claimops.New(st)
	searchers := search.New(st)
	keyManager := apikeys.New(st)
	sessions := session.New(cfg.SessionSigningKey)

	srv := api.New(cfg, st, files, appends, claims, searchers, keyManager, sessions, auditQueue, dispatcher, limiter, logger)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop
	logger.Info("shutting down")
	_ = httpSrv.Close()
}
