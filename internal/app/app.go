// Package app wires the service components together and owns the process
// lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"

	"biocollab/pkg/annotations"
	"biocollab/pkg/config"
	"biocollab/pkg/hub"
	"biocollab/pkg/logger"
	"biocollab/pkg/offline"
	"biocollab/pkg/registry"
	"biocollab/pkg/store"
)

// App encapsulates the server components and lifecycle.
type App struct {
	cfg       config.Config
	source    string
	version   string
	commit    string
	buildDate string

	reg    *registry.Registry
	ann    *annotations.Store
	hub    *hub.Hub
	queue  *offline.Queue
	disp   *offline.Dispatcher
	engine *offline.Engine

	srv *http.Server
}

// New opens the store and the durable queue and builds the service graph.
// It does not start the HTTP server; call Run to start it and block until
// shutdown.
func New(cfg config.Config, source, version, commit, buildDate string) (*App, error) {
	if err := store.Open(cfg.Server.DBPath); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", cfg.Server.DBPath, err)
	}

	reg := registry.New()
	ann := annotations.New(reg)
	h := hub.New(hub.WithSendBuffer(cfg.Hub.SendBuffer))
	disp := offline.NewDispatcher(reg, ann, h)

	q, err := offline.OpenQueue(cfg.Sync.Dir)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to open sync queue at %s: %w", cfg.Sync.Dir, err)
	}
	engine := offline.NewEngine(q, disp, offline.EngineConfig{
		MaxAttempts: cfg.Sync.MaxAttempts,
		BaseBackoff: cfg.Sync.BaseBackoffDuration(),
		MaxBackoff:  cfg.Sync.MaxBackoffDuration(),
	})

	return &App{
		cfg:       cfg,
		source:    source,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		reg:       reg,
		ann:       ann,
		hub:       h,
		queue:     q,
		disp:      disp,
		engine:    engine,
	}, nil
}

// Run starts the reconciliation engine and the HTTP server and blocks until
// ctx is cancelled or a fatal server error occurs. On cancellation it
// drains the hub and closes the queue and store.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	engineCtx, stopEngine := context.WithCancel(ctx)
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		a.engine.Run(engineCtx)
	}()
	// drain anything journaled before the last shutdown
	if a.queue.Len() > 0 {
		a.engine.Notify()
	}

	errCh := a.startHTTP()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = err
	}

	stopEngine()
	<-engineDone
	a.stopHTTP()
	a.hub.Close()

	if err := a.queue.Close(); err != nil {
		logger.Warn("queue_close_failed", "error", err.Error())
	}
	if err := store.Close(); err != nil {
		logger.Warn("store_close_failed", "error", err.Error())
	}
	logger.Info("server_stopped")
	return runErr
}
