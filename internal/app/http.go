package app

import (
	"context"
	"net/http"
	"time"

	"biocollab/pkg/api"
	"biocollab/pkg/auth"
	"biocollab/pkg/banner"
	"biocollab/pkg/logger"
	"biocollab/pkg/telemetry"
)

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "" && a.commit != "none" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "" && a.buildDate != "unknown" {
		verStr += " @ " + a.buildDate
	}
	banner.Print(a.cfg.Addr(), a.cfg.Server.DBPath, a.cfg.Sync.Dir, a.source, verStr)
}

// startHTTP builds the handler chain, starts the HTTP server in a goroutine
// and returns a channel that will carry any fatal server error.
func (a *App) startHTTP() <-chan error {
	router := api.NewRouter(api.Deps{
		Registry:    a.reg,
		Annotations: a.ann,
		Hub:         a.hub,
		Dispatcher:  a.disp,
		Engine:      a.engine,
		SendBuffer:  a.cfg.Hub.SendBuffer,
	})

	secCfg := auth.SecConfig{
		AllowedOrigins: append([]string{}, a.cfg.Security.CORS.AllowedOrigins...),
		RPS:            a.cfg.Security.RateLimit.RPS,
		Burst:          a.cfg.Security.RateLimit.Burst,
	}

	// auth first so telemetry observes final status codes
	wrapped := auth.Middleware(secCfg)(router)
	wrapped = telemetry.Middleware(wrapped)

	a.srv = &http.Server{Addr: a.cfg.Addr(), Handler: wrapped}

	errCh := make(chan error, 1)
	go func() {
		cert := a.cfg.Server.TLS.CertFile
		key := a.cfg.Server.TLS.KeyFile
		var err error
		if cert != "" && key != "" {
			err = a.srv.ListenAndServeTLS(cert, key)
		} else {
			err = a.srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	logger.Info("server_listening", "addr", a.cfg.Addr())
	return errCh
}

// stopHTTP shuts the server down, giving in-flight requests a grace period.
func (a *App) stopHTTP() {
	if a.srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(ctx); err != nil {
		logger.Warn("http_shutdown_failed", "error", err.Error())
	}
}
