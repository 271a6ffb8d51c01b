// Package app wires settings, catalog, registrar, reverse proxy, and
// management API into one running process, and owns graceful shutdown.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"vhtunnel/internal/catalog"
	"vhtunnel/internal/config"
	"vhtunnel/internal/keymaterial"
	"vhtunnel/internal/manageapi"
	"vhtunnel/internal/sshreg"
	"vhtunnel/internal/vhproxy"
)

// App is the fully wired daemon: SSH registrar plus HTTP (reverse proxy +
// management API) server, sharing one catalog.Store.
type App struct {
	cfg        *config.Config
	log        zerolog.Logger
	registrar  *sshreg.Registrar
	httpServer *http.Server
}

// New loads configuration and host key material, opens the catalog, and
// wires the registrar and HTTP surface together.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log := newLogger(cfg.LogRequests)

	hostKey, err := keymaterial.Load(cfg.ServerKeyPath)
	if err != nil {
		return nil, fmt.Errorf("app: load host key: %w", err)
	}
	log.Info().Str("fingerprint", hostKey.Fingerprint).Msg("host key loaded")

	store, err := catalog.OpenSQLStore(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("app: open catalog: %w", err)
	}

	// Accept-any-password is the default: the subdomain is the shared
	// secret. AUTHORIZED_KEYS_PATH opts a deployment into real public-key
	// authentication instead.
	auth := sshreg.Authenticator(sshreg.AcceptAnyPassword())
	if cfg.AuthorizedKeysPath != "" {
		data, err := os.ReadFile(cfg.AuthorizedKeysPath)
		if err != nil {
			return nil, fmt.Errorf("app: read authorized keys: %w", err)
		}
		auth, err = sshreg.NewPublicKeyAuthenticator(string(data))
		if err != nil {
			return nil, fmt.Errorf("app: load authorized keys: %w", err)
		}
		log.Info().Str("path", cfg.AuthorizedKeysPath).Msg("public-key authentication enabled")
	}

	registrar := sshreg.New(cfg.SSHListen, cfg.VHostSuffix, hostKey, store, auth, log)

	dispatcher := vhproxy.NewDispatcher(cfg.VHostSuffix, store, log)
	api := manageapi.New(store, cfg.APIHost, log)

	// The vhost suffix wins over path: a tunneled request to /api/... must
	// reach the tunnel, not the management surface.
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if dispatcher.Matches(r.Host) {
			dispatcher.ServeHTTP(w, r)
			return
		}
		api.Router.ServeHTTP(w, r)
	})

	return &App{
		cfg:       cfg,
		log:       log,
		registrar: registrar,
		httpServer: &http.Server{
			Addr:    cfg.HTTPListen,
			Handler: handler,
		},
	}, nil
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if !verbose {
		level = zerolog.WarnLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()
}

// Start runs the registrar and HTTP server until SIGINT/SIGTERM, then shuts
// both down gracefully.
func (a *App) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registrarErr := make(chan error, 1)
	go func() {
		registrarErr <- a.registrar.Serve(ctx)
	}()

	httpErr := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", a.cfg.HTTPListen).Msg("http server listening")
		err := a.httpServer.ListenAndServe()
		if err == http.ErrServerClosed {
			err = nil
		}
		httpErr <- err
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	registrarDone := false
	select {
	case sig := <-sigCh:
		a.log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-httpErr:
		if err != nil {
			a.log.Error().Err(err).Msg("http server failed")
		}
	case err := <-registrarErr:
		registrarDone = true
		if err != nil {
			a.log.Error().Err(err).Msg("ssh registrar failed")
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = a.httpServer.Shutdown(shutdownCtx)

	if !registrarDone {
		<-registrarErr
	}
	a.log.Info().Msg("shutdown complete")
	return nil
}
