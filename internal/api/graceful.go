package api

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crmhub/crmhub/internal/config"
)

// NewHTTPServer creates an http.Server with the configured timeouts.
func NewHTTPServer(addr string, handler http.Handler, cfg config.ServerConfig) *http.Server {
	read := cfg.ReadTimeout
	if read <= 0 {
		read = 30 * time.Second
	}
	// Sync endpoints can run for minutes.
	write := cfg.WriteTimeout
	if write <= 0 {
		write = 10 * time.Minute
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       read,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      write,
		IdleTimeout:       120 * time.Second,
	}
}

// GracefulShutdown shuts srv down within timeout.
func GracefulShutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

// SetupSignalHandler returns a channel receiving SIGINT and SIGTERM.
func SetupSignalHandler() chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	return ch
}
