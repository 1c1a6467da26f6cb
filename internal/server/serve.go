package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Serve accepts connections on srv.Addr until ctx is cancelled, then shuts
// the server down gracefully. In-flight requests are given up to timeout to
// complete, after which the shutdown hooks run with the remaining time.
func Serve(ctx context.Context, srv *http.Server, timeout time.Duration, hooks *ShutdownHooks) error {
	listener, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}

	return serve(ctx, srv, listener, timeout, hooks)
}

func serve(ctx context.Context, srv *http.Server, listener net.Listener, timeout time.Duration, hooks *ShutdownHooks) error {
	failed := make(chan error, 1)

	go func() {
		log.Info().Str("addr", listener.Addr().String()).Msg("server: listening")

		if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			failed <- err
		}
		close(failed)
	}()

	select {
	case err := <-failed:
		return fmt.Errorf("server stopped unexpectedly: %w", err)
	case <-ctx.Done():
	}

	log.Info().Dur("timeout", timeout).Msg("server: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		log.Warn().Err(err).Msg("server: graceful shutdown incomplete")
	}

	if hooks != nil {
		hooks.Execute(shutdownCtx)
	}

	log.Info().Msg("server: stopped")

	return err
}
