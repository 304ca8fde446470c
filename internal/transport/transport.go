// SPDX-License-Identifier: MIT
//
// Package transport carries tuner output to render collaborators: JSON frames
// over WebSocket, spectrum packets over UDP, or log lines when running
// headless.
package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"strobe/internal/log"
)

// Transport defines a generic interface for sending processed data or events.
// Implementations are safe for concurrent use.
type Transport interface {
	Send(data any) error
	Close() error
}

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 2 * time.Second

// Serve runs srv until ctx is cancelled, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("HTTP: Listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("HTTP: Shutdown of %s: %v", srv.Addr, err)
		return srv.Close()
	}
	log.Infof("HTTP: Stopped %s", srv.Addr)
	return nil
}
