package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"

	"github.com/kilianp07/evsim/api/ws"
	"github.com/kilianp07/evsim/core/logger"
	"github.com/kilianp07/evsim/core/simulation"
)

// Wrap adds CORS and access logging around h as configured. accessLog may be
// nil.
func Wrap(h http.Handler, cfg Config, accessLog io.Writer) http.Handler {
	if len(cfg.AllowedOrigins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(cfg.AllowedOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut}),
			handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
		)(h)
	}
	if accessLog != nil {
		h = handlers.CombinedLoggingHandler(accessLog, h)
	}
	return h
}

// Serve runs an HTTP server for handler on addr until ctx is canceled.
func Serve(ctx context.Context, addr string, handler http.Handler, log logger.Logger) error {
	log = logger.OrNop(log)
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("api server shutdown: %v", err)
		}
		cancel()
	}()
	log.Infof("api listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Forward broadcasts step updates received on sub to the hub until ctx ends
// or sub is closed.
func Forward(ctx context.Context, hub *ws.Hub, sub <-chan simulation.StepUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-sub:
			if !ok {
				return
			}
			typ := ws.MsgTypeStep
			if u.Final {
				typ = ws.MsgTypeFinal
			}
			hub.BroadcastMessage(typ, u)
		}
	}
}
