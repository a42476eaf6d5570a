package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dgnsrekt/watchrelay/internal/metrics"
	"github.com/dgnsrekt/watchrelay/internal/relay"
	"github.com/dgnsrekt/watchrelay/internal/stream"
)

// Relay is the relay endpoint served over HTTP.
type Relay interface {
	Prepare(req stream.Request) ([]relay.Target, error)
	Open(ctx context.Context, targets []relay.Target, sink relay.Sink) *relay.Connection
	ResourceVersion(ctx context.Context, rawURL string) (stream.VersionInfo, error)
	Stats() relay.Stats
}

// NewServer mounts the relay API. The websocket transport is served by ws
// and metrics from reg; either may be nil to leave the route out.
func NewServer(rl Relay, ws http.Handler, reg *prometheus.Registry) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Watch Relay API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	router.Get("/docs/protocol", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(protocolDocsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	if ws != nil {
		router.Get("/api/v1/watch/ws", ws.ServeHTTP)
	}
	if reg != nil {
		router.Handle("/metrics", metrics.Handler(reg))
	}

	registerWatchHandlers(api, rl)
	registerHealthHandlers(api, rl)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *relay.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case relay.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case relay.CodeForbidden:
			return huma.Error403Forbidden(coded.Message)
		case relay.CodeNotFound:
			return huma.Error404NotFound(coded.Message)
		case relay.CodeUpstreamUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
