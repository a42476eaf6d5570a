package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func registerHealthHandlers(api huma.API, rl Relay) {
	type healthOutput struct {
		Body struct {
			Status      string `json:"status"`
			Connections int    `json:"connections"`
			Watchers    int    `json:"watchers"`
		}
	}

	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/api/v1/health", Summary: "Relay health and open connections", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			stats := rl.Stats()
			out := &healthOutput{}
			out.Body.Status = "ok"
			out.Body.Connections = stats.Connections
			out.Body.Watchers = stats.Watchers
			return out, nil
		})
}
