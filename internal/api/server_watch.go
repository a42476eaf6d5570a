package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/watchrelay/internal/relay"
	"github.com/dgnsrekt/watchrelay/internal/stream"
)

func registerWatchHandlers(api huma.API, rl Relay) {
	type watchInput struct {
		Body struct {
			APIs             []string          `json:"apis" required:"false" doc:"Collection URLs to watch, e.g. /api/v1/namespaces/default/pods"`
			ResourceVersions map[string]string `json:"resourceVersions,omitempty" doc:"Resource version to resume each collection from, keyed by collection URL. Absent entries start from the latest state."`
		}
	}

	huma.Register(api, huma.Operation{OperationID: "watch", Method: http.MethodPost, Path: "/api/v1/watch", Summary: "Open a relay connection", Description: "Streams newline-delimited change records for every requested collection until the client disconnects.", Tags: []string{"Watch"}},
		func(ctx context.Context, input *watchInput) (*huma.StreamResponse, error) {
			targets, err := rl.Prepare(stream.Request{APIs: input.Body.APIs, ResourceVersions: input.Body.ResourceVersions})
			if err != nil {
				return nil, mapErr(err)
			}
			return &huma.StreamResponse{Body: func(hctx huma.Context) {
				hctx.SetHeader("Content-Type", stream.ContentType)
				hctx.SetHeader("Cache-Control", "no-cache")
				hctx.SetHeader("X-Accel-Buffering", "no")
				hctx.SetStatus(http.StatusOK)

				w := hctx.BodyWriter()
				flusher, _ := w.(http.Flusher)
				if flusher != nil {
					flusher.Flush()
				}
				sink := relay.NewWriterSink(func(p []byte) error {
					if _, err := w.Write(p); err != nil {
						return err
					}
					if flusher != nil {
						flusher.Flush()
					}
					return nil
				})
				c := rl.Open(hctx.Context(), targets, sink)
				<-c.Done()
				sink.Close()
			}}, nil
		})

	type versionOutput struct {
		Body stream.VersionInfo
	}

	huma.Register(api, huma.Operation{OperationID: "get-resource-version", Method: http.MethodGet, Path: "/api/v1/resource-version", Summary: "Get the current resource version of a collection", Tags: []string{"Watch"}},
		func(ctx context.Context, input *struct {
			URL string `query:"url" required:"true" doc:"Collection URL, e.g. /api/v1/namespaces/default/pods"`
		}) (*versionOutput, error) {
			info, err := rl.ResourceVersion(ctx, input.URL)
			if err != nil {
				return nil, mapErr(err)
			}
			return &versionOutput{Body: info}, nil
		})
}
