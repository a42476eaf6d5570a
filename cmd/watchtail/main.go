package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/watchrelay/internal/collection"
	"github.com/dgnsrekt/watchrelay/internal/config"
	"github.com/dgnsrekt/watchrelay/internal/logging"
	"github.com/dgnsrekt/watchrelay/internal/notify"
	"github.com/dgnsrekt/watchrelay/internal/storage"
	"github.com/dgnsrekt/watchrelay/internal/stream"
	"github.com/dgnsrekt/watchrelay/internal/watchclient"
)

func main() {
	cfg, err := config.LoadTail()
	if err != nil {
		_, _ = io.WriteString(os.Stderr, "failed to load watchtail config: "+err.Error()+"\n")
		os.Exit(1)
	}

	var watches []string
	fs := pflag.NewFlagSet("watchtail", pflag.ExitOnError)
	fs.StringVar(&cfg.RelayURL, "relay", cfg.RelayURL, "relay base URL")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "relay transport: http or ws")
	fs.StringArrayVar(&watches, "watch", nil, "collection URL to watch (repeatable); overrides --config")
	fs.StringVar(&cfg.Subscriptions, "config", cfg.Subscriptions, "YAML subscription list")
	fs.StringVar(&cfg.RecordDir, "record-dir", cfg.RecordDir, "record events as JSONL under this directory")
	fs.StringVar(&cfg.NotifyURL, "notify-url", cfg.NotifyURL, "ntfy topic URL alerted on ERROR events")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.DurationVar(&cfg.Debounce, "debounce", cfg.Debounce, "quiet period before the relay connection is rebuilt")
	_ = fs.Parse(os.Args[1:])

	if err := cfg.Validate(); err != nil {
		_, _ = io.WriteString(os.Stderr, err.Error()+"\n")
		os.Exit(2)
	}

	logCloser, err := logging.Setup(cfg.LogLevel, cfg.LogFile, os.Stderr)
	if err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}
	defer func() { _ = logCloser.Close() }()

	refs, err := resolveRefs(cfg.Subscriptions, watches)
	if err != nil {
		slog.Error("no collections to watch", "error", err)
		os.Exit(1)
	}

	slog.Info("watchtail config loaded",
		"relay_url", cfg.RelayURL,
		"transport", cfg.Transport,
		"debounce", cfg.Debounce,
		"retry_delay", cfg.RetryDelay,
		"collections", len(refs),
		"record_dir", cfg.RecordDir,
		"notify_url", cfg.NotifyURL,
	)

	if err := run(cfg, refs, os.Stdout); err != nil {
		slog.Error("watchtail failed", "error", err)
		os.Exit(1)
	}
}

func resolveRefs(subscriptionsPath string, watches []string) ([]collection.Ref, error) {
	if len(watches) > 0 {
		refs := make([]collection.Ref, 0, len(watches))
		for _, raw := range watches {
			ref, err := collection.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("--watch %q: %w", raw, err)
			}
			refs = append(refs, ref)
		}
		return refs, nil
	}
	subs, err := config.LoadSubscriptions(subscriptionsPath)
	if err != nil {
		return nil, err
	}
	return subs.Refs()
}

func run(cfg *config.TailConfig, refs []collection.Ref, out io.Writer) error {
	// No client timeout: the watch response body stays open indefinitely.
	httpTransport := watchclient.NewHTTPTransport(cfg.RelayURL, &http.Client{})
	var transport watchclient.Transport = httpTransport
	if cfg.Transport == config.TransportWebSocket {
		transport = watchclient.NewWebSocketTransport(cfg.RelayURL)
	}

	client := watchclient.New(watchclient.Options{
		Transport:  transport,
		Tokens:     httpTransport,
		Debounce:   cfg.Debounce,
		RetryDelay: cfg.RetryDelay,
		BufferSize: cfg.BufferSize,
		Logger:     slog.Default(),
	})

	var recorder *storage.WriterRegistry
	if cfg.RecordDir != "" {
		runID := storage.ShortRunID(uuid.NewString())
		recorder = storage.NewWriterRegistry(cfg.RecordDir, runID, cfg.BufferSize, cfg.MaxFileSizeMB, slog.Default())
		defer func() { _ = recorder.Close() }()
		slog.Info("recording events", "dir", cfg.RecordDir, "run_id", runID)
	}

	var alerts *notify.Notifier
	if cfg.NotifyURL != "" {
		alerts = notify.New(cfg.NotifyURL, nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	p := newPrinter(out)
	for _, ref := range refs {
		sub, err := client.Subscribe(ref)
		if err != nil {
			return err
		}
		g.Go(func() error {
			for evt := range sub.Events() {
				p.print(evt)
				if recorder != nil {
					if err := recorder.Record(toRecord(evt)); err != nil {
						slog.Warn("failed to record event", "url", evt.Ref.URL(), "error", err)
					}
				}
				if alerts != nil && evt.Type == stream.TypeError {
					title, msg := alertFor(evt)
					if err := alerts.Notify(ctx, title, msg); err != nil {
						slog.Warn("failed to send alert", "url", evt.Ref.URL(), "error", err)
					}
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		return client.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		client.Close()
		return nil
	})
	return g.Wait()
}
