package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/watchrelay/internal/api"
	"github.com/dgnsrekt/watchrelay/internal/config"
	"github.com/dgnsrekt/watchrelay/internal/logging"
	"github.com/dgnsrekt/watchrelay/internal/metrics"
	"github.com/dgnsrekt/watchrelay/internal/netutil"
	"github.com/dgnsrekt/watchrelay/internal/relay"
)

func main() {
	cfg, err := config.LoadRelay()
	if err != nil {
		slog.Error("failed to load relay config", "error", err)
		os.Exit(1)
	}

	logCloser, err := logging.Setup(cfg.LogLevel, cfg.LogFile, os.Stdout)
	if err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}
	defer func() { _ = logCloser.Close() }()

	slog.Info("relay config loaded",
		"bind_addr", cfg.BindAddr,
		"port_auto_fallback", cfg.PortAutoFallback,
		"port_candidates", cfg.PortCandidates,
		"kubeconfig", cfg.Kubeconfig,
		"kube_context", cfg.KubeContext,
		"flush_interval", cfg.FlushInterval,
		"policy_file", cfg.PolicyFile,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	if err := run(cfg); err != nil {
		slog.Error("relay failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.RelayConfig) error {
	var policy *relay.Policy
	if cfg.PolicyFile != "" {
		p, err := relay.LoadPolicy(cfg.PolicyFile)
		if err != nil {
			return err
		}
		policy = p
		slog.Info("relay policy loaded", "file", cfg.PolicyFile, "allow", p.Allow)
	}

	upstream, err := relay.NewKubeUpstreamFromKubeconfig(cfg.Kubeconfig, cfg.KubeContext)
	if err != nil {
		return err
	}

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		return err
	}

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return err
	}

	ep := relay.NewEndpoint(upstream, relay.Options{
		FlushInterval: cfg.FlushInterval,
		Policy:        policy,
		Logger:        slog.Default(),
	})
	srv := &http.Server{Addr: bindAddr, Handler: api.NewServer(ep, relay.WebSocketHandler(ep), reg)}
	// Runs once the listeners are closed; streaming responses only return
	// once their relay connection closes.
	srv.RegisterOnShutdown(ep.CloseAll)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("relay listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("relay shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("relay shutdown failed", "error", err)
		}
		return nil
	})
	return g.Wait()
}
