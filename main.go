package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nstehr/vimy/vimy-farm/agent"
	"github.com/nstehr/vimy/vimy-farm/config"
	"github.com/nstehr/vimy/vimy-farm/events"
	"github.com/nstehr/vimy/vimy-farm/farm"
	"github.com/nstehr/vimy/vimy-farm/feed"
	"github.com/nstehr/vimy/vimy-farm/ipc"
	"github.com/nstehr/vimy/vimy-farm/settings"
	"github.com/nstehr/vimy/vimy-farm/store"
	"github.com/nstehr/vimy/vimy-farm/store/sqlite"
	"github.com/nstehr/vimy/vimy-farm/telemetry"
)

const version = "0.1.0"

const banner = `
██╗   ██╗██╗███╗   ███╗██╗   ██╗
██║   ██║██║████╗ ████║╚██╗ ██╔╝
██║   ██║██║██╔████╔██║ ╚████╔╝
╚██╗ ██╔╝██║██║╚██╔╝██║  ╚██╔╝
 ╚████╔╝ ██║██║ ╚═╝ ██║   ██║
  ╚═══╝  ╚═╝╚═╝     ╚═╝   ╚═╝

Unattended Farm Scheduling`

func main() {
	cfg, err := config.Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	fmt.Println(banner)

	if err := run(cfg); err != nil {
		slog.Error("farm exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	slog.Info("starting vimy farm", "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName: "vimy-farm",
		Version:     version,
		Endpoint:    cfg.OTelEndpoint,
		Enabled:     cfg.OTelEnabled,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("flushing traces failed", "error", err)
		}
	}()

	kv, closeStore, err := openStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer closeStore()

	var seed map[string]any
	if cfg.SettingsFile != "" {
		if seed, err = config.LoadSettings(cfg.SettingsFile); err != nil {
			return err
		}
	}

	loop := farm.NewLoop()
	bus := events.NewBus()
	bridge := agent.New(loop, cfg.RequestTimeout)
	engine := farm.New(farm.Config{
		Loop:      loop,
		Bus:       bus,
		Store:     kv,
		Settings:  settings.New(kv),
		Player:    bridge,
		Map:       bridge,
		Commander: bridge,
		Reports:   bridge,
		Groups:    bridge,
	})
	bridge.Bind(engine, bus)

	loop.Post(func() {
		if err := engine.Open(ctx); err != nil {
			slog.Error("opening farm engine failed", "error", err)
			stop()
			return
		}
		if len(seed) > 0 {
			if _, err := engine.UpdateSettings(seed); err != nil {
				slog.Error("applying settings file failed", "path", cfg.SettingsFile, "error", err)
			}
		}
	})

	listener, err := listenSocket(cfg.SocketPath)
	if err != nil {
		return err
	}
	defer listener.Close()
	defer os.Remove(cfg.SocketPath)
	go acceptLoop(ctx, listener, bridge)

	if cfg.HTTPAddr != "" {
		hub := feed.New(loop, engine, bus, cfg.RequestTimeout)
		defer hub.Close()
		srv := serveFeed(cfg.HTTPAddr, hub)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	loop.Post(engine.Close)
	loop.Drain()
	slog.Info("shutting down")
	return nil
}

func openStore(path string) (store.KV, func(), error) {
	if path == "" {
		slog.Warn("no database configured, farm state will not survive a restart")
		return store.NewMemory(), func() {}, nil
	}
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	slog.Info("opened state database", "path", path)
	return db, func() {
		if err := db.Close(); err != nil {
			slog.Error("closing state database failed", "error", err)
		}
	}, nil
}

func listenSocket(path string) (net.Listener, error) {
	// Unix sockets leave behind a file on unclean shutdown; remove it so we can rebind.
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("clean up socket %s: %w", path, err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket %s: %w", path, err)
	}
	slog.Info("listening on domain socket", "path", path)
	return listener, nil
}

func acceptLoop(ctx context.Context, listener net.Listener, bridge *agent.Agent) {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				slog.Error("failed to accept connection", "error", err)
				continue
			}
		}
		slog.Info("new connection accepted")
		go bridge.Serve(ctx, ipc.NewConnection(conn, nil))
	}
}

func serveFeed(addr string, hub *feed.Hub) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /events", hub)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		slog.Info("event feed listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("event feed stopped", "error", err)
		}
	}()
	return srv
}
