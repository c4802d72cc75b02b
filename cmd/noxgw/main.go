// Command noxgw is a minimal WebSocket relay of the Nox Event Bus: it
// accepts connections, subscribes to the bus via the Request Facade,
// and forwards each event as JSON until the client disconnects. It
// proves the core's Event Bus needs no knowledge of WebSocket framing
// (spec.md §1, §6 "external observers") — all transport concerns stay
// in this collaborator. Grounded on internal/gateway/gateway.go's
// websocket.Accept/wsjson.Write relay loop, trimmed to one direction
// (server -> client broadcast only, no RPC request handling).
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/noxhq/nox/internal/bus"
	"github.com/noxhq/nox/internal/config"
	"github.com/noxhq/nox/internal/facade"
	"github.com/noxhq/nox/internal/supervisor"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	sup, err := supervisor.New(cfg, logger)
	if err != nil {
		logger.Error("supervisor init failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	sup.Run(ctx)

	f := facade.New(sup.Store, sup.Agents, sup.Tasks, sup.Bus)

	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		handleWS(w, r, f, logger)
	})

	server := &http.Server{Addr: cfg.BindAddr, Handler: mux}
	go func() {
		logger.Info("noxgw listening", "addr", cfg.BindAddr, "path", "/events")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("noxgw server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	_ = sup.Shutdown(time.Duration(cfg.ShutdownDeadlineSeconds) * time.Second)
}

func handleWS(w http.ResponseWriter, r *http.Request, f *facade.Facade, logger *slog.Logger) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	sub := f.Subscribe()
	defer f.Unsubscribe(sub)
	logger.Info("noxgw: client connected")

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Ch():
			if !ok {
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				logger.Info("noxgw: write failed, closing", "error", err)
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev bus.Event) error {
	return wsjson.Write(ctx, conn, ev)
}
