// Command prpcd runs a reference bridge backend: channel authorization,
// webhook intake and an RPC surface with a public chat route and a
// presence room route, plus an optional MCP sidecar for introspection.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pushrpc/prpc/broker"
	"github.com/pushrpc/prpc/mcp"
	"github.com/pushrpc/prpc/server"
)

func main() {
	configPath := flag.String("config", "prpcd.toml", "path to the TOML config file")
	flag.Parse()

	logger := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(logger))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("Error loading config", "error", err.Error())
		os.Exit(1)
	}

	api := broker.NewClient(cfg.Broker)
	router := server.NewRouter(api, nil)
	registerRoutes(router)

	srv := server.NewServer(router, server.ServerOptions{
		Webhooks: &server.Dispatcher{
			Existence: logDelivery,
			Presence:  logDelivery,
		},
	})

	r := chi.NewRouter()
	r.Mount(cfg.Mount, srv.Handler())

	httpSrv := &http.Server{Addr: cfg.Listen, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MCP {
		sidecar := mcp.NewSidecar(router)
		go sidecar.Run()
	}

	go func() {
		slog.Info("Listening", "addr", cfg.Listen, "mount", cfg.Mount)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err.Error())
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown error", "error", err.Error())
	}
}

func registerRoutes(router *server.Router) {
	chat, err := router.PublicRoute("chat")
	if err != nil {
		panic(err)
	}
	chat.Handle("send", func(ctx context.Context, call *server.Call) (any, error) {
		var payload struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(call.Payload, &payload); err != nil {
			return nil, err
		}
		if err := call.Trigger.TriggerEvent(ctx, "message", payload.Message); err != nil {
			return nil, err
		}
		return map[string]string{"status": "sent"}, nil
	})

	room, err := router.PresenceRoute("room", func(ctx context.Context, appCtx any, req server.AuthRequest) (*broker.ChannelAuth, error) {
		// Everyone may join; identity is assigned server-side.
		return &broker.ChannelAuth{}, nil
	})
	if err != nil {
		panic(err)
	}
	room.Handle("shout", func(ctx context.Context, call *server.Call) (any, error) {
		if err := call.Trigger.TriggerOthers(ctx, json.RawMessage(call.Payload)); err != nil {
			return nil, err
		}
		return map[string]int{"reached": len(call.Env.Members)}, nil
	})
}

func logDelivery(ctx context.Context, appCtx any, ev server.DeliveryEvent) error {
	slog.Info("Delivery event", "name", ev.Name, "channel", ev.Channel.String())
	return nil
}
