package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/darkbet/darkbet/internal/server"
	"github.com/darkbet/darkbet/internal/server/handler"
	"github.com/darkbet/darkbet/internal/server/ws"
)

// EngineMode runs the matching engine behind the HTTP + WebSocket API,
// without the deposit relayer.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting engine mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps)
	return g.Wait()
}

// RelayerMode runs only the deposit relayer, crediting the engine's ledger
// as Deposited events confirm on chain.
func (a *App) RelayerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting relayer mode")

	if deps.Relayer == nil {
		return fmt.Errorf("app: relayer mode requires relayer.enabled = true")
	}
	return deps.Relayer.Run(ctx)
}

// FullMode runs the engine, the API server, and the relayer in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startServer(ctx, g, deps)

	if deps.Relayer != nil {
		g.Go(func() error {
			return deps.Relayer.Run(ctx)
		})
	} else {
		a.logger.Warn("relayer disabled, deposits will not be credited")
	}

	return g.Wait()
}

// startServer builds the handler set, the optional WebSocket hub, and the
// HTTP server, and registers them on the errgroup. Disabled via config.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		a.logger.Info("http server disabled")
		return
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger)
		g.Go(func() error {
			err := hub.Run(ctx)
			if err == context.Canceled {
				return nil
			}
			return err
		})
	}

	checks := map[string]handler.Pinger{}
	if deps.PGClient != nil {
		checks["postgres"] = deps.PGClient
	}
	if deps.RedisClient != nil {
		checks["redis"] = deps.RedisClient
	}
	if deps.BlobClient != nil {
		checks["s3"] = deps.BlobClient
	}

	var archiver handler.Archiver
	if deps.Archiver != nil {
		archiver = deps.Archiver
	}
	var alerts handler.Alerter
	if deps.Notifier != nil {
		alerts = deps.Notifier
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(a.cfg.Mode, checks),
		Markets: handler.NewMarketHandler(deps.Engine, deps.DepthCache, archiver, alerts, a.logger),
		Orders:  handler.NewOrderHandler(deps.Engine, a.logger),
		Intents: handler.NewIntentHandler(deps.Engine, a.logger),
		Account: handler.NewAccountHandler(deps.Engine, a.logger),
		Admin:   handler.NewAdminHandler(deps.Engine, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		AdminAPIKey: a.cfg.Server.AdminAPIKey,
		AuthSkew:    time.Duration(a.cfg.Server.AuthSkewSeconds) * time.Second,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown failed", slog.String("error", err.Error()))
		}
		return ctx.Err()
	})
}
