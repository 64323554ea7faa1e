package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"papervault/config/database"
	"papervault/internal/cache"
	"papervault/pkg/logger"
	"papervault/router"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the websocket hub",
	Long: `Runs the REST API and the websocket hub. With the memory queue driver the
OCR worker runs in the same process; with Redis, events published by separate
worker processes are relayed to connected clients.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", true, "apply the schema before serving")
}

func serve(ctx context.Context) error {
	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if serveMigrate {
		if err := database.Migrate(ctx, a.db); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: router.Setup(a.db, a.hub, a.handlers(), router.Options{
			Secret:         cfg.Auth.JWTSecret,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.hub.Run(ctx)
		return nil
	})

	if cfg.Queue.Driver == "memory" {
		w, err := a.worker()
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(ctx) })
	} else {
		sub := cache.NewRedisClient(a.redis, cfg.Redis.Prefix)
		g.Go(func() error { return a.hub.Relay(ctx, sub) })
	}

	g.Go(func() error {
		logger.Sugar.Infof("papervault listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Sugar.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
