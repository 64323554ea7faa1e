package cmd

import (
	"errors"
	"os/signal"
	"syscall"

	"papervault/internal/queue"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the OCR worker against the Redis queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Queue.Driver != "redis" {
			return errors.New("a standalone worker needs queue.driver=redis; the memory queue runs inside serve")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer a.Close()

		w, err := a.worker()
		if err != nil {
			return err
		}
		if err := w.Run(ctx); err != nil && !errors.Is(err, queue.ErrClosed) && ctx.Err() == nil {
			return err
		}
		return nil
	},
}
