package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"market-observer/internal/notify"
	"market-observer/internal/observer"
	"market-observer/internal/pipeline"
	"market-observer/internal/replay"
	"market-observer/internal/stream"
)

// newWatchCmd creates the command that runs the live pipeline: polling,
// stall monitoring, alert evaluation and websocket broadcasting.
func newWatchCmd(app *App) *cobra.Command {
	var (
		addr     string
		interval time.Duration
		once     bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the observation pipeline",
		Long: `Polls the quote feed once per interval, records history, evaluates
alerts and broadcasts the payload to websocket subscribers on /ws.
The HTTP API for alerts, candles and replay control is served on the
same address.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("store unavailable, cannot run pipeline")
			}

			cfg := app.Config.Observer
			if interval > 0 {
				cfg.PollInterval = interval
			}
			if cfg.PollInterval <= 0 {
				cfg.PollInterval = time.Second
			}

			source := observer.NewHTTPSource(cfg.URL, cfg.PollTimeout)
			monitor := observer.NewMonitor(observer.MonitorConfig{
				StallTimeout: cfg.StallTimeout,
				WeekdayPair:  cfg.WeekdayPair,
				WeekendPair:  cfg.WeekendPair,
			}, app.Logger)
			session := replay.NewSession(app.Logger)
			hub := stream.NewHubWithConfig(stream.HubConfig{SendTimeout: cfg.SinkTimeout}, app.Logger)
			defer hub.Close()
			dispatcher := notify.NewDispatcher(app.Config.Notifications, app.Logger)

			orch := pipeline.NewOrchestrator(
				pipeline.Config{
					Interval:    cfg.PollInterval,
					PollTimeout: cfg.PollTimeout,
				},
				source, monitor, app.Store, app.Engine, session, hub, dispatcher,
				app.Logger,
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if once {
				orch.RunCycle(ctx)
				output.Success("Cycle complete")
				return nil
			}

			srv := newAPIServer(app, session, hub)
			httpServer := &http.Server{
				Addr:    addr,
				Handler: srv.routes(),
			}

			go func() {
				app.Logger.Info().Str("addr", addr).Msg("HTTP API listening")
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					app.Logger.Error().Err(err).Msg("HTTP server failed")
				}
			}()

			output.Info("Watching %s every %s (API on %s, Ctrl-C to stop)",
				cfg.URL, cfg.PollInterval, addr)

			err := orch.Run(ctx)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpServer.Shutdown(shutdownCtx)

			if errors.Is(err, context.Canceled) {
				output.Println()
				output.Success("Stopped")
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address for the API and websocket stream")
	cmd.Flags().DurationVar(&interval, "interval", 0, "override the configured poll interval")
	cmd.Flags().BoolVar(&once, "once", false, "run a single cycle and exit")

	return cmd
}
