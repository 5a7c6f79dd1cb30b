package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"coffee-kds/internal/common/logger"
	"coffee-kds/internal/common/metrics"
	"coffee-kds/internal/config"
	"coffee-kds/internal/connections/database"
	"coffee-kds/internal/microservices/kds"
	"coffee-kds/internal/microservices/kds/models"
	"coffee-kds/internal/microservices/kds/repository"
	"coffee-kds/internal/microservices/kds/scheduler"
	"coffee-kds/internal/microservices/kds/service"
	"coffee-kds/internal/microservices/notificator"
)

const version = "0.3.0"

type globals struct {
	configPath string
	cfg        *config.Config
	log        *logger.Logger
}

func rootCmd() *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:           "coffee-kds",
		Short:         "Coffee kitchen display pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			cfg, err := config.Load(g.configPath)
			if err != nil {
				return err
			}
			g.cfg = cfg
			g.log = logger.NewWithWriter("coffee-kds", os.Stdout, logger.ParseLevel(cfg.Log.Level))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if g.log != nil {
				g.log.Sync()
			}
		},
	}
	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file path (YAML)")

	cmd.AddCommand(
		serveCmd(g),
		monitorCmd(g),
		watchCmd(g),
		resetCutoffCmd(g),
		diagnoseCmd(g),
		notifySubscriberCmd(g),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "coffee-kds version %s\n", version)
			},
		},
	)
	return cmd
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func serveCmd(g *globals) *cobra.Command {
	var noScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the display API and run ingestion on a schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			app, err := kds.Build(ctx, g.cfg, g.log)
			if err != nil {
				return err
			}
			defer app.Close()

			g.log.Info("service_started", map[string]any{"addr": g.cfg.HTTP.Addr, "scheduler": !noScheduler})
			return app.Serve(ctx, !noScheduler)
		},
	}
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "Serve only; leave ingestion to another node or to POST /kds/poll")
	return cmd
}

func monitorCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Run one ingestion cycle and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			app, err := kds.Build(ctx, g.cfg, g.log)
			if err != nil {
				return err
			}
			defer app.Close()

			rep, err := app.Runner.RunOnce(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rep)
		},
	}
}

func watchCmd(g *globals) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run ingestion in a loop and print a line per cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive, got %s", interval)
			}
			ctx, cancel := signalContext()
			defer cancel()

			app, err := kds.Build(ctx, g.cfg, g.log)
			if err != nil {
				return err
			}
			defer app.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "watching every %s, Ctrl+C to stop\n", interval)
			app.Runner.Watch(ctx, interval, func(rep service.IngestReport, err error) {
				fmt.Fprintln(out, watchLine(time.Now(), rep, err))
			})
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "Time between cycles")
	return cmd
}

func watchLine(now time.Time, rep service.IngestReport, err error) string {
	stamp := now.Format("15:04:05")
	switch {
	case errors.Is(err, scheduler.ErrLockBusy):
		return fmt.Sprintf("[%s] skipped: another cycle is running", stamp)
	case err != nil:
		return fmt.Sprintf("[%s] error: %v", stamp, err)
	default:
		return fmt.Sprintf("[%s] found=%d created=%d existing=%d no_coffee=%d malformed=%d purged=%d (%.1fms)",
			stamp, rep.TicketsFound, rep.OrdersCreated, rep.TicketsSkippedExisting,
			rep.TicketsSkippedNoCoffee, rep.MalformedAttributes, rep.OrdersPurged, rep.DurationMs)
	}
}

func resetCutoffCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-cutoff",
		Short: "Remove the clear marker so ingestion falls back to the latest order time",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			pool, err := database.ConnectPostgres(ctx, g.cfg.Database)
			if err != nil {
				return err
			}
			defer pool.Close()

			repo := repository.NewKdsRepository(pool)
			if err := repo.InitSchema(ctx); err != nil {
				return err
			}
			svc := service.NewIngestService(repo, nil, nil, service.IngestConfigFrom(g.cfg.KDS), g.log.Named("kds-ingest"), metrics.New(nil))
			if err := svc.ResetCutoff(ctx); err != nil {
				return err
			}
			info, err := svc.CutoffInfo(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "clear marker removed; next cycle reads receipts after %s\n", info.Cutoff.Format(time.RFC3339))
			return nil
		},
	}
}

func diagnoseCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose",
		Short: "Show cutoff inputs, queue counts and what the next cycle would read",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			app, err := kds.Build(ctx, g.cfg, g.log)
			if err != nil {
				return err
			}
			defer app.Close()

			info, err := app.Service.IngestService.CutoffInfo(ctx)
			if err != nil {
				return err
			}
			stats, err := app.Service.DisplayService.Stats(ctx)
			if err != nil {
				return err
			}
			pending, err := app.Repo.PosRepo.FindCoffeeTickets(ctx, models.TicketQuery{
				After:      info.Cutoff,
				NotBefore:  info.Floor,
				TicketType: g.cfg.KDS.TicketType,
				Category:   g.cfg.KDS.CoffeeCategory,
				Limit:      g.cfg.KDS.BatchLimit,
			})
			if err != nil {
				return err
			}
			writeDiagnosis(cmd.OutOrStdout(), info, stats, len(pending))
			return nil
		},
	}
}

func writeDiagnosis(w io.Writer, info service.CutoffInfo, stats repository.Stats, pending int) {
	fmtTime := func(t *time.Time) string {
		if t == nil {
			return "none"
		}
		return t.Format(time.RFC3339)
	}
	fmt.Fprintln(w, "KDS diagnosis")
	fmt.Fprintf(w, "  now:              %s\n", info.Now.Format(time.RFC3339))
	fmt.Fprintf(w, "  last order time:  %s\n", fmtTime(info.LastOrderTime))
	fmt.Fprintf(w, "  last clear time:  %s\n", fmtTime(info.LastClearTime))
	fmt.Fprintf(w, "  lookback floor:   %s\n", info.Floor.Format(time.RFC3339))
	fmt.Fprintf(w, "  effective cutoff: %s\n", info.Cutoff.Format(time.RFC3339))
	fmt.Fprintf(w, "  pending tickets:  %d\n", pending)
	fmt.Fprintln(w, "  orders by status:")
	for _, st := range []models.Status{
		models.StatusNew, models.StatusViewed, models.StatusPreparing,
		models.StatusReady, models.StatusCompleted, models.StatusCancelled,
	} {
		fmt.Fprintf(w, "    %-10s %d\n", st, stats.ByStatus[st])
	}
	if info.LastClearTime != nil && info.Cutoff.Equal(*info.LastClearTime) {
		fmt.Fprintln(w, "  note: the clear marker is holding the cutoff; run reset-cutoff to release it")
	}
}

func notifySubscriberCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "notify-subscriber",
		Short: "Consume KDS events from the configured broker and log them",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			return notificator.Start(ctx, g.cfg, g.log.Named("notificator"))
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
