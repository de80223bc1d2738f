// Pulseboard: live host and container telemetry dashboard backend.
// Author: vesa | License: MIT | https://github.com/vesa/pulseboard
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vesa/pulseboard/internal/alerts"
	"github.com/vesa/pulseboard/internal/clock"
	"github.com/vesa/pulseboard/internal/config"
	"github.com/vesa/pulseboard/internal/server"
	"github.com/vesa/pulseboard/internal/session"
	"github.com/vesa/pulseboard/internal/telemetry"
)

const asciiLogo = `
  ██████╗ ██╗   ██╗██╗     ███████╗███████╗██████╗  ██████╗  █████╗ ██████╗ ██████╗
  ██╔══██╗██║   ██║██║     ██╔════╝██╔════╝██╔══██╗██╔═══██╗██╔══██╗██╔══██╗██╔══██╗
  ██████╔╝██║   ██║██║     ███████╗█████╗  ██████╔╝██║   ██║███████║██████╔╝██║  ██║
  ██╔═══╝ ██║   ██║██║     ╚════██║██╔══╝  ██╔══██╗██║   ██║██╔══██║██╔══██╗██║  ██║
  ██║     ╚██████╔╝███████╗███████║███████╗██████╔╝╚██████╔╝██║  ██║██║  ██║██████╔╝
  ╚═╝      ╚═════╝ ╚══════╝╚══════╝╚══════╝╚═════╝  ╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚═════╝
`

const version = "v0.1.0"

const shutdownTimeout = 5 * time.Second

func printBanner(mode string) {
	fmt.Print(asciiLogo + "\n")
	fmt.Printf("  ► Pulseboard %s  |  Mode: %s\n\n", version, mode)
}

func main() {
	root := &cobra.Command{
		Use:   "pulseboard",
		Short: "Pulseboard: live host and container telemetry dashboard",
		Long: `Pulseboard simulates a host and its containers, keeps a bounded live log
tail, derives threshold alerts next to operator alerts, and serves it all
over a JWT protected JSON API with a WebSocket stream.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Config file (default ./config.yaml or ~/.pulseboard/config.yaml)")

	// ── serve subcommand ──────────────────────────────────────────────────────
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard session and API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner("SERVE")
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}

	// ── snapshot subcommand ───────────────────────────────────────────────────
	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Run telemetry ticks offline and print the resulting snapshot as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ticks, _ := cmd.Flags().GetInt("ticks")
			if ticks < 0 {
				return fmt.Errorf("--ticks must be >= 0, got %d", ticks)
			}
			return snapshot(cmd.Context(), cfg, log, ticks)
		},
	}
	snapshotCmd.Flags().Int("ticks", 0, "Number of telemetry ticks to simulate before printing")

	// ── version subcommand ────────────────────────────────────────────────────
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print Pulseboard version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Pulseboard %s\n", version)
		},
	}

	root.AddCommand(serveCmd, snapshotCmd, versionCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	log, err := config.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// newSession wires the store, the alert book and the notifier into a session.
func newSession(ctx context.Context, cfg *config.Config, log *slog.Logger, clk clock.Clock) (*session.Session, error) {
	seed, err := telemetry.LoadSeed(cfg.SeedFile)
	if err != nil {
		return nil, err
	}
	if cfg.SeedFromHost {
		if hs, err := telemetry.ReadHost(ctx); err != nil {
			log.Warn("host baseline unavailable, using seed metrics", "err", err)
		} else {
			hs.Apply(&seed.Metrics)
		}
	}

	db, err := server.OpenDB(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}
	book := alerts.NewBook(db)
	if err := book.Migrate(ctx); err != nil {
		return nil, err
	}
	if n, err := book.Seed(ctx, seed.Alerts); err != nil {
		return nil, err
	} else if n > 0 {
		log.Info("seeded alerts", "module", "alerts", "count", n)
	}

	// Store and generator draw from separate sources; rand.Rand is not
	// safe for concurrent use.
	logSeed := cfg.RandSeed
	if logSeed != 0 {
		logSeed++
	}
	return session.New(session.Deps{
		Store:    telemetry.NewStore(seed, telemetry.NewRand(cfg.RandSeed), clk),
		Book:     book,
		Notifier: alerts.NewNotifier(cfg.WebhookURL, clk, log),
		Rand:     telemetry.NewRand(logSeed),
		Clock:    clk,
		Logger:   log,
		Logs:     seed.Logs,
	}, session.Options{
		TelemetryInterval: cfg.TelemetryInterval,
		LogInterval:       cfg.LogInterval,
		ActionLatency:     cfg.ActionLatency,
		LogCapacity:       cfg.LogCapacity,
		Notifications:     &cfg.Notifications,
	}), nil
}

func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	sess, err := newSession(ctx, cfg, log, clock.Real())
	if err != nil {
		return err
	}
	auth, err := server.NewAuth(cfg.JWTSecret, cfg.AdminUser, cfg.AdminPass)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	addr := fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ControlPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.New(sess, auth, log).Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Printf("  ✓ Control plane (JWT API + stream) → http://%s\n", addr)
	fmt.Printf("  ✓ Login user: %s\n", cfg.AdminUser)
	if cfg.File != "" {
		fmt.Printf("  ✓ Config:     %s (watched)\n", cfg.File)
	}
	fmt.Println()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Println("\n  → Shutting down gracefully…")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		return sess.Run(gctx)
	})
	g.Go(func() error {
		return config.Watch(gctx, cfg.File, config.DefaultDebounce, log, func(next *config.Config) {
			if keys := config.RestartRequired(cfg, next); len(keys) > 0 {
				log.Warn("config changes need a restart to take effect", "keys", keys)
			}
			if err := sess.Retime(next.TelemetryInterval, next.LogInterval, next.ActionLatency); err != nil {
				log.Warn("retiming session", "err", err)
			}
			sess.SetNotifications(next.Notifications)
		})
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// snapshotOutput is what `pulseboard snapshot` prints.
type snapshotOutput struct {
	telemetry.Snapshot
	Alerts alerts.View `json:"alerts"`
}

// snapshot advances a fake clock one telemetry interval per tick, so the
// result is immediate and, with rand_seed set, reproducible.
func snapshot(ctx context.Context, cfg *config.Config, log *slog.Logger, ticks int) error {
	clk := clock.NewFake(time.Now())
	sess, err := newSession(ctx, cfg, log, clk)
	if err != nil {
		return err
	}
	defer sess.Close()

	for range ticks {
		clk.Advance(cfg.TelemetryInterval)
		sess.TickTelemetry()
	}
	view, err := sess.Alerts(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(snapshotOutput{Snapshot: sess.Snapshot(), Alerts: view})
}
