package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/streamretry/internal/core/config"
	"github.com/vietddude/streamretry/internal/proxy"
)

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "streamretry",
	Short: "Retrying proxy for streaming request/response protocols",
	Long: `streamretry sits in front of HTTP and gRPC upstreams and transparently
re-issues calls whose outcome is classified as retryable, within bounded
buffers, a backoff schedule and a retry budget.`,
	Run: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the proxy and the admin server",
	Run:   runServe,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
}

// loadConfig loads .env and the config file, then installs the logger.
func loadConfig() (*config.AppConfig, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		return nil, err
	}

	slogLevel := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	} else if err := slogLevel.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		slogLevel = slog.LevelInfo
	}

	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	routes, closeRoutes, err := buildRoutes(cfg, reg, slog.Default())
	if err != nil {
		slog.Error("Failed to build routes", "error", err)
		os.Exit(1)
	}
	defer closeRoutes()

	names := make([]string, 0, len(routes))
	for _, r := range routes {
		names = append(names, r.Name)
	}

	server := proxy.NewServer(cfg.Server.Addr, proxy.NewHandler(routes, slog.Default()))
	admin := proxy.NewAdminServer(cfg.Admin.Addr, reg, names)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Proxy listening", "addr", cfg.Server.Addr, "routes", names)
		return ignoreClosed(server.Start())
	})
	g.Go(func() error {
		slog.Info("Admin listening", "addr", cfg.Admin.Addr)
		return ignoreClosed(admin.Start())
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return errors.Join(server.Stop(shutdownCtx), admin.Stop(shutdownCtx))
	})

	if err := g.Wait(); err != nil {
		slog.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("Stopped gracefully")
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
