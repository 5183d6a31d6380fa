// Command ticket-export exports Freshservice tickets into a date-bucketed
// directory tree of JSON files.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/ticket-export/internal/config"
	"github.com/Sternrassler/ticket-export/pkg/client"
	"github.com/Sternrassler/ticket-export/pkg/exporter"
	"github.com/Sternrassler/ticket-export/pkg/logging"
	"github.com/Sternrassler/ticket-export/pkg/metrics"
	"github.com/Sternrassler/ticket-export/pkg/partition"
	"github.com/Sternrassler/ticket-export/pkg/ratelimit"
	"github.com/Sternrassler/ticket-export/pkg/writer"
)

// set from the go build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command line and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "ticket-export",
		Short:         "Export Freshservice tickets to JSON files",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.AddCommand(
		newExportCmd(stderr),
		newVerifyCmd(stdout),
		newVersionCmd(stdout),
	)
	return root
}

func newExportCmd(stderr io.Writer) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a ticket id range",
		Long: `Export every ticket in [START_TICKET_ID, END_TICKET_ID] to
EXPORT_DIR/<year>/<Month>/<DD>/<id>.json. Settings come from the optional
--config YAML file, overridden by environment variables.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), configPath, stderr)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	return cmd
}

func newVerifyCmd(stdout io.Writer) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Count exported ticket files",
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := writer.CountExported(dir)
			if err != nil {
				return fmt.Errorf("verify %s: %w", dir, err)
			}
			fmt.Fprintf(stdout, "%d tickets exported under %s\n", count, dir)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "export directory")
	_ = cmd.MarkFlagRequired("dir")
	return cmd
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(stdout, version, commit, date)
		},
	}
}

// runExport loads configuration and performs one export run. Ticket and
// partition failures are logged, not returned.
func runExport(ctx context.Context, configPath string, stderr io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logCfg := cfg.LoggingConfig()
	logCfg.Output = stderr
	logging.Setup(logCfg)
	logger := logging.NewLogger("ticket-export")

	if cfg.MetricsAddr != "" {
		srv, err := metrics.Listen(cfg.MetricsAddr, logging.NewLogger("metrics"))
		if err != nil {
			return err
		}
		metricsCtx, stopMetrics := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := srv.Serve(metricsCtx); err != nil {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		defer func() {
			stopMetrics()
			<-done
		}()
	}

	var limiter client.Limiter
	tracker, closeRedis := connectTracker(ctx, cfg, logger)
	if tracker != nil {
		limiter = tracker
		defer closeRedis()
	}

	factory := func(p partition.Partition) (client.RecordGetter, error) {
		cc := cfg.ClientConfig()
		cc.Limiter = limiter
		c, err := client.New(cc)
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	exp := exporter.New(factory, exporter.WithLogger(logging.NewLogger("exporter")))
	if _, err := exp.Run(ctx, cfg.ExportConfig()); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("export interrupted: %w", ctx.Err())
	}
	return nil
}

// connectTracker returns a Redis-backed rate limit tracker when REDIS_URL is
// configured. An unreachable Redis disables pacing instead of failing the run.
func connectTracker(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*ratelimit.Tracker, func()) {
	opts, err := cfg.RedisOptions()
	if err != nil {
		logger.Warn().Err(err).Msg("Invalid Redis URL, rate limit tracking disabled")
		return nil, nil
	}
	if opts == nil {
		return nil, nil
	}

	redisClient := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", opts.Addr).Msg("Redis unreachable, rate limit tracking disabled")
		redisClient.Close()
		return nil, nil
	}
	logger.Info().Str("addr", opts.Addr).Msg("Connected to Redis, rate limit tracking enabled")

	return ratelimit.NewTracker(redisClient, logging.NewLogger("ratelimit")), func() {
		redisClient.Close()
	}
}
