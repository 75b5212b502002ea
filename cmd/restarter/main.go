package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/terrpan/restarter/internal/buildinfo"
	"github.com/terrpan/restarter/internal/config"
	"github.com/terrpan/restarter/internal/handler"
	"github.com/terrpan/restarter/internal/health"
	rotel "github.com/terrpan/restarter/internal/otel"
	"github.com/terrpan/restarter/internal/restart"
)

const serviceName = "restarter"

var (
	cfgPath         string
	instanceIDsFlag string
	serveAddr       string
	flagOverrides   config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "restarter",
	Short: "Stop, wait, and start a fixed set of compute instances, then notify",
	Long: `restarter stops a configured list of instances, waits (30s by default),
starts them again and publishes a notification.

It runs as an AWS Lambda function (restarter lambda, or automatically when
started by the Lambda runtime), once from the command line (restarter run),
or as a small HTTP service (restarter serve).

Configuration is read from an optional YAML file (--config), then
RESTARTER_* environment variables, then CLI flags.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
			return runLambda(cmd.Context())
		}
		return cmd.Help()
	},
}

var lambdaCmd = &cobra.Command{
	Use:   "lambda",
	Short: "Serve invocations from the AWS Lambda runtime",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLambda(cmd.Context())
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Perform one restart and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer cancel()
		return runOnce(ctx, cmd.OutOrStdout())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve POST /invoke, /healthz and /metrics over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer cancel()
		return runServe(ctx)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (commit %s, built %s)\n",
			serviceName, buildinfo.Version, buildinfo.Commit, buildinfo.BuildTime)
	},
}

func init() {
	f := rootCmd.PersistentFlags()

	// Config file
	f.StringVar(&cfgPath, "config", os.Getenv("RESTARTER_CONFIG"), "Path to YAML configuration file (optional)")

	// Restart overrides
	f.StringVar(&flagOverrides.Region, "region", "", "Cloud region of the instances and topic")
	f.StringVar(&instanceIDsFlag, "instance-ids", "", "Comma-separated instance IDs to restart")
	f.DurationVar(&flagOverrides.Wait, "wait", 0, "Pause between stop and start (default 30s)")
	f.StringVar(&flagOverrides.ControlPlane.Type, "control-plane", "", "Control plane (ec2, gce, docker)")
	f.StringVar(&flagOverrides.Notification.Type, "notifier", "", "Notifier (sns, log)")
	f.StringVar(&flagOverrides.Notification.TopicARN, "topic-arn", "", "SNS topic ARN for the notification")

	// Logging overrides
	f.StringVar(&flagOverrides.Logging.Level, "log-level", "", "Log level (debug, info, warn, error)")
	f.StringVar(&flagOverrides.Logging.Format, "log-format", "", "Log format (text, json)")

	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "HTTP listen address")

	rootCmd.AddCommand(lambdaCmd, runCmd, serveCmd, versionCmd)
}

// applyFlagOverrides merges non-zero CLI flag values into the loaded config.
func applyFlagOverrides(cfg *config.Config) {
	if flagOverrides.Region != "" {
		cfg.Region = flagOverrides.Region
	}
	if instanceIDsFlag != "" {
		cfg.InstanceIDs = config.SplitList(instanceIDsFlag)
	}
	if flagOverrides.Wait != 0 {
		cfg.Wait = flagOverrides.Wait
	}
	if flagOverrides.ControlPlane.Type != "" {
		cfg.ControlPlane.Type = flagOverrides.ControlPlane.Type
	}
	if flagOverrides.Notification.Type != "" {
		cfg.Notification.Type = flagOverrides.Notification.Type
	}
	if flagOverrides.Notification.TopicARN != "" {
		cfg.Notification.TopicARN = flagOverrides.Notification.TopicARN
	}
	if flagOverrides.Logging.Level != "" {
		cfg.Logging.Level = flagOverrides.Logging.Level
	}
	if flagOverrides.Logging.Format != "" {
		cfg.Logging.Format = flagOverrides.Logging.Format
	}
}

// app is everything a command needs once configuration is resolved.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	handler   *handler.Handler
	telemetry *rotel.Telemetry
	closers   []io.Closer
}

func (a *app) close(ctx context.Context) {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn("closing backend", slog.String("error", err.Error()))
		}
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown", slog.String("error", err.Error()))
	}
}

func setup(ctx context.Context, prometheus bool) (*app, error) {
	// ---------------------------------------------------------------
	// 1. Load configuration
	// ---------------------------------------------------------------
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	applyFlagOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// ---------------------------------------------------------------
	// 2. Logger and telemetry
	// ---------------------------------------------------------------
	logger := cfg.NewLogger()
	logger.Info("configuration loaded",
		slog.String("configFile", cfgPath),
		slog.String("region", cfg.Region),
		slog.String("controlPlane", cfg.ControlPlane.Type),
		slog.String("notifier", cfg.Notification.Type),
		slog.Any("instanceIDs", cfg.InstanceIDs),
		slog.Duration("wait", cfg.Wait),
	)

	tel, err := rotel.Setup(ctx, serviceName, rotel.Config{
		Enabled:    cfg.OTel.Enabled,
		Endpoint:   cfg.OTel.Endpoint,
		Insecure:   cfg.OTel.Insecure,
		StdOut:     cfg.OTel.StdOut,
		Prometheus: prometheus,
	})
	if err != nil {
		return nil, fmt.Errorf("setting up telemetry: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, telemetry: tel}

	// ---------------------------------------------------------------
	// 3. Backends
	// ---------------------------------------------------------------
	cp, err := cfg.NewControlPlane(ctx, logger)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("initializing control plane: %w", err)
	}
	if c, ok := cp.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	n, err := cfg.NewNotifier(logger)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("initializing notifier: %w", err)
	}

	// ---------------------------------------------------------------
	// 4. Orchestrator + handler
	// ---------------------------------------------------------------
	a.handler = handler.New(cfg.NewOrchestrator(cp, n, logger), logger.WithGroup("handler"))
	return a, nil
}

// invoke handles one Lambda invocation and flushes telemetry before the
// runtime freezes the process.
func (a *app) invoke(ctx context.Context, event json.RawMessage) (restart.Result, error) {
	res, err := a.handler.Handle(ctx, event)
	if ferr := a.telemetry.Flush(ctx); ferr != nil {
		a.logger.Warn("telemetry flush", slog.String("error", ferr.Error()))
	}
	return res, err
}

func runLambda(ctx context.Context) error {
	a, err := setup(ctx, false)
	if err != nil {
		return err
	}

	// lambda.Start never returns: the runtime ends the process, so the
	// backends are left open for the life of the execution environment.
	lambda.Start(a.invoke)
	return nil
}

func runOnce(ctx context.Context, out io.Writer) error {
	a, err := setup(ctx, false)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	res, err := a.handler.Handle(ctx, nil)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func runServe(ctx context.Context) error {
	a, err := setup(ctx, true)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	mux := http.NewServeMux()
	mux.Handle("/invoke", a.handler)
	mux.Handle("/healthz", health.Handler(health.Target{
		ControlPlane: a.cfg.ControlPlane.Type,
		Notifier:     a.cfg.Notification.Type,
		Instances:    len(a.cfg.InstanceIDs),
		Wait:         a.cfg.Wait,
	}))
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              serveAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", slog.String("addr", serveAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down gracefully")
	// An invocation in flight finishes its wait before the server returns.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Wait+30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
