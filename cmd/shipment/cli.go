package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"shipment/internal/client"
	"shipment/internal/config"
	shiperrors "shipment/internal/errors"
	"shipment/internal/id"
	"shipment/internal/logging"
	"shipment/internal/observability"
)

// Version is set at build time.
var Version = "dev"

// CLI holds the state shared by every command.
type CLI struct {
	out    io.Writer
	errOut io.Writer

	configFile string
	verbose    bool
	debug      bool
	noColor    bool

	cfg     config.Config
	meta    config.Metadata
	logger  logging.Logger
	metrics *observability.MetricsCollector
	tracer  *observability.TracerProvider
	client  *client.Client
}

// flagKeys maps persistent flags onto configuration keys.
var flagKeys = map[string]string{
	"endpoint":   "endpoint",
	"app":        "app_name",
	"verify-key": "verify_key",
	"timeout":    "request_timeout",
	"repair":     "repair_payloads",
	"log-format": "observability.logging.format",
}

func NewRootCommand(out, errOut io.Writer) *cobra.Command {
	cli := &CLI{out: out, errOut: errOut}

	rootCmd := &cobra.Command{
		Use:   "shipment",
		Short: "Invoke actions on a shipment server and follow their output",
		Long: fmt.Sprintf(`%s

Calls named actions over HTTP and demultiplexes the streamed response into
lifecycle signals, structured data records and log lines.

%s
  shipment actions                                  # List actions exposed by the server
  shipment call to-upper --args '{"message":"hi"}'  # Stream an action
  shipment invoke to-upper --args '{"message":"hi"}' # Print only the result
  shipment batch to-upper='{"message":"a"}' echo    # Run several actions concurrently
  shipment config show                              # Effective configuration and sources`,
			bold("shipment "+Version),
			bold("EXAMPLES:")),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return cli.shutdown(context.Background())
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cli.configFile, "config", "c", "", "Config file (default ./shipment.yaml or ~/.shipment/shipment.yaml)")
	flags.StringP("endpoint", "e", "", "Shipment server base URL")
	flags.String("app", "", "Expected app name reported by the server")
	flags.String("verify-key", "", "Verify key expected on lifecycle lines")
	flags.Duration("timeout", 0, "Discovery and response header timeout")
	flags.Bool("repair", false, "Repair malformed lifecycle error payloads")
	flags.String("log-format", "", "Log format: text or json")
	flags.BoolVarP(&cli.verbose, "verbose", "v", false, "Verbose output")
	flags.BoolVarP(&cli.debug, "debug", "d", false, "Debug logging")
	flags.BoolVar(&cli.noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(newCallCommand(cli))
	rootCmd.AddCommand(newInvokeCommand(cli))
	rootCmd.AddCommand(newActionsCommand(cli))
	rootCmd.AddCommand(newBatchCommand(cli))
	rootCmd.AddCommand(newConfigCommand(cli))
	rootCmd.AddCommand(newServeFixtureCommand(cli))
	rootCmd.AddCommand(newVersionCommand(cli))

	return rootCmd
}

// initializeConfigOnly loads configuration and installs the logger.
func (cli *CLI) initializeConfigOnly(cmd *cobra.Command) error {
	opts := []config.Option{}
	if cli.configFile != "" {
		opts = append(opts, config.WithConfigFile(cli.configFile))
	}
	for name, key := range flagKeys {
		opts = append(opts, config.WithFlag(key, cmd.Flag(name)))
	}
	switch {
	case cli.debug:
		opts = append(opts, config.WithOverride("observability.logging.level", "debug"))
	case cli.verbose:
		opts = append(opts, config.WithOverride("observability.logging.level", "info"))
	}

	cfg, meta, err := config.Load(opts...)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.VerifyKey == "" && cfg.GenerateVerifyKey {
		cfg.VerifyKey = id.NewVerifyKey()
	}
	cli.cfg = cfg
	cli.meta = meta

	logging.SetDefault(observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: cli.errOut,
	}))
	cli.logger = logging.NewComponentLogger("cli")
	if meta.File() != "" {
		cli.logger.Debug("Loaded config from %s", meta.File())
	}
	return nil
}

// initialize loads configuration and builds the client with metrics and tracing.
func (cli *CLI) initialize(cmd *cobra.Command) error {
	if err := cli.initializeConfigOnly(cmd); err != nil {
		return err
	}

	obs := cli.cfg.Observability
	metrics, err := observability.NewMetricsCollector(obs.Metrics)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	if obs.Metrics.Enabled {
		if err := metrics.StartPrometheusServer(obs.Metrics.PrometheusPort); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		cli.logger.Info("Serving metrics on :%d/metrics", obs.Metrics.PrometheusPort)
	}
	cli.metrics = metrics

	if obs.Tracing.ServiceVersion == "" || obs.Tracing.ServiceVersion == "dev" {
		obs.Tracing.ServiceVersion = Version
	}
	tracer, err := observability.NewTracerProvider(obs.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	cli.tracer = tracer

	c, err := client.New(clientConfig(cli.cfg), client.WithMetrics(metrics), client.WithTracer(tracer))
	if err != nil {
		return err
	}
	cli.client = c
	return nil
}

func clientConfig(cfg config.Config) client.Config {
	return client.Config{
		Endpoint:              cfg.Endpoint,
		ClientName:            cfg.ClientName,
		Version:               Version,
		VerifyKey:             cfg.VerifyKey,
		DisableResultCapture:  !cfg.CaptureResult,
		RepairPayloads:        cfg.RepairPayloads,
		MaxLineBytes:          cfg.MaxLineBytes,
		RequestTimeout:        cfg.RequestTimeout,
		DiscoveryCacheSize:    cfg.Discovery.CacheSize,
		DiscoveryCacheTTL:     cfg.Discovery.CacheTTL,
		Retry:                 cfg.Retry,
		CircuitBreakerEnabled: cfg.CircuitBreaker.Enabled,
		CircuitBreaker:        cfg.CircuitBreaker.Breaker(),
	}
}

func (cli *CLI) shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var errs []error
	if cli.metrics != nil {
		errs = append(errs, cli.metrics.Shutdown(ctx))
	}
	if cli.tracer != nil {
		errs = append(errs, cli.tracer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// userMessage renders err for the terminal.
func userMessage(err error) string {
	if msg := shiperrors.FormatForUser(err); msg != "" {
		return msg
	}
	return err.Error()
}

func newVersionCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cli.out, "shipment %s\n", Version)
		},
	}
}
