package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/Sternrassler/tap-searchstax/pkg/auth"
	"github.com/Sternrassler/tap-searchstax/pkg/client"
	"github.com/Sternrassler/tap-searchstax/pkg/config"
	"github.com/Sternrassler/tap-searchstax/pkg/logging"
	"github.com/Sternrassler/tap-searchstax/pkg/metrics"
	"github.com/Sternrassler/tap-searchstax/pkg/ratelimit"
	"github.com/Sternrassler/tap-searchstax/pkg/sink"
	"github.com/Sternrassler/tap-searchstax/pkg/state"
	"github.com/Sternrassler/tap-searchstax/pkg/tap"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type options struct {
	configPath  string
	statePath   string
	logLevel    string
	pretty      bool
	metricsAddr string
	trace       bool
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "tap-searchstax",
		Short: "Extract SearchStax account data as a Singer stream",
		Long: `tap-searchstax pages through the SearchStax REST API and writes SCHEMA,
RECORD and STATE messages to stdout. Logs go to stderr.

Example:
  tap-searchstax --config config.json --state state.json > out.jsonl`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), opts, stdout, stderr)
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to the config file (JSON or YAML)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&opts.pretty, "pretty", false, "Human-readable console logs")
	root.Flags().StringVarP(&opts.statePath, "state", "s", "", "Path to the state file (file backend)")
	root.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	root.Flags().BoolVar(&opts.trace, "trace", false, "Export OpenTelemetry spans to stderr")

	root.AddCommand(&cobra.Command{
		Use:   "discover",
		Short: "Print the Singer catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := json.MarshalIndent(tap.Discover(tap.Catalog()), "", "  ")
			if err != nil {
				return fmt.Errorf("encode catalog: %w", err)
			}
			_, err = fmt.Fprintln(stdout, string(data))
			return err
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(stdout, "tap-searchstax %s\n", client.Version)
			fmt.Fprintf(stdout, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(stdout, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	return root
}

func runSync(ctx context.Context, opts *options, stdout, stderr io.Writer) error {
	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(opts.logLevel),
		Pretty: opts.pretty,
		Output: stderr,
	})

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.statePath != "" {
		cfg.StatePath = opts.statePath
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.trace {
		shutdown, err := setupTracing(stderr)
		if err != nil {
			return err
		}
		defer shutdown(context.Background())
	}

	if opts.metricsAddr != "" {
		srv, err := metrics.Listen(opts.metricsAddr, logger)
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	initial := state.State{}
	if store != nil {
		if initial, err = store.Load(ctx); err != nil {
			return fmt.Errorf("load state: %w", err)
		}
	}

	start, _ := cfg.Start()
	defs := tap.Catalog()
	tracker := state.NewTracker(tap.ReplicationKeys(defs), initial, start)

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = client.DefaultUserAgent()
	}

	authenticator, err := auth.New(auth.Config{
		URL:       tap.TokenURL(cfg.APIURL),
		Username:  cfg.UserName,
		Password:  cfg.Password,
		UserAgent: userAgent,
	}, logger)
	if err != nil {
		return err
	}

	clientCfg := client.DefaultConfig(authenticator, ratelimit.NewTracker(cfg.RequestsPerSecond, cfg.Burst, logger))
	clientCfg.UserAgent = userAgent
	clientCfg.Timeout = cfg.RequestTimeout
	clientCfg.MaxRetries = cfg.MaxRetries

	executor, err := client.New(clientCfg, logger)
	if err != nil {
		return err
	}

	year, month, _ := cfg.Period(time.Now())

	walker, err := tap.New(tap.Options{
		Executor:    executor,
		Tracker:     tracker,
		Sink:        sink.NewSingerWriter(stdout),
		Store:       store,
		Definitions: defs,
		Selected:    cfg.Streams,
		BaseURL:     cfg.APIURL,
		RunValues: map[string]any{
			tap.KeyYear:  int64(year),
			tap.KeyMonth: int64(month),
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	result, err := walker.Run(ctx)
	if err != nil {
		return fmt.Errorf("run %s aborted: %w", result.RunID, err)
	}
	if result.Failed() {
		return fmt.Errorf("run %s finished with errors: %w", result.RunID, result.Err())
	}

	logger.Info().
		Str("run_id", result.RunID).
		Dur("duration", result.Finished.Sub(result.Started)).
		Msg("Extraction run complete")
	return nil
}

// openStore returns the configured bookmark store, or nil when the file
// backend has no path.
func openStore(ctx context.Context, cfg *config.Config) (state.Store, func(), error) {
	noop := func() {}

	switch cfg.StateBackend {
	case config.BackendRedis:
		redisOpts, err := cfg.RedisOptions()
		if err != nil {
			return nil, noop, err
		}
		rdb := redis.NewClient(redisOpts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, noop, fmt.Errorf("connect to redis: %w", err)
		}
		return state.NewRedisStore(rdb, cfg.RedisKey), func() { rdb.Close() }, nil

	default:
		if cfg.StatePath == "" {
			return nil, noop, nil
		}
		return state.NewFileStore(cfg.StatePath), noop, nil
	}
}

// setupTracing installs an SDK tracer provider exporting to w.
func setupTracing(w io.Writer) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", "tap-searchstax"),
			attribute.String("service.version", client.Version),
		)),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

