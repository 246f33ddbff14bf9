// Package cli implements posctl, the operator terminal that drives the
// wizard protocol against the commit gateway.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/angelmondragon/posflow/internal/flow"
	"github.com/angelmondragon/posflow/internal/flowstate"
	"github.com/angelmondragon/posflow/internal/gateway"
	"github.com/angelmondragon/posflow/internal/idempotency"
	"github.com/angelmondragon/posflow/internal/resolver"
	"github.com/angelmondragon/posflow/pkg/config"
	"github.com/angelmondragon/posflow/pkg/db"
	"github.com/angelmondragon/posflow/pkg/logger"
	"github.com/angelmondragon/posflow/pkg/metrics"
	"github.com/angelmondragon/posflow/pkg/redis"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format      string
	Profile     string
	Session     string
	MetricsFile string

	// NewEnv builds the terminal runtime. Tests replace it to avoid touching
	// the network or the local state file.
	NewEnv func(ctx context.Context, opts *RootOptions) (*Env, error)
}

// Env is what a flow command needs: the orchestrator, the gateway it commits
// through and the terminal configuration.
type Env struct {
	Config       *config.TerminalConfig
	Logger       *logger.Logger
	Gateway      *gateway.Client
	Resolver     *resolver.Resolver
	Orchestrator *flow.Orchestrator
	Metrics      *metrics.FlowMetrics

	registry    *prometheus.Registry
	metricsFile string
	closers     []io.Closer
}

// enableMetrics records flow metrics for this invocation and writes them to
// path in the node exporter textfile format on Close. An empty path leaves
// metrics off.
func (e *Env) enableMetrics(path string) {
	if path == "" {
		return
	}
	e.registry = prometheus.NewRegistry()
	e.Metrics = metrics.NewFlowMetrics(e.registry)
	e.metricsFile = path
}

// Close writes the metrics file, if any, and releases the state backend.
func (e *Env) Close() error {
	var err error
	if e.registry != nil {
		if werr := prometheus.WriteToTextfile(e.metricsFile, e.registry); werr != nil {
			err = multierr.Append(err, fmt.Errorf("write metrics file: %w", werr))
		}
	}
	for _, c := range e.closers {
		err = multierr.Append(err, c.Close())
	}
	return err
}

// NewRootCommand creates the posctl root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{NewEnv: NewEnv})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "posctl",
		Short:         "posctl - point of sale operator terminal",
		Long:          "Drive the sales, registration, checkout and refunds wizards from a terminal.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Profile, "profile", "", "terminal profile (overrides POSFLOW_TERMINAL_PROFILE)")
	cmd.PersistentFlags().StringVar(&opts.Session, "session", "", "terminal session (overrides POSFLOW_TERMINAL_SESSION)")
	cmd.PersistentFlags().StringVar(&opts.MetricsFile, "metrics-file", "", "write flow metrics to this textfile (overrides POSFLOW_TERMINAL_METRICS_FILE)")

	cmd.AddCommand(NewFlowCommand(opts))
	cmd.AddCommand(NewEntityCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// NewEnv loads the terminal configuration and wires the flow stack: state
// backend, key issuer, resolver over the gateway, and the orchestrator.
func NewEnv(ctx context.Context, opts *RootOptions) (*Env, error) {
	cfg, err := config.LoadTerminal()
	if err != nil {
		return nil, err
	}
	if opts.Profile != "" {
		cfg.Terminal.Profile = opts.Profile
	}
	if opts.Session != "" {
		cfg.Terminal.Session = opts.Session
	}
	if opts.MetricsFile != "" {
		cfg.Terminal.MetricsFile = opts.MetricsFile
	}

	logg := logger.New(logger.Options{
		ServiceName: "posctl",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{
		"profile": cfg.Terminal.Profile,
		"session": cfg.Terminal.Session,
		"backend": cfg.Terminal.Backend,
	})

	env := &Env{Config: cfg, Logger: logg}
	env.enableMetrics(cfg.Terminal.MetricsFile)
	store, err := openStateStore(ctx, cfg, logg, env)
	if err != nil {
		return nil, multierr.Append(err, env.Close())
	}

	client, err := gateway.NewClient(cfg.Gateway, logg)
	if err != nil {
		return nil, multierr.Append(err, env.Close())
	}
	env.Gateway = client

	if err := env.wire(store, cfg.Flow, logg); err != nil {
		return nil, multierr.Append(err, env.Close())
	}
	logg.Debug(ctx, "terminal ready")
	return env, nil
}

// wire builds the protocol layers on top of store and the env's gateway.
// Metrics must be enabled before wire for the layers to record them.
func (e *Env) wire(store flowstate.Store, flowCfg config.FlowConfig, logg *logger.Logger) error {
	machine, err := flowstate.NewMachine(store)
	if err != nil {
		return err
	}
	issuer, err := idempotency.NewIssuer(machine)
	if err != nil {
		return err
	}
	res, err := resolver.New(e.Gateway,
		resolver.WithTimeout(flowCfg.ResolverTimeout),
		resolver.WithLogger(logg),
		resolver.WithMetrics(e.Metrics),
	)
	if err != nil {
		return err
	}
	orch, err := flow.NewOrchestrator(machine, issuer, res, e.Gateway, flow.WithLogger(logg), flow.WithMetrics(e.Metrics))
	if err != nil {
		return err
	}
	e.Resolver = res
	e.Orchestrator = orch
	return nil
}

func openStateStore(ctx context.Context, cfg *config.TerminalConfig, logg *logger.Logger, env *Env) (flowstate.Store, error) {
	switch cfg.Terminal.Backend {
	case config.StateBackendSQLite:
		client, err := db.OpenSQLite(ctx, cfg.Terminal.StatePath, logg)
		if err != nil {
			return nil, err
		}
		env.closers = append(env.closers, client)
		return flowstate.NewSQLStore(ctx, client.DB(), cfg.Terminal.Profile, cfg.Terminal.Session)

	case config.StateBackendRedis:
		client, err := redis.New(ctx, config.RedisConfig{URL: cfg.Terminal.RedisURL}, logg)
		if err != nil {
			return nil, err
		}
		env.closers = append(env.closers, client)
		return flowstate.NewRedisStore(client, cfg.Terminal.Profile, cfg.Terminal.Session, cfg.Flow.SnapshotTTL)

	default:
		return nil, fmt.Errorf("unknown terminal state backend %q", cfg.Terminal.Backend)
	}
}

// withEnv builds the runtime for one command invocation and closes it after.
func withEnv(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, env *Env) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	env, err := opts.NewEnv(ctx, opts)
	if err != nil {
		return err
	}
	return multierr.Append(fn(ctx, env), env.Close())
}
