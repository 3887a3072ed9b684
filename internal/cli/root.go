package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/registrylink/client"
	"github.com/jonwraymond/registrylink/config"
	"github.com/jonwraymond/registrylink/observe"
)

type options struct {
	configFile string
	logLevel   string
	timeout    time.Duration
	verbose    bool
}

// NewRootCommand returns the registryctl command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "registryctl",
		Short:         "Call a healthcare registry API with retries, rate limiting and failover",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "config file (YAML); REGISTRY_* variables override it")
	flags.StringVar(&opts.logLevel, "log-level", "", "override observe.logging.level (debug|info|warn|error)")
	flags.DurationVar(&opts.timeout, "timeout", 0, "bound the whole command, retries included")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "print status and correlation id to stderr")

	root.AddCommand(
		newStatusCommand(opts),
		newGetCommand(opts),
		newSearchCommand(opts),
		newCreateCommand(opts),
		newUpdateCommand(opts),
		newDeleteCommand(opts),
		newBatchCommand(opts),
	)
	return root
}

// session is a loaded client with its observer.
type session struct {
	client *client.Client
	obs    observe.Observer
}

func (o *options) open(ctx context.Context) (*session, error) {
	cfg, err := config.Load(ctx, o.configFile)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Observe.Logging.Level = o.logLevel
	}

	obs, err := observe.NewObserver(ctx, cfg.Observe)
	if err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}

	c, err := client.NewFromConfig(ctx, *cfg, obs)
	if err != nil {
		_ = obs.Shutdown(ctx)
		return nil, err
	}
	return &session{client: c, obs: obs}, nil
}

func (s *session) close(ctx context.Context) error {
	// Shutdown flushes exporters even when the command was cancelled.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	return errors.Join(s.client.Close(ctx), s.obs.Shutdown(ctx))
}

// run opens a session, runs fn and closes the session.
func (o *options) run(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	s, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, s)
}
