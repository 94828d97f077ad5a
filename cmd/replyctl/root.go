package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seweryn-pilarska/email-reply/internal/config"
	"github.com/seweryn-pilarska/email-reply/pkg/logger"
)

type rootOptions struct {
	configEnv string
	configDir string
	logLevel  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "replyctl",
		Short:         "Operate the email reply workflow",
		Long:          `replyctl runs the reply workflow once, inspects intent routing, replays outbox events and mints API tokens.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configEnv, "config-env", "", "config environment (defaults to CONFIG_ENV or local)")
	cmd.PersistentFlags().StringVar(&opts.configDir, "config-dir", "", "config directory (defaults to CONFIG_DIR or config)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level")

	cmd.AddCommand(
		newReplyCmd(opts),
		newRouteCmd(),
		newIntentsCmd(),
		newOutboxCmd(opts),
		newTokenCmd(opts),
	)
	return cmd
}

func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configEnv == "" && o.configDir == "" {
		cfg, err = config.Load()
	} else {
		env, dir := o.configEnv, o.configDir
		if env == "" {
			env = "local"
		}
		if dir == "" {
			dir = "config"
		}
		cfg, err = config.LoadFrom(env, dir)
	}
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.NewLoggerWithLevel(o.logLevel), nil
}
