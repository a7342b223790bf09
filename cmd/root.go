// Package cmd defines and implements the CLI commands for the jobcrawl executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobcrawl/internal/logging"
	"github.com/JakeFAU/jobcrawl/pkg/config"
)

// envKeyType is the key for storing the command environment in the context.
type envKeyType string

const envKey envKeyType = "env"

// env carries what every subcommand needs once flags are parsed.
type env struct {
	v      *viper.Viper
	logger *zap.Logger
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "jobcrawl",
		Short: "A concurrent, handler-driven web crawler.",
		Long: `jobcrawl fetches pages behind a bounded connection pool and hands each
page to the handler registered for its job kind. Handlers may queue further
jobs; a crawl ends when no queued or in-flight work remains.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Runs after flags are parsed but before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			v, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if err := bindFlags(v, cmd, map[string]string{
				"log.level": "log-level",
				"log.file":  "log-file",
			}); err != nil {
				return err
			}

			logger, err := logging.New(logging.Config{
				Level:       v.GetString("log.level"),
				File:        v.GetString("log.file"),
				Development: v.GetBool("log.development"),
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			if used := v.ConfigFileUsed(); used != "" {
				logger.Debug("Using config file", zap.String("path", used))
			}

			cmd.SetContext(context.WithValue(cmd.Context(), envKey, &env{v: v, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, err := resolveEnv(cmd.Context()); err == nil {
				_ = e.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or $HOME/.jobcrawl/config.yaml)")
	cmd.PersistentFlags().String("log-level", "", "minimum log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-file", "", "log destination: stderr, stdout or a file path")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newInspectCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveEnv(ctx context.Context) (*env, error) {
	if ctx == nil {
		return nil, errors.New("command environment not initialized")
	}
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("command environment not initialized")
	}
	return e, nil
}

// bindFlags makes explicitly set flags override config keys.
func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) error {
	for key, name := range keys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return nil
}
