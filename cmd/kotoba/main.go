// Kotoba turns free-text utterances into validated commands and remembers
// each user's conversation.
//
// Configuration is read from an optional YAML file (--config), an optional
// .env file (--env-file, default ".env") and KOTOBA_* environment variables,
// in increasing order of precedence. Common variables:
//
//	KOTOBA_STORE_BACKEND      - sqlite (default), redis or memory
//	KOTOBA_STORE_PATH         - SQLite database file (default ./kotoba.db)
//	KOTOBA_STORE_URL          - Redis URL for the redis backend
//	KOTOBA_INTENTS_FILE       - YAML pattern table replacing the built-in one
//	KOTOBA_MODEL_PROVIDER     - none (default), openai or anthropic
//	KOTOBA_MODEL_API_KEY      - API key for the model fallback
//	KOTOBA_MATRIX_HOMESERVER  - enables the Matrix channel
//	KOTOBA_MATRIX_ROOMS       - comma-separated room IDs to listen in
//	KOTOBA_LOG_LEVEL          - debug, info, warn, error (default info)
//	KOTOBA_LOG_FORMAT         - text or json (default text)
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bdobrica/kotoba/common/version"
	"github.com/bdobrica/kotoba/internal/kotoba/app"
	"github.com/bdobrica/kotoba/internal/kotoba/config"
)

// cli holds the flags shared by every subcommand.
type cli struct {
	configFile string
	envFile    string
	cfg        config.Config
	logger     *slog.Logger
}

func main() {
	if err := newRootCmd(os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(logOut io.Writer) *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:          "kotoba",
		Short:        "Command understanding and conversational memory",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.Options{File: c.configFile, EnvFile: c.envFile})
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.logger = config.SetupLogging(cfg.Log, logOut)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&c.configFile, "config", "c", "", "path to a YAML configuration file")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "path to a .env file; ignored when missing")

	root.AddCommand(
		c.serveCmd(),
		c.sayCmd(),
		c.intentsCmd(),
		c.memoryCmd(),
		c.configCmd(),
		versionCmd(),
	)
	return root
}

// open builds the application from the loaded configuration.
func (c *cli) open(ctx context.Context) (*app.App, error) {
	return app.New(ctx, c.cfg, c.logger)
}

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Matrix channel and background tasks until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			c.logger.Info("starting kotoba", "version", version.Version, "commit", version.GitCommit)
			runErr := a.Run(ctx)
			if err := a.Close(); err != nil {
				c.logger.Warn("shutdown flush failed", "err", err)
			}
			return runErr
		},
	}
}

func (c *cli) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with credentials redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := c.cfg.Redacted()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(m); err != nil {
				return err
			}
			if err := enc.Close(); err != nil {
				return err
			}
			if err := c.cfg.Validate(); err != nil {
				return fmt.Errorf("configuration is invalid:\n%w", err)
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		// Version needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Info())
		},
	}
}
