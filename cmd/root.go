// Package cmd defines and implements the CLI commands for the archiver executable.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/gazette-archiver/internal/config"
	"github.com/JakeFAU/gazette-archiver/internal/gazette"
	"github.com/JakeFAU/gazette-archiver/internal/pipeline"
	"github.com/JakeFAU/gazette-archiver/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application surface the commands use, so tests can inject a fake.
type App interface {
	Run(ctx context.Context) error
	Close(ctx context.Context) error
	Check(ctx context.Context) (pipeline.CheckResult, error)
	Detect(ctx context.Context) (pipeline.Result, error)
	Download(ctx context.Context, c gazette.Candidate) (pipeline.Outcome, error)
	StartWorkers(ctx context.Context)
	Drain(ctx context.Context)
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile, envFile string
	cmd := &cobra.Command{
		Use:   "archiver",
		Short: "Watches the SAFLII Government Gazette listing and archives Notice B PDFs.",
		Long: `archiver polls the current-year SAFLII Government Gazette listing, records
every new "Notice B" PDF, downloads it into blob storage and notifies the
processing stage.`,
		SilenceUsage: true,

		// Builds the application once the subcommand's flags are parsed.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if envFile != "" {
				if err := config.LoadEnvFiles(envFile, envFile+".local"); err != nil {
					return fmt.Errorf("load env files: %w", err)
				}
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				if err := appInstance.Close(cmd.Context()); err != nil {
					return fmt.Errorf("close application: %w", err)
				}
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with GAZETTE_* overrides; <file>.local overrides it")

	cmd.AddCommand(newServeCmd(), newCheckCmd(), newDownloadCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application not initialized")
	}
	return appInstance, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

// Execute is the main entry point.
func Execute() {
	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
