package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/xsentiment/sentiment-bot/internal/app"
	"github.com/xsentiment/sentiment-bot/internal/config"
)

var (
	output  string
	verbose bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newRootCmd returns the root command of the operator CLI
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "sentimentctl",
		Short:         "Operate the X sentiment bot from the command line",
		Long:          "sentimentctl runs single stages of the daily sentiment pipeline, re-aggregates past days and checks external APIs.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := godotenv.Load(); err != nil {
				logrus.Debug("No .env file found, using environment variables")
			}
			logrus.SetLevel(logrus.WarnLevel)
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
			logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		},
	}

	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "output format: json|text")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(newCollectCmd())
	rootCmd.AddCommand(newAnalyzeCmd())
	rootCmd.AddCommand(newAggregateCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newReportCmd())
	rootCmd.AddCommand(newCheckAPIsCmd())

	return rootCmd
}

// withApp loads configuration, wires the services and closes them after fn returns
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := app.New(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

// printResult writes v as indented JSON when --output=json, otherwise calls text
func printResult(w io.Writer, v interface{}, text func(io.Writer)) error {
	if output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
