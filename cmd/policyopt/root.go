package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	logLevel string
	cfgFile  string
)

var rootCmd = &cobra.Command{
	Use:   "policyopt",
	Short: "Policy-based numerical optimization",
	Long: `policyopt minimizes objective functions with a family of optimizers
(gradient descent, SGD variants, parallel SGD, coordinate descent, L-BFGS
and mayfly). Each optimizer states which function policy it needs and
objectives advertise the policies they implement.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var level slog.Level
		switch logLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		// Logs go to stderr so results on stdout can be piped.
		handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
		slog.SetDefault(slog.New(handler))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Job config file (YAML, JSON or TOML)")
}
