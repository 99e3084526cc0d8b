// Command kdbusctl is the control-plane CLI for the bus broker: it drives
// namespace creation and make-bus submission, the surface the spec assigns
// to privileged userspace, and offers a read-only listing view. Message
// send/receive is out of scope.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amigadave/kdbus/logging"
)

var (
	globalLogFormat string
	globalDebug     bool
)

var rootCmd = &cobra.Command{
	Use:   "kdbusctl",
	Short: "Control CLI for the kdbus-style IPC broker",
	Long: `kdbusctl drives namespace creation and make-bus submission against
an in-process broker instance, and lists the resulting object graph.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalLogFormat, "log-format", "text", "log output format (text or json)")
	rootCmd.PersistentFlags().BoolVar(&globalDebug, "debug", false, "enable debug logging")
}

func setupLogging() {
	level := slog.LevelInfo
	if globalDebug {
		level = slog.LevelDebug
	}

	logger := logging.NewLogger(logging.Config{
		Level:  level,
		Format: globalLogFormat,
		Output: os.Stderr,
	})
	logging.SetDefault(logger)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetContext returns a context that cancels on SIGINT/SIGTERM, for
// commands that run until interrupted (e.g. serve).
func GetContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return ctx
}
