// Interpreter API reads the SML meter over its optical port, stores every
// reading and serves the latest one over HTTP and websocket.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/NotCoffee418/sml_power_meter/pkg/config"
	"github.com/NotCoffee418/sml_power_meter/pkg/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:   "interpreter_api",
		Short: "SML power meter reader",
		Long:  "interpreter_api decodes SML telegrams from a power meter, stores them and serves them over HTTP.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Configure("", verbose)
		},
		SilenceUsage: true,
	}

	verbose bool
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "log every reading and every skipped frame")
	rootCmd.AddCommand(startCmd, listPortsCmd, databaseCmd, aggregateCmd, simulateCmd)
}

// loadConfig reads interpreter_api.toml and applies its log level.
func loadConfig() (*config.InterpreterAPIConfig, error) {
	if err := config.LoadInterpreterAPIConfig(); err != nil {
		return nil, err
	}
	cfg := config.ActiveInterpreterAPIConfig
	if err := logging.Configure(cfg.LogLevel, verbose); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logrus.Fatal(err)
	}
}
