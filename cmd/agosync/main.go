// Command agosync keeps the arboretum's hosted ArcGIS Online feature
// layers in sync with the sensor data published to the dashboard
// repository.
//
// It is the binary behind the repository's automation workflows: a
// dispatch event (or an operator) runs one of its subcommands, which
// mirrors the upstream data folders, rebuilds the summary CSVs, and
// overwrites the hosted layers.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "agosync",
		Short: "Sync dashboard sensor data and publish it to ArcGIS Online",
		Long: `agosync mirrors the dashboard repository's data folders into the
local tree, rebuilds the summary CSVs, and overwrites the four hosted
feature layers on ArcGIS Online.

All configuration comes from the environment; a .env file in the working
directory is loaded automatically when present.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Operators keep credentials in .env locally; CI injects real
			// environment variables. A missing file is not an error.
			_ = godotenv.Load()
		},
	}

	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	cmd.AddCommand(
		newSyncCmd(&debug),
		newPublishCmd(&debug),
		newRunCmd(&debug),
		newWatchCmd(&debug),
	)

	return cmd
}

// newLogger builds the process logger. Debug mode uses the development
// encoder for readable local output.
func newLogger(debug bool) (*zap.SugaredLogger, error) {
	var logger *zap.Logger
	var err error
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger.Sugar(), nil
}
