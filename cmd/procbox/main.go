package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/axondata/go-procbox"
	"github.com/axondata/go-procbox/internal/log"
)

var (
	flagLogLevel  string // value of --log-level
	flagLogFormat string // value of --log-format
	flagStateDir  string // value of --state-dir
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "log format: text or json")
	rootCmd.PersistentFlags().StringVar(&flagStateDir, "state-dir", "", "directory holding process state files")

	// never print messages
	rootCmd.SilenceErrors = true

	rootCmd.PersistentPreRunE = initLogging

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(waitCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("procbox failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "procbox",
	Short:        "Run and observe groups of child processes",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("procbox: %s\n", procbox.Version)
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		fmt.Printf("go:      %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:  %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:    %s\n", s.Value)
			}
		}
	},
}

func initLogging(cmd *cobra.Command, _ []string) error {
	logger := log.New(os.Stderr, flagLogLevel, flagLogFormat)
	slog.SetDefault(logger)
	procbox.SetLogger(logger)
	return nil
}

// stateDir returns --state-dir or PROCBOX_STATE_DIR
func stateDir() (string, error) {
	if flagStateDir != "" {
		return flagStateDir, nil
	}
	if dir := os.Getenv("PROCBOX_STATE_DIR"); dir != "" {
		return dir, nil
	}
	return "", fmt.Errorf("%w: --state-dir is required", procbox.ErrConfig)
}
