package main

import (
	"log/slog"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/axondata/go-procbox"
	"github.com/axondata/go-procbox/internal/config"
	"github.com/axondata/go-procbox/internal/log"
)

var flagConfigFile string // value of --config

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "start the configured services and keep them running until signaled",
	RunE:  doRun,
}

func init() {
	runCmd.Flags().StringVar(&flagConfigFile, "config", "procbox.yaml", "config file to load")
}

func doRun(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(flagConfigFile)
	if err != nil {
		return err
	}
	if flagStateDir != "" {
		cfg.StateDir = flagStateDir
	}
	if !cmd.Flags().Changed("log-level") && cfg.Log.Level != "" {
		logger := log.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
		slog.SetDefault(logger)
		procbox.SetLogger(logger)
	}

	sup, err := cfg.Build()
	if err != nil {
		return err
	}

	ctx := log.ContextAttrs(cmd.Context(), slog.String("supervisor", sup.Name))

	hook := procbox.NewExitHook(nil, procbox.WithDrainTimeout(cfg.DrainTimeout))

	slog.InfoContext(ctx, "starting services", "count", len(sup.Query(nil)))
	if err := sup.Start(ctx); err != nil {
		slog.ErrorContext(ctx, "start failed", "err", err)
		hook.Run(ctx, 1)
		return err
	}

	for _, svc := range sup.Query(nil) {
		slog.InfoContext(ctx, "service started", "service", svc.Name, "pid", svc.Pid(),
			"command", commandLine(svc.Exec, svc.Args))
		svc.OnError(func(err error) {
			slog.WarnContext(ctx, "service error", "service", svc.Name, "err", err)
		})
	}

	// The hook drains every pool and exits the process on SIGINT or SIGTERM
	hook.Listen(ctx, os.Interrupt, syscall.SIGTERM)
	defer func() { _ = hook.Stop() }()

	<-ctx.Done()
	slog.InfoContext(ctx, "shutting down")
	hook.Run(ctx, 0)
	return nil
}
