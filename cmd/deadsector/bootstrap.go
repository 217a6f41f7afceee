package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/deadsector/pkg/deadsector/config"
	"github.com/jamesainslie/deadsector/pkg/deadsector/logging"
	"github.com/jamesainslie/deadsector/pkg/deadsector/types"
)

const defaultLogMaxSize = 10 * types.MiB

// initializeLogging is the root PersistentPreRunE. It creates the XDG
// directories and starts file logging. An unreadable configuration falls
// back to default logging here; the command itself reports the problem
// when it loads the configuration.
func initializeLogging(_ *cobra.Command, _ []string) error {
	if err := config.EnsureConfigDir(); err != nil {
		return err
	}
	if err := config.EnsureDataDir(); err != nil {
		return err
	}
	if err := config.EnsureStateDir(); err != nil {
		return err
	}

	logCfg := logging.DefaultConfig()
	if cfg, err := loadConfig(); err == nil {
		logCfg.Level = cfg.Logging.Level
		if cfg.Logging.Path != "" {
			logCfg.Path = cfg.Logging.Path
		}
		logCfg.Rotation = parseRotationConfig(cfg.Logging.Rotation)
		logCfg.Components = cfg.Logging.Components
	}

	switch {
	case getVerbose():
		logCfg.ConsoleLevel = "debug"
	case !getQuiet():
		logCfg.ConsoleLevel = "warn"
	}
	logCfg.Interactive = useTUI()

	if err := logging.Init(logCfg); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	return nil
}

// parseRotationConfig converts the config file's rotation section. An
// empty or unparsable max_size falls back to 10 MiB.
func parseRotationConfig(rc config.RotationConfig) logging.RotationConfig {
	maxSize := defaultLogMaxSize
	if rc.MaxSize != "" {
		if n, err := types.ParseSize(rc.MaxSize); err == nil && n > 0 {
			maxSize = n
		}
	}
	return logging.RotationConfig{
		MaxSize:    maxSize,
		MaxAge:     rc.MaxAge,
		MaxBackups: rc.MaxBackups,
		Daily:      rc.Daily,
	}
}

// signalContext is cancelled on the first SIGINT or SIGTERM. A second
// signal kills the process the usual way.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ctx, cancel
}
