package main

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/deadsector/pkg/deadsector/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage deadsector configuration settings.

Configuration is loaded from:
  1. $XDG_CONFIG_HOME/deadsector/config.yaml (if set)
  2. ~/.config/deadsector/config.yaml

Environment variables override config file settings using the DEADSECTOR_
prefix:
  DEADSECTOR_SCAN_BLOCK_SIZE=1M
  DEADSECTOR_FILL_PERCENTAGE=90
  DEADSECTOR_HISTORY_ENABLED=false`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration from all sources.`,
	RunE:  runConfigShow,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit configuration file",
	Long: `Open the configuration file in your default editor.

The editor is determined by:
  1. $VISUAL environment variable
  2. $EDITOR environment variable
  3. Falls back to 'vi'

If the config file doesn't exist, a default one will be created first.`,
	RunE: runConfigEdit,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration file",
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()

	if configFile := viper.ConfigFileUsed(); configFile != "" {
		fmt.Fprintf(w, "# config file: %s\n", configFile)
	} else {
		fmt.Fprintln(w, "# config file: none found, using defaults")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(configDocument(cfg))
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	fmt.Fprint(w, string(out))

	if overrides := envOverrides(os.Environ()); len(overrides) > 0 {
		fmt.Fprintln(w, "\n# environment overrides:")
		for _, o := range overrides {
			fmt.Fprintf(w, "#   %s\n", o)
		}
	}
	return nil
}

// configDocument mirrors the config file layout with effective values.
func configDocument(cfg *config.Config) map[string]any {
	return map[string]any{
		"scan": map[string]any{
			"block_size":        cfg.Scan.BlockSize,
			"limit":             cfg.Scan.Limit,
			"direct":            cfg.Scan.Direct,
			"progress_interval": cfg.Scan.ProgressInterval.String(),
		},
		"fill": map[string]any{
			"file_size":              cfg.Fill.FileSize,
			"percentage":             cfg.Fill.Percentage,
			"chunk_size":             cfg.Fill.ChunkSize,
			"max_consecutive_errors": cfg.Fill.MaxConsecutiveErrors,
		},
		"verify": map[string]any{
			"chunk_size": cfg.Verify.ChunkSize,
		},
		"quarantine": map[string]any{
			"dir_name":            cfg.Quarantine.DirName,
			"max_rename_attempts": cfg.Quarantine.MaxRenameAttempts,
		},
		"history": map[string]any{
			"enabled":        cfg.History.Enabled,
			"path":           cfg.History.Path,
			"retention_days": cfg.History.RetentionDays,
		},
		"regions": map[string]any{
			"enabled": cfg.Regions.Enabled,
			"path":    cfg.Regions.Path,
		},
		"smart": map[string]any{
			"binary":  cfg.Smart.Binary,
			"sudo":    cfg.Smart.Sudo,
			"timeout": cfg.Smart.Timeout.String(),
		},
		"metrics": map[string]any{
			"textfile": cfg.Metrics.Textfile,
		},
		"logging": map[string]any{
			"level":      cfg.Logging.Level,
			"path":       cfg.Logging.Path,
			"components": cfg.Logging.Components,
			"rotation": map[string]any{
				"max_size":    cfg.Logging.Rotation.MaxSize,
				"max_age":     cfg.Logging.Rotation.MaxAge,
				"max_backups": cfg.Logging.Rotation.MaxBackups,
				"daily":       cfg.Logging.Rotation.Daily,
			},
		},
	}
}

// envOverrides returns the DEADSECTOR_ variables of environ, sorted.
func envOverrides(environ []string) []string {
	prefix := config.EnvPrefix + "_"
	var out []string
	for _, kv := range environ {
		if strings.HasPrefix(kv, prefix) {
			out = append(out, kv)
		}
	}
	sort.Strings(out)
	return out
}

func runConfigEdit(_ *cobra.Command, _ []string) error {
	configPath, err := config.WriteDefault()
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}

	printVerbose("Opening %s with %s", configPath, editor)

	editorCmd := exec.Command(editor, configPath)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr

	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("editor command failed: %w", err)
	}
	return nil
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	configPath, err := config.ConfigFile()
	if err != nil {
		return err
	}

	if _, err := os.Stat(configPath); err == nil {
		printInfo("Config file already exists: %s", configPath)
		printInfo("Use 'deadsector config edit' to modify it.")
		return nil
	}

	if _, err := config.WriteDefault(); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	printInfo("Created default config file: %s", configPath)
	return nil
}

func runConfigPath(cmd *cobra.Command, _ []string) error {
	configPath, err := config.ConfigFile()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), configPath)

	if _, err := os.Stat(configPath); err == nil {
		printVerbose("File exists")
	} else if os.IsNotExist(err) {
		printVerbose("File does not exist (will use defaults)")
	}
	return nil
}
