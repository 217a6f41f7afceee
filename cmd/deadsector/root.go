package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/deadsector/pkg/deadsector/config"
	"github.com/jamesainslie/deadsector/pkg/deadsector/logging"
	"github.com/jamesainslie/deadsector/pkg/deadsector/output"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "deadsector",
		Short: "Find unreadable disk regions and keep data away from them",
		Long: `deadsector locates unreliable regions of a disk and keeps data off them.

It works in two ways: a raw sequential scan of a block device that records
the offset of every block that cannot be read, and an isolation run that
fills a filesystem's free space with filler files, reads each one back, and
keeps the files that sit on bad sectors in a quarantine directory so the
filesystem never hands those sectors out again.

Examples:
  deadsector disks                         # List filesystems and raw devices
  sudo deadsector scan /dev/sdb            # Scan a whole device
  sudo deadsector scan /dev/sdb -l 10G     # Scan the first 10 GiB
  deadsector isolate /mnt/data --percent 90
  deadsector quarantine list /mnt/data
  deadsector smart /dev/sdb
  deadsector history`,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  initializeLogging,
		PersistentPostRunE: closeLogging,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/deadsector/config.yaml)")
	rootCmd.PersistentFlags().StringP("output", "o", "pretty", fmt.Sprintf("output format (%s)", strings.Join(output.Available(), ", ")))
	rootCmd.PersistentFlags().Bool("no-tui", false, "print progress lines instead of the interactive view")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug output")

	_ = viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	_ = viper.BindPFlag("no_tui", rootCmd.PersistentFlags().Lookup("no-tui"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		if dir, err := config.ConfigDir(); err == nil {
			viper.AddConfigPath(dir)
		}
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	config.SetDefaults(viper.GetViper())

	// Read config file (ignore if not found)
	_ = viper.ReadInConfig()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig decodes the global viper, which carries the config file, the
// environment and every bound flag.
func loadConfig() (*config.Config, error) {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return cfg, nil
}

func getVerbose() bool {
	return viper.GetBool("verbose")
}

func getQuiet() bool {
	return viper.GetBool("quiet")
}

// useTUI reports whether progress should be drawn with the interactive
// view: pretty output, no --no-tui, and a terminal on both ends.
func useTUI() bool {
	if viper.GetBool("no_tui") || getQuiet() {
		return false
	}
	if f := viper.GetString("output"); f != "" && f != "pretty" {
		return false
	}
	return isTerminal(os.Stdout) && isTerminal(os.Stdin)
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// render formats r with the selected formatter and writes it to stdout.
func render(r *output.Report) error {
	name := viper.GetString("output")
	if name == "" {
		name = "pretty"
	}
	formatter, err := output.Get(name)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := formatter.Format(&buf, r); err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	fmt.Print(buf.String())
	return nil
}

// printVerbose prints a message if verbose mode is enabled.
func printVerbose(format string, args ...interface{}) {
	if getVerbose() && !getQuiet() {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a message to stderr unless quiet mode is enabled, so
// machine-readable output on stdout stays clean.
func printInfo(format string, args ...interface{}) {
	if !getQuiet() {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

func closeLogging(_ *cobra.Command, _ []string) error {
	return logging.Close()
}
