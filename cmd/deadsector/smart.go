package main

import (
	"github.com/spf13/cobra"

	"github.com/jamesainslie/deadsector/pkg/deadsector/output"
	"github.com/jamesainslie/deadsector/pkg/deadsector/smart"
)

var smartCmd = &cobra.Command{
	Use:   "smart <device>",
	Short: "Show S.M.A.R.T. attributes related to bad sectors",
	Long: `Query smartctl for the reallocated, pending and uncorrectable sector
counts of a device, plus temperature and power-on hours.

Device types are tried in order (auto, sat, ata, nvme, scsi) until one
answers. Set smart.sudo in the config file to run smartctl through sudo.`,
	Args:    cobra.ExactArgs(1),
	PreRunE: bindFlags(map[string]string{"smart.sudo": "sudo"}),
	RunE:    runSmart,
}

func init() {
	smartCmd.Flags().Bool("sudo", false, "run smartctl through sudo")
	rootCmd.AddCommand(smartCmd)
}

func runSmart(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	client := smart.New(smart.Options{
		Binary:  cfg.Smart.Binary,
		Sudo:    cfg.Smart.Sudo,
		Timeout: cfg.Smart.Timeout,
	})
	report, err := client.Query(ctx, args[0])
	if err != nil {
		return err
	}

	r := &output.Report{Smart: report}
	switch report.Outcome {
	case smart.NotFound:
		r.Warnings = append(r.Warnings, cfg.Smart.Binary+" not found; install smartmontools")
	case smart.PermissionDenied:
		r.Warnings = append(r.Warnings, "smartctl needs root; rerun with sudo or --sudo")
	}
	return render(r)
}
