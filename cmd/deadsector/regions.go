package main

import (
	"github.com/spf13/cobra"

	"github.com/jamesainslie/deadsector/pkg/deadsector/output"
	"github.com/jamesainslie/deadsector/pkg/deadsector/regions"
)

var regionsCmd = &cobra.Command{
	Use:   "regions [device]",
	Short: "Show bad regions remembered from earlier scans",
	Long: `Every raw scan adds its failed offsets to a persistent index. Without an
argument this lists the devices in the index; with a device it lists the
remembered offsets, how many scans hit each one, and when.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRegions,
}

var regionsClearCmd = &cobra.Command{
	Use:   "clear <device>",
	Short: "Forget the bad regions of a device",
	Args:  cobra.ExactArgs(1),
	RunE:  runRegionsClear,
}

func init() {
	regionsCmd.AddCommand(regionsClearCmd)
	rootCmd.AddCommand(regionsCmd)
}

func openRegions() (*regions.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return regions.OpenStore(cfg.Regions.Path)
}

func runRegions(_ *cobra.Command, args []string) error {
	store, err := openRegions()
	if err != nil {
		return err
	}
	defer store.Close()

	listing := &output.RegionListing{}
	if len(args) == 0 {
		listing.Devices, err = store.Devices()
	} else {
		listing.Device = args[0]
		listing.Regions, err = store.List(args[0])
	}
	if err != nil {
		return err
	}
	return render(&output.Report{Regions: listing})
}

func runRegionsClear(_ *cobra.Command, args []string) error {
	store, err := openRegions()
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.Clear(args[0])
	if err != nil {
		return err
	}
	printInfo("Removed %d regions of %s", n, args[0])
	return nil
}
