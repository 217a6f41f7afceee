package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/deadsector/pkg/deadsector/config"
	"github.com/jamesainslie/deadsector/pkg/deadsector/output"
	"github.com/jamesainslie/deadsector/pkg/deadsector/quarantine"
	"github.com/jamesainslie/deadsector/pkg/deadsector/types"
)

var quarantineCmd = &cobra.Command{
	Use:   "quarantine",
	Short: "List or delete files kept by isolate",
	Long: `Manage the quarantine directory that 'deadsector isolate' creates at the
root of a filesystem.

Files named <stem>.quarantined.<suffix>.bad sit on sectors that failed to
read back. Deleting them returns those sectors to the filesystem.`,
}

var quarantineListCmd = &cobra.Command{
	Use:   "list <path>",
	Short: "List quarantined files",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuarantineList,
}

var quarantineDeleteCmd = &cobra.Command{
	Use:   "delete <path>",
	Short: "Permanently delete quarantined files",
	Long: `Delete one quarantined file (--name) or all of them (--all).

Deletion is permanent and asks for confirmation unless --yes is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runQuarantineDelete,
}

func init() {
	quarantineDeleteCmd.Flags().String("name", "", "base name of the file to delete")
	quarantineDeleteCmd.Flags().Bool("all", false, "delete every file in the quarantine directory")
	quarantineDeleteCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	quarantineDeleteCmd.MarkFlagsMutuallyExclusive("name", "all")
	quarantineDeleteCmd.MarkFlagsOneRequired("name", "all")

	quarantineCmd.AddCommand(quarantineListCmd)
	quarantineCmd.AddCommand(quarantineDeleteCmd)
	rootCmd.AddCommand(quarantineCmd)
}

func quarantineManager(cfg *config.Config, path string) (*quarantine.Manager, error) {
	target, err := resolveDir(path)
	if err != nil {
		return nil, err
	}
	return quarantine.New(filepath.Join(target, cfg.Quarantine.DirName), quarantine.Options{}), nil
}

func runQuarantineList(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mgr, err := quarantineManager(cfg, args[0])
	if err != nil {
		return err
	}

	files, err := mgr.List()
	if err != nil {
		return err
	}
	return render(&output.Report{Quarantine: &output.QuarantineListing{Dir: mgr.Dir(), Files: files}})
}

func runQuarantineDelete(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mgr, err := quarantineManager(cfg, args[0])
	if err != nil {
		return err
	}

	yes, _ := cmd.Flags().GetBool("yes")
	all, _ := cmd.Flags().GetBool("all")
	name, _ := cmd.Flags().GetString("name")

	files, err := mgr.List()
	if err != nil {
		return err
	}

	var deleted []types.QuarantinedFile
	if all {
		n, delErr := mgr.DeleteAll(confirmer(yes))
		if delErr == nil || n > 0 {
			deleted = deletedFiles(mgr, files)
		}
		err = delErr
	} else {
		err = mgr.Delete(name, confirmer(yes))
		if err == nil {
			for _, f := range files {
				if f.Name == name {
					deleted = append(deleted, f)
				}
			}
		}
	}

	for _, w := range recordDelete(cfg, mgr.Dir(), deleted) {
		printInfo("Warning: %s", w)
	}

	switch {
	case err == nil:
		if len(deleted) == 0 {
			printInfo("Quarantine is empty: %s", mgr.Dir())
			return nil
		}
		var total int64
		for _, f := range deleted {
			total += f.Size
		}
		printInfo("Deleted %d files (%s) from %s", len(deleted), types.FormatSize(total), mgr.Dir())
		return nil
	case errors.Is(err, quarantine.ErrDeclined):
		printInfo("Cancelled.")
		return nil
	case errors.Is(err, ErrAborted):
		printInfo("Aborted.")
		return nil
	case errors.Is(err, quarantine.ErrConfirmationRequired):
		return fmt.Errorf("%w: pass --yes to delete without a terminal", err)
	default:
		return err
	}
}

// deletedFiles returns the entries of before that no longer exist.
func deletedFiles(mgr *quarantine.Manager, before []types.QuarantinedFile) []types.QuarantinedFile {
	after, err := mgr.List()
	if err != nil {
		return nil
	}
	remaining := make(map[string]bool, len(after))
	for _, f := range after {
		remaining[f.Name] = true
	}
	var gone []types.QuarantinedFile
	for _, f := range before {
		if !remaining[f.Name] {
			gone = append(gone, f)
		}
	}
	return gone
}
