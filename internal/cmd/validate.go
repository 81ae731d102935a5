package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dendrascience/chunkfs/chunkfs"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
)

// NewValidateCmd creates and returns the validate subcommand for the chunkfs CLI.
// It checks a backing directory against the chunk layout rules.
func NewValidateCmd() *cobra.Command {
	var (
		verbose bool
		repair  bool
	)

	cmd := &cobra.Command{
		Use:   "validate BACKING_PATH",
		Short: "Check a backing directory for layout inconsistencies",
		Long: `Check every logical file in a backing directory for:
  - chunks without a meta marker (orphans)
  - chunks present both plain and compressed
  - missing chunks below the last one
  - chunks other than the last that are shorter than 1 MiB
  - chunks larger than 1 MiB

With --repair, stale compressed copies of chunks that also exist plain are
removed. Repair locks the backing directory, so it cannot run on a mounted
directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := args[0]
			if repair {
				lock := flock.New(filepath.Join(root, chunkfs.LockFileName))
				held, err := lock.TryLock()
				if err != nil {
					return err
				}
				if !held {
					return fmt.Errorf("%s: %w", root, chunkfs.ErrStorageLocked)
				}
				defer lock.Unlock()
			}
			report, err := runValidate(cmd.OutOrStdout(), root, verbose, repair)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Checked %d files: %d problems, %d repaired\n", report.files, report.problems, report.repaired)
			if report.problems > report.repaired {
				return fmt.Errorf("%d unrepaired problems", report.problems-report.repaired)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "List every file checked")
	cmd.Flags().BoolVarP(&repair, "repair", "r", false, "Remove stale compressed copies")

	return cmd
}

type validateReport struct {
	files    int
	problems int
	repaired int
}

func runValidate(out io.Writer, root string, verbose, repair bool) (validateReport, error) {
	var report validateReport
	if info, err := os.Stat(root); err != nil {
		return report, err
	} else if !info.IsDir() {
		return report, fmt.Errorf("%s is not a directory", root)
	}

	err := chunkfs.Walk(root, func(fam chunkfs.Family) error {
		report.files++
		problems := fam.Problems()
		if verbose && len(problems) == 0 {
			fmt.Fprintf(out, "ok      %s\n", fam.Prefix())
		}
		for _, p := range problems {
			report.problems++
			fmt.Fprintf(out, "problem %s: %s\n", fam.Prefix(), p)
			if !repair || p.Kind != chunkfs.ProblemBothForms {
				continue
			}
			stale := chunkfs.CompressedPath(chunkfs.ChunkPath(fam.Prefix(), p.Index))
			if err := os.Remove(stale); err != nil && !os.IsNotExist(err) {
				return err
			}
			report.repaired++
			fmt.Fprintf(out, "repaired %s\n", stale)
		}
		return nil
	})
	return report, err
}
