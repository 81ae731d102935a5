package cmd

import (
	"fmt"
	"io"

	"github.com/dendrascience/chunkfs/chunkfs"
	"github.com/spf13/cobra"
)

// NewStatCmd creates and returns the stat subcommand for the chunkfs CLI.
// It summarizes how much of a backing directory is compressed.
func NewStatCmd() *cobra.Command {
	var showProgress bool

	cmd := &cobra.Command{
		Use:   "stat BACKING_PATH",
		Short: "Summarize a backing directory",
		Long: `Walk a backing directory and report the number of logical files, their
total logical size, the bytes actually used by chunk files, and how many
chunks are plain or compressed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := collectStats(cmd.OutOrStdout(), args[0], showProgress)
			if err != nil {
				return err
			}
			s.print(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().BoolVar(&showProgress, "progress", false, "Show progress every 10,000 files")

	return cmd
}

type storageStats struct {
	files            int
	orphans          int
	plainChunks      int
	compressedChunks int
	logicalBytes     int64
	physicalBytes    int64
}

func collectStats(out io.Writer, root string, showProgress bool) (storageStats, error) {
	var s storageStats
	err := chunkfs.Walk(root, func(fam chunkfs.Family) error {
		if !fam.HasMeta {
			s.orphans++
			return nil
		}
		s.files++
		s.logicalBytes += fam.LogicalSize()
		s.physicalBytes += fam.PhysicalSize()
		for _, c := range fam.Chunks {
			if c.Plain {
				s.plainChunks++
			}
			if c.Compressed {
				s.compressedChunks++
			}
		}
		if showProgress && s.files%10000 == 0 {
			fmt.Fprintf(out, "Progress: %d files scanned\n", s.files)
		}
		return nil
	})
	return s, err
}

func (s storageStats) print(out io.Writer) {
	fmt.Fprintf(out, "Files:             %d\n", s.files)
	if s.orphans > 0 {
		fmt.Fprintf(out, "Orphaned chunks:   %d names\n", s.orphans)
	}
	fmt.Fprintf(out, "Plain chunks:      %d\n", s.plainChunks)
	fmt.Fprintf(out, "Compressed chunks: %d\n", s.compressedChunks)
	fmt.Fprintf(out, "Logical size:      %d bytes\n", s.logicalBytes)
	fmt.Fprintf(out, "On disk:           %d bytes\n", s.physicalBytes)
	if s.logicalBytes > 0 {
		fmt.Fprintf(out, "Ratio:             %.1f%%\n", 100*float64(s.physicalBytes)/float64(s.logicalBytes))
	}
}
