package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dendrascience/chunkfs/chunkfs"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewCompactCmd creates and returns the compact subcommand for the chunkfs CLI.
// It compresses idle full chunks of an unmounted backing directory.
func NewCompactCmd() *cobra.Command {
	var (
		cf     configFlags
		force  bool
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "compact BACKING_PATH",
		Short: "Compress idle chunks of an unmounted backing directory",
		Long: `Compress every full plain chunk that has been idle for at least the idle
threshold. Chunks left plain when a mount shut down with a non-empty
compaction queue are picked up here.

The backing directory is locked while compacting, so this fails if the
directory is currently mounted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := cf.load(cmd.Flags())
			if err != nil {
				return err
			}
			opts, err := chunkfs.OptionsFromConfig(cfg, logger)
			if err != nil {
				return err
			}
			if force {
				opts.IdleThreshold = 0
			}
			stats, err := runCompact(cmd.OutOrStdout(), args[0], opts, dryRun)
			if err != nil {
				return err
			}
			logger.WithFields(logrus.Fields{
				"candidates": stats.candidates,
				"compressed": stats.compressed,
				"kept_plain": stats.keptPlain,
				"too_young":  stats.tooYoung,
				"failed":     stats.failed,
			}).Info("compaction finished")
			if stats.failed > 0 {
				return fmt.Errorf("%d chunks failed to compress", stats.failed)
			}
			return nil
		},
	}

	cf.register(cmd.Flags())
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Compress full chunks regardless of their age")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List the chunks that would be compressed without changing anything")

	return cmd
}

type compactStats struct {
	candidates int
	compressed int
	keptPlain  int
	tooYoung   int
	failed     int
}

func runCompact(out io.Writer, root string, opts chunkfs.CompressorOptions, dryRun bool) (compactStats, error) {
	var stats compactStats
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	compressor, err := chunkfs.NewCompressor(opts)
	if err != nil {
		return stats, err
	}
	defer compressor.Close()

	storage, err := chunkfs.OpenStorage(root, compressor, opts.Logger)
	if err != nil {
		return stats, err
	}
	defer storage.Close()

	cutoff := time.Now().Add(-opts.IdleThreshold)
	err = chunkfs.Walk(storage.Root(), func(fam chunkfs.Family) error {
		if !fam.HasMeta {
			return nil
		}
		for _, idx := range fam.Indices() {
			c := fam.Chunks[idx]
			if !c.Plain || c.Size != chunkfs.ChunkSize {
				continue
			}
			path := chunkfs.ChunkPath(fam.Prefix(), idx)
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			if opts.IdleThreshold > 0 && info.ModTime().After(cutoff) {
				stats.tooYoung++
				continue
			}
			stats.candidates++
			if dryRun {
				fmt.Fprintln(out, path)
				continue
			}
			if err := compressor.Compress(path); err != nil {
				opts.Logger.WithField("chunk", path).WithError(err).Warn("compression failed")
				stats.failed++
				continue
			}
			if _, err := os.Stat(path); os.IsNotExist(err) {
				stats.compressed++
			} else {
				stats.keptPlain++
			}
		}
		return nil
	})
	return stats, err
}
