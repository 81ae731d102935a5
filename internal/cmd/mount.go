package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/dendrascience/chunkfs/chunkfs"
	"github.com/dendrascience/chunkfs/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewMountCmd creates and returns the mount subcommand for the chunkfs CLI.
func NewMountCmd() *cobra.Command {
	var (
		cf         configFlags
		allowOther bool
		drain      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "mount BACKING_PATH MOUNTPOINT",
		Short: "Mount a chunkfs filesystem",
		Long: `Mount a chunkfs filesystem at the specified mountpoint.

BACKING_PATH is the directory holding the chunk files. It is created if
missing and locked for the lifetime of the mount.
MOUNTPOINT is the directory where the filesystem will be mounted.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMount(cmd, &cf, args[0], args[1], allowOther, drain)
		},
	}

	cf.register(cmd.Flags())
	cmd.Flags().BoolVar(&allowOther, "allow-other", false, "Allow other users to access the mount")
	cmd.Flags().DurationVar(&drain, "drain", 0, "On unmount, wait up to this long for queued chunks to be compressed")

	return cmd
}

func runMount(cmd *cobra.Command, cf *configFlags, backingPath, mountpoint string, allowOther bool, drain time.Duration) error {
	if pathsOverlap(backingPath, mountpoint) {
		return fmt.Errorf("backing path %s and mountpoint %s must not contain each other", backingPath, mountpoint)
	}
	cfg, logger, err := cf.load(cmd.Flags())
	if err != nil {
		return err
	}
	logger.Infof("chunkfs %s starting", version.GetFullVersion())

	if err := os.MkdirAll(backingPath, 0o755); err != nil {
		return fmt.Errorf("create backing directory: %w", err)
	}

	opts, err := chunkfs.OptionsFromConfig(cfg, logger)
	if err != nil {
		return err
	}
	compressor, err := chunkfs.NewCompressor(opts)
	if err != nil {
		return err
	}
	defer compressor.Close()

	storage, err := chunkfs.OpenStorage(backingPath, compressor, logger)
	if err != nil {
		return err
	}
	defer storage.Close()

	mountOpts := []fuse.MountOption{
		fuse.FSName("chunkfs"),
		fuse.Subtype("chunkfs"),
	}
	if allowOther {
		mountOpts = append(mountOpts, fuse.AllowOther())
	}
	c, err := fuse.Mount(mountpoint, mountOpts...)
	if err != nil {
		return err
	}
	defer c.Close()

	done := make(chan struct{})
	defer close(done)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
		case <-done:
			return
		}
		logger.Info("received interrupt signal, unmounting")
		if err := fuse.Unmount(mountpoint); err != nil {
			logger.WithError(err).Error("unmount failed")
		}
	}()

	logger.WithFields(logrus.Fields{
		"mountpoint": mountpoint,
		"backing":    storage.Root(),
		"codec":      cfg.Codec,
		"idle":       cfg.IdleThreshold,
	}).Info("mounted")

	if err := fs.Serve(c, chunkfs.NewFS(storage, logger)); err != nil {
		return err
	}

	if drain > 0 && compressor.Len() > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), drain)
		defer cancel()
		if err := compressor.Drain(ctx); err != nil {
			logger.WithError(err).Warn("compaction queue not drained")
		}
	}
	logger.WithField("queued", compressor.Len()).Info("shutdown complete")
	return nil
}

// pathsOverlap reports whether one path is the other or lies inside it.
// Mounting over the backing directory, or inside it, would make the mount
// see its own chunk files.
func pathsOverlap(a, b string) bool {
	absA, err := filepath.Abs(a)
	if err != nil {
		return true
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return true
	}
	return within(absA, absB) || within(absB, absA)
}

func within(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
