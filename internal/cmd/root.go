package cmd

import (
	"github.com/dendrascience/chunkfs/version"
	"github.com/spf13/cobra"
)

// NewRootCmd creates and returns the root cobra command for the chunkfs CLI.
// It sets up all subcommands, command groups, and basic configuration.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chunkfs",
		Short: "chunkfs - A FUSE filesystem that stores files as compressed 1 MiB chunks",
		Long: `chunkfs is a FUSE filesystem that stores every file as a sequence of 1 MiB
chunk files in a backing directory. Chunks that stay unwritten for a while
are compressed in the background and decompressed on access.

Because a change to a large file only rewrites the chunks it touches,
incremental backup tools run against the backing directory copy little
more than what actually changed.

Use subcommands to perform different operations:
  - mount: Mount a backing directory at a mountpoint
  - compact: Compress idle chunks of an unmounted backing directory
  - validate: Check a backing directory for layout inconsistencies
  - stat: Summarize sizes and compression of a backing directory
  - seed: Generate test files in a backing directory`,
		Version: version.GetFullVersion(),
	}

	groupUtilities := "utilities"
	groupFilesystem := "filesystem"

	rootCmd.AddGroup(&cobra.Group{
		ID:    groupFilesystem,
		Title: "Filesystem Operations",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    groupUtilities,
		Title: "Utility Commands",
	})

	mountCmd := NewMountCmd()
	compactCmd := NewCompactCmd()
	validateCmd := NewValidateCmd()
	statCmd := NewStatCmd()
	seedCmd := NewSeedCmd()

	mountCmd.GroupID = groupFilesystem
	compactCmd.GroupID = groupFilesystem
	validateCmd.GroupID = groupUtilities
	statCmd.GroupID = groupUtilities
	seedCmd.GroupID = groupUtilities

	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(seedCmd)

	return rootCmd
}
