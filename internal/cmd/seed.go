package cmd

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"os"
	"path"
	"strings"

	"github.com/dendrascience/chunkfs/chunkfs"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewSeedCmd creates and returns the seed subcommand for the chunkfs CLI.
// It writes test files straight into a backing directory.
func NewSeedCmd() *cobra.Command {
	var (
		outputPath string
		fileCount  int
		maxSize    int64
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Generate test files in a backing directory",
		Long: `Generate logical files for testing chunkfs without mounting it.

Files are written through the chunk layout into a few subdirectories.
Half of them contain repeated UUID lines and compress well; the other half
are random bytes that do not. Sizes are random up to --max-size, so most
files span several chunks.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.OutOrStdout(), outputPath, fileCount, maxSize, verbose)
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Path to backing directory (required)")
	cmd.Flags().IntVarP(&fileCount, "count", "c", 20, "Number of files to generate")
	cmd.Flags().Int64Var(&maxSize, "max-size", 3*chunkfs.ChunkSize+chunkfs.ChunkSize/2, "Largest file size in bytes")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	cmd.MarkFlagRequired("output")

	return cmd
}

func runSeed(out io.Writer, outputPath string, fileCount int, maxSize int64, verbose bool) error {
	if maxSize < 1 {
		return fmt.Errorf("max-size must be positive")
	}
	if err := os.MkdirAll(outputPath, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	opts := chunkfs.DefaultCompressorOptions()
	opts.Logger = logger
	compressor, err := chunkfs.NewCompressor(opts)
	if err != nil {
		return err
	}
	defer compressor.Close()
	storage, err := chunkfs.OpenStorage(outputPath, compressor, logger)
	if err != nil {
		return err
	}
	defer storage.Close()

	// Pool of UUIDs for the compressible files
	uuidPool := make([]string, 50)
	for i := range uuidPool {
		uuidPool[i] = uuid.New().String()
	}

	dirs := []string{"", "alpha", "alpha/nested", "beta"}
	for _, d := range dirs[1:] {
		if !storage.Exists(d) {
			if err := storage.Mkdir(d); err != nil {
				return err
			}
		}
	}

	var total int64
	for i := 0; i < fileCount; i++ {
		size := randInt(maxSize) + 1
		compressible := i%2 == 0
		ext := ".bin"
		if compressible {
			ext = ".txt"
		}
		name := path.Join(dirs[i%len(dirs)], fmt.Sprintf("seed-%04d%s", i, ext))

		var content []byte
		if compressible {
			content = uuidContent(uuidPool, size)
		} else {
			content = make([]byte, size)
			if _, err := rand.Read(content); err != nil {
				return err
			}
		}

		f, err := storage.Open(name, chunkfs.ModeCreate, true)
		if err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
		if _, err := f.Write(content, 0); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", name, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close %s: %w", name, err)
		}
		total += size

		if verbose {
			fmt.Fprintf(out, "Created %s (%d bytes)\n", name, size)
		}
	}

	fmt.Fprintf(out, "Created %d files, %d bytes\n", fileCount, total)
	return nil
}

func uuidContent(pool []string, size int64) []byte {
	var b strings.Builder
	b.Grow(int(size) + 37)
	for int64(b.Len()) < size {
		b.WriteString(pool[randInt(int64(len(pool)))])
		b.WriteByte('\n')
	}
	return []byte(b.String()[:size])
}

func randInt(n int64) int64 {
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0
	}
	return v.Int64()
}
