// Package cmd provides the command-line interface implementation for chunkfs.
//
// Each subcommand lives in its own file with a constructor returning a
// *cobra.Command; NewRootCmd wires them together and main hands the root
// to Fang for styled help and error output.
//
// The commands are:
//   - mount: serve a backing directory over FUSE
//   - compact: offline compression of idle chunks
//   - validate: layout consistency checks with optional repair
//   - stat: size and compression summary
//   - seed: test data generation
//
// Commands that run a compactor share the --config, --codec, --queue-mode,
// --idle and --log-level flags.
package cmd
