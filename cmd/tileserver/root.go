package main

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tileserver",
	Short: "Map tile archive generation service",
	Long: `Tileserver downloads map tiles for a geographic region, packages them
into a compressed archive and splits the archive into checksummed chunks
for reliable transfer.

It provides both CLI commands and an HTTP API:
- generate: run one archive generation from the command line
- serve: start the HTTP API server
- verify: check a job's chunk files against their recorded checksums
- reconstruct: reassemble a job's archive from its chunks

Configuration can be set via environment variables or a .env file.`,
}

// Execute runs the root command. Called once from main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (default $DATA_DIR or ~/.map-tile-converter)")
}
