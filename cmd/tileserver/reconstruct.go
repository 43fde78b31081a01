package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// reconstructCmd represents the reconstruct command
var reconstructCmd = &cobra.Command{
	Use:   "reconstruct <job-id>",
	Short: "Reassemble a job's archive from its chunks",
	Long: `Reassemble the compressed tile archive from a job's chunk files,
in chunk index order, and write it to a single output file.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		id := args[0]

		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			output = filepath.Join(outputDir(cfg), id+".tar.zst")
		}

		manager, _, err := buildManager(cfg)
		if err != nil {
			log.Fatalf("Failed to initialize: %v", err)
		}
		defer manager.Close()

		if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
			log.Fatalf("Failed to create output directory: %v", err)
		}
		f, err := os.Create(output)
		if err != nil {
			log.Fatalf("Failed to create output file: %v", err)
		}

		size, used, err := manager.Reconstruct(id, f)
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(output)
			log.Fatalf("Reconstruct failed: %v", err)
		}

		fmt.Printf("Wrote %d bytes from %d chunks to %s\n", size, used, output)
	},
}

func init() {
	rootCmd.AddCommand(reconstructCmd)
	reconstructCmd.Flags().StringP("output", "o", "", "Output file path (default <data-dir>/reconstructed/<job-id>.tar.zst)")
}
