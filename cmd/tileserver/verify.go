package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
)

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:   "verify <job-id>",
	Short: "Check a job's chunk files against their recorded checksums",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)

		manager, _, err := buildManager(cfg)
		if err != nil {
			log.Fatalf("Failed to initialize: %v", err)
		}
		defer manager.Close()

		result, err := manager.Verify(args[0])
		if err != nil {
			log.Fatalf("Verify failed: %v", err)
		}

		fmt.Printf("Valid chunks:   %d\n", result.ValidCount)
		fmt.Printf("Invalid chunks: %d\n", result.InvalidCount)
		if !result.IsValid {
			fmt.Println("Integrity check FAILED")
			os.Exit(1)
		}
		fmt.Println("Integrity check passed")
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
