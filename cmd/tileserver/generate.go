package main

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/whyaji/map-tile-converter/internal/geometry"
	"github.com/whyaji/map-tile-converter/internal/jobs"
)

// generateCmd represents the generate command
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a tile archive for a region",
	Long: `Download all tiles covering a bounding box across a zoom range,
package them into a compressed archive and split it into checksummed
chunks. Blocks until the job finishes.

Examples:
  tileserver generate --region "kotawaringin barat" \
    --south -2.70 --west 111.60 --north -2.50 --east 111.80 \
    --min-zoom 12 --max-zoom 14

  tileserver generate --region demo --provider custom \
    --template "https://tiles.example.com/{z}/{x}/{y}.png" \
    --south -1 --west 110 --north 0 --east 111 --min-zoom 10 --max-zoom 12`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)

		region, _ := cmd.Flags().GetString("region")
		south, _ := cmd.Flags().GetFloat64("south")
		west, _ := cmd.Flags().GetFloat64("west")
		north, _ := cmd.Flags().GetFloat64("north")
		east, _ := cmd.Flags().GetFloat64("east")
		minZoom, _ := cmd.Flags().GetInt("min-zoom")
		maxZoom, _ := cmd.Flags().GetInt("max-zoom")
		provider, _ := cmd.Flags().GetString("provider")
		template, _ := cmd.Flags().GetString("template")
		chunkSize, _ := cmd.Flags().GetInt("chunk-size")

		bbox := geometry.BoundingBox{South: south, West: west, North: north, East: east}
		tileCount := geometry.TileCount(bbox, minZoom, maxZoom)
		fmt.Printf("Region: %s\n", region)
		fmt.Printf("Tiles: %d (~%.1f MB)\n", tileCount, geometry.EstimateDownloadSize(tileCount))

		manager, _, err := buildManager(cfg)
		if err != nil {
			log.Fatalf("Failed to initialize: %v", err)
		}
		defer manager.Close()

		job, err := manager.StartGeneration(jobs.GenerationParams{
			Region:         region,
			BBox:           bbox,
			MinZoom:        minZoom,
			MaxZoom:        maxZoom,
			Provider:       provider,
			CustomTemplate: template,
			ChunkSizeBytes: chunkSize,
		})
		if err != nil {
			log.Fatalf("Failed to start generation: %v", err)
		}
		fmt.Printf("Job: %s\n", job.ID)

		lastPercent := -1
		for {
			current, err := manager.Get(job.ID)
			if err != nil {
				log.Fatalf("Lost track of job: %v", err)
			}
			if current.ProgressPercent != lastPercent {
				fmt.Printf("  %3d%%  %s  (%d/%d tiles, %d failed)\n",
					current.ProgressPercent, current.Status,
					current.DownloadedTiles, current.TotalTiles, current.FailedTiles)
				lastPercent = current.ProgressPercent
			}
			if current.Status.Terminal() {
				if current.Status == jobs.StatusError {
					log.Fatalf("Generation failed: %s", current.Error)
				}
				fmt.Printf("Done: %d bytes in %d chunks under %s\n",
					current.TotalSizeBytes, len(current.Chunks), cfg.Generator.DataDir)
				return
			}
			time.Sleep(250 * time.Millisecond)
		}
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().String("region", "", "Region name (required)")
	generateCmd.Flags().Float64("south", 0, "South latitude (required)")
	generateCmd.Flags().Float64("west", 0, "West longitude (required)")
	generateCmd.Flags().Float64("north", 0, "North latitude (required)")
	generateCmd.Flags().Float64("east", 0, "East longitude (required)")
	generateCmd.MarkFlagRequired("region")
	generateCmd.MarkFlagRequired("south")
	generateCmd.MarkFlagRequired("west")
	generateCmd.MarkFlagRequired("north")
	generateCmd.MarkFlagRequired("east")

	generateCmd.Flags().Int("min-zoom", 12, "Minimum zoom level")
	generateCmd.Flags().Int("max-zoom", 14, "Maximum zoom level")
	generateCmd.Flags().String("provider", "osm", "Tile provider (osm, esri_world_imagery, opentopomap, custom)")
	generateCmd.Flags().String("template", "", "URL template for the custom provider ({z}/{x}/{y})")
	generateCmd.Flags().Int("chunk-size", 0, "Chunk size in bytes (default from config)")
}
