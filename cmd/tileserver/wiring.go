package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/whyaji/map-tile-converter/internal/analytics"
	"github.com/whyaji/map-tile-converter/internal/config"
	"github.com/whyaji/map-tile-converter/internal/fetcher"
	"github.com/whyaji/map-tile-converter/internal/jobs"
	"github.com/whyaji/map-tile-converter/internal/regions"
	"github.com/whyaji/map-tile-converter/internal/store"
)

// loadConfig reads the environment configuration and applies flag overrides
func loadConfig(cmd *cobra.Command) *config.Config {
	cfg := config.Load()
	if cmd.Flags().Changed("data-dir") {
		cfg.Generator.DataDir, _ = cmd.Flags().GetString("data-dir")
	}
	return cfg
}

// buildManager wires the storage, repository and pipeline for one process
func buildManager(cfg *config.Config) (*jobs.Manager, *store.Store, error) {
	st, err := store.New(cfg.Generator.DataDir)
	if err != nil {
		return nil, nil, err
	}
	repo, err := jobs.NewFileRepository(st.JobsDir())
	if err != nil {
		return nil, nil, err
	}

	tracker := analytics.New(cfg.Analytics.PostHogKey, cfg.Analytics.PostHogEndpoint, "tileserver")

	m := jobs.NewManager(repo, st, regions.NewResolver(), tracker, jobs.Config{
		FetchOptions: fetcher.Options{
			Concurrency: cfg.Generator.Concurrency,
			Timeout:     cfg.Generator.TileTimeout,
			BatchDelay:  cfg.Generator.BatchDelay,
		},
		DefaultChunkSize: cfg.Generator.ChunkSizeBytes,
	})
	return m, st, nil
}

// outputDir is where reconstructed archives land
func outputDir(cfg *config.Config) string {
	return filepath.Join(cfg.Generator.DataDir, "reconstructed")
}
