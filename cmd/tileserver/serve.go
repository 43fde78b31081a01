package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/whyaji/map-tile-converter/internal/api"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start an HTTP server exposing the archive generation API:
  POST /api/generate          - start generating an archive for a region
  GET  /api/jobs              - list all jobs
  GET  /api/jobs/{id}         - job state and progress
  POST /api/jobs/{id}/pause   - pause at the next batch boundary
  POST /api/jobs/{id}/resume  - resume a paused job
  GET  /api/jobs/{id}/verify  - check chunk checksums
  GET  /api/events/{id}       - server-sent progress events

Interrupted jobs found on disk at startup are parked as paused.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)

		manager, _, err := buildManager(cfg)
		if err != nil {
			log.Fatalf("[Server] Failed to initialize: %v", err)
		}

		handler := api.NewHandler(manager, outputDir(cfg))
		router := api.NewRouter(handler, api.RouterOptions{
			RateLimit:       cfg.RateLimit.Limit,
			RateLimitWindow: cfg.RateLimit.Window,
		})

		srv := &http.Server{
			Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		}

		go func() {
			log.Printf("[Server] Listening on %s (data dir: %s)", srv.Addr, cfg.Generator.DataDir)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("[Server] %v", err)
			}
		}()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop

		log.Printf("[Server] Shutting down, parking running jobs")
		manager.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("[Server] Shutdown error: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
