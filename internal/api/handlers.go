package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/whyaji/map-tile-converter/internal/chunker"
	"github.com/whyaji/map-tile-converter/internal/fetcher"
	"github.com/whyaji/map-tile-converter/internal/geometry"
	"github.com/whyaji/map-tile-converter/internal/jobs"
)

// Handler serves the archive generation API
type Handler struct {
	manager   *jobs.Manager
	validate  *validator.Validate
	outputDir string
}

// NewHandler creates the API handler. Reconstructed archives are written
// under outputDir.
func NewHandler(manager *jobs.Manager, outputDir string) *Handler {
	return &Handler{
		manager:   manager,
		validate:  validator.New(),
		outputDir: outputDir,
	}
}

// GenerateRequest is the body of POST /api/generate
type GenerateRequest struct {
	Region         string  `json:"region" validate:"required"`
	South          float64 `json:"south" validate:"min=-85.0511,max=85.0511"`
	West           float64 `json:"west" validate:"min=-180,max=180"`
	North          float64 `json:"north" validate:"min=-85.0511,max=85.0511"`
	East           float64 `json:"east" validate:"min=-180,max=180"`
	MinZoom        int     `json:"minZoom" validate:"min=0,max=22"`
	MaxZoom        int     `json:"maxZoom" validate:"min=0,max=22"`
	Provider       string  `json:"provider" validate:"required"`
	CustomTemplate string  `json:"customTemplate,omitempty"`
	ChunkSizeBytes int     `json:"chunkSizeBytes,omitempty" validate:"min=0"`
}

// GenerateResponse is returned with 202 Accepted once the pipeline is
// launched
type GenerateResponse struct {
	Job             *jobs.Job `json:"job"`
	EstimatedSizeMB float64   `json:"estimatedSizeMB"`
	ProgressURL     string    `json:"progressUrl"`
	EventsURL       string    `json:"eventsUrl"`
}

// ReconstructResponse reports the outcome of an archive reassembly
type ReconstructResponse struct {
	SizeBytes  int64  `json:"sizeBytes"`
	ChunksUsed int    `json:"chunksUsed"`
	OutputPath string `json:"outputPath"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError maps pipeline errors to HTTP status codes
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrJobNotFound), errors.Is(err, chunker.ErrMissingChunk):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, jobs.ErrJobActive),
		errors.Is(err, jobs.ErrJobTerminal),
		errors.Is(err, jobs.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, fetcher.ErrInvalidTemplate),
		errors.Is(err, chunker.ErrInvalidChunkSize),
		errors.Is(err, geometry.ErrInvalidBounds),
		errors.Is(err, geometry.ErrInvalidZoom):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// HandleGenerate starts an archive generation job
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation failed: "+err.Error())
		return
	}

	bbox := geometry.BoundingBox{
		South: req.South,
		West:  req.West,
		North: req.North,
		East:  req.East,
	}

	job, err := h.manager.StartGeneration(jobs.GenerationParams{
		Region:         req.Region,
		BBox:           bbox,
		MinZoom:        req.MinZoom,
		MaxZoom:        req.MaxZoom,
		Provider:       req.Provider,
		CustomTemplate: req.CustomTemplate,
		ChunkSizeBytes: req.ChunkSizeBytes,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, GenerateResponse{
		Job:             job,
		EstimatedSizeMB: geometry.EstimateDownloadSize(geometry.TileCount(bbox, req.MinZoom, req.MaxZoom)),
		ProgressURL:     "/api/jobs/" + job.ID,
		EventsURL:       "/api/events/" + job.ID,
	})
}

// HandleListJobs returns all jobs, newest first
func (h *Handler) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	list, err := h.manager.List()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleGetJob returns one job's full state
func (h *Handler) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandlePause requests a pause at the next batch boundary
func (h *Handler) HandlePause(w http.ResponseWriter, r *http.Request) {
	job, err := h.manager.Pause(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandleResume relaunches a paused job
func (h *Handler) HandleResume(w http.ResponseWriter, r *http.Request) {
	job, err := h.manager.Resume(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandleDeleteJob removes a job and its artifacts
func (h *Handler) HandleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Delete(r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetChunk serves one chunk's raw bytes
func (h *Handler) HandleGetChunk(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "chunk index must be an integer")
		return
	}

	data, err := h.manager.GetChunk(id, index)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", chunker.ChunkFilename(index)))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		log.Printf("[API] Failed to stream chunk %d of job %s: %v", index, id, err)
	}
}

// HandleVerify re-hashes all chunk files against the recorded manifest
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	result, err := h.manager.Verify(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleReconstruct reassembles the archive from its chunks into a file
// under the output directory
func (h *Handler) HandleReconstruct(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := os.MkdirAll(h.outputDir, 0755); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	outputPath := filepath.Join(h.outputDir, id+".tar.zst")
	f, err := os.Create(outputPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	size, used, err := h.manager.Reconstruct(id, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(outputPath)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ReconstructResponse{
		SizeBytes:  size,
		ChunksUsed: used,
		OutputPath: outputPath,
	})
}

// HandleDownloadArchive reassembles the archive and streams it directly
func (h *Handler) HandleDownloadArchive(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := h.manager.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if job.Status != jobs.StatusCompleted {
		writeError(w, http.StatusConflict, "archive is only available for completed jobs")
		return
	}

	w.Header().Set("Content-Type", "application/zstd")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", id+".tar.zst"))
	if _, _, err := h.manager.Reconstruct(id, w); err != nil {
		log.Printf("[API] Failed to stream archive for job %s: %v", id, err)
	}
}

// HandleEvents streams job progress as server-sent events until the job
// reaches a terminal state or the client disconnects
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.manager.Get(id); err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	rc := http.NewResponseController(w)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		job, err := h.manager.Get(id)
		if err != nil {
			return
		}

		payload, err := json.Marshal(job)
		if err != nil {
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}

		if job.Status.Terminal() {
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// HandleHealth is a liveness probe
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
