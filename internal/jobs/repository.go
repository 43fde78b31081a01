package jobs

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Repository is the durable registry of job records, keyed by job id.
// Implementations must be safe for concurrent use; the Manager layers
// per-job write serialization on top.
type Repository interface {
	Get(id string) (*Job, error)
	Put(job *Job) error
	List() ([]*Job, error)
	Delete(id string) error
}

// FileRepository keeps an in-memory index backed by one JSON file per job
type FileRepository struct {
	dir  string
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewFileRepository loads existing job records from dir
func NewFileRepository(dir string) (*FileRepository, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create jobs directory: %w", err)
	}

	repo := &FileRepository{
		dir:  dir,
		jobs: make(map[string]*Job),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("[Jobs] Failed to read job file %s: %v", entry.Name(), err)
			continue
		}
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			log.Printf("[Jobs] Failed to parse job file %s: %v", entry.Name(), err)
			continue
		}
		repo.jobs[job.ID] = &job
	}

	log.Printf("[Jobs] Loaded %d job records from disk", len(repo.jobs))
	return repo, nil
}

func (r *FileRepository) jobPath(id string) string {
	return filepath.Join(r.dir, id+".json")
}

// Get returns a copy of the job record
func (r *FileRepository) Get(id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job.clone(), nil
}

// Put stores the job record and persists it to disk
func (r *FileRepository) Put(job *Job) error {
	stored := job.clone()

	r.mu.Lock()
	r.jobs[stored.ID] = stored
	r.mu.Unlock()

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := os.WriteFile(r.jobPath(stored.ID), data, 0644); err != nil {
		return fmt.Errorf("failed to write job file: %w", err)
	}
	return nil
}

// List returns copies of all job records, newest first
func (r *FileRepository) List() ([]*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		result = append(result, job.clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Delete removes a job record from the index and from disk
func (r *FileRepository) Delete(id string) error {
	r.mu.Lock()
	_, ok := r.jobs[id]
	delete(r.jobs, id)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if err := os.Remove(r.jobPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove job file: %w", err)
	}
	return nil
}
