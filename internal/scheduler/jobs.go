package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/printfarm/farmd/internal/events"
	"github.com/printfarm/farmd/internal/graph"
	"github.com/printfarm/farmd/internal/matcher"
	"github.com/printfarm/farmd/internal/models"
)

var ErrInvalidJob = errors.New("invalid job")

type JobRequest struct {
	Name             string     `json:"name"`
	Priority         *int       `json:"priority,omitempty"`
	Deadline         *time.Time `json:"deadline,omitempty"`
	EstimatedMinutes int        `json:"estimated_duration"`
	RequiredMaterial string     `json:"required_material,omitempty"`
	MaterialNeededG  float64    `json:"material_needed_g,omitempty"`
	DimensionsXMM    float64    `json:"dimensions_x_mm,omitempty"`
	DimensionsYMM    float64    `json:"dimensions_y_mm,omitempty"`
	ProjectID        string     `json:"project_id,omitempty"`
	ParentJobID      string     `json:"parent_job_id,omitempty"`
}

func (r *JobRequest) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidJob)
	}
	if r.Priority != nil && (*r.Priority < 0 || *r.Priority > 10) {
		return fmt.Errorf("%w: priority must be between 0 and 10", ErrInvalidJob)
	}
	if r.EstimatedMinutes < 0 || r.MaterialNeededG < 0 || r.DimensionsXMM < 0 || r.DimensionsYMM < 0 {
		return fmt.Errorf("%w: negative duration, material or dimensions", ErrInvalidJob)
	}
	return nil
}

// SubmitJob creates a PENDING job.
func (s *Scheduler) SubmitJob(ctx context.Context, req JobRequest) (*models.Job, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	priority := 5
	if req.Priority != nil {
		priority = *req.Priority
	}

	for _, ref := range []struct{ table, id string }{{"projects", req.ProjectID}, {"jobs", req.ParentJobID}} {
		if ref.id == "" {
			continue
		}
		var exists int
		err := s.db.QueryRow("SELECT 1 FROM "+ref.table+" WHERE id = ?", ref.id).Scan(&exists)
		if err == sql.ErrNoRows {
			if ref.table == "projects" {
				return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, ref.id)
			}
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, ref.id)
		}
		if err != nil {
			return nil, err
		}
	}

	job := &models.Job{
		ID:               uuid.New().String(),
		Name:             strings.TrimSpace(req.Name),
		Status:           models.JobStatusPending,
		Priority:         priority,
		Deadline:         req.Deadline,
		EstimatedMinutes: req.EstimatedMinutes,
		RequiredMaterial: req.RequiredMaterial,
		MaterialNeededG:  req.MaterialNeededG,
		DimensionsXMM:    req.DimensionsXMM,
		DimensionsYMM:    req.DimensionsYMM,
		CreatedAt:        s.now().UTC(),
	}
	if req.ProjectID != "" {
		job.ProjectID = &req.ProjectID
	}
	if req.ParentJobID != "" {
		job.ParentJobID = &req.ParentJobID
	}

	_, err := s.db.Exec(`
		INSERT INTO jobs (id, name, status, priority, deadline, estimated_duration, required_material,
			material_needed_g, dimensions_x_mm, dimensions_y_mm, project_id, parent_job_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.Name, job.Status, job.Priority, utc(job.Deadline), job.EstimatedMinutes, job.RequiredMaterial,
		job.MaterialNeededG, job.DimensionsXMM, job.DimensionsYMM, job.ProjectID, job.ParentJobID, job.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting job: %w", err)
	}

	jobID := job.ID
	s.events.Emit(events.TypeJobSubmitted, &jobID, nil, map[string]any{
		"name":       job.Name,
		"priority":   job.Priority,
		"project_id": job.ProjectID,
	})
	return job, nil
}

// Jobs lists jobs by descending score. An empty status lists every job.
func (s *Scheduler) Jobs(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	if status == "" {
		return loadJobs(s.db, "1 = 1 ORDER BY priority_score DESC, created_at ASC, id ASC")
	}
	return loadJobs(s.db, "status = ? ORDER BY priority_score DESC, created_at ASC, id ASC", status)
}

func (s *Scheduler) Job(ctx context.Context, id string) (*models.Job, error) {
	return loadJob(s.db, id)
}

// DependentCounts maps each job id to the number of edges that depend on it.
// Jobs nothing depends on are absent.
func (s *Scheduler) DependentCounts(ctx context.Context) (map[string]int, error) {
	deps, err := loadDependencies(s.db)
	if err != nil {
		return nil, err
	}
	g := graph.New(deps)
	counts := make(map[string]int)
	for _, d := range deps {
		if _, seen := counts[d.DependsOnID]; !seen {
			counts[d.DependsOnID] = g.DependentCount(d.DependsOnID)
		}
	}
	return counts, nil
}

// Printers returns every printer with its windows, loaded spool and queue.
func (s *Scheduler) Printers(ctx context.Context) ([]*matcher.Machine, error) {
	return loadMachines(s.db)
}

// Now is the scheduler's clock.
func (s *Scheduler) Now() time.Time {
	return s.now()
}

// LocalNow is Now in the zone printer time windows are read in.
func (s *Scheduler) LocalNow() time.Time {
	return s.now().In(s.loc)
}
