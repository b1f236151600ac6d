package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/printfarm/farmd/internal/config"
	"github.com/printfarm/farmd/internal/cpm"
	"github.com/printfarm/farmd/internal/db"
	"github.com/printfarm/farmd/internal/events"
	"github.com/printfarm/farmd/internal/graph"
	"github.com/printfarm/farmd/internal/matcher"
	"github.com/printfarm/farmd/internal/models"
	"github.com/printfarm/farmd/internal/priority"
)

var (
	ErrJobNotFound        = errors.New("job not found")
	ErrDependencyNotFound = errors.New("dependency not found")
	ErrProjectNotFound    = errors.New("project not found")
	ErrInvalidTransition  = errors.New("invalid job state transition")
)

// Scheduler runs the scheduling passes against the database. Passes that
// mutate jobs or printers hold mu, so at most one runs at a time.
type Scheduler struct {
	db     *db.DB
	events events.Emitter
	cfg    config.SchedulerConfig
	loc    *time.Location
	now    func() time.Time

	mu          sync.Mutex
	cycleStreak map[string]int
}

func New(database *db.DB, em events.Emitter, cfg config.SchedulerConfig) *Scheduler {
	loc, err := cfg.Location()
	if err != nil {
		log.Printf("Scheduler: unknown timezone %q, using local time: %v", cfg.Timezone, err)
		loc = time.Local
	}
	return &Scheduler{
		db:          database,
		events:      em,
		cfg:         cfg.WithDefaults(),
		loc:         loc,
		now:         time.Now,
		cycleStreak: make(map[string]int),
	}
}

// Run starts the periodic passes and blocks until ctx is done. It returns
// immediately when the scheduler is disabled.
func (s *Scheduler) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		log.Printf("Scheduler: disabled by configuration")
		return
	}

	priorityTicker := time.NewTicker(s.cfg.PriorityInterval)
	defer priorityTicker.Stop()
	assignTicker := time.NewTicker(s.cfg.AssignInterval)
	defer assignTicker.Stop()
	deadlineTicker := time.NewTicker(s.cfg.DeadlineInterval)
	defer deadlineTicker.Stop()
	completionTicker := time.NewTicker(s.cfg.CompletionInterval)
	defer completionTicker.Stop()
	windowTicker := time.NewTicker(s.cfg.TimeWindowInterval)
	defer windowTicker.Stop()

	// Scores feed the first assignment pass.
	s.runRecompute(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-priorityTicker.C:
			s.runRecompute(ctx)
		case <-assignTicker.C:
			if _, err := s.AssignPendingJobs(ctx); err != nil {
				log.Printf("Scheduler: assignment pass failed: %v", err)
			}
		case <-deadlineTicker.C:
			if _, err := s.CheckDeadlines(ctx); err != nil {
				log.Printf("Scheduler: deadline check failed: %v", err)
			}
		case <-completionTicker.C:
			if _, err := s.CompleteFinishedJobs(ctx); err != nil {
				log.Printf("Scheduler: completion check failed: %v", err)
			}
		case <-windowTicker.C:
			if _, err := s.CheckTimeWindows(ctx); err != nil {
				log.Printf("Scheduler: time window check failed: %v", err)
			}
		}
	}
}

func (s *Scheduler) runRecompute(ctx context.Context) {
	if _, err := s.RecomputeCriticalPathAndScores(ctx); err != nil {
		log.Printf("Scheduler: priority recompute failed: %v", err)
	}
}

// RunOnce recomputes scores and then assigns.
func (s *Scheduler) RunOnce(ctx context.Context) (*RecomputeReport, *matcher.Result, error) {
	report, err := s.RecomputeCriticalPathAndScores(ctx)
	if err != nil {
		return nil, nil, err
	}
	res, err := s.AssignPendingJobs(ctx)
	if err != nil {
		return report, nil, err
	}
	return report, res, nil
}

type RecomputeReport struct {
	Projects      int      `json:"projects"`
	CriticalJobs  int      `json:"critical_jobs"`
	Scored        int      `json:"scored"`
	ScoresChanged int      `json:"scores_changed"`
	Cycles        []string `json:"cycles,omitempty"`
}

// RecomputeCriticalPathAndScores runs CPM for every active project and then
// rescores every open job. A project whose jobs form a cycle keeps its
// previous estimates; after CycleAlertAfter consecutive failing passes the
// cycle is raised as an alert.
func (s *Scheduler) RecomputeCriticalPathAndScores(ctx context.Context) (*RecomputeReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	jobs, err := loadJobs(tx, "")
	if err != nil {
		return nil, err
	}
	deps, err := loadDependencies(tx)
	if err != nil {
		return nil, err
	}
	projects, err := loadProjects(tx)
	if err != nil {
		return nil, err
	}
	g := graph.New(deps)

	byProject := make(map[string][]*models.Job)
	for _, j := range jobs {
		if j.ProjectID != nil {
			byProject[*j.ProjectID] = append(byProject[*j.ProjectID], j)
		}
	}

	report := &RecomputeReport{}
	analyzed := make(map[string]bool)
	cycling := make(map[string]bool)
	var alerts []string
	for _, id := range sortedProjectIDs(projects) {
		if projects[id].Status != models.ProjectStatusActive {
			continue
		}
		report.Projects++

		critical, err := cpm.Calculate(byProject[id], g, now)
		if errors.Is(err, graph.ErrCycle) {
			s.cycleStreak[id]++
			cycling[id] = true
			report.Cycles = append(report.Cycles, id)
			log.Printf("Scheduler: project %s: %v, estimates left unchanged", id, err)
			if s.cycleStreak[id] >= s.cfg.CycleAlertAfter {
				alerts = append(alerts, id)
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("project %s: %w", id, err)
		}
		delete(s.cycleStreak, id)
		report.CriticalJobs += len(critical)
		for _, j := range byProject[id] {
			if !j.Status.Terminal() {
				analyzed[j.ID] = true
			}
		}
	}

	for _, j := range jobs {
		if analyzed[j.ID] {
			_, err := tx.Exec(`
				UPDATE jobs SET is_on_critical_path = ?, estimated_start_time = ?, estimated_end_time = ?
				WHERE id = ?
			`, j.OnCriticalPath, utc(j.EstimatedStart), utc(j.EstimatedEnd), j.ID)
			if err != nil {
				return nil, fmt.Errorf("updating estimates for %s: %w", j.ID, err)
			}
		} else if j.OnCriticalPath && !j.Status.Terminal() && (j.ProjectID == nil || !cycling[*j.ProjectID]) {
			// No longer in an active project.
			if _, err := tx.Exec("UPDATE jobs SET is_on_critical_path = 0 WHERE id = ?", j.ID); err != nil {
				return nil, fmt.Errorf("clearing critical flag for %s: %w", j.ID, err)
			}
			j.OnCriticalPath = false
		}

		switch j.Status {
		case models.JobStatusPending, models.JobStatusAssigned, models.JobStatusQueued:
		default:
			continue
		}

		var project *models.Project
		if j.ProjectID != nil {
			project = projects[*j.ProjectID]
		}
		score := priority.Score(j, project, g.DependentCount(j.ID), now)
		report.Scored++
		if math.Abs(score-j.PriorityScore) > s.cfg.ScoreChangeThreshold {
			report.ScoresChanged++
		}
		if score != j.PriorityScore {
			if _, err := tx.Exec("UPDATE jobs SET priority_score = ? WHERE id = ?", score, j.ID); err != nil {
				return nil, fmt.Errorf("updating score for %s: %w", j.ID, err)
			}
			j.PriorityScore = score
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	for _, id := range alerts {
		log.Printf("Scheduler: ALERT project %s has failed dependency ordering for %d consecutive passes; remove an edge to resolve", id, s.cycleStreak[id])
		s.events.Emit(events.TypeScheduleCycle, nil, nil, map[string]any{
			"project_id": id,
			"passes":     s.cycleStreak[id],
		})
	}
	if report.ScoresChanged > 0 {
		log.Printf("Scheduler: %d job priorities updated", report.ScoresChanged)
		s.events.Emit(events.TypePriorityUpdated, nil, nil, map[string]any{
			"count":   report.ScoresChanged,
			"pass_id": uuid.New().String(),
		})
	}
	return report, nil
}

// AssignPendingJobs matches the highest scored pending jobs to idle printers
// and persists the assignments in one transaction.
func (s *Scheduler) AssignPendingJobs(ctx context.Context) (*matcher.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	pending, err := loadJobs(tx, "status = ? AND printer_id IS NULL ORDER BY priority_score DESC, created_at ASC, id ASC LIMIT ?",
		models.JobStatusPending, s.cfg.PendingLimit)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return &matcher.Result{}, nil
	}

	machines, err := loadMachines(tx)
	if err != nil {
		return nil, err
	}
	deps, err := loadDependencies(tx)
	if err != nil {
		return nil, err
	}
	index, err := statusIndex(tx, pending)
	if err != nil {
		return nil, err
	}

	res := matcher.Assign(pending, machines, graph.New(deps), index, now.In(s.loc))

	for _, a := range res.Assignments {
		_, err := tx.Exec(`
			UPDATE jobs SET status = ?, printer_id = ?, estimated_start_time = ?,
				estimated_end_time = COALESCE(?, estimated_end_time), reason = NULL
			WHERE id = ? AND status = ?
		`, models.JobStatusAssigned, a.PrinterID, a.Start.UTC(), utc(a.End), a.JobID, models.JobStatusPending)
		if err != nil {
			return nil, fmt.Errorf("assigning job %s: %w", a.JobID, err)
		}
		_, err = tx.Exec("UPDATE printers SET status = ? WHERE id = ?", models.PrinterStatusQueued, a.PrinterID)
		if err != nil {
			return nil, fmt.Errorf("queueing printer %s: %w", a.PrinterID, err)
		}
	}
	for _, l := range res.StatusLogs {
		if err := logPrinterStatus(tx, l.PrinterID, l.Status, l.At); err != nil {
			return nil, err
		}
	}
	for _, j := range pending {
		if j.Status == models.JobStatusPending && j.Reason != nil {
			if _, err := tx.Exec("UPDATE jobs SET reason = ? WHERE id = ?", *j.Reason, j.ID); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	for _, a := range res.Assignments {
		jobID, printerID := a.JobID, a.PrinterID
		s.events.Emit(events.TypeJobAssigned, &jobID, &printerID, nil)
		s.events.Emit(events.TypePrinterQueueChanged, nil, &printerID, map[string]any{
			"status": models.PrinterStatusQueued,
		})
	}
	if len(res.Assignments) > 0 || res.SkippedDependencies > 0 {
		log.Printf("Scheduler: %d jobs assigned | skipped: %d dependencies, %d time window, %d material, %d bed size",
			len(res.Assignments), res.SkippedDependencies, res.SkippedTimeWindow, res.SkippedMaterial, res.SkippedBedSize)
	}
	return res, nil
}

// AddDependency validates and commits the edge jobID -> dependsOnID. A
// refused edge is returned as a graph.Rejection.
func (s *Scheduler) AddDependency(ctx context.Context, jobID, dependsOnID string, typ models.DependencyType) (*models.Dependency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if typ == "" {
		typ = models.FinishToStart
	}

	for _, id := range []string{jobID, dependsOnID} {
		var exists int
		err := tx.QueryRow("SELECT 1 FROM jobs WHERE id = ?", id).Scan(&exists)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		if err != nil {
			return nil, err
		}
	}

	deps, err := loadDependencies(tx)
	if err != nil {
		return nil, err
	}
	dep := &models.Dependency{
		ID:          uuid.New().String(),
		JobID:       jobID,
		DependsOnID: dependsOnID,
		Type:        typ,
		CreatedAt:   s.now().UTC(),
	}
	if err := graph.New(deps).Add(*dep); err != nil {
		return nil, err
	}

	_, err = tx.Exec(`
		INSERT INTO job_dependencies (id, job_id, depends_on_job_id, dependency_type, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, dep.ID, dep.JobID, dep.DependsOnID, dep.Type, dep.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting dependency: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.events.Emit(events.TypeDependencyAdded, &jobID, nil, dep)
	return dep, nil
}

// RemoveDependency deletes an edge. Removal cannot break acyclicity, so it
// is not validated.
func (s *Scheduler) RemoveDependency(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobID string
	err := s.db.QueryRow("SELECT job_id FROM job_dependencies WHERE id = ?", id).Scan(&jobID)
	if err == sql.ErrNoRows {
		return ErrDependencyNotFound
	}
	if err != nil {
		return fmt.Errorf("looking up dependency %s: %w", id, err)
	}
	if _, err := s.db.Exec("DELETE FROM job_dependencies WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting dependency: %w", err)
	}

	s.events.Emit(events.TypeDependencyRemoved, &jobID, nil, map[string]string{"dependency_id": id})
	return nil
}

// ProjectCriticalPath analyzes a project without persisting anything and
// returns its critical jobs in topological order.
func (s *Scheduler) ProjectCriticalPath(ctx context.Context, projectID string) ([]*models.Job, error) {
	var exists int
	err := s.db.QueryRow("SELECT 1 FROM projects WHERE id = ?", projectID).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, err
	}

	jobs, err := loadJobs(s.db, "project_id = ?", projectID)
	if err != nil {
		return nil, err
	}
	deps, err := loadDependencies(s.db)
	if err != nil {
		return nil, err
	}
	return cpm.Calculate(jobs, graph.New(deps), s.now().UTC())
}

// StartJob moves an assigned or queued job to PRINTING and its printer with it.
func (s *Scheduler) StartJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	job, err := loadJob(tx, jobID)
	if err != nil {
		return err
	}
	if (job.Status != models.JobStatusAssigned && job.Status != models.JobStatusQueued) || job.AssignedPrinterID == nil {
		return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, jobID, job.Status)
	}

	if _, err := tx.Exec("UPDATE jobs SET status = ?, start_time = ? WHERE id = ?", models.JobStatusPrinting, now, jobID); err != nil {
		return err
	}
	if _, err := tx.Exec("UPDATE printers SET status = ? WHERE id = ?", models.PrinterStatusPrinting, *job.AssignedPrinterID); err != nil {
		return err
	}
	if err := logPrinterStatus(tx, *job.AssignedPrinterID, models.PrinterStatusPrinting, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.events.Emit(events.TypePrinterQueueChanged, &jobID, job.AssignedPrinterID, map[string]any{
		"status": models.PrinterStatusPrinting,
	})
	return nil
}
