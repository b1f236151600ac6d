package scheduler

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/printfarm/farmd/internal/events"
	"github.com/printfarm/farmd/internal/matcher"
	"github.com/printfarm/farmd/internal/models"
	"github.com/printfarm/farmd/internal/priority"
)

const (
	UrgentWithin = 24 * time.Hour
	AtRiskWithin = 48 * time.Hour
)

type DeadlineReport struct {
	Overdue        []string `json:"overdue"`
	Urgent         []string `json:"urgent"`
	ProjectsAtRisk []string `json:"projects_at_risk"`
}

// CheckDeadlines emits alerts for overdue jobs, jobs due within a day and
// active projects due within two days that still have unfinished jobs.
func (s *Scheduler) CheckDeadlines(ctx context.Context) (*DeadlineReport, error) {
	now := s.now().UTC()
	report := &DeadlineReport{}

	jobs, err := loadJobs(s.db, "deadline IS NOT NULL AND status IN ("+statusList(
		models.JobStatusPending, models.JobStatusAssigned, models.JobStatusQueued, models.JobStatusPrinting)+") ORDER BY deadline ASC, id ASC")
	if err != nil {
		return nil, err
	}

	for _, j := range jobs {
		jobID := j.ID
		hours := priority.HoursUntil(*j.Deadline, now)
		switch {
		case hours < 0:
			report.Overdue = append(report.Overdue, j.ID)
			s.events.Emit(events.TypeJobOverdue, &jobID, j.AssignedPrinterID, map[string]any{
				"job_name":      j.Name,
				"hours_overdue": round1(-hours),
				"project_id":    j.ProjectID,
			})
		case hours < UrgentWithin.Hours() && j.Status != models.JobStatusPrinting:
			report.Urgent = append(report.Urgent, j.ID)
			s.events.Emit(events.TypeJobUrgent, &jobID, j.AssignedPrinterID, map[string]any{
				"job_name":        j.Name,
				"hours_remaining": round1(hours),
				"status":          j.Status,
			})
		}
	}
	if len(report.Overdue) > 0 {
		log.Printf("Scheduler: %d overdue jobs", len(report.Overdue))
	}
	if len(report.Urgent) > 0 {
		log.Printf("Scheduler: %d urgent jobs (< 24h)", len(report.Urgent))
	}

	projects, err := loadProjects(s.db)
	if err != nil {
		return nil, err
	}
	for _, id := range sortedProjectIDs(projects) {
		p := projects[id]
		if p.Status != models.ProjectStatusActive || p.Deadline == nil {
			continue
		}
		hours := priority.HoursUntil(*p.Deadline, now)
		if hours <= 0 || hours >= AtRiskWithin.Hours() {
			continue
		}

		projectJobs, err := loadJobs(s.db, "project_id = ?", p.ID)
		if err != nil {
			return nil, err
		}
		incomplete := 0
		for _, j := range projectJobs {
			if j.Status != models.JobStatusCompleted {
				incomplete++
			}
		}
		if incomplete == 0 {
			continue
		}

		completion := models.CompletionPercentage(projectJobs)
		report.ProjectsAtRisk = append(report.ProjectsAtRisk, p.ID)
		s.events.Emit(events.TypeProjectAtRisk, nil, nil, map[string]any{
			"project_id":      p.ID,
			"project_name":    p.Name,
			"hours_remaining": round1(hours),
			"incomplete_jobs": incomplete,
			"completion":      completion,
		})
		log.Printf("Scheduler: project %q due in %.1fh, %d jobs open (%.0f%% done)", p.Name, hours, incomplete, completion)
	}

	return report, nil
}

// CompleteFinishedJobs marks PRINTING jobs COMPLETED once their start time
// plus estimated duration plus the grace period has passed. Their printer
// returns to IDLE and the loaded spool is charged with the job's material.
func (s *Scheduler) CompleteFinishedJobs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	printing, err := loadJobs(tx, "status = ? ORDER BY start_time ASC, id ASC", models.JobStatusPrinting)
	if err != nil {
		return nil, err
	}

	var completed []*models.Job
	for _, j := range printing {
		if j.StartTime == nil || j.Duration() == 0 {
			continue
		}
		if now.Before(j.StartTime.Add(j.Duration() + s.cfg.CompletionGrace)) {
			continue
		}

		if _, err := tx.Exec("UPDATE jobs SET status = ?, reason = NULL WHERE id = ?", models.JobStatusCompleted, j.ID); err != nil {
			return nil, fmt.Errorf("completing job %s: %w", j.ID, err)
		}
		if j.AssignedPrinterID != nil {
			printerID := *j.AssignedPrinterID
			if _, err := tx.Exec("UPDATE printers SET status = ? WHERE id = ?", models.PrinterStatusIdle, printerID); err != nil {
				return nil, err
			}
			if err := logPrinterStatus(tx, printerID, models.PrinterStatusIdle, now); err != nil {
				return nil, err
			}
			if j.MaterialNeededG > 0 {
				_, err := tx.Exec(`
					UPDATE spools SET remaining_g = MAX(0, remaining_g - ?)
					WHERE printer_id = ? AND is_in_use = 1
				`, j.MaterialNeededG, printerID)
				if err != nil {
					return nil, err
				}
			}
		}
		completed = append(completed, j)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(completed))
	for _, j := range completed {
		jobID := j.ID
		ids = append(ids, jobID)
		log.Printf("Scheduler: job %q completed automatically", j.Name)
		s.events.Emit(events.TypeJobCompleted, &jobID, j.AssignedPrinterID, map[string]any{
			"auto": true,
		})
	}
	return ids, nil
}

type WindowViolation struct {
	PrinterID     string     `json:"printer_id"`
	JobID         string     `json:"job_id"`
	NextAvailable *time.Time `json:"next_available,omitempty"`
}

// CheckTimeWindows reports printers that are printing while outside every
// active window.
func (s *Scheduler) CheckTimeWindows(ctx context.Context) ([]WindowViolation, error) {
	now := s.now().In(s.loc)

	machines, err := loadMachines(s.db)
	if err != nil {
		return nil, err
	}
	printing, err := loadJobs(s.db, "status = ? AND printer_id IS NOT NULL ORDER BY id", models.JobStatusPrinting)
	if err != nil {
		return nil, err
	}
	running := make(map[string]*models.Job)
	for _, j := range printing {
		if _, ok := running[*j.AssignedPrinterID]; !ok {
			running[*j.AssignedPrinterID] = j
		}
	}

	var violations []WindowViolation
	for _, m := range machines {
		if len(m.Windows) == 0 || matcher.Available(m.Windows, now) {
			continue
		}
		job, ok := running[m.Printer.ID]
		if !ok {
			continue
		}

		v := WindowViolation{PrinterID: m.Printer.ID, JobID: job.ID}
		if next, ok := matcher.NextAvailable(m.Windows, now); ok {
			v.NextAvailable = &next
		}
		violations = append(violations, v)

		jobID, printerID := job.ID, m.Printer.ID
		s.events.Emit(events.TypeTimeWindowViolation, &jobID, &printerID, v)
		log.Printf("Scheduler: printer %q is printing outside its time windows", m.Printer.Name)
	}
	return violations, nil
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}
