package scheduler

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/printfarm/farmd/internal/db"
	"github.com/printfarm/farmd/internal/matcher"
	"github.com/printfarm/farmd/internal/models"
)

type querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

const jobColumns = `id, name, status, priority, priority_score, deadline, is_on_critical_path,
	estimated_start_time, estimated_end_time, estimated_duration, material_needed_g,
	dimensions_x_mm, dimensions_y_mm, required_material, printer_id, project_id,
	parent_job_id, created_at, start_time, reason`

func scanJob(rows interface{ Scan(...any) error }) (*models.Job, error) {
	var j models.Job
	err := rows.Scan(&j.ID, &j.Name, &j.Status, &j.Priority, &j.PriorityScore, &j.Deadline, &j.OnCriticalPath,
		&j.EstimatedStart, &j.EstimatedEnd, &j.EstimatedMinutes, &j.MaterialNeededG,
		&j.DimensionsXMM, &j.DimensionsYMM, &j.RequiredMaterial, &j.AssignedPrinterID, &j.ProjectID,
		&j.ParentJobID, &j.CreatedAt, &j.StartTime, &j.Reason)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func loadJobs(q querier, where string, args ...any) ([]*models.Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs"
	if where != "" {
		query += " WHERE " + where
	}
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func loadJob(q querier, id string) (*models.Job, error) {
	j, err := scanJob(q.QueryRow("SELECT "+jobColumns+" FROM jobs WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	return j, err
}

func loadDependencies(q querier) ([]models.Dependency, error) {
	rows, err := q.Query(`
		SELECT id, job_id, depends_on_job_id, dependency_type, created_at
		FROM job_dependencies ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying dependencies: %w", err)
	}
	defer rows.Close()

	var deps []models.Dependency
	for rows.Next() {
		var d models.Dependency
		if err := rows.Scan(&d.ID, &d.JobID, &d.DependsOnID, &d.Type, &d.CreatedAt); err != nil {
			return nil, err
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

func loadProjects(q querier) (map[string]*models.Project, error) {
	rows, err := q.Query("SELECT id, name, deadline, status FROM projects")
	if err != nil {
		return nil, fmt.Errorf("querying projects: %w", err)
	}
	defer rows.Close()

	projects := make(map[string]*models.Project)
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Deadline, &p.Status); err != nil {
			return nil, err
		}
		projects[p.ID] = &p
	}
	return projects, rows.Err()
}

// loadMachines returns every printer with its windows, loaded spool and
// current queue length, ordered by printer id.
func loadMachines(q querier) ([]*matcher.Machine, error) {
	rows, err := q.Query(`
		SELECT p.id, p.name, p.status, p.compatible_material_types, p.bed_size_x_mm, p.bed_size_y_mm,
			(SELECT COUNT(*) FROM jobs j WHERE j.printer_id = p.id AND j.status IN ('ASSIGNED', 'QUEUED'))
		FROM printers p ORDER BY p.id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying printers: %w", err)
	}

	var machines []*matcher.Machine
	byID := make(map[string]*matcher.Machine)
	for rows.Next() {
		var p models.Printer
		var materials string
		if err := rows.Scan(&p.ID, &p.Name, &p.Status, &materials, &p.BedSizeXMM, &p.BedSizeYMM, &p.QueueLength); err != nil {
			rows.Close()
			return nil, err
		}
		p.CompatibleMaterialTypes = db.SplitMaterials(materials)
		m := &matcher.Machine{Printer: &p}
		machines = append(machines, m)
		byID[p.ID] = m
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	windows, err := loadWindows(q)
	if err != nil {
		return nil, err
	}
	for _, w := range windows {
		if m, ok := byID[w.PrinterID]; ok {
			m.Windows = append(m.Windows, w)
		}
	}

	spoolRows, err := q.Query(`
		SELECT id, printer_id, material_type, remaining_g, is_in_use
		FROM spools WHERE is_in_use = 1 AND printer_id IS NOT NULL ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying spools: %w", err)
	}
	defer spoolRows.Close()
	for spoolRows.Next() {
		var s models.Spool
		if err := spoolRows.Scan(&s.ID, &s.PrinterID, &s.MaterialType, &s.RemainingG, &s.InUse); err != nil {
			return nil, err
		}
		if m, ok := byID[*s.PrinterID]; ok && m.Spool == nil {
			m.Spool = &s
		}
	}
	return machines, spoolRows.Err()
}

func loadWindows(q querier) ([]models.TimeWindow, error) {
	rows, err := q.Query("SELECT id, printer_id, day_of_week, start_time, end_time, is_active FROM time_windows ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying time windows: %w", err)
	}
	defer rows.Close()

	var windows []models.TimeWindow
	for rows.Next() {
		var w models.TimeWindow
		var start, end string
		if err := rows.Scan(&w.ID, &w.PrinterID, &w.DayOfWeek, &start, &end, &w.Active); err != nil {
			return nil, err
		}
		if w.Start, err = db.ParseClock(start); err != nil {
			return nil, fmt.Errorf("window %s: %w", w.ID, err)
		}
		if w.End, err = db.ParseClock(end); err != nil {
			return nil, fmt.Errorf("window %s: %w", w.ID, err)
		}
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

// statusIndex maps every job id to a job carrying at least its status.
// Entries of jobs are used as is so in-pass mutations stay visible.
func statusIndex(q querier, jobs []*models.Job) (map[string]*models.Job, error) {
	rows, err := q.Query("SELECT id, status FROM jobs")
	if err != nil {
		return nil, fmt.Errorf("querying job states: %w", err)
	}
	defer rows.Close()

	index := make(map[string]*models.Job)
	for rows.Next() {
		var j models.Job
		if err := rows.Scan(&j.ID, &j.Status); err != nil {
			return nil, err
		}
		index[j.ID] = &j
	}
	for _, j := range jobs {
		index[j.ID] = j
	}
	return index, rows.Err()
}

func statusList(statuses ...models.JobStatus) string {
	quoted := make([]string, len(statuses))
	for i, s := range statuses {
		quoted[i] = "'" + string(s) + "'"
	}
	return strings.Join(quoted, ", ")
}

func sortedProjectIDs(projects map[string]*models.Project) []string {
	ids := make([]string, 0, len(projects))
	for id := range projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func utc(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func logPrinterStatus(tx *sql.Tx, printerID string, status models.PrinterStatus, at time.Time) error {
	_, err := tx.Exec("INSERT INTO printer_status_log (printer_id, status, at) VALUES (?, ?, ?)", printerID, status, at.UTC())
	return err
}
