package models

import (
	"strings"
	"time"
)

type PrinterStatus string

const (
	PrinterStatusIdle        PrinterStatus = "IDLE"
	PrinterStatusPrinting    PrinterStatus = "PRINTING"
	PrinterStatusQueued      PrinterStatus = "QUEUED"
	PrinterStatusMaintenance PrinterStatus = "MAINTENANCE"
	PrinterStatusOffline     PrinterStatus = "OFFLINE"
	PrinterStatusError       PrinterStatus = "ERROR"
)

type Printer struct {
	ID                      string        `json:"id"`
	Name                    string        `json:"name"`
	Status                  PrinterStatus `json:"status"`
	CompatibleMaterialTypes []string      `json:"compatible_material_types"`
	BedSizeXMM              float64       `json:"bed_size_x_mm,omitempty"`
	BedSizeYMM              float64       `json:"bed_size_y_mm,omitempty"`
	QueueLength             int           `json:"queue_length"`
}

// Supports reports whether the printer accepts the material. An empty
// compatibility list accepts everything.
func (p *Printer) Supports(material string) bool {
	if len(p.CompatibleMaterialTypes) == 0 {
		return true
	}
	for _, m := range p.CompatibleMaterialTypes {
		if SameMaterial(m, material) {
			return true
		}
	}
	return false
}

// SameMaterial compares material type names case-insensitively.
func SameMaterial(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// TimeWindow is a weekly operating interval. DayOfWeek counts from Monday (0)
// to Sunday (6); Start and End are offsets from midnight and both inclusive.
type TimeWindow struct {
	ID        string        `json:"id"`
	PrinterID string        `json:"printer_id"`
	DayOfWeek int           `json:"day_of_week"`
	Start     time.Duration `json:"start"`
	End       time.Duration `json:"end"`
	Active    bool          `json:"is_active"`
}

// Weekday converts t to the Monday-based numbering used by TimeWindow.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// Contains reports whether t falls inside the window.
func (w TimeWindow) Contains(t time.Time) bool {
	if !w.Active || Weekday(t) != w.DayOfWeek {
		return false
	}
	y, m, d := t.Date()
	offset := t.Sub(time.Date(y, m, d, 0, 0, 0, 0, t.Location()))
	return offset >= w.Start && offset <= w.End
}

type Spool struct {
	ID           string  `json:"id"`
	PrinterID    *string `json:"printer_id,omitempty"`
	MaterialType string  `json:"material_type"`
	RemainingG   float64 `json:"remaining_g"`
	InUse        bool    `json:"in_use"`
}

type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusAssigned  JobStatus = "ASSIGNED"
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusPrinting  JobStatus = "PRINTING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
	JobStatusBatched   JobStatus = "BATCHED"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

type Job struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Status            JobStatus  `json:"status"`
	Priority          int        `json:"priority"`
	PriorityScore     float64    `json:"priority_score"`
	Deadline          *time.Time `json:"deadline,omitempty"`
	OnCriticalPath    bool       `json:"is_on_critical_path"`
	EstimatedStart    *time.Time `json:"estimated_start_time,omitempty"`
	EstimatedEnd      *time.Time `json:"estimated_end_time,omitempty"`
	EstimatedMinutes  int        `json:"estimated_duration"`
	MaterialNeededG   float64    `json:"material_needed_g,omitempty"`
	DimensionsXMM     float64    `json:"dimensions_x_mm,omitempty"`
	DimensionsYMM     float64    `json:"dimensions_y_mm,omitempty"`
	RequiredMaterial  string     `json:"required_material,omitempty"`
	AssignedPrinterID *string    `json:"assigned_printer_id,omitempty"`
	ProjectID         *string    `json:"project_id,omitempty"`
	ParentJobID       *string    `json:"parent_job_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	StartTime         *time.Time `json:"start_time,omitempty"`
	Reason            *string    `json:"reason,omitempty"`
}

// Duration returns the estimated print time; unknown or negative estimates
// count as zero.
func (j *Job) Duration() time.Duration {
	if j.EstimatedMinutes <= 0 {
		return 0
	}
	return time.Duration(j.EstimatedMinutes) * time.Minute
}

type DependencyType string

const (
	FinishToStart DependencyType = "FINISH_TO_START"
	StartToStart  DependencyType = "START_TO_START"
)

func ParseDependencyType(s string) (DependencyType, bool) {
	switch DependencyType(strings.ToUpper(strings.TrimSpace(s))) {
	case FinishToStart, "":
		return FinishToStart, true
	case StartToStart:
		return StartToStart, true
	}
	return "", false
}

// Satisfied reports whether a prerequisite in the given status releases the
// dependent job.
func (t DependencyType) Satisfied(prereq JobStatus) bool {
	switch t {
	case FinishToStart:
		return prereq == JobStatusCompleted
	case StartToStart:
		return prereq != JobStatusPending
	}
	return false
}

// ShiftsSchedule reports whether the edge pushes the dependent's earliest
// start in CPM. Start-to-start edges do not.
func (t DependencyType) ShiftsSchedule() bool {
	switch t {
	case FinishToStart:
		return true
	case StartToStart:
		return false
	}
	return false
}

// Dependency is the edge JobID -> DependsOnID: JobID waits on DependsOnID.
type Dependency struct {
	ID          string         `json:"id"`
	JobID       string         `json:"job_id"`
	DependsOnID string         `json:"depends_on_job_id"`
	Type        DependencyType `json:"dependency_type"`
	CreatedAt   time.Time      `json:"created_at"`
}

type ProjectStatus string

const (
	ProjectStatusActive    ProjectStatus = "active"
	ProjectStatusCompleted ProjectStatus = "completed"
	ProjectStatusCancelled ProjectStatus = "cancelled"
)

type Project struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Deadline *time.Time    `json:"deadline,omitempty"`
	Status   ProjectStatus `json:"status"`
}

// CompletionPercentage is completed jobs over total jobs, rounded to one
// decimal place.
func CompletionPercentage(jobs []*Job) float64 {
	if len(jobs) == 0 {
		return 0
	}
	completed := 0
	for _, j := range jobs {
		if j.Status == JobStatusCompleted {
			completed++
		}
	}
	pct := float64(completed) / float64(len(jobs)) * 100
	return float64(int64(pct*10+0.5)) / 10
}

type DeadlineStatus string

const (
	DeadlineGreen   DeadlineStatus = "GREEN"
	DeadlineYellow  DeadlineStatus = "YELLOW"
	DeadlineRed     DeadlineStatus = "RED"
	DeadlineOverdue DeadlineStatus = "OVERDUE"
)

type PrinterStatusLog struct {
	ID        int64         `json:"id"`
	PrinterID string        `json:"printer_id"`
	Status    PrinterStatus `json:"status"`
	At        time.Time     `json:"at"`
}

type Event struct {
	ID          int64     `json:"id"`
	At          time.Time `json:"at"`
	Type        string    `json:"type"`
	JobID       *string   `json:"job_id,omitempty"`
	PrinterID   *string   `json:"printer_id,omitempty"`
	PayloadJSON *string   `json:"payload_json,omitempty"`
}
