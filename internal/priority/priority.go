package priority

import (
	"math"
	"time"

	"github.com/printfarm/farmd/internal/models"
)

const (
	MaxDeadlineScore = 50.0
	MaxManualScore   = 25.0
	CriticalScore    = 25.0
	MaxProjectScore  = 10.0
	MaxBlockingScore = 10.0
)

// HoursUntil returns the signed number of hours from now to deadline.
func HoursUntil(deadline, now time.Time) float64 {
	return deadline.Sub(now).Hours()
}

// DeadlineUrgency maps hours remaining until a job deadline to 0..50.
// Past seven days the score decays linearly and reaches zero at fourteen.
func DeadlineUrgency(hours float64) float64 {
	switch {
	case hours < 0:
		return MaxDeadlineScore
	case hours < 6:
		return 48
	case hours < 12:
		return 46
	case hours < 24:
		return 42
	case hours < 48:
		return 35
	case hours < 72:
		return 28
	case hours < 120:
		return 20
	case hours < 168:
		return 12
	}
	return math.Max(0, 10-(hours-168)/168*10)
}

// ProjectUrgency maps hours remaining until a project deadline to 2..10.
func ProjectUrgency(hours float64) float64 {
	switch {
	case hours < 24:
		return MaxProjectScore
	case hours < 48:
		return 8
	case hours < 72:
		return 6
	case hours < 120:
		return 4
	}
	return 2
}

// Manual scales the user-set priority (clamped to 0..10) to 0..25.
func Manual(priority int) float64 {
	p := math.Min(10, math.Max(0, float64(priority)))
	return p / 10 * MaxManualScore
}

// Blocking awards two points per direct dependent, capped at ten.
func Blocking(dependents int) float64 {
	return math.Min(MaxBlockingScore, 2*float64(dependents))
}

// Score computes the composite ordering score of a job. project may be nil
// and dependents is the number of jobs that directly depend on job. The
// result is rounded to two decimals and depends only on its arguments.
func Score(job *models.Job, project *models.Project, dependents int, now time.Time) float64 {
	score := 0.0

	if job.Deadline != nil {
		score += DeadlineUrgency(HoursUntil(*job.Deadline, now))
	}

	score += Manual(job.Priority)

	if job.OnCriticalPath {
		score += CriticalScore
	}

	if project != nil && project.Deadline != nil {
		score += ProjectUrgency(HoursUntil(*project.Deadline, now))
	}

	score += Blocking(dependents)

	return math.Round(score*100) / 100
}

// Status classifies a deadline by hours remaining: overdue, under 24h,
// under 72h, or comfortable. A job without a deadline is GREEN.
func Status(deadline *time.Time, now time.Time) models.DeadlineStatus {
	if deadline == nil {
		return models.DeadlineGreen
	}
	hours := HoursUntil(*deadline, now)
	switch {
	case hours < 0:
		return models.DeadlineOverdue
	case hours < 24:
		return models.DeadlineRed
	case hours < 72:
		return models.DeadlineYellow
	}
	return models.DeadlineGreen
}

// Urgency is a 0..1 summary used for display: linear over a seven day
// horizon, raised for critical jobs and for jobs that block others.
func Urgency(job *models.Job, dependents int, now time.Time) float64 {
	u := 0.0
	if job.Deadline != nil {
		hours := HoursUntil(*job.Deadline, now)
		if hours < 0 {
			u = 1
		} else {
			u = math.Max(0, 1-hours/168)
		}
	}
	if job.OnCriticalPath {
		u = math.Min(1, u+0.3)
	}
	if dependents > 0 {
		u = math.Min(1, u+0.1*float64(dependents))
	}
	return math.Round(u*1000) / 1000
}
