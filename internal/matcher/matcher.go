package matcher

import (
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/printfarm/farmd/internal/graph"
	"github.com/printfarm/farmd/internal/models"
)

const ReasonNoPrinter = "no suitable printer available"

// Machine is an idle printer together with the state the matcher consults:
// its operating windows and the spool currently loaded, if any.
type Machine struct {
	Printer *models.Printer
	Windows []models.TimeWindow
	Spool   *models.Spool
}

type Assignment struct {
	JobID     string     `json:"job_id"`
	PrinterID string     `json:"printer_id"`
	Start     time.Time  `json:"estimated_start_time"`
	End       *time.Time `json:"estimated_end_time,omitempty"`
}

// Result describes one matching pass. The skip counters for time windows,
// material and bed size count rejected job/printer pairs, dependencies count
// jobs.
type Result struct {
	Assignments         []Assignment
	StatusLogs          []models.PrinterStatusLog
	Blocked             []string
	SkippedDependencies int
	SkippedTimeWindow   int
	SkippedMaterial     int
	SkippedBedSize      int
}

// Assign greedily binds pending jobs to idle machines. Jobs are taken by
// descending priority score, then creation time, then id. Machines are
// considered in ascending printer id. index must hold every job a pending job
// may depend on, with current status.
//
// Matched jobs and printers are mutated in place; each printer takes at most
// one job per pass. Jobs that are not PENDING and unbound, and printers that
// are not IDLE, are ignored, so a second pass over the same state assigns
// nothing.
func Assign(pending []*models.Job, machines []*Machine, g *graph.Graph, index map[string]*models.Job, now time.Time) *Result {
	res := &Result{}

	jobs := make([]*models.Job, 0, len(pending))
	for _, j := range pending {
		if j.Status == models.JobStatusPending && j.AssignedPrinterID == nil {
			jobs = append(jobs, j)
		}
	}
	sort.SliceStable(jobs, func(a, b int) bool {
		ja, jb := jobs[a], jobs[b]
		if ja.PriorityScore != jb.PriorityScore {
			return ja.PriorityScore > jb.PriorityScore
		}
		if !ja.CreatedAt.Equal(jb.CreatedAt) {
			return ja.CreatedAt.Before(jb.CreatedAt)
		}
		return ja.ID < jb.ID
	})

	pool := make([]*Machine, 0, len(machines))
	for _, m := range machines {
		if m.Printer != nil && m.Printer.Status == models.PrinterStatusIdle {
			pool = append(pool, m)
		}
	}
	sort.SliceStable(pool, func(a, b int) bool { return pool[a].Printer.ID < pool[b].Printer.ID })

	for _, job := range jobs {
		if len(pool) == 0 {
			break
		}

		if blocking := g.Blocking(job.ID, index); len(blocking) > 0 {
			reason := fmt.Sprintf("waiting on %d unmet dependencies", len(blocking))
			job.Reason = &reason
			res.SkippedDependencies++
			res.Blocked = append(res.Blocked, job.ID)
			continue
		}

		best := -1
		bestTier := 0
		for i, m := range pool {
			tier, ok := res.candidate(job, m, now)
			if !ok {
				continue
			}
			if best < 0 || tier < bestTier ||
				(tier == bestTier && m.Printer.QueueLength < pool[best].Printer.QueueLength) {
				best, bestTier = i, tier
			}
		}

		if best < 0 {
			reason := ReasonNoPrinter
			job.Reason = &reason
			res.Blocked = append(res.Blocked, job.ID)
			continue
		}

		m := pool[best]
		res.bind(job, m.Printer, now)
		pool = append(pool[:best], pool[best+1:]...)
	}

	return res
}

// candidate applies the per-machine filters and returns the preference tier:
// 0 when the loaded spool already carries the required material, 1 otherwise.
func (r *Result) candidate(job *models.Job, m *Machine, now time.Time) (tier int, ok bool) {
	p := m.Printer

	if !Available(m.Windows, now) {
		r.SkippedTimeWindow++
		return 0, false
	}

	tier = 1
	if job.RequiredMaterial != "" {
		if !p.Supports(job.RequiredMaterial) {
			r.SkippedMaterial++
			return 0, false
		}
		if m.Spool != nil {
			if !models.SameMaterial(m.Spool.MaterialType, job.RequiredMaterial) {
				r.SkippedMaterial++
				return 0, false
			}
			if job.MaterialNeededG > 0 && m.Spool.RemainingG < job.MaterialNeededG {
				log.Printf("Matcher: spool %s on %s has %.0fg, job %s needs %.0fg",
					m.Spool.ID, p.ID, m.Spool.RemainingG, job.ID, job.MaterialNeededG)
				r.SkippedMaterial++
				return 0, false
			}
			tier = 0
		}
	}

	if p.BedSizeXMM > 0 && p.BedSizeYMM > 0 && job.DimensionsXMM > 0 && job.DimensionsYMM > 0 {
		if job.DimensionsXMM > p.BedSizeXMM || job.DimensionsYMM > p.BedSizeYMM {
			r.SkippedBedSize++
			return 0, false
		}
	}

	return tier, true
}

func (r *Result) bind(job *models.Job, p *models.Printer, now time.Time) {
	printerID := p.ID
	job.Status = models.JobStatusAssigned
	job.AssignedPrinterID = &printerID
	job.Reason = nil

	start := now
	job.EstimatedStart = &start
	var end *time.Time
	if d := job.Duration(); d > 0 {
		e := now.Add(d)
		end = &e
		job.EstimatedEnd = end
	}

	p.Status = models.PrinterStatusQueued
	p.QueueLength++

	r.Assignments = append(r.Assignments, Assignment{
		JobID:     job.ID,
		PrinterID: printerID,
		Start:     start,
		End:       end,
	})
	r.StatusLogs = append(r.StatusLogs, models.PrinterStatusLog{
		PrinterID: printerID,
		Status:    models.PrinterStatusQueued,
		At:        now,
	})
}
