package cpm

import (
	"fmt"
	"math"
	"time"

	"github.com/printfarm/farmd/internal/graph"
	"github.com/printfarm/farmd/internal/models"
)

// SlackTolerance is the slack, in minutes, below which a job counts as critical.
const SlackTolerance = 0.1

// Analyze performs critical path method analysis over the non-terminal jobs
// in the set. Only finish-to-start edges push earliest starts; every edge
// between jobs of the set bounds latest finishes. It returns graph.ErrCycle
// if the set cannot be ordered.
func Analyze(jobs []*models.Job, g *graph.Graph) (*Result, error) {
	var active []*models.Job
	for _, j := range jobs {
		if !j.Status.Terminal() {
			active = append(active, j)
		}
	}

	order, ok := g.Sort(active)
	if !ok {
		return nil, fmt.Errorf("%w (%d of %d jobs sorted)", graph.ErrCycle, len(order), len(active))
	}

	result := &Result{
		Jobs:      make(map[string]*JobSchedule, len(order)),
		TopoOrder: make([]string, 0, len(order)),
	}
	for _, j := range order {
		result.Jobs[j.ID] = &JobSchedule{
			JobID:    j.ID,
			Duration: j.Duration().Minutes(),
		}
		result.TopoOrder = append(result.TopoOrder, j.ID)
	}

	// Forward pass: ES = max(EF of scheduling predecessors)
	for _, id := range result.TopoOrder {
		js := result.Jobs[id]
		es := 0.0
		for _, dep := range g.Dependencies(id) {
			if !dep.Type.ShiftsSchedule() {
				continue
			}
			if pred, ok := result.Jobs[dep.DependsOnID]; ok && pred.EF > es {
				es = pred.EF
			}
		}
		js.ES = es
		js.EF = es + js.Duration
	}

	for _, js := range result.Jobs {
		if js.EF > result.Horizon {
			result.Horizon = js.EF
		}
	}

	// Backward pass: LF = min(horizon, LS of all successors)
	for i := len(result.TopoOrder) - 1; i >= 0; i-- {
		id := result.TopoOrder[i]
		js := result.Jobs[id]
		lf := result.Horizon
		for _, dep := range g.Dependents(id) {
			if succ, ok := result.Jobs[dep.JobID]; ok && succ.LS < lf {
				lf = succ.LS
			}
		}
		js.LF = lf
		js.LS = lf - js.Duration
		js.Slack = js.LS - js.ES
		js.IsCritical = math.Abs(js.Slack) < SlackTolerance
	}

	for _, id := range result.TopoOrder {
		if result.Jobs[id].IsCritical {
			result.CriticalPath = append(result.CriticalPath, id)
		}
	}

	return result, nil
}

// Calculate runs Analyze and writes the outcome onto the jobs: critical-path
// flag and estimated start/end relative to now. On a cycle no job is touched
// and the error is returned alongside an empty critical path.
func Calculate(jobs []*models.Job, g *graph.Graph, now time.Time) ([]*models.Job, error) {
	result, err := Analyze(jobs, g)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*models.Job, len(jobs))
	for _, j := range jobs {
		js, ok := result.Jobs[j.ID]
		if !ok {
			continue
		}
		byID[j.ID] = j
		start := now.Add(minutes(js.ES))
		end := now.Add(minutes(js.EF))
		j.EstimatedStart = &start
		j.EstimatedEnd = &end
		j.OnCriticalPath = js.IsCritical
	}

	critical := make([]*models.Job, 0, len(result.CriticalPath))
	for _, id := range result.CriticalPath {
		critical = append(critical, byID[id])
	}
	return critical, nil
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}
