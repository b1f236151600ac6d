package graph

import (
	"errors"
	"sort"

	"github.com/printfarm/farmd/internal/models"
)

// ErrCycle is returned when no topological order exists for a job set.
var ErrCycle = errors.New("dependency cycle detected")

// Rejection explains why a proposed dependency edge was refused.
type Rejection string

const (
	RejectSelf      Rejection = "self-dependency: a job cannot depend on itself"
	RejectDuplicate Rejection = "duplicate: this dependency already exists"
	RejectReverse   Rejection = "reverse duplicate: the opposite dependency already exists"
	RejectCycle     Rejection = "dependency would create a cycle"
)

func (r Rejection) Error() string {
	return string(r)
}

// Graph is the dependency relation between jobs, held as a flat edge list
// with id-indexed adjacency. deps maps a job to the edges it waits on,
// dependents maps a job to the edges waiting on it.
type Graph struct {
	edges      []models.Dependency
	deps       map[string][]int
	dependents map[string][]int
}

func New(edges []models.Dependency) *Graph {
	g := &Graph{}
	g.reindex(edges)
	return g
}

func (g *Graph) reindex(edges []models.Dependency) {
	g.edges = edges
	g.deps = make(map[string][]int)
	g.dependents = make(map[string][]int)
	for i, e := range edges {
		g.deps[e.JobID] = append(g.deps[e.JobID], i)
		g.dependents[e.DependsOnID] = append(g.dependents[e.DependsOnID], i)
	}
}

// Dependencies returns the edges jobID waits on, in insertion order.
func (g *Graph) Dependencies(jobID string) []models.Dependency {
	return g.collect(g.deps[jobID])
}

// Dependents returns the edges that wait on jobID, in insertion order.
func (g *Graph) Dependents(jobID string) []models.Dependency {
	return g.collect(g.dependents[jobID])
}

// DependentCount is the number of jobs that directly depend on jobID.
func (g *Graph) DependentCount(jobID string) int {
	return len(g.dependents[jobID])
}

func (g *Graph) collect(idx []int) []models.Dependency {
	if len(idx) == 0 {
		return nil
	}
	out := make([]models.Dependency, 0, len(idx))
	for _, i := range idx {
		out = append(out, g.edges[i])
	}
	return out
}

// HasEdge reports whether jobID already depends on dependsOnID.
func (g *Graph) HasEdge(jobID, dependsOnID string) bool {
	for _, i := range g.deps[jobID] {
		if g.edges[i].DependsOnID == dependsOnID {
			return true
		}
	}
	return false
}

// Validate checks the edge jobID -> dependsOnID against the current graph
// without modifying it. It returns nil or a Rejection.
func (g *Graph) Validate(jobID, dependsOnID string) error {
	if jobID == dependsOnID {
		return RejectSelf
	}
	if g.HasEdge(jobID, dependsOnID) {
		return RejectDuplicate
	}
	if g.HasEdge(dependsOnID, jobID) {
		return RejectReverse
	}
	if g.Reaches(dependsOnID, jobID) {
		return RejectCycle
	}
	return nil
}

// Reaches reports whether target is reachable from start by following
// depends-on edges.
func (g *Graph) Reaches(start, target string) bool {
	visited := make(map[string]bool)
	stack := []string{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == target {
			return true
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		for _, i := range g.deps[cur] {
			stack = append(stack, g.edges[i].DependsOnID)
		}
	}
	return false
}

// Add validates and appends an edge.
func (g *Graph) Add(dep models.Dependency) error {
	if err := g.Validate(dep.JobID, dep.DependsOnID); err != nil {
		return err
	}
	i := len(g.edges)
	g.edges = append(g.edges, dep)
	g.deps[dep.JobID] = append(g.deps[dep.JobID], i)
	g.dependents[dep.DependsOnID] = append(g.dependents[dep.DependsOnID], i)
	return nil
}

// Sort orders jobs so that every prerequisite precedes its dependents, using
// Kahn's algorithm. Edges to jobs outside the set are ignored. Ready jobs are
// emitted in input order. ok is false if a cycle leaves jobs unsorted.
func (g *Graph) Sort(jobs []*models.Job) (ordered []*models.Job, ok bool) {
	pos := make(map[string]int, len(jobs))
	for i, j := range jobs {
		pos[j.ID] = i
	}

	inDegree := make([]int, len(jobs))
	for i, j := range jobs {
		for _, e := range g.deps[j.ID] {
			if _, in := pos[g.edges[e].DependsOnID]; in {
				inDegree[i]++
			}
		}
	}

	var queue []int
	for i := range jobs {
		if inDegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	ordered = make([]*models.Job, 0, len(jobs))
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		ordered = append(ordered, jobs[cur])

		var ready []int
		for _, e := range g.dependents[jobs[cur].ID] {
			next, in := pos[g.edges[e].JobID]
			if !in {
				continue
			}
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
			}
		}
		sort.Ints(ready)
		queue = append(queue, ready...)
	}

	if len(ordered) < len(jobs) {
		return ordered, false
	}
	return ordered, true
}

// Blocking returns the dependencies of jobID that are not yet satisfied given
// the current job states. A prerequisite missing from jobs does not block.
func (g *Graph) Blocking(jobID string, jobs map[string]*models.Job) []models.Dependency {
	var blocking []models.Dependency
	for _, i := range g.deps[jobID] {
		e := g.edges[i]
		prereq, ok := jobs[e.DependsOnID]
		if !ok {
			continue
		}
		if !e.Type.Satisfied(prereq.Status) {
			blocking = append(blocking, e)
		}
	}
	return blocking
}
