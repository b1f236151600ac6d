package scheduler

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/printfarm/farmd/internal/config"
	"github.com/printfarm/farmd/internal/db"
	"github.com/printfarm/farmd/internal/events"
	"github.com/printfarm/farmd/internal/graph"
	"github.com/printfarm/farmd/internal/models"
)

// Monday 2026-03-02 10:00 UTC
var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type recordedEvent struct {
	Type      string
	JobID     string
	PrinterID string
	Payload   any
}

type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recorder) Emit(eventType string, jobID, printerID *string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := recordedEvent{Type: eventType, Payload: payload}
	if jobID != nil {
		e.JobID = *jobID
	}
	if printerID != nil {
		e.PrinterID = *printerID
	}
	r.events = append(r.events, e)
}

func (r *recorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func setup(t *testing.T) (*db.DB, *Scheduler, *recorder) {
	t.Helper()
	log.SetOutput(io.Discard)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	database, err := db.Open(filepath.Join(t.TempDir(), "farm.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Init(); err != nil {
		t.Fatal(err)
	}

	rec := &recorder{}
	s := New(database, rec, config.DefaultSchedulerConfig())
	s.now = func() time.Time { return testNow }
	s.loc = time.UTC
	return database, s, rec
}

func seedProject(t *testing.T, database *db.DB, id string, deadline *time.Time) {
	t.Helper()
	var d any
	if deadline != nil {
		d = deadline.UTC()
	}
	_, err := database.Exec("INSERT INTO projects (id, name, deadline, status) VALUES (?, ?, ?, 'active')", id, id, d)
	if err != nil {
		t.Fatalf("failed to seed project: %v", err)
	}
}

func seedPrinter(t *testing.T, database *db.DB, id string, materials ...string) {
	t.Helper()
	_, err := database.Exec("INSERT INTO printers (id, name, status, compatible_material_types) VALUES (?, ?, 'IDLE', ?)",
		id, id, db.JoinMaterials(materials))
	if err != nil {
		t.Fatalf("failed to seed printer: %v", err)
	}
}

type jobSeed struct {
	ID       string
	Status   models.JobStatus
	Priority int
	Minutes  int
	Material string
	NeedG    float64
	Project  string
	Printer  string
	Deadline *time.Time
	Start    *time.Time
}

func seedJob(t *testing.T, database *db.DB, j jobSeed) {
	t.Helper()
	if j.Status == "" {
		j.Status = models.JobStatusPending
	}
	nullable := func(s string) any {
		if s == "" {
			return nil
		}
		return s
	}
	_, err := database.Exec(`
		INSERT INTO jobs (id, name, status, priority, estimated_duration, required_material, material_needed_g,
			project_id, printer_id, deadline, start_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.ID, j.Status, j.Priority, j.Minutes, j.Material, j.NeedG,
		nullable(j.Project), nullable(j.Printer), utc(j.Deadline), utc(j.Start), testNow.Add(-time.Hour))
	if err != nil {
		t.Fatalf("failed to seed job: %v", err)
	}
}

func seedEdge(t *testing.T, database *db.DB, id, job, on string) {
	t.Helper()
	_, err := database.Exec("INSERT INTO job_dependencies (id, job_id, depends_on_job_id, created_at) VALUES (?, ?, ?, ?)",
		id, job, on, testNow)
	if err != nil {
		t.Fatalf("failed to seed edge: %v", err)
	}
}

func getJob(t *testing.T, database *db.DB, id string) *models.Job {
	t.Helper()
	j, err := loadJob(database, id)
	if err != nil {
		t.Fatalf("loading job %s: %v", id, err)
	}
	return j
}

func checkJobStatus(t *testing.T, database *db.DB, id string, expected models.JobStatus, printer string) {
	t.Helper()
	j := getJob(t, database, id)
	if j.Status != expected {
		t.Errorf("job %s: expected status %s, got %s", id, expected, j.Status)
	}
	got := ""
	if j.AssignedPrinterID != nil {
		got = *j.AssignedPrinterID
	}
	if got != printer {
		t.Errorf("job %s: expected printer %q, got %q", id, printer, got)
	}
}

func printerStatus(t *testing.T, database *db.DB, id string) models.PrinterStatus {
	t.Helper()
	var status models.PrinterStatus
	if err := database.QueryRow("SELECT status FROM printers WHERE id = ?", id).Scan(&status); err != nil {
		t.Fatal(err)
	}
	return status
}

func at(d time.Duration) *time.Time {
	v := testNow.Add(d)
	return &v
}

func TestDependencyAPI(t *testing.T) {
	database, s, rec := setup(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		seedJob(t, database, jobSeed{ID: id})
	}

	ab, err := s.AddDependency(ctx, "a", "b", models.FinishToStart)
	if err != nil {
		t.Fatalf("a -> b: %v", err)
	}
	if _, err := s.AddDependency(ctx, "b", "c", ""); err != nil {
		t.Fatalf("b -> c: %v", err)
	}

	t.Run("rejections", func(t *testing.T) {
		tests := []struct {
			name    string
			job, on string
			want    graph.Rejection
		}{
			{"cycle", "c", "a", graph.RejectCycle},
			{"self", "a", "a", graph.RejectSelf},
			{"duplicate", "a", "b", graph.RejectDuplicate},
			{"reverse", "b", "a", graph.RejectReverse},
		}
		for _, tt := range tests {
			_, err := s.AddDependency(ctx, tt.job, tt.on, models.StartToStart)
			var rej graph.Rejection
			if !errors.As(err, &rej) || rej != tt.want {
				t.Errorf("%s: expected %q, got %v", tt.name, tt.want, err)
			}
		}

		var n int
		database.QueryRow("SELECT COUNT(*) FROM job_dependencies").Scan(&n)
		if n != 2 {
			t.Errorf("expected 2 stored edges, got %d", n)
		}
	})

	t.Run("unknown job", func(t *testing.T) {
		_, err := s.AddDependency(ctx, "a", "ghost", models.FinishToStart)
		if !errors.Is(err, ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound, got %v", err)
		}
	})

	t.Run("remove", func(t *testing.T) {
		if err := s.RemoveDependency(ctx, ab.ID); err != nil {
			t.Fatal(err)
		}
		if err := s.RemoveDependency(ctx, ab.ID); !errors.Is(err, ErrDependencyNotFound) {
			t.Errorf("expected ErrDependencyNotFound, got %v", err)
		}
		// the cycle closer is now legal
		if _, err := s.AddDependency(ctx, "c", "a", models.FinishToStart); err != nil {
			t.Errorf("c -> a after removal: %v", err)
		}
	})

	if got := rec.count(events.TypeDependencyAdded); got != 3 {
		t.Errorf("expected 3 DEPENDENCY_ADDED events, got %d", got)
	}
	if got := rec.count(events.TypeDependencyRemoved); got != 1 {
		t.Errorf("expected 1 DEPENDENCY_REMOVED event, got %d", got)
	}
}

func TestRemoveDependency_StoreErrorIsNotNotFound(t *testing.T) {
	database, s, rec := setup(t)
	database.Close()

	err := s.RemoveDependency(context.Background(), "e1")
	if err == nil {
		t.Fatal("expected an error from a closed store")
	}
	if errors.Is(err, ErrDependencyNotFound) {
		t.Errorf("store failure reported as not found: %v", err)
	}
	if rec.count(events.TypeDependencyRemoved) != 0 {
		t.Error("no event expected")
	}
}

func TestRecomputeCriticalPathAndScores(t *testing.T) {
	database, s, rec := setup(t)
	ctx := context.Background()

	seedProject(t, database, "drone", at(100*time.Hour))
	seedJob(t, database, jobSeed{ID: "a", Priority: 10, Minutes: 60, Project: "drone"})
	seedJob(t, database, jobSeed{ID: "b", Priority: 5, Minutes: 30, Project: "drone"})
	seedJob(t, database, jobSeed{ID: "c", Priority: 5, Minutes: 90, Project: "drone"})
	seedJob(t, database, jobSeed{ID: "loose", Priority: 4})
	seedEdge(t, database, "e1", "a", "b")
	seedEdge(t, database, "e2", "b", "c")

	report, err := s.RecomputeCriticalPathAndScores(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Projects != 1 || report.CriticalJobs != 3 || report.Scored != 4 {
		t.Errorf("unexpected report %+v", report)
	}

	a := getJob(t, database, "a")
	if !a.OnCriticalPath {
		t.Error("a should be critical")
	}
	if a.EstimatedStart == nil || !a.EstimatedStart.Equal(testNow.Add(120*time.Minute)) {
		t.Errorf("a start: got %v", a.EstimatedStart)
	}
	if a.EstimatedEnd == nil || !a.EstimatedEnd.Equal(testNow.Add(180*time.Minute)) {
		t.Errorf("a end: got %v", a.EstimatedEnd)
	}

	// 25 manual + 25 critical + 4 project
	if a.PriorityScore != 54 {
		t.Errorf("a score: expected 54, got %v", a.PriorityScore)
	}
	// 12.5 manual + 25 critical + 4 project + 2 blocking
	if c := getJob(t, database, "c"); c.PriorityScore != 43.5 {
		t.Errorf("c score: expected 43.5, got %v", c.PriorityScore)
	}
	loose := getJob(t, database, "loose")
	if loose.PriorityScore != 10 || loose.OnCriticalPath {
		t.Errorf("loose: unexpected %v critical=%v", loose.PriorityScore, loose.OnCriticalPath)
	}
	if rec.count(events.TypePriorityUpdated) != 1 {
		t.Error("expected one PRIORITY_UPDATED event")
	}

	t.Run("second pass is stable", func(t *testing.T) {
		report, err := s.RecomputeCriticalPathAndScores(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if report.ScoresChanged != 0 {
			t.Errorf("expected no changes, got %d", report.ScoresChanged)
		}
		if again := getJob(t, database, "a"); again.PriorityScore != 54 || !again.EstimatedEnd.Equal(*a.EstimatedEnd) {
			t.Error("second pass changed a")
		}
	})
}

func TestRecompute_PersistentCycleAlerts(t *testing.T) {
	database, s, rec := setup(t)
	ctx := context.Background()

	seedProject(t, database, "broken", nil)
	seedJob(t, database, jobSeed{ID: "x", Minutes: 10, Project: "broken"})
	seedJob(t, database, jobSeed{ID: "y", Minutes: 10, Project: "broken"})
	// written behind the validator's back
	seedEdge(t, database, "e1", "x", "y")
	seedEdge(t, database, "e2", "y", "x")

	for pass := 1; pass <= 3; pass++ {
		report, err := s.RecomputeCriticalPathAndScores(ctx)
		if err != nil {
			t.Fatalf("pass %d: %v", pass, err)
		}
		if len(report.Cycles) != 1 || report.Cycles[0] != "broken" {
			t.Errorf("pass %d: expected cycle in broken, got %v", pass, report.Cycles)
		}
		want := 0
		if pass >= 3 {
			want = 1
		}
		if got := rec.count(events.TypeScheduleCycle); got != want {
			t.Errorf("pass %d: expected %d cycle alerts, got %d", pass, want, got)
		}
	}

	x := getJob(t, database, "x")
	if x.EstimatedStart != nil || x.OnCriticalPath {
		t.Error("cyclic jobs must keep their previous estimates")
	}

	// resolving the cycle resets the streak
	if _, err := database.Exec("DELETE FROM job_dependencies WHERE id = 'e2'"); err != nil {
		t.Fatal(err)
	}
	report, err := s.RecomputeCriticalPathAndScores(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Cycles) != 0 {
		t.Errorf("expected no cycles, got %v", report.Cycles)
	}
	if _, ok := s.cycleStreak["broken"]; ok {
		t.Error("streak should be cleared")
	}
}

func TestRecompute_ClearsCriticalFlagOutsideActiveProjects(t *testing.T) {
	database, s, _ := setup(t)
	ctx := context.Background()

	seedProject(t, database, "shelf", nil)
	seedJob(t, database, jobSeed{ID: "solo", Priority: 5, Minutes: 30, Project: "shelf"})
	seedProject(t, database, "tangled", nil)
	seedJob(t, database, jobSeed{ID: "p", Minutes: 10, Project: "tangled"})
	seedJob(t, database, jobSeed{ID: "q", Minutes: 10, Project: "tangled"})
	seedEdge(t, database, "e1", "q", "p")

	if _, err := s.RecomputeCriticalPathAndScores(ctx); err != nil {
		t.Fatal(err)
	}
	// 12.5 manual + 25 critical
	if solo := getJob(t, database, "solo"); !solo.OnCriticalPath || solo.PriorityScore != 37.5 {
		t.Fatalf("solo: critical=%v score=%v", solo.OnCriticalPath, solo.PriorityScore)
	}
	if p := getJob(t, database, "p"); !p.OnCriticalPath {
		t.Fatal("p should be critical")
	}

	if _, err := database.Exec("UPDATE projects SET status = 'completed' WHERE id = 'shelf'"); err != nil {
		t.Fatal(err)
	}
	// closes a cycle in tangled, whose estimates must be left alone
	seedEdge(t, database, "e2", "p", "q")

	report, err := s.RecomputeCriticalPathAndScores(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Projects != 1 || len(report.Cycles) != 1 {
		t.Errorf("unexpected report %+v", report)
	}
	if solo := getJob(t, database, "solo"); solo.OnCriticalPath || solo.PriorityScore != 12.5 {
		t.Errorf("solo: expected flag cleared and score 12.5, got critical=%v score=%v", solo.OnCriticalPath, solo.PriorityScore)
	}
	if p := getJob(t, database, "p"); !p.OnCriticalPath {
		t.Error("p is in a cycling project and should keep its flag")
	}
}

func TestAssignPendingJobs(t *testing.T) {
	database, s, rec := setup(t)
	ctx := context.Background()

	seedPrinter(t, database, "petg-only", "PETG")
	seedJob(t, database, jobSeed{ID: "needs-pla", Material: "PLA", Minutes: 45})

	t.Run("incompatible material", func(t *testing.T) {
		res, err := s.AssignPendingJobs(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Assignments) != 0 {
			t.Fatalf("expected no assignments, got %d", len(res.Assignments))
		}
		checkJobStatus(t, database, "needs-pla", models.JobStatusPending, "")
		if st := printerStatus(t, database, "petg-only"); st != models.PrinterStatusIdle {
			t.Errorf("printer should stay IDLE, got %s", st)
		}
		if j := getJob(t, database, "needs-pla"); j.Reason == nil {
			t.Error("expected a reason on the unplaced job")
		}
	})

	t.Run("compatible printer", func(t *testing.T) {
		seedPrinter(t, database, "pla", "PLA", "PETG")
		res, err := s.AssignPendingJobs(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Assignments) != 1 {
			t.Fatalf("expected 1 assignment, got %d", len(res.Assignments))
		}
		checkJobStatus(t, database, "needs-pla", models.JobStatusAssigned, "pla")
		if st := printerStatus(t, database, "pla"); st != models.PrinterStatusQueued {
			t.Errorf("expected QUEUED, got %s", st)
		}

		j := getJob(t, database, "needs-pla")
		if j.Reason != nil {
			t.Errorf("reason should be cleared, got %q", *j.Reason)
		}
		if j.EstimatedEnd == nil || !j.EstimatedEnd.Equal(testNow.Add(45*time.Minute)) {
			t.Errorf("unexpected end %v", j.EstimatedEnd)
		}

		var logs int
		database.QueryRow("SELECT COUNT(*) FROM printer_status_log WHERE printer_id = 'pla' AND status = 'QUEUED'").Scan(&logs)
		if logs != 1 {
			t.Errorf("expected 1 status log, got %d", logs)
		}
		if rec.count(events.TypeJobAssigned) != 1 || rec.count(events.TypePrinterQueueChanged) != 1 {
			t.Error("expected assignment events")
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		res, err := s.AssignPendingJobs(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Assignments) != 0 {
			t.Errorf("second pass assigned %d jobs", len(res.Assignments))
		}
	})
}

func TestAssignPendingJobs_DependencyGating(t *testing.T) {
	database, s, _ := setup(t)
	ctx := context.Background()

	seedPrinter(t, database, "p1")
	seedPrinter(t, database, "p2")
	seedJob(t, database, jobSeed{ID: "base", Status: models.JobStatusPrinting, Printer: "p1"})
	seedJob(t, database, jobSeed{ID: "top"})
	seedEdge(t, database, "e1", "top", "base")
	database.Exec("UPDATE printers SET status = 'PRINTING' WHERE id = 'p1'")
	database.Exec("UPDATE jobs SET priority_score = 99 WHERE id = 'top'")

	res, err := s.AssignPendingJobs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Assignments) != 0 || res.SkippedDependencies != 1 {
		t.Errorf("expected top to be blocked, got %+v", res)
	}
	checkJobStatus(t, database, "top", models.JobStatusPending, "")

	database.Exec("UPDATE jobs SET status = 'COMPLETED' WHERE id = 'base'")
	if _, err := s.AssignPendingJobs(ctx); err != nil {
		t.Fatal(err)
	}
	checkJobStatus(t, database, "top", models.JobStatusAssigned, "p2")
}

func TestStartAndCompleteJob(t *testing.T) {
	database, s, rec := setup(t)
	ctx := context.Background()

	seedPrinter(t, database, "mk4", "PLA")
	database.Exec("INSERT INTO spools (id, printer_id, material_type, remaining_g, is_in_use) VALUES ('s1', 'mk4', 'PLA', 100, 1)")
	seedJob(t, database, jobSeed{ID: "part", Minutes: 60, Material: "PLA", NeedG: 40})

	if err := s.StartJob(ctx, "part"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("starting a pending job: expected ErrInvalidTransition, got %v", err)
	}
	if err := s.StartJob(ctx, "ghost"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}

	if _, err := s.AssignPendingJobs(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.StartJob(ctx, "part"); err != nil {
		t.Fatal(err)
	}
	checkJobStatus(t, database, "part", models.JobStatusPrinting, "mk4")
	if st := printerStatus(t, database, "mk4"); st != models.PrinterStatusPrinting {
		t.Errorf("expected PRINTING, got %s", st)
	}

	t.Run("not finished inside grace", func(t *testing.T) {
		s.now = func() time.Time { return testNow.Add(64 * time.Minute) }
		done, err := s.CompleteFinishedJobs(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(done) != 0 {
			t.Errorf("completed too early: %v", done)
		}
	})

	t.Run("finished after grace", func(t *testing.T) {
		s.now = func() time.Time { return testNow.Add(65 * time.Minute) }
		done, err := s.CompleteFinishedJobs(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(done) != 1 || done[0] != "part" {
			t.Fatalf("expected part completed, got %v", done)
		}
		checkJobStatus(t, database, "part", models.JobStatusCompleted, "mk4")
		if st := printerStatus(t, database, "mk4"); st != models.PrinterStatusIdle {
			t.Errorf("expected IDLE, got %s", st)
		}
		var remaining float64
		database.QueryRow("SELECT remaining_g FROM spools WHERE id = 's1'").Scan(&remaining)
		if remaining != 60 {
			t.Errorf("expected 60g left, got %v", remaining)
		}
		if rec.count(events.TypeJobCompleted) != 1 {
			t.Error("expected JOB_COMPLETED event")
		}
	})
}

func TestCheckDeadlines(t *testing.T) {
	database, s, rec := setup(t)
	ctx := context.Background()

	seedProject(t, database, "soon", at(30*time.Hour))
	seedProject(t, database, "later", at(200*time.Hour))
	seedJob(t, database, jobSeed{ID: "late", Deadline: at(-2 * time.Hour), Project: "soon"})
	seedJob(t, database, jobSeed{ID: "urgent", Deadline: at(5 * time.Hour), Project: "later"})
	seedJob(t, database, jobSeed{ID: "fine", Deadline: at(100 * time.Hour)})
	seedJob(t, database, jobSeed{ID: "done", Status: models.JobStatusCompleted, Deadline: at(-5 * time.Hour)})

	report, err := s.CheckDeadlines(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Overdue) != 1 || report.Overdue[0] != "late" {
		t.Errorf("overdue: %v", report.Overdue)
	}
	if len(report.Urgent) != 1 || report.Urgent[0] != "urgent" {
		t.Errorf("urgent: %v", report.Urgent)
	}
	if len(report.ProjectsAtRisk) != 1 || report.ProjectsAtRisk[0] != "soon" {
		t.Errorf("at risk: %v", report.ProjectsAtRisk)
	}
	if rec.count(events.TypeJobOverdue) != 1 || rec.count(events.TypeJobUrgent) != 1 || rec.count(events.TypeProjectAtRisk) != 1 {
		t.Errorf("unexpected events: %+v", rec.events)
	}
}

func TestCheckTimeWindows(t *testing.T) {
	database, s, rec := setup(t)
	ctx := context.Background()

	seedPrinter(t, database, "day-shift")
	seedPrinter(t, database, "night-shift")
	database.Exec("INSERT INTO time_windows (id, printer_id, day_of_week, start_time, end_time) VALUES ('w1', 'day-shift', 0, '08:00', '12:00')")
	database.Exec("INSERT INTO time_windows (id, printer_id, day_of_week, start_time, end_time) VALUES ('w2', 'night-shift', 0, '20:00', '23:00')")
	seedJob(t, database, jobSeed{ID: "j1", Status: models.JobStatusPrinting, Printer: "day-shift", Start: at(-time.Hour)})
	seedJob(t, database, jobSeed{ID: "j2", Status: models.JobStatusPrinting, Printer: "night-shift", Start: at(-time.Hour)})

	violations, err := s.CheckTimeWindows(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(violations) != 1 {
		t.Fatalf("expected 1 violation, got %+v", violations)
	}
	v := violations[0]
	if v.PrinterID != "night-shift" || v.JobID != "j2" {
		t.Errorf("unexpected violation %+v", v)
	}
	want := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	if v.NextAvailable == nil || !v.NextAvailable.Equal(want) {
		t.Errorf("expected next available %v, got %v", want, v.NextAvailable)
	}
	if rec.count(events.TypeTimeWindowViolation) != 1 {
		t.Error("expected TIME_WINDOW_VIOLATION event")
	}
}

func TestProjectCriticalPath(t *testing.T) {
	database, s, _ := setup(t)
	ctx := context.Background()

	seedProject(t, database, "p", nil)
	seedJob(t, database, jobSeed{ID: "long", Minutes: 120, Project: "p"})
	seedJob(t, database, jobSeed{ID: "short", Minutes: 10, Project: "p"})
	seedJob(t, database, jobSeed{ID: "final", Minutes: 5, Project: "p"})
	seedEdge(t, database, "e1", "final", "long")
	seedEdge(t, database, "e2", "final", "short")

	critical, err := s.ProjectCriticalPath(ctx, "p")
	if err != nil {
		t.Fatal(err)
	}
	if len(critical) != 2 || critical[0].ID != "long" || critical[1].ID != "final" {
		t.Errorf("unexpected critical path %v", critical)
	}
	// read-only
	if getJob(t, database, "long").OnCriticalPath {
		t.Error("ProjectCriticalPath must not persist")
	}

	if _, err := s.ProjectCriticalPath(ctx, "missing"); !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("expected ErrProjectNotFound, got %v", err)
	}
}

func TestRunDisabled(t *testing.T) {
	database, _, rec := setup(t)
	cfg := config.DefaultSchedulerConfig()
	cfg.Enabled = false
	s := New(database, rec, cfg)

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled scheduler should return immediately")
	}
}
