package controller

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/printfarm/farmd/internal/auth"
	"github.com/printfarm/farmd/internal/db"
	"github.com/printfarm/farmd/internal/events"
	"github.com/printfarm/farmd/internal/graph"
	"github.com/printfarm/farmd/internal/matcher"
	"github.com/printfarm/farmd/internal/models"
	"github.com/printfarm/farmd/internal/priority"
	"github.com/printfarm/farmd/internal/scheduler"
)

const defaultEventLimit = 200

type Server struct {
	db    *db.DB
	auth  *auth.Authenticator
	sched *scheduler.Scheduler
}

func NewServer(db *db.DB, auth *auth.Authenticator, sched *scheduler.Scheduler) *Server {
	return &Server{
		db:    db,
		auth:  auth,
		sched: sched,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Views
	mux.HandleFunc("GET /v1/jobs", s.handleJobList)
	mux.HandleFunc("GET /v1/jobs/{id}", s.handleJobGet)
	mux.HandleFunc("GET /v1/jobs/{id}/events", s.handleJobEvents)
	mux.HandleFunc("GET /v1/printers", s.handlePrinterList)
	mux.HandleFunc("GET /v1/projects/{id}/critical-path", s.handleCriticalPath)

	// Mutations (operator token)
	mux.Handle("POST /v1/jobs", s.auth.Middleware(http.HandlerFunc(s.handleJobSubmit)))
	mux.Handle("POST /v1/jobs/{id}/start", s.auth.Middleware(http.HandlerFunc(s.handleJobStart)))
	mux.Handle("POST /v1/jobs/{id}/dependencies", s.auth.Middleware(http.HandlerFunc(s.handleDependencyAdd)))
	mux.Handle("DELETE /v1/dependencies/{id}", s.auth.Middleware(http.HandlerFunc(s.handleDependencyRemove)))
	mux.Handle("POST /v1/schedule/run", s.auth.Middleware(http.HandlerFunc(s.handleScheduleRun)))

	return s.withCORS(mux)
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// JobView is a job as listed by the API, with its deadline status and a
// 0..1 urgency for display.
type JobView struct {
	*models.Job
	DeadlineStatus models.DeadlineStatus `json:"deadline_status"`
	Urgency        float64               `json:"urgency"`
}

func (s *Server) jobViews(r *http.Request, jobs []*models.Job) ([]JobView, error) {
	counts, err := s.sched.DependentCounts(r.Context())
	if err != nil {
		return nil, err
	}
	now := s.sched.Now()
	views := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, JobView{
			Job:            j,
			DeadlineStatus: priority.Status(j.Deadline, now),
			Urgency:        priority.Urgency(j, counts[j.ID], now),
		})
	}
	return views, nil
}

func (s *Server) handleJobList(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.sched.Jobs(r.Context(), models.JobStatus(r.URL.Query().Get("status")))
	if err != nil {
		log.Printf("API: listing jobs: %v", err)
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}

	views, err := s.jobViews(r, jobs)
	if err != nil {
		log.Printf("API: counting dependents: %v", err)
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleJobGet(w http.ResponseWriter, r *http.Request) {
	job, err := s.sched.Job(r.Context(), r.PathValue("id"))
	if errors.Is(err, scheduler.ErrJobNotFound) {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	views, err := s.jobViews(r, []*models.Job{job})
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, views[0])
}

func (s *Server) handleJobSubmit(w http.ResponseWriter, r *http.Request) {
	var req scheduler.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	job, err := s.sched.SubmitJob(r.Context(), req)
	switch {
	case errors.Is(err, scheduler.ErrInvalidJob):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, scheduler.ErrProjectNotFound), errors.Is(err, scheduler.ErrJobNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		log.Printf("API: submitting job: %v", err)
		http.Error(w, "db error job insert", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobStart(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	err := s.sched.StartJob(r.Context(), jobID)
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		http.Error(w, "job not found", http.StatusNotFound)
		return
	case errors.Is(err, scheduler.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		log.Printf("API: starting job %s: %v", jobID, err)
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": jobID, "status": string(models.JobStatusPrinting)})
}

type DependencyRequest struct {
	DependsOn string `json:"depends_on"`
	Type      string `json:"type"`
}

func (s *Server) handleDependencyAdd(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	var req DependencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DependsOn == "" {
		http.Error(w, "invalid request: depends_on is required", http.StatusBadRequest)
		return
	}
	typ, ok := models.ParseDependencyType(req.Type)
	if !ok {
		http.Error(w, "invalid request: unknown dependency type "+strconv.Quote(req.Type), http.StatusBadRequest)
		return
	}

	dep, err := s.sched.AddDependency(r.Context(), jobID, req.DependsOn, typ)
	var rejection graph.Rejection
	switch {
	case errors.As(err, &rejection):
		writeJSON(w, http.StatusConflict, map[string]string{"reason": string(rejection)})
		return
	case errors.Is(err, scheduler.ErrJobNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		log.Printf("API: adding dependency %s -> %s: %v", jobID, req.DependsOn, err)
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, dep)
}

func (s *Server) handleDependencyRemove(w http.ResponseWriter, r *http.Request) {
	err := s.sched.RemoveDependency(r.Context(), r.PathValue("id"))
	if errors.Is(err, scheduler.ErrDependencyNotFound) {
		http.Error(w, "dependency not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCriticalPath(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.sched.ProjectCriticalPath(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, scheduler.ErrProjectNotFound):
		http.Error(w, "project not found", http.StatusNotFound)
		return
	case errors.Is(err, graph.ErrCycle):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}

	views, err := s.jobViews(r, jobs)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

type PrinterView struct {
	*models.Printer
	Spool         *models.Spool `json:"spool,omitempty"`
	InWindow      bool          `json:"in_window"`
	NextAvailable *time.Time    `json:"next_available,omitempty"`
}

func (s *Server) handlePrinterList(w http.ResponseWriter, r *http.Request) {
	machines, err := s.sched.Printers(r.Context())
	if err != nil {
		log.Printf("API: listing printers: %v", err)
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}

	now := s.sched.LocalNow()
	views := make([]PrinterView, 0, len(machines))
	for _, m := range machines {
		v := PrinterView{Printer: m.Printer, Spool: m.Spool, InWindow: matcher.Available(m.Windows, now)}
		if !v.InWindow {
			if next, ok := matcher.NextAvailable(m.Windows, now); ok {
				v.NextAvailable = &next
			}
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

type ScheduleRunResponse struct {
	*scheduler.RecomputeReport
	Assigned            []matcher.Assignment `json:"assigned"`
	Blocked             []string             `json:"blocked"`
	SkippedDependencies int                  `json:"skipped_dependencies"`
	SkippedTimeWindow   int                  `json:"skipped_time_window"`
	SkippedMaterial     int                  `json:"skipped_material"`
	SkippedBedSize      int                  `json:"skipped_bed_size"`
}

func (s *Server) handleScheduleRun(w http.ResponseWriter, r *http.Request) {
	report, res, err := s.sched.RunOnce(r.Context())
	if err != nil {
		log.Printf("API: manual schedule run: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := ScheduleRunResponse{
		RecomputeReport:     report,
		Assigned:            res.Assignments,
		Blocked:             res.Blocked,
		SkippedDependencies: res.SkippedDependencies,
		SkippedTimeWindow:   res.SkippedTimeWindow,
		SkippedMaterial:     res.SkippedMaterial,
		SkippedBedSize:      res.SkippedBedSize,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	list, err := events.ForJob(s.db, r.PathValue("id"), limit)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []models.Event{}
	}
	writeJSON(w, http.StatusOK, list)
}
