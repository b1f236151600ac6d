package events

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/printfarm/farmd/internal/db"
	"github.com/printfarm/farmd/internal/models"
)

const (
	// Dependency API Events
	TypeJobSubmitted      = "JOB_SUBMITTED"
	TypeDependencyAdded   = "DEPENDENCY_ADDED"
	TypeDependencyRemoved = "DEPENDENCY_REMOVED"

	// Scheduler Events
	TypeJobAssigned         = "JOB_ASSIGNED"
	TypePrinterQueueChanged = "PRINTER_QUEUE_CHANGED"
	TypePriorityUpdated     = "PRIORITY_UPDATED"
	TypeScheduleCycle       = "SCHEDULE_CYCLE"
	TypeJobCompleted        = "JOB_COMPLETED"

	// Deadline/Window Events
	TypeJobOverdue          = "JOB_OVERDUE"
	TypeJobUrgent           = "JOB_URGENT"
	TypeProjectAtRisk       = "PROJECT_AT_RISK"
	TypeTimeWindowViolation = "TIME_WINDOW_VIOLATION"
)

// Emitter receives engine-derived notifications.
type Emitter interface {
	Emit(eventType string, jobID, printerID *string, payload any)
}

type EventManager struct {
	db        *db.DB
	in        chan models.Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	batchSize int
	interval  time.Duration
}

func New(database *db.DB) *EventManager {
	em := &EventManager{
		db:        database,
		in:        make(chan models.Event, 1000), // Buffer 1000 events
		done:      make(chan struct{}),
		batchSize: 100,
		interval:  time.Second,
	}

	em.wg.Add(1)
	go em.loop()
	return em
}

// Close flushes pending events and stops the writer. Later calls are no-ops.
func (em *EventManager) Close() {
	em.closeOnce.Do(func() { close(em.done) })
	em.wg.Wait()
}

func (em *EventManager) Emit(eventType string, jobID, printerID *string, payload any) {
	var payloadJSON *string
	if payload != nil {
		b, err := json.Marshal(payload)
		if err == nil {
			s := string(b)
			payloadJSON = &s
		}
	}

	select {
	case em.in <- models.Event{
		At:          time.Now(),
		Type:        eventType,
		JobID:       jobID,
		PrinterID:   printerID,
		PayloadJSON: payloadJSON,
	}:
	default:
		// Drop event if buffer is full to prevent blocking
		log.Printf("EventManager: Dropped event %s (buffer full)", eventType)
	}
}

func (em *EventManager) loop() {
	defer em.wg.Done()

	ticker := time.NewTicker(em.interval)
	defer ticker.Stop()

	var batch []models.Event

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := em.writeBatch(batch); err != nil {
			log.Printf("EventManager: writeBatch failed: %v", err)
		}
		batch = make([]models.Event, 0, em.batchSize)
	}

	for {
		select {
		case evt := <-em.in:
			batch = append(batch, evt)
			if len(batch) >= em.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-em.done:
			for len(em.in) > 0 {
				batch = append(batch, <-em.in)
			}
			flush() // Flush remaining events on exit
			return
		}
	}
}

func (em *EventManager) writeBatch(batch []models.Event) error {
	tx, err := em.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO events (at, type, job_id, printer_id, payload_json) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range batch {
		_, err := stmt.Exec(e.At.UTC(), e.Type, e.JobID, e.PrinterID, e.PayloadJSON)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ForJob returns the recorded events of a job, oldest first.
func ForJob(database *db.DB, jobID string, limit int) ([]models.Event, error) {
	rows, err := database.Query(`
		SELECT id, at, type, job_id, printer_id, payload_json
		FROM events WHERE job_id = ? ORDER BY id ASC LIMIT ?
	`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.ID, &e.At, &e.Type, &e.JobID, &e.PrinterID, &e.PayloadJSON); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
