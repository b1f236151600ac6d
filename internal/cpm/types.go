package cpm

// Result holds the complete critical path analysis of a job set. All times
// are minutes relative to the start of the pass.
type Result struct {
	Jobs         map[string]*JobSchedule
	CriticalPath []string // ordered job IDs on critical path
	Horizon      float64  // max earliest finish
	TopoOrder    []string
}

// JobSchedule holds the scheduling info for a single job.
type JobSchedule struct {
	JobID      string
	Duration   float64
	ES, EF     float64 // earliest start/finish
	LS, LF     float64 // latest start/finish
	Slack      float64
	IsCritical bool
}
