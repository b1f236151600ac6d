package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/printfarm/farmd/internal/config"
	"github.com/printfarm/farmd/internal/models"
	"github.com/printfarm/farmd/internal/netutils"
)

var (
	cfg    *config.CLIConfig
	client *http.Client
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "farmctl",
		Short:        "Inspect and drive the print farm scheduler",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.LoadCLIConfig(); err != nil {
				return err
			}
			if url := os.Getenv("FARM_CONTROLLER"); url != "" {
				cfg.ControllerURL = url
			}
			if token := os.Getenv("FARM_TOKEN"); token != "" {
				cfg.Token = token
			}
			client = netutils.NewClient(cfg.Insecure)
			return nil
		},
	}

	var status string
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs by priority score",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listJobs(status)
		},
	}
	jobsCmd.Flags().StringVar(&status, "status", "", "Only show jobs in this status")

	printersCmd := &cobra.Command{
		Use:   "printers",
		Short: "List printers",
		RunE:  listPrinters,
	}

	rootCmd.AddCommand(jobsCmd, printersCmd, submitCommand(), depCommand(), configCommand(),
		&cobra.Command{
			Use:   "critical-path <project-id>",
			Short: "Show the critical path of a project",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return criticalPath(args[0])
			},
		},
		&cobra.Command{
			Use:   "schedule",
			Short: "Recompute priorities and assign pending jobs now",
			RunE:  runSchedule,
		},
		&cobra.Command{
			Use:   "start <job-id>",
			Short: "Mark an assigned job as printing",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return startJob(args[0])
			},
		},
		&cobra.Command{
			Use:   "events <job-id>",
			Short: "Show the event history of a job",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return listEvents(args[0])
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func submitCommand() *cobra.Command {
	var (
		priority  int
		minutes   int
		material  string
		grams     float64
		sizeX     float64
		sizeY     float64
		project   string
		parent    string
		deadline  string
		dueWithin time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit <name>",
		Short: "Submit a new print job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{
				"name":               args[0],
				"priority":           priority,
				"estimated_duration": minutes,
				"required_material":  material,
				"material_needed_g":  grams,
				"dimensions_x_mm":    sizeX,
				"dimensions_y_mm":    sizeY,
				"project_id":         project,
				"parent_job_id":      parent,
			}
			switch {
			case deadline != "":
				t, err := time.Parse(time.RFC3339, deadline)
				if err != nil {
					return fmt.Errorf("invalid --deadline: %w", err)
				}
				req["deadline"] = t
			case dueWithin > 0:
				req["deadline"] = time.Now().Add(dueWithin).UTC()
			}

			var job models.Job
			if err := call("POST", "/v1/jobs", req, &job); err != nil {
				return err
			}
			fmt.Printf("Job submitted! ID: %s\n", job.ID)
			return nil
		},
	}
	cmd.Flags().IntVar(&priority, "priority", 5, "Manual priority, 0 to 10")
	cmd.Flags().IntVar(&minutes, "minutes", 0, "Estimated print time in minutes")
	cmd.Flags().StringVar(&material, "material", "", "Required material type, e.g. PLA")
	cmd.Flags().Float64Var(&grams, "grams", 0, "Filament needed in grams")
	cmd.Flags().Float64Var(&sizeX, "x", 0, "Part footprint X in mm")
	cmd.Flags().Float64Var(&sizeY, "y", 0, "Part footprint Y in mm")
	cmd.Flags().StringVar(&project, "project", "", "Project id")
	cmd.Flags().StringVar(&parent, "parent", "", "Parent job id")
	cmd.Flags().StringVar(&deadline, "deadline", "", "Deadline as RFC3339")
	cmd.Flags().DurationVar(&dueWithin, "due-in", 0, "Deadline relative to now, e.g. 48h")
	cmd.MarkFlagsMutuallyExclusive("deadline", "due-in")
	return cmd
}

func depCommand() *cobra.Command {
	depCmd := &cobra.Command{
		Use:   "dep",
		Short: "Manage job dependencies",
	}

	var depType string
	addCmd := &cobra.Command{
		Use:   "add <job-id> <depends-on-id>",
		Short: "Make a job wait on another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var dep models.Dependency
			err := call("POST", "/v1/jobs/"+args[0]+"/dependencies", map[string]string{
				"depends_on": args[1],
				"type":       depType,
			}, &dep)
			if err != nil {
				return err
			}
			fmt.Printf("Dependency %s added: %s waits on %s (%s)\n", dep.ID, dep.JobID, dep.DependsOnID, dep.Type)
			return nil
		},
	}
	addCmd.Flags().StringVar(&depType, "type", string(models.FinishToStart), "FINISH_TO_START or START_TO_START")

	rmCmd := &cobra.Command{
		Use:   "rm <dependency-id>",
		Short: "Remove a dependency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := call("DELETE", "/v1/dependencies/"+args[0], nil, nil); err != nil {
				return err
			}
			fmt.Println("Dependency removed")
			return nil
		},
	}

	depCmd.AddCommand(addCmd, rmCmd)
	return depCmd
}

func configCommand() *cobra.Command {
	var url, token string
	var insecure bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Save controller address and token to ~/.farmctl.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("url") {
				cfg.ControllerURL = url
			}
			if cmd.Flags().Changed("token") {
				cfg.Token = token
			}
			if cmd.Flags().Changed("insecure") {
				cfg.Insecure = insecure
			}
			if err := config.SaveCLIConfig(cfg); err != nil {
				return err
			}
			fmt.Printf("Controller: %s\n", cfg.ControllerURL)
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", config.DefaultControllerURL, "Controller URL")
	cmd.Flags().StringVar(&token, "token", "", "Operator API token")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification")
	return cmd
}

type jobRow struct {
	models.Job
	DeadlineStatus models.DeadlineStatus `json:"deadline_status"`
	Urgency        float64               `json:"urgency"`
}

func listJobs(status string) error {
	path := "/v1/jobs"
	if status != "" {
		path += "?status=" + status
	}
	var jobs []jobRow
	if err := call("GET", path, nil, &jobs); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tSCORE\tURGENCY\tCRITICAL\tDEADLINE\tPRINTER")
	for _, j := range jobs {
		printer := "-"
		if j.AssignedPrinterID != nil {
			printer = *j.AssignedPrinterID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%.2f\t%s\t%s\t%s\n",
			shortID(j.ID), j.Name, j.Status, j.PriorityScore, j.Urgency, critical(j.OnCriticalPath), deadlineCell(j.Deadline, j.DeadlineStatus), printer)
	}
	return w.Flush()
}

func criticalPath(projectID string) error {
	var jobs []jobRow
	if err := call("GET", "/v1/projects/"+projectID+"/critical-path", nil, &jobs); err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No critical jobs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tID\tNAME\tMINUTES\tEST START\tEST END")
	for i, j := range jobs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n", i+1, shortID(j.ID), j.Name, j.EstimatedMinutes, clock(j.EstimatedStart), clock(j.EstimatedEnd))
	}
	return w.Flush()
}

type printerRow struct {
	models.Printer
	Spool         *models.Spool `json:"spool"`
	InWindow      bool          `json:"in_window"`
	NextAvailable *time.Time    `json:"next_available"`
}

func listPrinters(cmd *cobra.Command, args []string) error {
	var printers []printerRow
	if err := call("GET", "/v1/printers", nil, &printers); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tQUEUE\tSPOOL\tWINDOW")
	for _, p := range printers {
		spool := "-"
		if p.Spool != nil {
			spool = fmt.Sprintf("%s %.0fg", p.Spool.MaterialType, p.Spool.RemainingG)
		}
		window := color.GreenString("open")
		if !p.InWindow {
			window = color.YellowString("closed until %s", clock(p.NextAvailable))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", p.ID, p.Name, printerStatus(p.Status), p.QueueLength, spool, window)
	}
	return w.Flush()
}

func runSchedule(cmd *cobra.Command, args []string) error {
	var res struct {
		Projects      int      `json:"projects"`
		CriticalJobs  int      `json:"critical_jobs"`
		ScoresChanged int      `json:"scores_changed"`
		Cycles        []string `json:"cycles"`
		Assigned      []struct {
			JobID     string `json:"job_id"`
			PrinterID string `json:"printer_id"`
		} `json:"assigned"`
		SkippedDependencies int `json:"skipped_dependencies"`
		SkippedTimeWindow   int `json:"skipped_time_window"`
		SkippedMaterial     int `json:"skipped_material"`
		SkippedBedSize      int `json:"skipped_bed_size"`
	}
	if err := call("POST", "/v1/schedule/run", nil, &res); err != nil {
		return err
	}

	fmt.Printf("Analyzed %d projects, %d critical jobs, %d scores changed\n", res.Projects, res.CriticalJobs, res.ScoresChanged)
	for _, p := range res.Cycles {
		color.Red("Project %s has a dependency cycle", p)
	}
	for _, a := range res.Assigned {
		fmt.Printf("  %s -> %s\n", shortID(a.JobID), color.CyanString(a.PrinterID))
	}
	fmt.Printf("%d assigned | skipped: %d dependencies, %d time window, %d material, %d bed size\n",
		len(res.Assigned), res.SkippedDependencies, res.SkippedTimeWindow, res.SkippedMaterial, res.SkippedBedSize)
	return nil
}

func startJob(jobID string) error {
	if err := call("POST", "/v1/jobs/"+jobID+"/start", nil, nil); err != nil {
		return err
	}
	fmt.Printf("Job %s is printing\n", jobID)
	return nil
}

func listEvents(jobID string) error {
	var evts []models.Event
	if err := call("GET", "/v1/jobs/"+jobID+"/events", nil, &evts); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AT\tTYPE\tPRINTER\tPAYLOAD")
	for _, e := range evts {
		printer, payload := "-", ""
		if e.PrinterID != nil {
			printer = *e.PrinterID
		}
		if e.PayloadJSON != nil {
			payload = *e.PayloadJSON
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.At.Local().Format("01-02 15:04:05"), e.Type, printer, payload)
	}
	return w.Flush()
}

func call(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, cfg.ControllerURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("unauthorized: check your FARM_TOKEN or run farmctl config --token")
	case resp.StatusCode == http.StatusConflict:
		var rejection struct {
			Reason string `json:"reason"`
		}
		b, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(b, &rejection) == nil && rejection.Reason != "" {
			return fmt.Errorf("rejected: %s", rejection.Reason)
		}
		return fmt.Errorf("conflict: %s", bytes.TrimSpace(b))
	case resp.StatusCode >= 300:
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request failed (%d): %s", resp.StatusCode, bytes.TrimSpace(b))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func clock(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("Mon 15:04")
}

func critical(on bool) string {
	if on {
		return color.RedString("yes")
	}
	return "no"
}

func deadlineCell(deadline *time.Time, status models.DeadlineStatus) string {
	if deadline == nil {
		return "-"
	}
	text := deadline.Local().Format("01-02 15:04")
	switch status {
	case models.DeadlineOverdue:
		return color.New(color.FgHiRed, color.Bold).Sprint(text + " OVERDUE")
	case models.DeadlineRed:
		return color.RedString(text)
	case models.DeadlineYellow:
		return color.YellowString(text)
	}
	return color.GreenString(text)
}

func printerStatus(s models.PrinterStatus) string {
	switch s {
	case models.PrinterStatusIdle:
		return color.GreenString(string(s))
	case models.PrinterStatusPrinting, models.PrinterStatusQueued:
		return color.CyanString(string(s))
	case models.PrinterStatusError, models.PrinterStatusOffline:
		return color.RedString(string(s))
	}
	return color.YellowString(string(s))
}
