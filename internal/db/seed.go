package db

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/printfarm/farmd/internal/models"
)

// Seed is a YAML fixture describing a farm: projects, printers with their
// windows and loaded spool, and jobs with their dependencies.
type Seed struct {
	Projects []SeedProject `yaml:"projects"`
	Printers []SeedPrinter `yaml:"printers"`
	Jobs     []SeedJob     `yaml:"jobs"`
}

type SeedProject struct {
	ID       string     `yaml:"id"`
	Name     string     `yaml:"name"`
	Deadline *time.Time `yaml:"deadline"`
	Status   string     `yaml:"status"`
}

type SeedPrinter struct {
	ID        string       `yaml:"id"`
	Name      string       `yaml:"name"`
	Materials []string     `yaml:"materials"`
	BedX      float64      `yaml:"bed_size_x_mm"`
	BedY      float64      `yaml:"bed_size_y_mm"`
	Windows   []SeedWindow `yaml:"windows"`
	Spool     *SeedSpool   `yaml:"spool"`
}

type SeedWindow struct {
	Day      int    `yaml:"day"`
	Start    string `yaml:"start"`
	End      string `yaml:"end"`
	Inactive bool   `yaml:"inactive"`
}

type SeedSpool struct {
	ID         string  `yaml:"id"`
	Material   string  `yaml:"material"`
	RemainingG float64 `yaml:"remaining_g"`
}

type SeedJob struct {
	ID              string           `yaml:"id"`
	Name            string           `yaml:"name"`
	Priority        int              `yaml:"priority"`
	Deadline        *time.Time       `yaml:"deadline"`
	Duration        int              `yaml:"duration"`
	Material        string           `yaml:"material"`
	MaterialNeededG float64          `yaml:"material_needed_g"`
	DimensionsX     float64          `yaml:"dimensions_x_mm"`
	DimensionsY     float64          `yaml:"dimensions_y_mm"`
	Project         string           `yaml:"project"`
	Parent          string           `yaml:"parent"`
	DependsOn       []SeedDependency `yaml:"depends_on"`
}

type SeedDependency struct {
	Job  string `yaml:"job"`
	Type string `yaml:"type"`
}

func LoadSeed(path string) (*Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var s Seed
	if err := yaml.NewDecoder(f).Decode(&s); err != nil {
		return nil, fmt.Errorf("decoding seed %s: %w", path, err)
	}
	return &s, nil
}

// Dependencies lists the edges declared by the fixture. They carry no id;
// callers commit them through the validating dependency API.
func (s *Seed) Dependencies() ([]models.Dependency, error) {
	var deps []models.Dependency
	for _, j := range s.Jobs {
		for _, d := range j.DependsOn {
			typ, ok := models.ParseDependencyType(d.Type)
			if !ok {
				return nil, fmt.Errorf("job %s: unknown dependency type %q", j.ID, d.Type)
			}
			deps = append(deps, models.Dependency{JobID: j.ID, DependsOnID: d.Job, Type: typ})
		}
	}
	return deps, nil
}

// ApplySeed inserts the fixture's entities, skipping rows that already exist.
// Dependencies are not written.
func (d *DB) ApplySeed(s *Seed, now time.Time) error {
	tx, err := d.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, p := range s.Projects {
		status := p.Status
		if status == "" {
			status = string(models.ProjectStatusActive)
		}
		_, err := tx.Exec("INSERT OR IGNORE INTO projects (id, name, deadline, status) VALUES (?, ?, ?, ?)",
			p.ID, p.Name, utc(p.Deadline), status)
		if err != nil {
			return fmt.Errorf("seeding project %s: %w", p.ID, err)
		}
	}

	for _, p := range s.Printers {
		_, err := tx.Exec(`
			INSERT OR IGNORE INTO printers (id, name, status, compatible_material_types, bed_size_x_mm, bed_size_y_mm)
			VALUES (?, ?, ?, ?, ?, ?)
		`, p.ID, p.Name, models.PrinterStatusIdle, JoinMaterials(p.Materials), p.BedX, p.BedY)
		if err != nil {
			return fmt.Errorf("seeding printer %s: %w", p.ID, err)
		}

		for i, w := range p.Windows {
			if _, err := ParseClock(w.Start); err != nil {
				return fmt.Errorf("printer %s window %d: %w", p.ID, i, err)
			}
			if _, err := ParseClock(w.End); err != nil {
				return fmt.Errorf("printer %s window %d: %w", p.ID, i, err)
			}
			_, err := tx.Exec(`
				INSERT OR IGNORE INTO time_windows (id, printer_id, day_of_week, start_time, end_time, is_active)
				VALUES (?, ?, ?, ?, ?, ?)
			`, fmt.Sprintf("%s-w%d", p.ID, i), p.ID, w.Day, w.Start, w.End, !w.Inactive)
			if err != nil {
				return fmt.Errorf("seeding window for %s: %w", p.ID, err)
			}
		}

		if p.Spool != nil {
			_, err := tx.Exec(`
				INSERT OR IGNORE INTO spools (id, printer_id, material_type, remaining_g, is_in_use)
				VALUES (?, ?, ?, ?, 1)
			`, p.Spool.ID, p.ID, p.Spool.Material, p.Spool.RemainingG)
			if err != nil {
				return fmt.Errorf("seeding spool for %s: %w", p.ID, err)
			}
		}
	}

	for _, j := range s.Jobs {
		_, err := tx.Exec(`
			INSERT OR IGNORE INTO jobs (id, name, status, priority, deadline, estimated_duration, required_material,
				material_needed_g, dimensions_x_mm, dimensions_y_mm, project_id, parent_job_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, j.ID, j.Name, models.JobStatusPending, j.Priority, utc(j.Deadline), j.Duration, j.Material,
			j.MaterialNeededG, j.DimensionsX, j.DimensionsY, nullString(j.Project), nullString(j.Parent), now.UTC())
		if err != nil {
			return fmt.Errorf("seeding job %s: %w", j.ID, err)
		}
	}

	return tx.Commit()
}

// ParseClock parses an "HH:MM" time of day into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func JoinMaterials(materials []string) string {
	return strings.Join(materials, ",")
}

// SplitMaterials parses the stored comma separated material list.
func SplitMaterials(s string) []string {
	var out []string
	for _, m := range strings.Split(s, ",") {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}

func utc(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
