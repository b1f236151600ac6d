package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/printfarm/farmd/internal/models"
)

const fixture = `
projects:
  - id: drone
    name: Drone frame
    deadline: 2026-03-05T12:00:00Z
printers:
  - id: mk4
    name: Prusa MK4
    materials: [PLA, PETG]
    bed_size_x_mm: 250
    bed_size_y_mm: 210
    windows:
      - day: 0
        start: "08:00"
        end: "18:30"
    spool:
      id: spool-1
      material: PLA
      remaining_g: 750
  - id: voron
    name: Voron 2.4
jobs:
  - id: arm
    name: Arm
    priority: 6
    duration: 90
    material: PLA
    project: drone
    parent: body
  - id: body
    name: Body
    priority: 8
    duration: 240
    project: drone
    depends_on:
      - job: arm
      - job: plate
        type: start_to_start
  - id: plate
    name: Plate
    duration: 30
`

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(filepath.Join(t.TempDir(), "farm.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Init(); err != nil {
		t.Fatal(err)
	}
	return database
}

func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(fixture), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestApplySeed(t *testing.T) {
	database := openTestDB(t)

	seed, err := LoadSeed(writeFixture(t))
	if err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if err := database.ApplySeed(seed, now); err != nil {
		t.Fatalf("ApplySeed: %v", err)
	}
	// second application is a no-op
	if err := database.ApplySeed(seed, now); err != nil {
		t.Fatalf("ApplySeed twice: %v", err)
	}

	t.Run("rows", func(t *testing.T) {
		counts := map[string]int{
			"projects":     1,
			"printers":     2,
			"time_windows": 1,
			"spools":       1,
			"jobs":         3,
		}
		for table, want := range counts {
			var got int
			if err := database.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&got); err != nil {
				t.Fatal(err)
			}
			if got != want {
				t.Errorf("%s: expected %d rows, got %d", table, want, got)
			}
		}
	})

	t.Run("printer materials", func(t *testing.T) {
		var csv string
		database.QueryRow("SELECT compatible_material_types FROM printers WHERE id = 'mk4'").Scan(&csv)
		got := SplitMaterials(csv)
		if len(got) != 2 || got[0] != "PLA" || got[1] != "PETG" {
			t.Errorf("unexpected materials %q", got)
		}
	})

	t.Run("job defaults", func(t *testing.T) {
		var status string
		var created time.Time
		err := database.QueryRow("SELECT status, created_at FROM jobs WHERE id = 'arm'").Scan(&status, &created)
		if err != nil {
			t.Fatal(err)
		}
		if status != string(models.JobStatusPending) {
			t.Errorf("expected PENDING, got %s", status)
		}
		if !created.Equal(now) {
			t.Errorf("expected created_at %v, got %v", now, created)
		}
	})

	t.Run("dependencies", func(t *testing.T) {
		deps, err := seed.Dependencies()
		if err != nil {
			t.Fatal(err)
		}
		if len(deps) != 2 {
			t.Fatalf("expected 2 dependencies, got %d", len(deps))
		}
		if deps[0].Type != models.FinishToStart || deps[1].Type != models.StartToStart {
			t.Errorf("unexpected types %s, %s", deps[0].Type, deps[1].Type)
		}
		if deps[1].JobID != "body" || deps[1].DependsOnID != "plate" {
			t.Errorf("unexpected edge %+v", deps[1])
		}
	})
}

func TestSeedRejectsBadDependencyType(t *testing.T) {
	s := &Seed{Jobs: []SeedJob{{ID: "a", DependsOn: []SeedDependency{{Job: "b", Type: "FINISH_TO_FINISH"}}}}}
	if _, err := s.Dependencies(); err == nil {
		t.Error("expected error for unknown dependency type")
	}
}

func TestDependencyConstraints(t *testing.T) {
	database := openTestDB(t)
	now := time.Now().UTC()
	for _, id := range []string{"a", "b"} {
		if _, err := database.Exec("INSERT INTO jobs (id, name, status, created_at) VALUES (?, ?, 'PENDING', ?)", id, id, now); err != nil {
			t.Fatal(err)
		}
	}

	insert := func(id, job, on string) error {
		_, err := database.Exec("INSERT INTO job_dependencies (id, job_id, depends_on_job_id, created_at) VALUES (?, ?, ?, ?)", id, job, on, now)
		return err
	}

	if err := insert("d1", "a", "b"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := insert("d2", "a", "b"); err == nil {
		t.Error("expected unique violation")
	}
	if err := insert("d3", "a", "a"); err == nil {
		t.Error("expected check violation for self edge")
	}

	// deleting an endpoint removes the edge
	if _, err := database.Exec("DELETE FROM jobs WHERE id = 'b'"); err != nil {
		t.Fatal(err)
	}
	var n int
	database.QueryRow("SELECT COUNT(*) FROM job_dependencies").Scan(&n)
	if n != 0 {
		t.Errorf("expected cascade delete, %d edges left", n)
	}
}

func TestParseClock(t *testing.T) {
	d, err := ParseClock("18:30")
	if err != nil {
		t.Fatal(err)
	}
	if d != 18*time.Hour+30*time.Minute {
		t.Errorf("got %v", d)
	}
	if _, err := ParseClock("25:00"); err == nil {
		t.Error("expected error")
	}
}
