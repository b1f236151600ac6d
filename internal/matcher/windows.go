package matcher

import (
	"sort"
	"time"

	"github.com/printfarm/farmd/internal/models"
)

// LookAheadDays bounds the search for the next opening.
const LookAheadDays = 7

// Available reports whether a printer with the given windows may run at t.
// No windows means always available.
func Available(windows []models.TimeWindow, t time.Time) bool {
	if len(windows) == 0 {
		return true
	}
	for _, w := range windows {
		if w.Contains(t) {
			return true
		}
	}
	return false
}

// NextAvailable returns now if the printer is available, otherwise the start
// of the next active window within the look-ahead. ok is false when none
// opens in that range.
func NextAvailable(windows []models.TimeWindow, now time.Time) (next time.Time, ok bool) {
	if Available(windows, now) {
		return now, true
	}

	active := make([]models.TimeWindow, 0, len(windows))
	for _, w := range windows {
		if w.Active {
			active = append(active, w)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Start < active[j].Start })

	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	for day := 0; day <= LookAheadDays; day++ {
		date := midnight.AddDate(0, 0, day)
		for _, w := range active {
			if models.Weekday(date) != w.DayOfWeek {
				continue
			}
			start := date.Add(w.Start)
			if start.After(now) {
				return start, true
			}
		}
	}
	return time.Time{}, false
}
