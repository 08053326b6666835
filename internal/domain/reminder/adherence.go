package reminder

import (
	"math"
	"sort"
	"time"
)

// StreakThreshold is the minimum daily adherence rate that extends a streak.
const StreakThreshold = 80

type OverallStats struct {
	Total          int `json:"total"`
	Taken          int `json:"taken"`
	Skipped        int `json:"skipped"`
	Missed         int `json:"missed"`
	Pending        int `json:"pending"`
	CompletedDoses int `json:"completed_doses"`
	AdherenceRate  int `json:"adherence_rate"`
}

type DailyStats struct {
	Date          string `json:"date"`
	Total         int    `json:"total"`
	Taken         int    `json:"taken"`
	AdherenceRate int    `json:"adherence_rate"`
}

type MedicineStats struct {
	MedicineName  string `json:"medicine_name"`
	Total         int    `json:"total"`
	Taken         int    `json:"taken"`
	AdherenceRate int    `json:"adherence_rate"`
}

type Stats struct {
	Period        Period          `json:"period,omitempty"`
	From          time.Time       `json:"from"`
	To            time.Time       `json:"to"`
	Overall       OverallStats    `json:"overall"`
	Daily         []DailyStats    `json:"daily"`
	ByMedicine    []MedicineStats `json:"by_medicine"`
	CurrentStreak int             `json:"current_streak"`
}

// percent rounds part/whole*100 half away from zero. A zero whole yields 0.
func percent(part, whole int) int {
	if whole <= 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(whole) * 100))
}

// OverallAdherence counts doses by status. The rate divides taken by
// completed doses (taken, skipped and missed); pending doses are excluded.
func OverallAdherence(doses []*DoseInstance) OverallStats {
	var s OverallStats
	for _, d := range doses {
		s.Total++
		switch d.Status {
		case StatusTaken:
			s.Taken++
		case StatusSkipped:
			s.Skipped++
		case StatusMissed:
			s.Missed++
		case StatusPending:
			s.Pending++
		}
	}
	s.CompletedDoses = s.Taken + s.Skipped + s.Missed
	s.AdherenceRate = percent(s.Taken, s.CompletedDoses)
	return s
}

// DailyAdherence groups doses by the YYYY-MM-DD of their scheduled time in
// loc, ascending. The daily rate divides taken by all doses of the day,
// pending included.
func DailyAdherence(doses []*DoseInstance, loc *time.Location) []DailyStats {
	if loc == nil {
		loc = time.UTC
	}
	byDay := make(map[string]*DailyStats)
	for _, d := range doses {
		key := d.ScheduledTime.In(loc).Format("2006-01-02")
		day, ok := byDay[key]
		if !ok {
			day = &DailyStats{Date: key}
			byDay[key] = day
		}
		day.Total++
		if d.Status == StatusTaken {
			day.Taken++
		}
	}

	out := make([]DailyStats, 0, len(byDay))
	for _, day := range byDay {
		day.AdherenceRate = percent(day.Taken, day.Total)
		out = append(out, *day)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// MedicineAdherence groups doses by medicine name, sorted by rate
// descending. Ties keep alphabetical order.
func MedicineAdherence(doses []*DoseInstance) []MedicineStats {
	byName := make(map[string]*MedicineStats)
	for _, d := range doses {
		m, ok := byName[d.MedicineName]
		if !ok {
			m = &MedicineStats{MedicineName: d.MedicineName}
			byName[d.MedicineName] = m
		}
		m.Total++
		if d.Status == StatusTaken {
			m.Taken++
		}
	}

	out := make([]MedicineStats, 0, len(byName))
	for _, m := range byName {
		m.AdherenceRate = percent(m.Taken, m.Total)
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AdherenceRate != out[j].AdherenceRate {
			return out[i].AdherenceRate > out[j].AdherenceRate
		}
		return out[i].MedicineName < out[j].MedicineName
	})
	return out
}

// CurrentStreak counts consecutive days, starting from the last entry of a
// chronological breakdown, whose rate is at least StreakThreshold.
func CurrentStreak(daily []DailyStats) int {
	streak := 0
	for i := len(daily) - 1; i >= 0; i-- {
		if daily[i].AdherenceRate < StreakThreshold {
			break
		}
		streak++
	}
	return streak
}
