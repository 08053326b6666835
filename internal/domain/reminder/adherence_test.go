package reminder

import (
	"testing"
	"time"
)

func dosesWith(statuses ...DoseStatus) []*DoseInstance {
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	out := make([]*DoseInstance, len(statuses))
	for i, s := range statuses {
		out[i] = &DoseInstance{MedicineName: "Aspirin", Status: s, ScheduledTime: base.Add(time.Duration(i) * time.Hour)}
	}
	return out
}

func TestOverallAdherence(t *testing.T) {
	tests := []struct {
		name  string
		doses []*DoseInstance
		want  OverallStats
	}{
		{"no doses", nil, OverallStats{}},
		{"only pending", dosesWith(StatusPending, StatusPending), OverallStats{Total: 2, Pending: 2}},
		{
			"three taken one skipped",
			dosesWith(StatusTaken, StatusTaken, StatusTaken, StatusSkipped),
			OverallStats{Total: 4, Taken: 3, Skipped: 1, CompletedDoses: 4, AdherenceRate: 75},
		},
		{
			"pending excluded from denominator",
			dosesWith(StatusTaken, StatusMissed, StatusPending),
			OverallStats{Total: 3, Taken: 1, Missed: 1, Pending: 1, CompletedDoses: 2, AdherenceRate: 50},
		},
		{
			"rounds half up",
			dosesWith(StatusTaken, StatusTaken, StatusSkipped),
			OverallStats{Total: 3, Taken: 2, Skipped: 1, CompletedDoses: 3, AdherenceRate: 67},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OverallAdherence(tt.doses); got != tt.want {
				t.Errorf("OverallAdherence = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDailyAdherence(t *testing.T) {
	day1 := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	doses := []*DoseInstance{
		{Status: StatusTaken, ScheduledTime: day2},
		{Status: StatusPending, ScheduledTime: day2.Add(12 * time.Hour)},
		{Status: StatusTaken, ScheduledTime: day1},
	}

	daily := DailyAdherence(doses, time.UTC)
	if len(daily) != 2 {
		t.Fatalf("expected 2 days, got %d", len(daily))
	}
	if daily[0].Date != "2026-03-09" || daily[0].AdherenceRate != 100 {
		t.Errorf("unexpected first day %+v", daily[0])
	}
	// The daily rate counts pending doses in the denominator.
	if daily[1].Date != "2026-03-10" || daily[1].Total != 2 || daily[1].AdherenceRate != 50 {
		t.Errorf("unexpected second day %+v", daily[1])
	}

	// Day keys follow the configured zone: 20:00 UTC is the next day in Tokyo.
	tokyo := time.FixedZone("JST", 9*3600)
	daily = DailyAdherence(doses[1:2], tokyo)
	if daily[0].Date != "2026-03-11" {
		t.Errorf("expected 2026-03-11 in JST, got %s", daily[0].Date)
	}
}

func TestMedicineAdherence(t *testing.T) {
	at := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	doses := []*DoseInstance{
		{MedicineName: "Metformin", Status: StatusTaken, ScheduledTime: at},
		{MedicineName: "Metformin", Status: StatusMissed, ScheduledTime: at},
		{MedicineName: "Aspirin", Status: StatusTaken, ScheduledTime: at},
		{MedicineName: "Zinc", Status: StatusTaken, ScheduledTime: at},
	}
	got := MedicineAdherence(doses)
	if len(got) != 3 {
		t.Fatalf("expected 3 medicines, got %d", len(got))
	}
	if got[0].MedicineName != "Aspirin" || got[1].MedicineName != "Zinc" || got[2].MedicineName != "Metformin" {
		t.Errorf("unexpected order %+v", got)
	}
	if got[2].AdherenceRate != 50 {
		t.Errorf("expected Metformin at 50, got %d", got[2].AdherenceRate)
	}
}

func TestCurrentStreak(t *testing.T) {
	rates := func(rs ...int) []DailyStats {
		out := make([]DailyStats, len(rs))
		for i, r := range rs {
			out[i] = DailyStats{AdherenceRate: r}
		}
		return out
	}
	tests := []struct {
		name  string
		daily []DailyStats
		want  int
	}{
		{"empty", nil, 0},
		{"broken by a low day", rates(90, 85, 60, 95), 1},
		{"all above threshold", rates(80, 100, 95), 3},
		{"last day below", rates(100, 100, 79), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CurrentStreak(tt.daily); got != tt.want {
				t.Errorf("CurrentStreak = %d, want %d", got, tt.want)
			}
		})
	}
}
