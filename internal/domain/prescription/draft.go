package prescription

import (
	"strings"
	"time"

	"github.com/Vikaumar/Prescripto/internal/domain/reminder"
)

// Drafts turns each analyzed medicine into a reminder create request that a
// client can review and POST to /reminders. Times come from the inferred
// frequency. A parseable duration sets the end date to the end of the last
// day, counted from start.
func Drafts(a *Analysis, prescriptionID *string, start time.Time) []reminder.CreateRequest {
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	out := make([]reminder.CreateRequest, 0, len(a.Medicines))
	for _, m := range a.Medicines {
		freq := ParseFrequency(m.Frequency)
		req := reminder.CreateRequest{
			PrescriptionID: prescriptionID,
			MedicineName:   m.Name,
			Dosage:         strings.TrimSpace(m.Dosage),
			Instructions:   strings.TrimSpace(m.Instructions),
			Frequency:      freq,
			Times:          reminder.DefaultTimes(freq),
		}
		if freq == reminder.FrequencyWeekly {
			req.DaysOfWeek = []int{int(day.Weekday())}
		}
		if days, ok := ParseDurationDays(m.Duration); ok {
			end := day.AddDate(0, 0, days).Add(-time.Minute)
			req.EndDate = &end
		}
		out = append(out, req)
	}
	return out
}
