package prescription

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/Vikaumar/Prescripto/internal/domain/reminder"
)

// MinTextLength is the shortest OCR text worth sending to an analyzer.
const MinTextLength = 10

var (
	ErrTextTooShort = errors.New("prescription text is too short")
	ErrUnavailable  = errors.New("prescription analyzer is not configured")
)

type Medicine struct {
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	Duration     string `json:"duration"`
	Instructions string `json:"instructions"`
}

type Analysis struct {
	Medicines             []Medicine `json:"medicines"`
	Diagnosis             string     `json:"diagnosis"`
	DoctorNotes           string     `json:"doctor_notes"`
	SimplifiedExplanation string     `json:"simplified_explanation"`
}

// Analyzer extracts structured medicines from prescription text.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (*Analysis, error)
}

var (
	timesPerDay = regexp.MustCompile(`(\d+)\s*(?:x|times?)\s*(?:a|per|/)?\s*(?:day|daily)`)
	durationRe  = regexp.MustCompile(`(\d+)\s*(day|week|month)s?`)
)

// ParseFrequency maps free-form dosing text ("twice daily", "1-0-1", "TID")
// onto a reminder frequency. Text it cannot classify becomes custom.
func ParseFrequency(s string) reminder.Frequency {
	s = strings.ToLower(strings.TrimSpace(s))
	if f := reminder.Frequency(s); f.Valid() {
		return f
	}
	if m := timesPerDay.FindStringSubmatch(s); m != nil {
		return perDay(m[1])
	}
	// Indian-style morning-noon-night notation.
	if parts := strings.Split(s, "-"); len(parts) == 3 {
		n := 0
		for _, p := range parts {
			if v, err := strconv.Atoi(strings.TrimSpace(p)); err == nil && v > 0 {
				n++
			}
		}
		if n > 0 {
			return perDay(strconv.Itoa(n))
		}
	}

	words := strings.Fields(strings.NewReplacer(",", " ", ".", " ").Replace(s))
	has := func(keys ...string) bool {
		for _, w := range words {
			for _, k := range keys {
				if w == k {
					return true
				}
			}
		}
		return false
	}
	switch {
	case has("qid", "four"):
		return reminder.FrequencyFourTimesDaily
	case has("tid", "tds", "thrice", "three"):
		return reminder.FrequencyThreeTimesDaily
	case has("bid", "bd", "twice", "two"):
		return reminder.FrequencyTwiceDaily
	case strings.Contains(s, "week"):
		return reminder.FrequencyWeekly
	case has("od", "qd", "once", "daily", "morning", "night", "bedtime", "evening"):
		return reminder.FrequencyOnceDaily
	}
	return reminder.FrequencyCustom
}

func perDay(n string) reminder.Frequency {
	switch n {
	case "1":
		return reminder.FrequencyOnceDaily
	case "2":
		return reminder.FrequencyTwiceDaily
	case "3":
		return reminder.FrequencyThreeTimesDaily
	case "4":
		return reminder.FrequencyFourTimesDaily
	}
	return reminder.FrequencyCustom
}

// ParseDurationDays reads "7 days", "2 weeks" or "1 month" as a day count.
func ParseDurationDays(s string) (int, bool) {
	m := durationRe.FindStringSubmatch(strings.ToLower(s))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}
	switch m[2] {
	case "week":
		n *= 7
	case "month":
		n *= 30
	}
	return n, true
}
