// Package recurrence expresses medication schedules as RFC 5545 recurrence
// rules and expands them into concrete fire times.
package recurrence

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// MaxUpcoming caps how many occurrences Upcoming will expand.
const MaxUpcoming = 50

// Schedule is the subset of a reminder needed to generate occurrences.
type Schedule struct {
	// Times are wall-clock HH:MM strings.
	Times []string
	// Weekdays restricts occurrences to these days, 0 = Sunday. Empty means daily.
	Weekdays []int
	Start    time.Time
	End      *time.Time
	Location *time.Location
}

var weekdays = []rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// Minutes returns minutes since midnight.
func (c Clock) Minutes() int { return c.Hour*60 + c.Minute }

// ParseClock accepts H:MM or HH:MM in 24-hour form.
func ParseClock(s string) (Clock, error) {
	hs, ms, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hs) < 1 || len(hs) > 2 || len(ms) != 2 || !digits(hs) || !digits(ms) {
		return Clock{}, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, _ := strconv.Atoi(hs)
	m, _ := strconv.Atoi(ms)
	if h > 23 || m > 59 {
		return Clock{}, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	return Clock{Hour: h, Minute: m}, nil
}

func digits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func parseTimes(times []string) ([]Clock, error) {
	out := make([]Clock, 0, len(times))
	for _, t := range times {
		c, err := ParseClock(t)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Minutes() < out[j].Minutes() })
	return out, nil
}

func (s Schedule) location() *time.Location {
	if s.Location != nil {
		return s.Location
	}
	return time.UTC
}

func (s Schedule) byWeekday() ([]rrule.Weekday, error) {
	var out []rrule.Weekday
	for _, d := range s.Weekdays {
		if d < 0 || d > 6 {
			return nil, fmt.Errorf("invalid weekday %d", d)
		}
		out = append(out, weekdays[d])
	}
	return out, nil
}

// options returns one daily (or weekly, when Weekdays is set) rule per
// time of day, ascending by time.
func (s Schedule) options() ([]rrule.ROption, error) {
	times, err := parseTimes(s.Times)
	if err != nil {
		return nil, err
	}
	if len(times) == 0 {
		return nil, fmt.Errorf("schedule has no times")
	}
	byDay, err := s.byWeekday()
	if err != nil {
		return nil, err
	}

	loc := s.location()
	start := s.Start.In(loc).Truncate(time.Second)

	out := make([]rrule.ROption, 0, len(times))
	for _, t := range times {
		opt := rrule.ROption{
			Freq:     rrule.DAILY,
			Dtstart:  start,
			Byhour:   []int{t.Hour},
			Byminute: []int{t.Minute},
			Bysecond: []int{0},
		}
		if len(byDay) > 0 {
			opt.Freq = rrule.WEEKLY
			opt.Byweekday = byDay
		}
		if s.End != nil {
			opt.Until = s.End.In(loc)
		}
		out = append(out, opt)
	}
	return out, nil
}

// Build returns a set of the schedule's rules starting at Start and ending
// at End.
func Build(s Schedule) (*rrule.Set, error) {
	opts, err := s.options()
	if err != nil {
		return nil, err
	}
	set := &rrule.Set{}
	for _, opt := range opts {
		r, err := rrule.NewRRule(opt)
		if err != nil {
			return nil, fmt.Errorf("build rule for %02d:%02d: %w", opt.Byhour[0], opt.Byminute[0], err)
		}
		set.RRule(r)
	}
	return set, nil
}

// Upcoming returns up to n occurrences strictly after after, ascending.
func Upcoming(s Schedule, after time.Time, n int) ([]time.Time, error) {
	if n <= 0 {
		return nil, nil
	}
	if n > MaxUpcoming {
		n = MaxUpcoming
	}
	set, err := Build(s)
	if err != nil {
		return nil, err
	}

	out := make([]time.Time, 0, n)
	cursor := after
	for len(out) < n {
		next := set.After(cursor, false)
		if next.IsZero() {
			break
		}
		out = append(out, next)
		cursor = next
	}
	return out, nil
}

// Rules renders one RRULE line per time of day from the same options Build
// expands. DTSTART is omitted since the reminder already carries its start
// date.
func Rules(s Schedule) ([]string, error) {
	opts, err := s.options()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(opts))
	for i := range opts {
		out = append(out, "RRULE:"+opts[i].RRuleString())
	}
	return out, nil
}
