package session

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/efreitasn/bourse/internal/domain"
)

// Boundaries are the phase start times, as offsets from local midnight.
type Boundaries struct {
	PreOpen        time.Duration
	OpeningAuction time.Duration
	Continuous     time.Duration
	ClosingAuction time.Duration
	Close          time.Duration
}

// Schedule maps wall-clock time to the phase the market should be in.
type Schedule struct {
	loc  *time.Location
	b    Boundaries
	days map[time.Weekday]bool
}

func NewSchedule(loc *time.Location, b Boundaries, days []time.Weekday) (*Schedule, error) {
	ordered := []time.Duration{b.PreOpen, b.OpeningAuction, b.Continuous, b.ClosingAuction, b.Close}
	for i := 1; i < len(ordered); i++ {
		if ordered[i] <= ordered[i-1] {
			return nil, fmt.Errorf("phase boundaries must be strictly increasing")
		}
	}
	if b.PreOpen < 0 || b.Close > 24*time.Hour {
		return nil, fmt.Errorf("phase boundaries must fall within one day")
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("at least one trading day is required")
	}
	set := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		set[d] = true
	}
	return &Schedule{loc: loc, b: b, days: set}, nil
}

// PhaseAt returns the scheduled phase at t.
func (s *Schedule) PhaseAt(t time.Time) domain.Phase {
	t = t.In(s.loc)
	if !s.days[t.Weekday()] {
		return domain.PhaseClosed
	}
	offset := sinceMidnight(t)
	switch {
	case offset >= s.b.Close || offset < s.b.PreOpen:
		return domain.PhaseClosed
	case offset >= s.b.ClosingAuction:
		return domain.PhaseClosingAuction
	case offset >= s.b.Continuous:
		return domain.PhaseContinuous
	case offset >= s.b.OpeningAuction:
		return domain.PhaseOpeningAuction
	}
	return domain.PhasePreOpen
}

// InTradingHours reports whether t falls between pre-open and close of a
// trading day.
func (s *Schedule) InTradingHours(t time.Time) bool {
	return s.PhaseAt(t) != domain.PhaseClosed
}

func sinceMidnight(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
}

// ParseClock parses "HH:MM" or "HH:MM:SS" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("time of day %q must be HH:MM or HH:MM:SS", s)
	}
	limits := []int{23, 59, 59}
	units := []time.Duration{time.Hour, time.Minute, time.Second}
	var d time.Duration
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("time of day %q is out of range", s)
		}
		d += time.Duration(n) * units[i]
	}
	return d, nil
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// ParseWeekdays parses a comma-separated list such as "mon,tue,wed".
func ParseWeekdays(s string) ([]time.Weekday, error) {
	var days []time.Weekday
	for _, f := range strings.Split(s, ",") {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		d, ok := weekdays[f]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", f)
		}
		days = append(days, d)
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("no weekdays in %q", s)
	}
	return days, nil
}
