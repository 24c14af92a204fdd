package calendar

import (
	"fmt"
	"sort"
	"time"

	"courtline/internal/config"
)

// Urgency classes for remaining time on a deadline. The thresholds are
// load-bearing notification triggers, not cosmetic.
const (
	UrgencyCritical = "critical"
	UrgencyUrgent   = "urgent"
	UrgencyNormal   = "normal"
)

// Calendar answers business-day questions against a fixed holiday table.
// It is immutable after New and safe for concurrent use.
type Calendar struct {
	fixed        map[string]struct{}         // MM-DD
	movable      map[int]map[string]struct{} // year -> YYYY-MM-DD
	criticalDays int
	urgentDays   int
}

// New builds a Calendar from config. With calendar.strict_years set, a query
// for a year missing from the movable table fails at AddBusinessDays /
// BusinessDaysBetween call sites via HasYear checks done by callers; New
// itself only validates the table shape. Without strict_years the missing
// year degrades to zero movable holidays.
func New(cfg *config.Config) (*Calendar, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}
	c := &Calendar{
		fixed:        make(map[string]struct{}, len(cfg.Calendar.Fixed)),
		movable:      make(map[int]map[string]struct{}, len(cfg.Calendar.Movable)),
		criticalDays: cfg.Urgency.CriticalDays,
		urgentDays:   cfg.Urgency.UrgentDays,
	}
	for _, d := range cfg.Calendar.Fixed {
		c.fixed[d] = struct{}{}
	}
	for year, days := range cfg.Calendar.Movable {
		set := make(map[string]struct{}, len(days))
		for _, d := range days {
			if _, err := time.Parse("2006-01-02", d); err != nil {
				return nil, fmt.Errorf("movable holiday %q: %w", d, err)
			}
			set[d] = struct{}{}
		}
		c.movable[year] = set
	}
	return c, nil
}

// HasYear reports whether the movable-holiday table covers the given year.
// Callers in strict mode refuse date math for uncovered years.
func (c *Calendar) HasYear(year int) bool {
	_, ok := c.movable[year]
	return ok
}

// Years returns the covered movable-holiday years, ascending.
func (c *Calendar) Years() []int {
	years := make([]int, 0, len(c.movable))
	for y := range c.movable {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

// IsHoliday reports whether d is a fixed or movable holiday.
func (c *Calendar) IsHoliday(d time.Time) bool {
	if _, ok := c.fixed[d.Format("01-02")]; ok {
		return true
	}
	if set, ok := c.movable[d.Year()]; ok {
		if _, ok := set[d.Format("2006-01-02")]; ok {
			return true
		}
	}
	return false
}

// IsBusinessDay reports whether d is a weekday that is not a holiday.
func (c *Calendar) IsBusinessDay(d time.Time) bool {
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.IsHoliday(d)
}

// AddBusinessDays advances start by n business days, walking one calendar
// day at a time. The start date itself is never counted.
func (c *Calendar) AddBusinessDays(start time.Time, n int) time.Time {
	d := start
	for counted := 0; counted < n; {
		d = d.AddDate(0, 0, 1)
		if c.IsBusinessDay(d) {
			counted++
		}
	}
	return d
}

// BusinessDaysBetween counts business days in (a, b]. A negative count is
// returned when b precedes a.
func (c *Calendar) BusinessDaysBetween(a, b time.Time) int {
	a = truncate(a)
	b = truncate(b)
	if b.Before(a) {
		return -c.BusinessDaysBetween(b, a)
	}
	count := 0
	for d := a.AddDate(0, 0, 1); !d.After(b); d = d.AddDate(0, 0, 1) {
		if c.IsBusinessDay(d) {
			count++
		}
	}
	return count
}

// ClassifyUrgency maps remaining business days to an urgency class.
func (c *Calendar) ClassifyUrgency(remaining int) string {
	switch {
	case remaining <= c.criticalDays:
		return UrgencyCritical
	case remaining <= c.urgentDays:
		return UrgencyUrgent
	default:
		return UrgencyNormal
	}
}

// UrgencyByDue classifies a due date relative to today.
func (c *Calendar) UrgencyByDue(today, due time.Time) string {
	return c.ClassifyUrgency(c.BusinessDaysBetween(today, due))
}

func truncate(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, d.Location())
}
