package calendar

import (
	"testing"
	"time"

	"courtline/internal/config"
)

func newTestCalendar(t *testing.T) *Calendar {
	t.Helper()
	cal, err := New(config.Default("court-1"))
	if err != nil {
		t.Fatalf("new calendar: %v", err)
	}
	return cal
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestIsHoliday(t *testing.T) {
	cal := newTestCalendar(t)
	cases := []struct {
		day  time.Time
		want bool
	}{
		{date(2025, time.January, 1), true},   // fixed, Anio Nuevo
		{date(2024, time.January, 1), true},   // fixed repeats every year
		{date(2025, time.March, 3), true},     // movable, Carnaval
		{date(2024, time.March, 29), true},    // movable, Viernes Santo
		{date(2026, time.March, 3), false},    // movable does not carry over
		{date(2025, time.January, 2), false},  // ordinary Thursday
		{date(2025, time.December, 25), true}, // fixed, Navidad
	}
	for _, tc := range cases {
		if got := cal.IsHoliday(tc.day); got != tc.want {
			t.Errorf("IsHoliday(%s) = %v, want %v", tc.day.Format("2006-01-02"), got, tc.want)
		}
	}
}

func TestIsBusinessDay(t *testing.T) {
	cal := newTestCalendar(t)
	if cal.IsBusinessDay(date(2025, time.January, 4)) { // Saturday
		t.Error("Saturday must not be a business day")
	}
	if cal.IsBusinessDay(date(2025, time.January, 1)) { // holiday Wednesday
		t.Error("holiday must not be a business day")
	}
	if !cal.IsBusinessDay(date(2025, time.January, 2)) { // Thursday
		t.Error("ordinary weekday must be a business day")
	}
}

func TestAddBusinessDaysSkipsWeekendsAndHolidays(t *testing.T) {
	cal := newTestCalendar(t)
	cases := []struct {
		start time.Time
		n     int
		want  string
	}{
		// Wed Jan 1 is a holiday but the start day is never counted anyway.
		{date(2025, time.January, 1), 5, "2025-01-08"},
		// Friday start: the next business day is Monday.
		{date(2025, time.January, 3), 1, "2025-01-06"},
		// Spanning Carnaval (Mar 3-4): Fri Feb 28 + 2 lands on Thu Mar 6.
		{date(2025, time.February, 28), 2, "2025-03-06"},
		// Zero days is the start itself, even on a holiday.
		{date(2025, time.January, 1), 0, "2025-01-01"},
	}
	for _, tc := range cases {
		got := cal.AddBusinessDays(tc.start, tc.n)
		if got.Format("2006-01-02") != tc.want {
			t.Errorf("AddBusinessDays(%s, %d) = %s, want %s",
				tc.start.Format("2006-01-02"), tc.n, got.Format("2006-01-02"), tc.want)
		}
	}
}

func TestAddBusinessDaysNeverLandsOnNonBusinessDay(t *testing.T) {
	cal := newTestCalendar(t)
	start := date(2025, time.January, 1)
	for n := 1; n <= 60; n++ {
		due := cal.AddBusinessDays(start, n)
		if !cal.IsBusinessDay(due) {
			t.Fatalf("AddBusinessDays(%s, %d) landed on non-business day %s",
				start.Format("2006-01-02"), n, due.Format("2006-01-02"))
		}
	}
}

func TestBusinessDaysBetweenRoundTrip(t *testing.T) {
	cal := newTestCalendar(t)
	start := date(2025, time.February, 14)
	for n := 1; n <= 40; n++ {
		due := cal.AddBusinessDays(start, n)
		if got := cal.BusinessDaysBetween(start, due); got != n {
			t.Fatalf("round trip n=%d: got %d", n, got)
		}
	}
}

func TestBusinessDaysBetweenNegative(t *testing.T) {
	cal := newTestCalendar(t)
	a := date(2025, time.January, 6)
	b := date(2025, time.January, 10)
	if got := cal.BusinessDaysBetween(a, b); got != 4 {
		t.Fatalf("forward: got %d, want 4", got)
	}
	if got := cal.BusinessDaysBetween(b, a); got != -4 {
		t.Fatalf("backward: got %d, want -4", got)
	}
	if got := cal.BusinessDaysBetween(a, a); got != 0 {
		t.Fatalf("same day: got %d, want 0", got)
	}
}

func TestClassifyUrgency(t *testing.T) {
	cal := newTestCalendar(t)
	cases := []struct {
		remaining int
		want      string
	}{
		{-2, UrgencyCritical},
		{0, UrgencyCritical},
		{3, UrgencyCritical},
		{4, UrgencyUrgent},
		{7, UrgencyUrgent},
		{8, UrgencyNormal},
		{30, UrgencyNormal},
	}
	for _, tc := range cases {
		if got := cal.ClassifyUrgency(tc.remaining); got != tc.want {
			t.Errorf("ClassifyUrgency(%d) = %s, want %s", tc.remaining, got, tc.want)
		}
	}
}

func TestUrgencyByDue(t *testing.T) {
	cal := newTestCalendar(t)
	today := date(2025, time.January, 2)
	if got := cal.UrgencyByDue(today, date(2025, time.January, 3)); got != UrgencyCritical {
		t.Fatalf("next day: got %s", got)
	}
	if got := cal.UrgencyByDue(today, date(2025, time.February, 28)); got != UrgencyNormal {
		t.Fatalf("far out: got %s", got)
	}
}

func TestHasYear(t *testing.T) {
	cal := newTestCalendar(t)
	if !cal.HasYear(2024) || !cal.HasYear(2025) {
		t.Fatal("default movable table must cover 2024 and 2025")
	}
	if cal.HasYear(2030) {
		t.Fatal("uncovered year reported as covered")
	}
	years := cal.Years()
	if len(years) != 2 || years[0] != 2024 || years[1] != 2025 {
		t.Fatalf("unexpected years %v", years)
	}
}

func TestNewRejectsMalformedMovableDate(t *testing.T) {
	cfg := config.Default("court-1")
	cfg.Calendar.Movable[2026] = []string{"not-a-date"}
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for malformed movable holiday")
	}
}
