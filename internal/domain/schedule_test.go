package domain_test

import (
	"errors"
	"testing"
	"time"

	"careline/internal/domain"
)

func mustDaily(t *testing.T, start domain.Date, perDay, skip int, end *domain.Date) domain.Schedule {
	t.Helper()
	s, err := domain.DailySchedule(start, perDay, skip, end)
	if err != nil {
		t.Fatalf("daily schedule: %v", err)
	}
	return s
}

func TestDailyScheduleOccurrences(t *testing.T) {
	start := domain.NewDate(2026, time.March, 2)
	s := mustDaily(t, start, 3, 0, nil)
	if got := s.NumberOfEventsOnDate(start); got != 3 {
		t.Fatalf("on start date: got %d, want 3", got)
	}
	if got := s.NumberOfEventsOnDate(start.AddDays(-1)); got != 0 {
		t.Fatalf("before start: got %d, want 0", got)
	}
	if got := s.NumberOfEventsOnDate(start.AddDays(400)); got != 3 {
		t.Fatalf("far future: got %d, want 3", got)
	}
}

func TestDailyScheduleSkipStride(t *testing.T) {
	start := domain.NewDate(2026, time.March, 2)
	// active day, two skipped days, active day, ...
	s := mustDaily(t, start, 1, 2, nil)
	want := []int{1, 0, 0, 1, 0, 0, 1}
	for i, w := range want {
		if got := s.NumberOfEventsOnDate(start.AddDays(i)); got != w {
			t.Fatalf("day %d: got %d, want %d", i, got, w)
		}
	}
}

func TestDailyScheduleEndDate(t *testing.T) {
	start := domain.NewDate(2026, time.March, 2)
	end := start.AddDays(4)
	s := mustDaily(t, start, 2, 0, &end)
	if got := s.NumberOfEventsOnDate(end); got != 2 {
		t.Fatalf("on end date: got %d, want 2", got)
	}
	if got := s.NumberOfEventsOnDate(end.AddDays(1)); got != 0 {
		t.Fatalf("after end date: got %d, want 0", got)
	}
}

func TestWeeklySchedule(t *testing.T) {
	// 2026-03-01 is a Sunday.
	start := domain.NewDate(2026, time.March, 1)
	s, err := domain.WeeklySchedule(start, []int{1, 0, 1, 0, 1, 0, 1}, 0, nil)
	if err != nil {
		t.Fatalf("weekly schedule: %v", err)
	}
	if start.Weekday() != time.Sunday {
		t.Fatalf("fixture drift: start is %s", start.Weekday())
	}
	cases := []struct {
		offset int
		want   int
	}{
		{0, 1}, // Sunday
		{1, 0}, // Monday
		{2, 1}, // Tuesday
		{4, 1}, // Thursday
		{6, 1}, // Saturday
		{8, 0}, // next Monday
	}
	for _, c := range cases {
		if got := s.NumberOfEventsOnDate(start.AddDays(c.offset)); got != c.want {
			t.Fatalf("offset %d: got %d, want %d", c.offset, got, c.want)
		}
	}
}

func TestWeeklyScheduleSkipWeeks(t *testing.T) {
	start := domain.NewDate(2026, time.March, 1)
	s, err := domain.WeeklySchedule(start, []int{2, 2, 2, 2, 2, 2, 2}, 1, nil)
	if err != nil {
		t.Fatalf("weekly schedule: %v", err)
	}
	if got := s.NumberOfEventsOnDate(start.AddDays(6)); got != 2 {
		t.Fatalf("first week active: got %d, want 2", got)
	}
	if got := s.NumberOfEventsOnDate(start.AddDays(7)); got != 0 {
		t.Fatalf("second week skipped: got %d, want 0", got)
	}
	if got := s.NumberOfEventsOnDate(start.AddDays(14)); got != 2 {
		t.Fatalf("third week active: got %d, want 2", got)
	}
}

func TestMonthlySchedule(t *testing.T) {
	start := domain.NewDate(2026, time.January, 1)
	occ := make([]int, 31)
	occ[0] = 1  // 1st of each month
	occ[14] = 2 // 15th of each month
	s, err := domain.MonthlySchedule(start, occ, 0, nil)
	if err != nil {
		t.Fatalf("monthly schedule: %v", err)
	}
	if got := s.NumberOfEventsOnDate(domain.NewDate(2026, time.February, 1)); got != 1 {
		t.Fatalf("feb 1: got %d, want 1", got)
	}
	if got := s.NumberOfEventsOnDate(domain.NewDate(2026, time.February, 15)); got != 2 {
		t.Fatalf("feb 15: got %d, want 2", got)
	}
	if got := s.NumberOfEventsOnDate(domain.NewDate(2026, time.February, 2)); got != 0 {
		t.Fatalf("feb 2: got %d, want 0", got)
	}
}

func TestMonthlyScheduleSkipMonths(t *testing.T) {
	start := domain.NewDate(2026, time.January, 10)
	occ := make([]int, 31)
	occ[9] = 1 // 10th of each month
	s, err := domain.MonthlySchedule(start, occ, 1, nil)
	if err != nil {
		t.Fatalf("monthly schedule: %v", err)
	}
	if got := s.NumberOfEventsOnDate(domain.NewDate(2026, time.January, 10)); got != 1 {
		t.Fatalf("jan 10 active: got %d", got)
	}
	if got := s.NumberOfEventsOnDate(domain.NewDate(2026, time.February, 10)); got != 0 {
		t.Fatalf("feb 10 skipped: got %d", got)
	}
	if got := s.NumberOfEventsOnDate(domain.NewDate(2026, time.March, 10)); got != 1 {
		t.Fatalf("mar 10 active: got %d", got)
	}
}

func TestPeriodsSinceStart(t *testing.T) {
	start := domain.NewDate(2026, time.January, 15)
	weekly, _ := domain.WeeklySchedule(start, []int{1, 1, 1, 1, 1, 1, 1}, 0, nil)
	if got := weekly.PeriodsSinceStart(start.AddDays(6)); got != 0 {
		t.Fatalf("6 days in: got week %d, want 0", got)
	}
	if got := weekly.PeriodsSinceStart(start.AddDays(7)); got != 1 {
		t.Fatalf("7 days in: got week %d, want 1", got)
	}
	occ := make([]int, 31)
	occ[0] = 1
	monthly, _ := domain.MonthlySchedule(start, occ, 0, nil)
	if got := monthly.PeriodsSinceStart(domain.NewDate(2026, time.February, 14)); got != 0 {
		t.Fatalf("feb 14: got month %d, want 0", got)
	}
	if got := monthly.PeriodsSinceStart(domain.NewDate(2026, time.February, 15)); got != 1 {
		t.Fatalf("feb 15: got month %d, want 1", got)
	}
}

func TestDaysSinceStart(t *testing.T) {
	start := domain.NewDate(2026, time.March, 2)
	s := mustDaily(t, start, 1, 0, nil)
	if got := s.DaysSinceStart(start); got != 0 {
		t.Fatalf("start: got %d, want 0", got)
	}
	if got := s.DaysSinceStart(start.AddDays(10)); got != 10 {
		t.Fatalf("10 days: got %d, want 10", got)
	}
	if got := s.DaysSinceStart(start.AddDays(-3)); got != 0 {
		t.Fatalf("before start clamps to 0, got %d", got)
	}
}

func TestScheduleValidation(t *testing.T) {
	start := domain.NewDate(2026, time.March, 2)
	if _, err := domain.DailySchedule(start, -1, 0, nil); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("negative occurrences: got %v", err)
	}
	if _, err := domain.WeeklySchedule(start, []int{1, 2, 3}, 0, nil); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("short weekly occurrences: got %v", err)
	}
	end := start.AddDays(-1)
	if _, err := domain.DailySchedule(start, 1, 0, &end); !errors.Is(err, domain.ErrInvalidDate) {
		t.Fatalf("end before start: got %v", err)
	}
	if _, err := domain.DailySchedule(start, 1, -2, nil); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("negative skip: got %v", err)
	}
}

func TestDateRoundTrip(t *testing.T) {
	d, err := domain.ParseDate("2026-03-02")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.String() != "2026-03-02" {
		t.Fatalf("round trip: %s", d)
	}
	if _, err := domain.ParseDate("03/02/2026"); !errors.Is(err, domain.ErrInvalidDate) {
		t.Fatalf("bad format: got %v", err)
	}
	if got := d.DaysUntil(d.AddDays(42)); got != 42 {
		t.Fatalf("days until: got %d", got)
	}
}
