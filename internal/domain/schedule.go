package domain

import "fmt"

// ScheduleType selects the recurrence unit of a Schedule.
type ScheduleType string

const (
	ScheduleDaily   ScheduleType = "daily"
	ScheduleWeekly  ScheduleType = "weekly"
	ScheduleMonthly ScheduleType = "monthly"
)

const maxMonthlyOccurrences = 31

// Schedule is the recurrence rule for an activity. It works only with the
// Gregorian calendar and observes dates at day granularity.
//
// Occurrences holds the per-slot occurrence counts for one period:
// one entry for daily schedules, seven (Sunday through Saturday) for weekly,
// up to 31 (one per day of month) for monthly. PeriodsToSkip is the number of
// inactive periods between two active periods; the period containing StartDate
// is always active.
//
// A Schedule is immutable after construction except EndDate, which the store
// sets once when an activity is closed.
type Schedule struct {
	Type          ScheduleType `json:"type"`
	StartDate     Date         `json:"start_date"`
	EndDate       *Date        `json:"end_date,omitempty"`
	Occurrences   []int        `json:"occurrences"`
	PeriodsToSkip int          `json:"periods_to_skip,omitempty"`
}

// DailySchedule builds a schedule with the same number of occurrences each
// active day. Pass end as nil for an open-ended schedule.
func DailySchedule(start Date, occurrencesPerDay, periodsToSkip int, end *Date) (Schedule, error) {
	return newSchedule(ScheduleDaily, start, []int{occurrencesPerDay}, periodsToSkip, end)
}

// WeeklySchedule builds a schedule repeating every week with per-weekday
// occurrence counts ordered Sunday through Saturday.
func WeeklySchedule(start Date, occurrences []int, periodsToSkip int, end *Date) (Schedule, error) {
	return newSchedule(ScheduleWeekly, start, occurrences, periodsToSkip, end)
}

// MonthlySchedule builds a schedule repeating every calendar month with
// per-day-of-month occurrence counts; days past the slice length have none.
func MonthlySchedule(start Date, occurrences []int, periodsToSkip int, end *Date) (Schedule, error) {
	return newSchedule(ScheduleMonthly, start, occurrences, periodsToSkip, end)
}

func newSchedule(typ ScheduleType, start Date, occurrences []int, periodsToSkip int, end *Date) (Schedule, error) {
	s := Schedule{
		Type:          typ,
		StartDate:     start,
		Occurrences:   append([]int(nil), occurrences...),
		PeriodsToSkip: periodsToSkip,
	}
	if end != nil {
		e := *end
		s.EndDate = &e
	}
	if err := s.Validate(); err != nil {
		return Schedule{}, err
	}
	return s, nil
}

// Validate checks structural invariants. A Schedule returned by one of the
// factory constructors is always valid.
func (s Schedule) Validate() error {
	switch s.Type {
	case ScheduleDaily:
		if len(s.Occurrences) != 1 {
			return fmt.Errorf("%w: daily schedule needs exactly 1 occurrence count, got %d", ErrInvalidArgument, len(s.Occurrences))
		}
	case ScheduleWeekly:
		if len(s.Occurrences) != 7 {
			return fmt.Errorf("%w: weekly schedule needs 7 occurrence counts (Sunday..Saturday), got %d", ErrInvalidArgument, len(s.Occurrences))
		}
	case ScheduleMonthly:
		if len(s.Occurrences) == 0 || len(s.Occurrences) > maxMonthlyOccurrences {
			return fmt.Errorf("%w: monthly schedule needs 1..%d occurrence counts, got %d", ErrInvalidArgument, maxMonthlyOccurrences, len(s.Occurrences))
		}
	default:
		return fmt.Errorf("%w: unknown schedule type %q", ErrInvalidArgument, s.Type)
	}
	for i, n := range s.Occurrences {
		if n < 0 {
			return fmt.Errorf("%w: occurrence count at index %d is negative", ErrInvalidArgument, i)
		}
	}
	if s.PeriodsToSkip < 0 {
		return fmt.Errorf("%w: periods to skip must not be negative", ErrInvalidArgument)
	}
	if s.StartDate.IsZero() {
		return fmt.Errorf("%w: start date is required", ErrInvalidArgument)
	}
	if s.EndDate != nil && s.EndDate.Before(s.StartDate) {
		return fmt.Errorf("%w: end date %s is before start date %s", ErrInvalidDate, s.EndDate, s.StartDate)
	}
	return nil
}

// NumberOfEventsOnDate returns how many occurrences the schedule yields on
// the given day. Pure: identical answers for the same (schedule, date) pair
// regardless of call order.
func (s Schedule) NumberOfEventsOnDate(d Date) int {
	if d.Before(s.StartDate) {
		return 0
	}
	if s.EndDate != nil && d.After(*s.EndDate) {
		return 0
	}
	if s.PeriodsSinceStart(d)%(s.PeriodsToSkip+1) != 0 {
		return 0
	}
	switch s.Type {
	case ScheduleDaily:
		return s.Occurrences[0]
	case ScheduleWeekly:
		return s.Occurrences[int(d.Weekday())]
	case ScheduleMonthly:
		idx := d.Day - 1
		if idx >= len(s.Occurrences) {
			return 0
		}
		return s.Occurrences[idx]
	}
	return 0
}

// DaysSinceStart returns the number of calendar days from the schedule's
// start date to d, clamped at zero for dates before the start.
func (s Schedule) DaysSinceStart(d Date) int {
	days := s.StartDate.DaysUntil(d)
	if days < 0 {
		return 0
	}
	return days
}

// PeriodsSinceStart returns the zero-based period index of d: whole elapsed
// days, weeks, or calendar months since the start date depending on the
// schedule type. The start date itself is always period 0.
func (s Schedule) PeriodsSinceStart(d Date) int {
	days := s.DaysSinceStart(d)
	switch s.Type {
	case ScheduleWeekly:
		return days / 7
	case ScheduleMonthly:
		months := (d.Year-s.StartDate.Year)*12 + int(d.Month-s.StartDate.Month)
		if d.Day < s.StartDate.Day {
			months--
		}
		if months < 0 {
			return 0
		}
		return months
	default:
		return days
	}
}

// IsActiveOnDate reports whether d falls inside the schedule's date bounds.
// A date inside the bounds may still have zero occurrences (skipped period,
// zero slot).
func (s Schedule) IsActiveOnDate(d Date) bool {
	if d.Before(s.StartDate) {
		return false
	}
	if s.EndDate != nil && d.After(*s.EndDate) {
		return false
	}
	return true
}
