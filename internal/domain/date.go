package domain

import (
	"fmt"
	"time"
)

// Date is a Gregorian calendar day. Only year/month/day are observed;
// time-of-day and timezone never influence comparisons.
type Date struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
	Day   int        `json:"day"`
}

// NewDate normalizes the components through the Gregorian calendar,
// so NewDate(2026, time.January, 32) is February 1st.
func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// DateOf truncates a time to its calendar day.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a date in 2006-01-02 form.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidDate, s)
	}
	return DateOf(t), nil
}

func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) String() string {
	return d.Time().Format("2006-01-02")
}

func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

func (d Date) Equal(o Date) bool {
	return d.Year == o.Year && d.Month == o.Month && d.Day == o.Day
}

func (d Date) Before(o Date) bool {
	return d.Time().Before(o.Time())
}

func (d Date) After(o Date) bool {
	return d.Time().After(o.Time())
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

// DaysUntil returns the number of calendar days from d to o.
// Negative when o is earlier than d. Both dates are UTC midnights,
// so the division is exact.
func (d Date) DaysUntil(o Date) int {
	return int(o.Time().Sub(d.Time()) / (24 * time.Hour))
}

func (d Date) Weekday() time.Weekday {
	return d.Time().Weekday()
}

// MarshalText/UnmarshalText let Date travel through JSON and YAML as
// a plain 2006-01-02 string.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(text []byte) error {
	parsed, err := ParseDate(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
