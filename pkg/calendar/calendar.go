// Package calendar answers banking-day questions for the Norwegian and Swedish
// clearing schemes. All computations work on calendar dates; the time of day
// and location of the input are ignored.
package calendar

import "time"

// Calendar reports whether a date is a banking day.
type Calendar struct {
	name     string
	holidays func(year int) map[civilDate]struct{}
}

type civilDate struct {
	year  int
	month time.Month
	day   int
}

func toCivil(t time.Time) civilDate {
	y, m, d := t.Date()
	return civilDate{year: y, month: m, day: d}
}

func (c Calendar) Name() string { return c.name }

// IsBankingDay is true for weekdays that are not holidays.
func (c Calendar) IsBankingDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := c.holidays(t.Year())[toCivil(t)]
	return !holiday
}

// BankingDaysBetween counts banking days in the half-open range [from, to).
func (c Calendar) BankingDaysBetween(from, to time.Time) int {
	from, to = StartOfDay(from), StartOfDay(to)
	count := 0
	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		if c.IsBankingDay(d) {
			count++
		}
	}
	return count
}

// NextBankingDay returns t itself when it is a banking day, else the first
// banking day after it.
func (c Calendar) NextBankingDay(t time.Time) time.Time {
	d := StartOfDay(t)
	for !c.IsBankingDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// LastDayOfMonth returns midnight on the final day of t's month.
func LastDayOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m+1, 0, 0, 0, 0, 0, t.Location())
}

func IsLastDayOfMonth(t time.Time) bool {
	return t.Day() == LastDayOfMonth(t).Day()
}

// SameDate compares calendar dates only.
func SameDate(a, b time.Time) bool {
	return toCivil(a) == toCivil(b)
}

// EasterSunday uses the anonymous Gregorian algorithm.
func EasterSunday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

func addDays(set map[civilDate]struct{}, base time.Time, offsets ...int) {
	for _, off := range offsets {
		set[toCivil(base.AddDate(0, 0, off))] = struct{}{}
	}
}

func addFixed(set map[civilDate]struct{}, year int, dates ...[2]int) {
	for _, md := range dates {
		set[civilDate{year: year, month: time.Month(md[0]), day: md[1]}] = struct{}{}
	}
}

// fridayOnOrBefore walks back from month/day to the closest Friday.
func fridayOnOrBefore(year int, month time.Month, day int) time.Time {
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	for d.Weekday() != time.Friday {
		d = d.AddDate(0, 0, -1)
	}
	return d
}
