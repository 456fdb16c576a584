package providera

import (
	"time"

	"github.com/angelmondragon/giroflow-backend/pkg/calendar"
)

// Claims must reach the clearing house four banking days before they are due.
const (
	claimLeadBankingDays = 4
	dueDateHorizonDays   = 30
)

// DueDates returns the due dates a claim file sent today may cover, latest
// first. Nothing is sent on days the clearing house is closed.
func DueDates(today time.Time) []time.Time {
	return dueDates(calendar.Norway(), today)
}

func dueDates(cal calendar.Calendar, today time.Time) []time.Time {
	today = calendar.StartOfDay(today)
	if !cal.IsBankingDay(today) {
		return nil
	}
	var out []time.Time
	for offset := dueDateHorizonDays; offset >= claimLeadBankingDays; offset-- {
		d := today.AddDate(0, 0, offset)
		if cal.BankingDaysBetween(today, d) == claimLeadBankingDays {
			out = append(out, d)
		}
	}
	return out
}
