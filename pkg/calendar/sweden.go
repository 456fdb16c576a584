package calendar

import "time"

// Sweden is the Bankgirot calendar. Besides the public holidays it treats the
// eves (Easter, Whitsun, Midsummer, All Saints, Christmas, New Year) as closed.
func Sweden() Calendar {
	return Calendar{name: "SE", holidays: swedishHolidays}
}

func swedishHolidays(year int) map[civilDate]struct{} {
	set := make(map[civilDate]struct{}, 24)
	addFixed(set, year,
		[2]int{1, 1},
		[2]int{1, 6},
		[2]int{5, 1},
		[2]int{6, 6},
		[2]int{12, 24},
		[2]int{12, 25},
		[2]int{12, 26},
		[2]int{12, 31},
	)
	addDays(set, EasterSunday(year), -3, -2, -1, 0, 1, 39, 48, 49)
	addDays(set, fridayOnOrBefore(year, time.June, 25), 0, 1)
	addDays(set, fridayOnOrBefore(year, time.November, 4), 0, 1)
	return set
}
