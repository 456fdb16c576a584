package calendar

// Norway is the Nets clearing calendar: weekends and Norwegian public holidays.
func Norway() Calendar {
	return Calendar{name: "NO", holidays: norwegianHolidays}
}

func norwegianHolidays(year int) map[civilDate]struct{} {
	set := make(map[civilDate]struct{}, 12)
	addFixed(set, year,
		[2]int{1, 1},
		[2]int{5, 1},
		[2]int{5, 17},
		[2]int{12, 25},
		[2]int{12, 26},
	)
	// Maundy Thursday through Whit Monday.
	addDays(set, EasterSunday(year), -3, -2, 0, 1, 39, 49, 50)
	return set
}
