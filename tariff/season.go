package tariff

// SummerLength is the number of months in the CFE summer season.
const SummerLength = 6

// IsMonthInSummer reports whether month lies in the six month window that
// starts at start, wrapping around December.
func IsMonthInSummer(month, start int) bool {
	for i := 0; i < SummerLength; i++ {
		if ((start-1+i)%12)+1 == month {
			return true
		}
	}
	return false
}

// SeasonHeading is the portal heading above the table for the season.
func SeasonHeading(inSummer bool) string {
	if inSummer {
		return "Temporada de verano"
	}
	return "Fuera de verano"
}
