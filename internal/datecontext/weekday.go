package datecontext

import "time"

var weekdayWords = map[string]time.Weekday{
	"domingo": time.Sunday,
	"segunda": time.Monday,
	"terca":   time.Tuesday,
	"quarta":  time.Wednesday,
	"quinta":  time.Thursday,
	"sexta":   time.Friday,
	"sabado":  time.Saturday,

	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

var weekdayLabels = map[time.Weekday]string{
	time.Sunday:    "domingo",
	time.Monday:    "segunda-feira",
	time.Tuesday:   "terça-feira",
	time.Wednesday: "quarta-feira",
	time.Thursday:  "quinta-feira",
	time.Friday:    "sexta-feira",
	time.Saturday:  "sábado",
}

// WeekdayLabel returns the display name of wd.
func WeekdayLabel(wd time.Weekday) string {
	return weekdayLabels[wd]
}

// findWeekday returns the first weekday named in tokens. Tokens are whole
// words, so "quintal" or "sextante" never match.
func findWeekday(tokens []string) (time.Weekday, bool) {
	for _, tok := range tokens {
		if wd, ok := weekdayWords[tok]; ok {
			return wd, true
		}
	}
	return time.Sunday, false
}
