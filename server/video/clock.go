package video

import "fmt"

// FormatClock formats seconds as m:ss, eg 65 -> "1:05"
func FormatClock(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	s := int(seconds)
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}
