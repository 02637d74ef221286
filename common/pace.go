package common

import (
	"fmt"
	"time"
)

// FormatPace renders seconds-per-km as m:ss/km.
// Zero or non-positive pace renders as a dash, which reads better
// than 0:00 on a run that hasn't covered ground yet.
func FormatPace(secPerKm float64) string {
	if secPerKm <= 0 {
		return "-:--/km"
	}
	d := time.Duration(secPerKm * float64(time.Second))
	mins := int(d.Minutes())
	secs := int(d.Seconds()) - mins*60
	return fmt.Sprintf("%d:%02d/km", mins, secs)
}
