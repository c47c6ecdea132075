package reading

import (
	"fmt"
	"math"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// DefaultTimestampLayout renders wall-clock times the way an en-US browser
// prints Date.toLocaleString().
const DefaultTimestampLayout = "1/2/2006, 3:04:05 PM"

// Reading is one row of the session log.
type Reading struct {
	Time           time.Time `json:"time"`
	ElapsedSeconds float64   `json:"elapsed"`
	Pressure       float64   `json:"pressure"`
	Event          string    `json:"event"`
}

// EventMarker is a user-placed annotation on the chart timeline.
type EventMarker struct {
	ID             string  `json:"id"`
	ElapsedSeconds float64 `json:"value"`
	Label          string  `json:"label"`
}

// NewMarkerID returns a unique chart annotation id of the form event-<nanoid>.
func NewMarkerID() string {
	return "event-" + gonanoid.Must()
}

// Elapsed returns at-start in seconds, rounded to milliseconds.
func Elapsed(start, at time.Time) float64 {
	d := at.Sub(start)
	if d < 0 {
		d = 0
	}
	return math.Round(d.Seconds()*1000) / 1000
}

// Timestamp formats the receipt time with layout, or DefaultTimestampLayout
// when layout is empty.
func (r Reading) Timestamp(layout string) string {
	if layout == "" {
		layout = DefaultTimestampLayout
	}
	return r.Time.Format(layout)
}

// Row renders the reading as export fields: timestamp, elapsed, pressure, event.
func (r Reading) Row(layout string) []string {
	return []string{
		r.Timestamp(layout),
		fmt.Sprintf("%.3f", r.ElapsedSeconds),
		fmt.Sprintf("%.4f", r.Pressure),
		r.Event,
	}
}

// LogLine is the human-readable form shown in the dashboard log.
func (r Reading) LogLine(layout string) string {
	line := fmt.Sprintf("%-22s %8.3f sec %10.4f psi", r.Timestamp(layout), r.ElapsedSeconds, r.Pressure)
	if r.Event != "" {
		line += "  [" + r.Event + "]"
	}
	return line
}
