package reading

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestElapsed(t *testing.T) {
	start := time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC)

	assert.Equal(t, 2.0, Elapsed(start, start.Add(2*time.Second)))
	assert.Equal(t, 1.235, Elapsed(start, start.Add(1234567*time.Microsecond)))
	assert.Equal(t, 0.0, Elapsed(start, start.Add(-time.Second)))
}

func TestRow(t *testing.T) {
	r := Reading{
		Time:           time.Date(2026, 10, 19, 14, 3, 9, 0, time.UTC),
		ElapsedSeconds: 2,
		Pressure:       12.5,
		Event:          "Peak",
	}

	assert.Equal(t, []string{"10/19/2026, 2:03:09 PM", "2.000", "12.5000", "Peak"}, r.Row(""))
	assert.Equal(t, "2026-10-19T14:03:09Z", r.Row(time.RFC3339)[0])
}

func TestLogLine(t *testing.T) {
	r := Reading{
		Time:           time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC),
		ElapsedSeconds: 1.5,
		Pressure:       3.4182,
	}

	assert.Equal(t, "10/19/2026, 9:00:00 AM    1.500 sec     3.4182 psi", r.LogLine(""))

	r.Event = "Valve open"
	assert.True(t, strings.HasSuffix(r.LogLine(""), "psi  [Valve open]"))
}

func TestNewMarkerID(t *testing.T) {
	a, b := NewMarkerID(), NewMarkerID()
	assert.True(t, strings.HasPrefix(a, "event-"))
	assert.NotEqual(t, a, b)
}
