package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC)

func streaming(t *testing.T) *State {
	t.Helper()
	s := New()
	s.SetConnected(true)
	require.NoError(t, s.Begin(t0))
	return s
}

func TestBeginRequiresConnection(t *testing.T) {
	s := New()
	assert.ErrorIs(t, s.Begin(t0), ErrNotConnected)
	assert.False(t, s.Streaming())

	s.SetConnected(true)
	require.NoError(t, s.Begin(t0))
	assert.True(t, s.Streaming())
	start, ok := s.StartTime()
	assert.True(t, ok)
	assert.Equal(t, t0, start)
}

func TestRecordReading(t *testing.T) {
	s := streaming(t)

	_, _, ok := s.Latest()
	assert.False(t, ok)

	s.RecordReading(10.0, 1.0, t0.Add(time.Second))
	r := s.RecordReading(12.5, 2.0, t0.Add(2*time.Second))

	assert.Equal(t, "", r.Event)
	assert.Equal(t, 2, s.Len())
	elapsed, pressure, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, 2.0, elapsed)
	assert.Equal(t, 12.5, pressure)
}

func TestTagEvent(t *testing.T) {
	s := streaming(t)
	s.RecordReading(10.0, 1.0, t0.Add(time.Second))
	s.RecordReading(12.5, 2.0, t0.Add(2*time.Second))

	r, m, ok := s.TagEvent("  Peak ", t0.Add(3*time.Second))
	require.True(t, ok)

	assert.Equal(t, []string{"10/19/2026, 2:00:03 PM", "2.000", "12.5000", "Peak"}, r.Row(""))
	assert.Equal(t, 2.0, m.ElapsedSeconds)
	assert.Equal(t, "Peak", m.Label)
	assert.NotEmpty(t, m.ID)
	assert.Len(t, s.Readings(), 3)
	assert.Len(t, s.Markers(), 1)
}

func TestTagEventFoldsControlCharacters(t *testing.T) {
	s := streaming(t)
	s.RecordReading(10.0, 1.0, t0)

	r, m, ok := s.TagEvent("Peak\nInjected,Row,1,2\r\x00", t0)
	require.True(t, ok)
	assert.Equal(t, "Peak Injected,Row,1,2", r.Event)
	assert.Equal(t, r.Event, m.Label)

	_, _, ok = s.TagEvent("\n\t\r", t0)
	assert.False(t, ok, "only control characters is blank")
	assert.Len(t, s.Readings(), 2)
}

func TestTagEventIgnored(t *testing.T) {
	t.Run("blank labels", func(t *testing.T) {
		s := streaming(t)
		s.RecordReading(10.0, 1.0, t0)
		for i := 0; i < 3; i++ {
			_, _, ok := s.TagEvent("   ", t0)
			assert.False(t, ok)
		}
		assert.Len(t, s.Readings(), 1)
		assert.Empty(t, s.Markers())
	})

	t.Run("no reading yet", func(t *testing.T) {
		s := streaming(t)
		_, _, ok := s.TagEvent("Peak", t0)
		assert.False(t, ok)
		assert.Empty(t, s.Readings())
	})

	t.Run("not streaming", func(t *testing.T) {
		s := streaming(t)
		s.RecordReading(10.0, 1.0, t0)
		s.End()
		_, _, ok := s.TagEvent("Peak", t0)
		assert.False(t, ok)
		assert.Len(t, s.Readings(), 1)
	})
}

func TestReset(t *testing.T) {
	for _, n := range []int{0, 1, 250} {
		s := streaming(t)
		for i := 0; i < n; i++ {
			s.RecordReading(float64(i), float64(i), t0)
		}
		s.TagEvent("x", t0)
		s.End()

		s.Reset()

		assert.Empty(t, s.Readings())
		assert.Empty(t, s.Markers())
		_, _, ok := s.Latest()
		assert.False(t, ok)
		assert.True(t, s.Connected(), "reset must not disconnect")
	}
}

func TestBeginClearsPreviousRun(t *testing.T) {
	s := streaming(t)
	s.RecordReading(10.0, 1.0, t0)
	s.TagEvent("x", t0)
	s.End()

	require.NoError(t, s.Begin(t0.Add(time.Minute)))
	assert.Empty(t, s.Readings())
	assert.Empty(t, s.Markers())
}

func TestReadingsReturnsCopy(t *testing.T) {
	s := streaming(t)
	s.RecordReading(10.0, 1.0, t0)

	rs := s.Readings()
	rs[0].Pressure = 99
	assert.Equal(t, 10.0, s.Readings()[0].Pressure)
}
