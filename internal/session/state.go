// Package session holds the mutable state of one dashboard session: link
// flags, session start time, the append-only reading log and event markers.
//
// State is not safe for concurrent use; it is owned by the controller loop.
package session

import (
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/jes/pressuredash/internal/reading"
)

var ErrNotConnected = errors.New("session: not connected")

type State struct {
	connected bool
	streaming bool

	startTime time.Time
	started   bool

	latestElapsed  float64
	latestPressure float64
	hasLatest      bool

	readings []reading.Reading
	markers  []reading.EventMarker
}

func New() *State {
	return &State{}
}

func (s *State) SetConnected(connected bool) {
	s.connected = connected
	if !connected {
		s.streaming = false
	}
}

// Begin starts streaming at start and clears data left by a previous run.
func (s *State) Begin(start time.Time) error {
	if !s.connected {
		return ErrNotConnected
	}
	s.startTime = start
	s.started = true
	s.streaming = true
	s.clear()
	return nil
}

func (s *State) End() {
	s.streaming = false
}

// RecordReading appends a reading without event label and updates the
// latest values.
func (s *State) RecordReading(pressure, elapsed float64, at time.Time) reading.Reading {
	r := reading.Reading{
		Time:           at,
		ElapsedSeconds: elapsed,
		Pressure:       pressure,
	}
	s.readings = append(s.readings, r)
	s.latestElapsed = elapsed
	s.latestPressure = pressure
	s.hasLatest = true
	return r
}

// TagEvent records label at the latest elapsed time. It does nothing unless
// the session is streaming, a reading has been seen and label is not blank.
// Control characters in label become spaces so it stays on one export row.
func (s *State) TagEvent(label string, at time.Time) (reading.Reading, reading.EventMarker, bool) {
	label = strings.TrimSpace(strings.Map(foldControl, label))
	if !s.streaming || !s.hasLatest || label == "" {
		return reading.Reading{}, reading.EventMarker{}, false
	}

	r := reading.Reading{
		Time:           at,
		ElapsedSeconds: s.latestElapsed,
		Pressure:       s.latestPressure,
		Event:          label,
	}
	m := reading.EventMarker{
		ID:             reading.NewMarkerID(),
		ElapsedSeconds: s.latestElapsed,
		Label:          label,
	}
	s.readings = append(s.readings, r)
	s.markers = append(s.markers, m)
	return r, m, true
}

func foldControl(r rune) rune {
	if unicode.IsControl(r) {
		return ' '
	}
	return r
}

// Reset drops readings, markers and latest values. The link is untouched.
func (s *State) Reset() {
	s.clear()
}

func (s *State) clear() {
	s.readings = nil
	s.markers = nil
	s.latestElapsed = 0
	s.latestPressure = 0
	s.hasLatest = false
}

func (s *State) Connected() bool { return s.connected }
func (s *State) Streaming() bool { return s.streaming }

func (s *State) StartTime() (time.Time, bool) {
	return s.startTime, s.started
}

// Latest returns the most recent elapsed time and pressure.
func (s *State) Latest() (elapsed, pressure float64, ok bool) {
	return s.latestElapsed, s.latestPressure, s.hasLatest
}

func (s *State) Len() int { return len(s.readings) }

func (s *State) Readings() []reading.Reading {
	out := make([]reading.Reading, len(s.readings))
	copy(out, s.readings)
	return out
}

func (s *State) Markers() []reading.EventMarker {
	out := make([]reading.EventMarker, len(s.markers))
	copy(out, s.markers)
	return out
}
