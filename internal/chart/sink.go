// Package chart keeps the live pressure series and its event annotations in
// memory and publishes changes to dashboard clients in frame-sized batches.
package chart

import (
	"context"
	"sync"
	"time"

	"github.com/jes/pressuredash/internal/reading"
)

const DefaultFrameInterval = 50 * time.Millisecond

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Frame is one batch of chart changes. A clearing frame tells clients to
// drop everything they hold before applying Points and Markers. Seq grows by
// one per published frame; a snapshot carries the Seq of the last frame it
// already contains.
type Frame struct {
	Type    string                `json:"type"`
	Seq     uint64                `json:"seq"`
	Clear   bool                  `json:"clear,omitempty"`
	Points  []Point               `json:"points,omitempty"`
	Markers []reading.EventMarker `json:"markers,omitempty"`
}

type Publisher interface {
	Publish(msg any)
}

// Sink is safe for concurrent use. Mutating calls only queue work; Run
// publishes the queued frame once per interval.
type Sink struct {
	pub      Publisher
	interval time.Duration

	mu      sync.Mutex
	points  []Point
	markers []reading.EventMarker
	index   map[string]int
	pending Frame
	dirty   bool
	seq     uint64

	flushMu sync.Mutex
}

func NewSink(pub Publisher, interval time.Duration) *Sink {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &Sink{
		pub:      pub,
		interval: interval,
		index:    make(map[string]int),
	}
}

func (s *Sink) AppendPoint(elapsed, pressure float64) {
	p := Point{X: elapsed, Y: pressure}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = append(s.points, p)
	s.pending.Points = append(s.pending.Points, p)
	s.dirty = true
}

// AddMarker adds a vertical annotation. A marker with a known ID replaces
// the previous one.
func (s *Sink) AddMarker(m reading.EventMarker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.index[m.ID]; ok {
		s.markers[i] = m
	} else {
		s.index[m.ID] = len(s.markers)
		s.markers = append(s.markers, m)
	}
	s.pending.Markers = append(s.pending.Markers, m)
	s.dirty = true
}

// Clear empties the series and all annotations. Anything still pending is
// discarded.
func (s *Sink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = nil
	s.markers = nil
	s.index = make(map[string]int)
	s.pending = Frame{Clear: true}
	s.dirty = true
}

// Snapshot returns everything already published, as a clearing frame, for
// clients that join mid-session. Pending changes reach them with the next
// frame.
func (s *Sink) Snapshot() Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.points) - len(s.pending.Points)
	points := make([]Point, n)
	copy(points, s.points[:n])

	pendingIDs := make(map[string]bool, len(s.pending.Markers))
	for _, m := range s.pending.Markers {
		pendingIDs[m.ID] = true
	}
	markers := make([]reading.EventMarker, 0, len(s.markers))
	for _, m := range s.markers {
		if !pendingIDs[m.ID] {
			markers = append(markers, m)
		}
	}

	return Frame{Type: "chart", Seq: s.seq, Clear: true, Points: points, Markers: markers}
}

// Points returns a copy of the whole series, pending points included.
func (s *Sink) Points() []Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Point, len(s.points))
	copy(out, s.points)
	return out
}

func (s *Sink) Markers() []reading.EventMarker {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]reading.EventMarker, len(s.markers))
	copy(out, s.markers)
	return out
}

// Flush publishes the pending frame, if any.
func (s *Sink) Flush() {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return
	}
	s.seq++
	f := s.pending
	f.Type = "chart"
	f.Seq = s.seq
	s.pending = Frame{}
	s.dirty = false
	s.mu.Unlock()

	s.pub.Publish(f)
}

func (s *Sink) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Flush()
			return
		case <-ticker.C:
			s.Flush()
		}
	}
}
