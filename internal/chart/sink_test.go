package chart

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jes/pressuredash/internal/reading"
)

type recorder struct {
	mu   sync.Mutex
	msgs []any
}

func (r *recorder) Publish(msg any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) frames() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Frame
	for _, m := range r.msgs {
		out = append(out, m.(Frame))
	}
	return out
}

func TestFlushBatchesPoints(t *testing.T) {
	rec := &recorder{}
	s := NewSink(rec, time.Hour)

	for i := 0; i < 100; i++ {
		s.AppendPoint(float64(i), 1)
	}
	assert.Empty(t, rec.frames(), "nothing is published before the frame")

	s.Flush()
	frames := rec.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, "chart", frames[0].Type)
	assert.Len(t, frames[0].Points, 100)

	s.Flush()
	assert.Len(t, rec.frames(), 1, "an empty frame is not published")
}

func TestMarkers(t *testing.T) {
	rec := &recorder{}
	s := NewSink(rec, time.Hour)

	s.AddMarker(reading.EventMarker{ID: "event-a", ElapsedSeconds: 2, Label: "Peak"})
	s.AddMarker(reading.EventMarker{ID: "event-b", ElapsedSeconds: 3, Label: "Drop"})
	s.AddMarker(reading.EventMarker{ID: "event-a", ElapsedSeconds: 2, Label: "Peak 2"})

	markers := s.Markers()
	require.Len(t, markers, 2)
	assert.Equal(t, "Peak 2", markers[0].Label)
	assert.Equal(t, "Drop", markers[1].Label)
}

func TestClearDiscardsPending(t *testing.T) {
	rec := &recorder{}
	s := NewSink(rec, time.Hour)

	s.AppendPoint(1, 10)
	s.AddMarker(reading.EventMarker{ID: "event-a", ElapsedSeconds: 1, Label: "x"})
	s.Flush()

	s.AppendPoint(2, 12.5)
	s.Clear()
	s.AppendPoint(0.5, 9)
	s.Flush()

	frames := rec.frames()
	require.Len(t, frames, 2)
	assert.Equal(t, []uint64{1, 2}, []uint64{frames[0].Seq, frames[1].Seq})
	assert.True(t, frames[1].Clear)
	assert.Equal(t, []Point{{X: 0.5, Y: 9}}, frames[1].Points)
	assert.Empty(t, frames[1].Markers)

	assert.Equal(t, []Point{{X: 0.5, Y: 9}}, s.Points())
	assert.Empty(t, s.Markers())
}

func TestSnapshotExcludesPending(t *testing.T) {
	s := NewSink(&recorder{}, time.Hour)

	s.AppendPoint(1, 10)
	s.AddMarker(reading.EventMarker{ID: "event-a", ElapsedSeconds: 1, Label: "x"})
	s.Flush()
	s.AppendPoint(2, 12.5)
	s.AddMarker(reading.EventMarker{ID: "event-b", ElapsedSeconds: 2, Label: "y"})

	snap := s.Snapshot()
	assert.True(t, snap.Clear)
	assert.Equal(t, uint64(1), snap.Seq)
	assert.Equal(t, []Point{{X: 1, Y: 10}}, snap.Points)
	require.Len(t, snap.Markers, 1)
	assert.Equal(t, "event-a", snap.Markers[0].ID)
}

func TestRunPublishesEachFrame(t *testing.T) {
	rec := &recorder{}
	s := NewSink(rec, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	s.AppendPoint(1, 10)
	require.Eventually(t, func() bool { return len(rec.frames()) == 1 }, time.Second, time.Millisecond)

	s.AppendPoint(2, 12.5)
	cancel()
	<-done

	frames := rec.frames()
	require.Len(t, frames, 2)
	assert.Equal(t, []Point{{X: 2, Y: 12.5}}, frames[1].Points)
}
