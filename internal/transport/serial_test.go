package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type collector struct {
	mu   sync.Mutex
	msgs []string
}

func (c *collector) onMessage(raw []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, string(raw))
}

func (c *collector) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

// chunkReader returns its chunks one Read at a time.
type chunkReader struct {
	chunks []string
	errs   []error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return 0, err
	}
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks = r.chunks[1:]
	return n, nil
}

func TestLineReaderSplitsLines(t *testing.T) {
	c := &collector{}
	r := &chunkReader{chunks: []string{"1.000,10", ".0\r\n2.000,12.5\n", "\n", "3.000,", "13.1"}}

	newLineReader(r, discard).run(make(chan struct{}), c.onMessage)

	assert.Equal(t, []string{"1.000,10.0", "2.000,12.5", "3.000,13.1"}, c.messages())
}

func TestLineReaderDropsOverlongLine(t *testing.T) {
	chunks := []string{"1.000,10.0\n"}
	// the read buffer holds 256 bytes, so feed the long line in pieces
	for n := 0; n <= maxLineLength; n += 256 {
		chunks = append(chunks, strings.Repeat("9", 256))
	}
	chunks = append(chunks, ",1.5\n", "2.000,12.5\n")

	c := &collector{}
	lr := newLineReader(&chunkReader{chunks: chunks}, discard)
	lr.run(make(chan struct{}), c.onMessage)

	assert.Equal(t, []string{"1.000,10.0", "2.000,12.5"}, c.messages())
	assert.LessOrEqual(t, cap(lr.pending), 2*maxLineLength)
}

func TestLineReaderGivesUpAfterConsecutiveErrors(t *testing.T) {
	errs := make([]error, maxConsecutiveErrors)
	for i := range errs {
		errs[i] = errors.New("device reports readiness to read but returned no data")
	}
	c := &collector{}
	r := &chunkReader{errs: errs, chunks: []string{"1.000,10.0\n"}}

	newLineReader(r, discard).run(make(chan struct{}), c.onMessage)

	assert.Empty(t, c.messages())
}

// fakePort times out like a real port when no data is queued.
type fakePort struct {
	mu     sync.Mutex
	data   []string
	closed bool
}

func (p *fakePort) feed(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data = append(p.data, s)
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if len(p.data) == 0 {
		p.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	n := copy(b, p.data[0])
	p.data = p.data[1:]
	p.mu.Unlock()
	return n, nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }

func TestSerialLifecycle(t *testing.T) {
	fp := &fakePort{}
	s := NewSerial(SerialConfig{Port: "/dev/ttyACM0"}, discard)
	var gotMode *serial.Mode
	s.open = func(name string, mode *serial.Mode) (port, error) {
		gotMode = mode
		return fp, nil
	}

	require.ErrorIs(t, s.StartStreaming(func([]byte) {}), ErrSubscription)
	require.NoError(t, s.StopStreaming(), "stop without subscription is a no-op")

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, defaultBaudRate, gotMode.BaudRate)

	c := &collector{}
	require.NoError(t, s.StartStreaming(c.onMessage))
	fp.feed("1.000,10.0\n")
	fp.feed("2.000,12.5\n")
	require.Eventually(t, func() bool { return len(c.messages()) == 2 }, time.Second, time.Millisecond)

	require.NoError(t, s.StopStreaming())
	require.NoError(t, s.StopStreaming())
	fp.feed("3.000,13.0\n")
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, []string{"1.000,10.0", "2.000,12.5"}, c.messages())

	require.NoError(t, s.Close())
	assert.True(t, fp.closed)
}

func TestSerialConnectErrors(t *testing.T) {
	s := NewSerial(SerialConfig{}, discard)
	assert.ErrorIs(t, s.Connect(context.Background()), ErrLinkUnavailable)

	s = NewSerial(SerialConfig{Port: "/dev/nope"}, discard)
	s.open = func(string, *serial.Mode) (port, error) { return nil, errors.New("no such file") }
	err := s.Connect(context.Background())
	assert.ErrorIs(t, err, ErrLinkUnavailable)
	assert.True(t, strings.Contains(err.Error(), "/dev/nope"))
}
