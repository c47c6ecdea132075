// Package controller drives one dashboard session. Every command and every
// sensor notification is executed on a single goroutine (Run), so session
// state needs no locking. Link operations that may block run off that
// goroutine and re-enter it to apply their result, re-checking the phase
// since it may have changed meanwhile.
package controller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jes/pressuredash/internal/export"
	"github.com/jes/pressuredash/internal/metrics"
	"github.com/jes/pressuredash/internal/reading"
	"github.com/jes/pressuredash/internal/session"
	"github.com/jes/pressuredash/internal/transport"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrBusy              = errors.New("another link operation is in progress")
	ErrStopped           = errors.New("controller stopped")
)

const connectFailedAlert = "Connection failed. Make sure the device is on and nearby."

type Chart interface {
	AppendPoint(elapsed, pressure float64)
	AddMarker(m reading.EventMarker)
	Clear()
}

type Publisher interface {
	Publish(msg any)
}

type Config struct {
	Transport       transport.Transport
	Chart           Chart
	Publisher       Publisher
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
	TimestampLayout string
	// Now defaults to time.Now. It is called from transport goroutines.
	Now func() time.Time
}

type op int

const (
	opNone op = iota
	opConnect
	opStart
	opStop
)

type command struct {
	fn    func() error
	reply chan error
}

type notification struct {
	raw []byte
	at  time.Time
}

// inbox is an unbounded FIFO between transport callbacks and the loop, so a
// busy loop never stalls the radio stack and nothing is dropped.
type inbox struct {
	mu    sync.Mutex
	items []notification
	wake  chan struct{}
	now   func() time.Time
}

func (q *inbox) push(raw []byte) {
	q.mu.Lock()
	q.items = append(q.items, notification{raw: raw, at: q.now()})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *inbox) drain() []notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

type Controller struct {
	transport transport.Transport
	chart     Chart
	pub       Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	layout    string
	now       func() time.Time

	commands chan command
	inbox    *inbox
	done     chan struct{}
	runOnce  sync.Once

	// owned by Run
	state       *session.State
	phase       Phase
	saveEnabled bool
	busy        op
	held        []notification
	logLines    []string
	logSeq      uint64
}

func New(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.TimestampLayout == "" {
		cfg.TimestampLayout = reading.DefaultTimestampLayout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Controller{
		transport: cfg.Transport,
		chart:     cfg.Chart,
		pub:       cfg.Publisher,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		layout:    cfg.TimestampLayout,
		now:       cfg.Now,
		commands:  make(chan command),
		inbox:     &inbox{wake: make(chan struct{}, 1), now: cfg.Now},
		done:      make(chan struct{}),
		state:     session.New(),
	}
}

// Run executes commands and notifications until ctx is done. Notifications
// queued before a command are handled before it.
func (c *Controller) Run(ctx context.Context) error {
	defer c.runOnce.Do(func() { close(c.done) })

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.inbox.wake:
			c.drainInbox()
		case cmd := <-c.commands:
			c.drainInbox()
			cmd.reply <- cmd.fn()
		}
	}
}

func (c *Controller) do(ctx context.Context, fn func() error) error {
	cmd := command{fn: fn, reply: make(chan error, 1)}
	select {
	case c.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
	return <-cmd.reply
}

func (c *Controller) Connect(ctx context.Context) error {
	err := c.do(ctx, func() error {
		if err := c.idle(); err != nil {
			return err
		}
		if c.phase != Disconnected {
			return c.invalid("connect")
		}
		c.acquire(opConnect)
		return nil
	})
	if err != nil {
		return err
	}

	linkErr := c.transport.Connect(ctx)

	return c.do(context.WithoutCancel(ctx), func() error {
		c.release()
		if linkErr != nil {
			if !errors.Is(linkErr, transport.ErrLinkUnavailable) {
				linkErr = fmt.Errorf("%w: %v", transport.ErrLinkUnavailable, linkErr)
			}
			c.metrics.LinkErrors.WithLabelValues("connect").Inc()
			c.logger.Error("connection failed", "err", linkErr)
			c.pub.Publish(AlertMessage{Type: "alert", Message: connectFailedAlert})
			c.publishState()
			return linkErr
		}

		c.state.SetConnected(true)
		c.setPhase(Connected)
		c.appendLog("Connected to device GATT server.\nREADY TO START\nPlease press Start button above.")
		c.logger.Info("connected")
		return nil
	})
}

func (c *Controller) Start(ctx context.Context) error {
	var start time.Time
	err := c.do(ctx, func() error {
		if err := c.idle(); err != nil {
			return err
		}
		if c.phase != Connected && c.phase != Stopped {
			return c.invalid("start")
		}
		c.acquire(opStart)
		start = c.now()
		return nil
	})
	if err != nil {
		return err
	}

	linkErr := c.transport.StartStreaming(c.inbox.push)

	return c.do(context.WithoutCancel(ctx), func() error {
		c.release()
		held := c.held
		c.held = nil

		if linkErr != nil {
			return c.subscriptionFailed("start", linkErr)
		}
		if err := c.state.Begin(start); err != nil {
			c.publishState()
			return err
		}

		c.chart.Clear()
		c.saveEnabled = true
		c.setPhase(Streaming)
		c.appendLog("Started data stream")
		c.logger.Info("started data stream")

		for _, n := range held {
			c.handle(n)
		}
		return nil
	})
}

func (c *Controller) Stop(ctx context.Context) error {
	err := c.do(ctx, func() error {
		if err := c.idle(); err != nil {
			return err
		}
		if c.phase != Streaming {
			return c.invalid("stop")
		}
		c.acquire(opStop)
		return nil
	})
	if err != nil {
		return err
	}

	linkErr := c.transport.StopStreaming()

	return c.do(context.WithoutCancel(ctx), func() error {
		c.release()
		if linkErr != nil {
			return c.subscriptionFailed("stop", linkErr)
		}

		c.state.End()
		c.setPhase(Stopped)
		c.appendLog("Stopped data stream")
		c.logger.Info("stopped data stream", "readings", c.state.Len())
		return nil
	})
}

// Reset clears the session data, chart and log. The link stays connected.
func (c *Controller) Reset(ctx context.Context) error {
	return c.do(ctx, func() error {
		if err := c.idle(); err != nil {
			return err
		}
		if c.phase != Stopped {
			return c.invalid("reset")
		}

		c.state.Reset()
		c.chart.Clear()
		c.logLines = nil
		c.logSeq++
		c.pub.Publish(ResetMessage{Type: "reset", Seq: c.logSeq})
		c.setPhase(Connected)
		c.logger.Info("dashboard has been reset")
		return nil
	})
}

// TagEvent marks label at the latest reading. A blank label, or a call
// outside a stream, records nothing and is not an error.
func (c *Controller) TagEvent(ctx context.Context, label string) (reading.Reading, bool, error) {
	var (
		out      reading.Reading
		recorded bool
	)
	err := c.do(ctx, func() error {
		r, m, ok := c.state.TagEvent(label, c.now())
		if !ok {
			return nil
		}
		c.chart.AddMarker(m)
		c.metrics.Events.Inc()
		c.appendLog(r.LogLine(c.layout))
		out, recorded = r, true
		return nil
	})
	return out, recorded, err
}

// Export renders the session log as CSV and returns it with its file name.
func (c *Controller) Export(ctx context.Context, sessionName string) (string, []byte, error) {
	var buf bytes.Buffer
	err := c.do(ctx, func() error {
		if !c.saveEnabled {
			return c.invalid("save")
		}
		return export.NewCSVWriter(&buf, c.layout).Write(c.state.Readings())
	})
	if err != nil {
		return "", nil, err
	}
	return export.FileName(sessionName), buf.Bytes(), nil
}

type Snapshot struct {
	State StateMessage
	Log   []string
	// LogSeq is the sequence number of the last log line or reset in Log.
	LogSeq uint64
}

func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := c.do(ctx, func() error {
		s.State = c.stateMessage()
		s.Log = append([]string(nil), c.logLines...)
		s.LogSeq = c.logSeq
		return nil
	})
	return s, err
}

func (c *Controller) Readings(ctx context.Context) ([]reading.Reading, error) {
	var rs []reading.Reading
	err := c.do(ctx, func() error {
		rs = c.state.Readings()
		return nil
	})
	return rs, err
}

func (c *Controller) Markers(ctx context.Context) ([]reading.EventMarker, error) {
	var ms []reading.EventMarker
	err := c.do(ctx, func() error {
		ms = c.state.Markers()
		return nil
	})
	return ms, err
}

func (c *Controller) Close() error {
	return c.transport.Close()
}

func (c *Controller) drainInbox() {
	for _, n := range c.inbox.drain() {
		c.handle(n)
	}
}

func (c *Controller) handle(n notification) {
	switch {
	case c.phase == Streaming:
	case c.busy == opStart:
		// subscribed, waiting for the start to be applied
		c.held = append(c.held, n)
		return
	default:
		c.logger.Debug("notification outside a stream dropped", "payload", string(n.raw))
		return
	}

	c.metrics.Notifications.Inc()
	p, err := reading.Parse(n.raw)
	if err != nil {
		c.metrics.Malformed.Inc()
		c.logger.Debug("dropping notification", "payload", string(n.raw), "err", err)
		return
	}

	start, _ := c.state.StartTime()
	r := c.state.RecordReading(p.Pressure, reading.Elapsed(start, n.at), n.at)
	c.metrics.Readings.Inc()
	c.chart.AppendPoint(r.ElapsedSeconds, r.Pressure)
	c.appendLog(r.LogLine(c.layout))
}

func (c *Controller) idle() error {
	if c.busy != opNone {
		return ErrBusy
	}
	return nil
}

func (c *Controller) acquire(o op) {
	c.busy = o
	c.publishState()
}

func (c *Controller) release() {
	c.busy = opNone
}

func (c *Controller) invalid(action string) error {
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidTransition, action, c.phase)
}

func (c *Controller) subscriptionFailed(action string, err error) error {
	if !errors.Is(err, transport.ErrSubscription) {
		err = fmt.Errorf("%w: %v", transport.ErrSubscription, err)
	}
	c.metrics.LinkErrors.WithLabelValues(action).Inc()
	c.logger.Error(action+" error", "err", err)
	c.publishState()
	return err
}

func (c *Controller) setPhase(p Phase) {
	c.phase = p
	c.metrics.Phase.Set(float64(p))
	c.publishState()
}

func (c *Controller) appendLog(line string) {
	c.logLines = append(c.logLines, line)
	c.logSeq++
	c.pub.Publish(LogMessage{Type: "log", Seq: c.logSeq, Line: line})
}

func (c *Controller) publishState() {
	c.pub.Publish(c.stateMessage())
}

func (c *Controller) stateMessage() StateMessage {
	m := StateMessage{
		Type:     "state",
		Phase:    c.phase,
		Buttons:  buttonsFor(c.phase, c.saveEnabled),
		Readings: c.state.Len(),
		Busy:     c.busy != opNone,
	}
	if elapsed, pressure, ok := c.state.Latest(); ok {
		m.LatestElapsed = &elapsed
		m.LatestPressure = &pressure
	}
	if m.Busy {
		m.Buttons = Buttons{Save: m.Buttons.Save}
	}
	return m
}
