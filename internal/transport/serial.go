package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	defaultBaudRate      = 115200
	serialReadTimeout    = 100 * time.Millisecond
	maxConsecutiveErrors = 10
	maxLineLength        = 4 << 10
)

type SerialConfig struct {
	Port     string `mapstructure:"port"`
	BaudRate int    `mapstructure:"baud_rate"`
}

// port is the part of serial.Port the reader needs.
type port interface {
	io.ReadCloser
	SetReadTimeout(t time.Duration) error
}

// Serial reads newline-terminated payloads from a USB serial line, the way
// the sensor firmware prints them when no radio is attached.
type Serial struct {
	cfg    SerialConfig
	logger *slog.Logger
	open   func(name string, mode *serial.Mode) (port, error)

	mu   sync.Mutex
	port port
	stop chan struct{}
	done chan struct{}
}

func NewSerial(cfg SerialConfig, logger *slog.Logger) *Serial {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = defaultBaudRate
	}
	return &Serial{
		cfg:    cfg,
		logger: logger,
		open: func(name string, mode *serial.Mode) (port, error) {
			return serial.Open(name, mode)
		},
	}
}

// SerialPorts lists the serial ports present on this machine.
func SerialPorts() ([]string, error) {
	return serial.GetPortsList()
}

func (s *Serial) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return linkError("%v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port != nil {
		return nil
	}
	if s.cfg.Port == "" {
		return linkError("no serial port configured")
	}

	p, err := s.open(s.cfg.Port, &serial.Mode{BaudRate: s.cfg.BaudRate})
	if err != nil {
		return linkError("open %s: %v", s.cfg.Port, err)
	}
	if err := p.SetReadTimeout(serialReadTimeout); err != nil {
		p.Close()
		return linkError("set read timeout on %s: %v", s.cfg.Port, err)
	}

	s.port = p
	s.logger.Info("connected to serial port", "port", s.cfg.Port, "baud_rate", s.cfg.BaudRate)
	return nil
}

func (s *Serial) StartStreaming(onMessage MessageFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return subscriptionError("serial port not open")
	}
	if s.stop != nil {
		return nil
	}

	stop, done := make(chan struct{}), make(chan struct{})
	s.stop, s.done = stop, done

	reader := newLineReader(s.port, s.logger)
	go func() {
		defer close(done)
		reader.run(stop, onMessage)
	}()
	return nil
}

// StopStreaming waits for the reader goroutine, which notices the stop
// request within one read timeout.
func (s *Serial) StopStreaming() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop == nil {
		return nil
	}
	close(s.stop)
	<-s.done
	s.stop, s.done = nil, nil
	return nil
}

func (s *Serial) Close() error {
	if err := s.StopStreaming(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

type lineReader struct {
	r                 io.Reader
	logger            *slog.Logger
	buffer            []byte
	pending           []byte
	discarding        bool
	consecutiveErrors int
}

func newLineReader(r io.Reader, logger *slog.Logger) *lineReader {
	return &lineReader{
		r:      r,
		logger: logger,
		buffer: make([]byte, 256),
	}
}

// run delivers complete lines until stop is closed, the reader is exhausted
// or too many reads fail in a row. A read returning no data is a timeout.
func (lr *lineReader) run(stop <-chan struct{}, onMessage MessageFunc) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		if lr.consecutiveErrors >= maxConsecutiveErrors {
			lr.logger.Error("too many consecutive read errors, stopping reader", "errors", lr.consecutiveErrors)
			return
		}

		n, err := lr.r.Read(lr.buffer)
		if n > 0 {
			lr.pending = append(lr.pending, lr.buffer[:n]...)
			lr.deliverLines(onMessage)
		}
		if errors.Is(err, io.EOF) {
			if line := bytes.TrimSpace(lr.pending); len(line) > 0 && !lr.discarding {
				onMessage(append([]byte(nil), line...))
			}
			lr.pending = nil
			return
		}
		if err != nil {
			lr.logger.Warn("error reading from serial", "err", err)
			lr.consecutiveErrors++
			continue
		}
		lr.consecutiveErrors = 0
	}
}

// deliverLines hands complete lines to onMessage. A line longer than
// maxLineLength is dropped up to and including its newline.
func (lr *lineReader) deliverLines(onMessage MessageFunc) {
	for {
		i := bytes.IndexByte(lr.pending, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSpace(lr.pending[:i])
		if len(line) > 0 && !lr.discarding {
			onMessage(append([]byte(nil), line...))
		}
		lr.discarding = false
		lr.pending = lr.pending[i+1:]
	}

	if len(lr.pending) > maxLineLength {
		if !lr.discarding {
			lr.logger.Warn("discarding overlong serial line", "limit", maxLineLength)
		}
		lr.discarding = true
		lr.pending = lr.pending[:0]
	}
}
