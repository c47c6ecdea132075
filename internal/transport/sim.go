package transport

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

type SimConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	Baseline  float64       `mapstructure:"baseline"`
	Amplitude float64       `mapstructure:"amplitude"`
	Period    time.Duration `mapstructure:"period"`
}

// Sim is a stand-in device producing a slow sine around Baseline psi.
type Sim struct {
	cfg SimConfig

	mu        sync.Mutex
	connected bool
	epoch     time.Time
	stop      chan struct{}
	done      chan struct{}
}

func NewSim(cfg SimConfig) *Sim {
	if cfg.Interval <= 0 {
		cfg.Interval = 200 * time.Millisecond
	}
	if cfg.Baseline == 0 {
		cfg.Baseline = 14.6959
	}
	if cfg.Period <= 0 {
		cfg.Period = 10 * time.Second
	}
	return &Sim{cfg: cfg}
}

func (s *Sim) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return linkError("%v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		s.connected = true
		s.epoch = time.Now()
	}
	return nil
}

func (s *Sim) StartStreaming(onMessage MessageFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return subscriptionError("simulator not connected")
	}
	if s.stop != nil {
		return nil
	}

	stop, done := make(chan struct{}), make(chan struct{})
	s.stop, s.done = stop, done
	epoch := s.epoch

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				onMessage([]byte(s.payload(now.Sub(epoch))))
			}
		}
	}()
	return nil
}

func (s *Sim) payload(elapsed time.Duration) string {
	phase := 2 * math.Pi * elapsed.Seconds() / s.cfg.Period.Seconds()
	pressure := s.cfg.Baseline + s.cfg.Amplitude*math.Sin(phase)
	return fmt.Sprintf("%.3f,%.4f", elapsed.Seconds(), pressure)
}

func (s *Sim) StopStreaming() error {
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

func (s *Sim) Close() error {
	if err := s.StopStreaming(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}
