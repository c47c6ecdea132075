// BMP390 compensation follows https://github.com/adafruit/Adafruit_CircuitPython_BMP3XX

package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	bmp390DefaultAddr     = 0x76
	bmp390DefaultInterval = 200 * time.Millisecond
	bmp390ReadyTimeout    = 100 * time.Millisecond

	regChipID       = 0x00
	regStatus       = 0x03
	regPressureData = 0x04
	regControl      = 0x1B
	regCalData      = 0x31
	regCmd          = 0x7E

	chipIDBMP388 = 0x50
	chipIDBMP390 = 0x60

	statusDataReady = 0x60
	forcedMode      = 0x13
	softReset       = 0xB6

	psiPerHPa = 0.0145037738
)

type BMP390Config struct {
	// Bus is the periph I2C bus name, "" for the first available bus.
	Bus      string        `mapstructure:"bus"`
	Address  uint16        `mapstructure:"address"`
	Interval time.Duration `mapstructure:"interval"`
}

var errNotReady = errors.New("bmp390: measurement not ready")

// bmp390 is a minimal driver: forced-mode single measurements, no FIFO.
type bmp390 struct {
	dev          i2c.Dev
	readyTimeout time.Duration
	temp         [3]float64
	pres         [11]float64
}

func newBMP390Device(bus i2c.Bus, addr uint16) (*bmp390, error) {
	b := &bmp390{dev: i2c.Dev{Bus: bus, Addr: addr}, readyTimeout: bmp390ReadyTimeout}

	id, err := b.readByte(regChipID)
	if err != nil {
		return nil, fmt.Errorf("read chip id: %w", err)
	}
	if id != chipIDBMP388 && id != chipIDBMP390 {
		return nil, fmt.Errorf("unexpected chip ID: %#x", id)
	}
	if err := b.loadCalibration(); err != nil {
		return nil, fmt.Errorf("read calibration: %w", err)
	}
	if err := b.dev.Tx([]byte{regCmd, softReset}, nil); err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}
	return b, nil
}

// loadCalibration unpacks the 21 byte NVM block (little endian
// H H b h h b b H H b b h b b) into floating point coefficients.
func (b *bmp390) loadCalibration() error {
	buf := make([]byte, 21)
	if err := b.dev.Tx([]byte{regCalData}, buf); err != nil {
		return err
	}
	u16 := func(i int) float64 { return float64(binary.LittleEndian.Uint16(buf[i:])) }
	s16 := func(i int) float64 { return float64(int16(binary.LittleEndian.Uint16(buf[i:]))) }
	s8 := func(i int) float64 { return float64(int8(buf[i])) }
	pow2 := func(n int) float64 { return float64(uint64(1) << n) }

	b.temp[0] = u16(0) * 256
	b.temp[1] = u16(2) / pow2(30)
	b.temp[2] = s8(4) / pow2(48)

	b.pres[0] = (s16(5) - pow2(14)) / pow2(20)
	b.pres[1] = (s16(7) - pow2(14)) / pow2(29)
	b.pres[2] = s8(9) / pow2(32)
	b.pres[3] = s8(10) / pow2(37)
	b.pres[4] = u16(11) * 8
	b.pres[5] = u16(13) / pow2(6)
	b.pres[6] = s8(15) / pow2(8)
	b.pres[7] = s8(16) / pow2(15)
	b.pres[8] = s16(17) / pow2(48)
	b.pres[9] = s8(19) / pow2(48)
	b.pres[10] = s8(20) / (pow2(60) * 32)
	return nil
}

// read triggers one forced measurement and returns pressure in hPa.
func (b *bmp390) read() (float64, error) {
	if err := b.dev.Tx([]byte{regControl, forcedMode}, nil); err != nil {
		return 0, err
	}

	deadline := time.Now().Add(b.readyTimeout)
	for {
		status, err := b.readByte(regStatus)
		if err != nil {
			return 0, err
		}
		if status&statusDataReady == statusDataReady {
			break
		}
		if time.Now().After(deadline) {
			return 0, errNotReady
		}
		time.Sleep(2 * time.Millisecond)
	}

	buf := make([]byte, 6)
	if err := b.dev.Tx([]byte{regPressureData}, buf); err != nil {
		return 0, err
	}
	rawPress := float64(uint32(buf[2])<<16 | uint32(buf[1])<<8 | uint32(buf[0]))
	rawTemp := float64(uint32(buf[5])<<16 | uint32(buf[4])<<8 | uint32(buf[3]))

	return b.compensate(rawTemp, rawPress) / 100, nil
}

// compensate returns pressure in Pa.
func (b *bmp390) compensate(rawTemp, rawPress float64) float64 {
	d := rawTemp - b.temp[0]
	t := d*b.temp[1] + d*d*b.temp[2]

	offset := b.pres[4] + b.pres[5]*t + b.pres[6]*t*t + b.pres[7]*t*t*t
	sensitivity := rawPress * (b.pres[0] + b.pres[1]*t + b.pres[2]*t*t + b.pres[3]*t*t*t)
	square := rawPress * rawPress * (b.pres[8] + b.pres[9]*t)
	cube := b.pres[10] * rawPress * rawPress * rawPress

	return offset + sensitivity + square + cube
}

func (b *bmp390) readByte(reg byte) (byte, error) {
	buf := make([]byte, 1)
	if err := b.dev.Tx([]byte{reg}, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// BMP390 turns a locally attached barometer into a sensor link: each poll is
// delivered as an "<elapsed>,<psi>" payload.
type BMP390 struct {
	cfg    BMP390Config
	logger *slog.Logger
	open   func(name string) (i2c.BusCloser, error)

	mu     sync.Mutex
	bus    i2c.BusCloser
	sensor *bmp390
	epoch  time.Time
	stop   chan struct{}
	done   chan struct{}
}

func NewBMP390(cfg BMP390Config, logger *slog.Logger) *BMP390 {
	if cfg.Address == 0 {
		cfg.Address = bmp390DefaultAddr
	}
	if cfg.Interval <= 0 {
		cfg.Interval = bmp390DefaultInterval
	}
	return &BMP390{
		cfg:    cfg,
		logger: logger,
		open: func(name string) (i2c.BusCloser, error) {
			if _, err := host.Init(); err != nil {
				return nil, err
			}
			return i2creg.Open(name)
		},
	}
}

func (s *BMP390) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return linkError("%v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sensor != nil {
		return nil
	}

	bus, err := s.open(s.cfg.Bus)
	if err != nil {
		return linkError("open i2c bus %q: %v", s.cfg.Bus, err)
	}
	sensor, err := newBMP390Device(bus, s.cfg.Address)
	if err != nil {
		bus.Close()
		return linkError("bmp390 at %#x: %v", s.cfg.Address, err)
	}

	s.bus = bus
	s.sensor = sensor
	s.epoch = time.Now()
	s.logger.Info("connected to bmp390", "bus", s.cfg.Bus, "address", s.cfg.Address)
	return nil
}

func (s *BMP390) StartStreaming(onMessage MessageFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sensor == nil {
		return subscriptionError("bmp390 not connected")
	}
	if s.stop != nil {
		return nil
	}

	stop, done := make(chan struct{}), make(chan struct{})
	s.stop, s.done = stop, done
	sensor, epoch := s.sensor, s.epoch

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				hpa, err := sensor.read()
				if err != nil {
					s.logger.Warn("error reading bmp390", "err", err)
					continue
				}
				payload := fmt.Sprintf("%.3f,%.4f", now.Sub(epoch).Seconds(), hpa*psiPerHPa)
				onMessage([]byte(payload))
			}
		}
	}()
	return nil
}

func (s *BMP390) StopStreaming() error {
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

func (s *BMP390) Close() error {
	if err := s.StopStreaming(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bus == nil {
		return nil
	}
	err := s.bus.Close()
	s.bus, s.sensor = nil, nil
	return err
}
