// Package transport wraps the link to the pressure sensor: connect, subscribe
// to notifications, unsubscribe. Every implementation delivers the sensor's
// text payloads ("<elapsed>,<pressure>") in arrival order.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var (
	ErrLinkUnavailable = errors.New("link unavailable")
	ErrSubscription    = errors.New("subscription error")
)

// MessageFunc receives one raw notification payload. The slice is owned by
// the callee.
type MessageFunc func(raw []byte)

type Transport interface {
	// Connect attaches to the device. It blocks until the device is found or
	// ctx is done.
	Connect(ctx context.Context) error
	// StartStreaming subscribes to notifications and calls onMessage for each.
	StartStreaming(onMessage MessageFunc) error
	// StopStreaming unsubscribes. It is a no-op when not subscribed.
	StopStreaming() error
	Close() error
}

const (
	KindBLE    = "ble"
	KindSerial = "serial"
	KindBMP390 = "bmp390"
	KindSim    = "sim"
)

type Config struct {
	Kind   string       `mapstructure:"kind"`
	BLE    BLEConfig    `mapstructure:"ble"`
	Serial SerialConfig `mapstructure:"serial"`
	BMP390 BMP390Config `mapstructure:"bmp390"`
	Sim    SimConfig    `mapstructure:"sim"`
}

func New(cfg Config, logger *slog.Logger) (Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("transport", cfg.Kind)

	switch strings.ToLower(cfg.Kind) {
	case KindBLE, "":
		return NewBLE(cfg.BLE, logger)
	case KindSerial:
		return NewSerial(cfg.Serial, logger), nil
	case KindBMP390:
		return NewBMP390(cfg.BMP390, logger), nil
	case KindSim:
		return NewSim(cfg.Sim), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Kind)
	}
}

func linkError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrLinkUnavailable, fmt.Sprintf(format, args...))
}

func subscriptionError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSubscription, fmt.Sprintf(format, args...))
}
