package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

const (
	DefaultServiceUUID        = "19b10000-e8f2-537e-4f6c-d104768a1214"
	DefaultCharacteristicUUID = "19b10001-e8f2-537e-4f6c-d104768a1214"
)

type BLEConfig struct {
	ServiceUUID        string `mapstructure:"service_uuid"`
	CharacteristicUUID string `mapstructure:"characteristic_uuid"`
	// DeviceName and Address narrow the scan to one peripheral. Without them
	// the first peripheral advertising ServiceUUID is used.
	DeviceName     string        `mapstructure:"device_name"`
	Address        string        `mapstructure:"address"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// BLE talks to the sensor's notifying GATT characteristic.
type BLE struct {
	adapter     *bluetooth.Adapter
	serviceUUID bluetooth.UUID
	charUUID    bluetooth.UUID
	deviceName  string
	address     string
	timeout     time.Duration
	logger      *slog.Logger

	mu         sync.Mutex
	enabled    bool
	device     bluetooth.Device
	char       bluetooth.DeviceCharacteristic
	connected  bool
	subscribed bool
}

func NewBLE(cfg BLEConfig, logger *slog.Logger) (*BLE, error) {
	if cfg.ServiceUUID == "" {
		cfg.ServiceUUID = DefaultServiceUUID
	}
	if cfg.CharacteristicUUID == "" {
		cfg.CharacteristicUUID = DefaultCharacteristicUUID
	}

	service, err := bluetooth.ParseUUID(cfg.ServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid service uuid %q: %w", cfg.ServiceUUID, err)
	}
	char, err := bluetooth.ParseUUID(cfg.CharacteristicUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic uuid %q: %w", cfg.CharacteristicUUID, err)
	}

	return &BLE{
		adapter:     bluetooth.DefaultAdapter,
		serviceUUID: service,
		charUUID:    char,
		deviceName:  cfg.DeviceName,
		address:     cfg.Address,
		timeout:     cfg.ConnectTimeout,
		logger:      logger,
	}, nil
}

func (b *BLE) Connect(ctx context.Context) error {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	b.mu.Lock()
	if b.connected {
		b.mu.Unlock()
		return nil
	}
	if !b.enabled {
		if err := b.adapter.Enable(); err != nil {
			b.mu.Unlock()
			return linkError("enable adapter: %v", err)
		}
		b.enabled = true
	}
	b.mu.Unlock()

	// b.mu is not held while scanning, the scan may run until ctx is done
	addr, err := b.scan(ctx)
	if err != nil {
		return linkError("scan: %v", err)
	}
	b.logger.Info("found device", "address", addr.String())

	device, err := b.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return linkError("connect %s: %v", addr.String(), err)
	}

	char, err := b.discover(device)
	if err != nil {
		device.Disconnect()
		return linkError("%v", err)
	}

	b.mu.Lock()
	b.device = device
	b.char = char
	b.connected = true
	b.mu.Unlock()
	b.logger.Info("connected to device GATT server", "address", addr.String())
	return nil
}

func (b *BLE) scan(ctx context.Context) (bluetooth.Address, error) {
	found := make(chan bluetooth.Address, 1)
	scanErr := make(chan error, 1)

	go func() {
		scanErr <- b.adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !b.matches(result) {
				return
			}
			select {
			case found <- result.Address:
			default:
			}
			a.StopScan()
		})
	}()

	select {
	case <-ctx.Done():
		b.adapter.StopScan()
		<-scanErr
		return bluetooth.Address{}, ctx.Err()
	case err := <-scanErr:
		if err != nil {
			return bluetooth.Address{}, err
		}
	}

	select {
	case addr := <-found:
		return addr, nil
	default:
		return bluetooth.Address{}, errors.New("scan stopped before a device was found")
	}
}

func (b *BLE) matches(result bluetooth.ScanResult) bool {
	switch {
	case b.address != "":
		return strings.EqualFold(result.Address.String(), b.address)
	case b.deviceName != "":
		return result.LocalName() == b.deviceName
	default:
		return result.HasServiceUUID(b.serviceUUID)
	}
}

func (b *BLE) discover(device bluetooth.Device) (bluetooth.DeviceCharacteristic, error) {
	services, err := device.DiscoverServices([]bluetooth.UUID{b.serviceUUID})
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("discover services: %v", err)
	}
	if len(services) == 0 {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("service %s not found", b.serviceUUID.String())
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{b.charUUID})
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("discover characteristics: %v", err)
	}
	if len(chars) == 0 {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("characteristic %s not found", b.charUUID.String())
	}
	return chars[0], nil
}

func (b *BLE) StartStreaming(onMessage MessageFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return subscriptionError("not connected")
	}
	if b.subscribed {
		return nil
	}

	err := b.char.EnableNotifications(func(buf []byte) {
		// the stack reuses buf between notifications
		onMessage(append([]byte(nil), buf...))
	})
	if err != nil {
		return subscriptionError("enable notifications: %v", err)
	}
	b.subscribed = true
	return nil
}

func (b *BLE) StopStreaming() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.subscribed {
		return nil
	}
	if err := b.char.EnableNotifications(nil); err != nil {
		return subscriptionError("disable notifications: %v", err)
	}
	b.subscribed = false
	return nil
}

func (b *BLE) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return nil
	}
	b.connected = false
	b.subscribed = false
	return b.device.Disconnect()
}
