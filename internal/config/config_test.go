package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jes/pressuredash/internal/reading"
	"github.com/jes/pressuredash/internal/transport"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir(), nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, transport.KindBLE, cfg.Transport.Kind)
	assert.Equal(t, transport.DefaultServiceUUID, cfg.Transport.BLE.ServiceUUID)
	assert.Equal(t, transport.DefaultCharacteristicUUID, cfg.Transport.BLE.CharacteristicUUID)
	assert.Zero(t, cfg.Transport.BLE.ConnectTimeout)
	assert.Equal(t, 115200, cfg.Transport.Serial.BaudRate)
	assert.Equal(t, uint16(0x76), cfg.Transport.BMP390.Address)
	assert.Equal(t, 50*time.Millisecond, cfg.Chart.FrameInterval)
	assert.Equal(t, reading.DefaultTimestampLayout, cfg.Export.TimestampLayout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 10, cfg.Log.MaxSizeMB)
}

func TestFileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  addr: ":9000"
transport:
  kind: serial
  serial:
    port: /dev/ttyUSB0
    baud_rate: 9600
  ble:
    connect_timeout: 30s
chart:
  frame_interval: 100ms
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	t.Setenv("PRESSUREDASH_TRANSPORT_SERIAL_BAUD_RATE", "57600")
	t.Setenv("PRESSUREDASH_LOG_FORMAT", "json")

	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags.String("addr", ":8080", "")
	flags.String("transport", "", "")
	require.NoError(t, flags.Parse([]string{"--addr", ":7000"}))

	cfg, err := Load(dir, flags)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.Addr, "flag wins")
	assert.Equal(t, transport.KindSerial, cfg.Transport.Kind, "unset flag does not override the file")
	assert.Equal(t, "/dev/ttyUSB0", cfg.Transport.Serial.Port)
	assert.Equal(t, 57600, cfg.Transport.Serial.BaudRate, "env wins over file")
	assert.Equal(t, 30*time.Second, cfg.Transport.BLE.ConnectTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Chart.FrameInterval)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestBadFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server: [unclosed"), 0o600))

	_, err := Load(dir, nil)
	assert.ErrorContains(t, err, "reading config file")
}
