// Package config loads the dashboard configuration from config.yaml,
// PRESSUREDASH_* environment variables and command line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jes/pressuredash/internal/chart"
	"github.com/jes/pressuredash/internal/logging"
	"github.com/jes/pressuredash/internal/reading"
	"github.com/jes/pressuredash/internal/transport"
)

const EnvPrefix = "PRESSUREDASH"

type Config struct {
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`
	Transport transport.Config `mapstructure:"transport"`
	Chart     struct {
		FrameInterval time.Duration `mapstructure:"frame_interval"`
	} `mapstructure:"chart"`
	Export struct {
		TimestampLayout string `mapstructure:"timestamp_layout"`
	} `mapstructure:"export"`
	Log logging.Config `mapstructure:"log"`
}

// FlagKeys maps command line flag names to configuration keys.
var FlagKeys = map[string]string{
	"addr":      "server.addr",
	"transport": "transport.kind",
	"port":      "transport.serial.port",
	"log-level": "log.level",
}

// Load reads config.yaml from dir, if present. Flags named in FlagKeys
// override everything when set; flags may be nil.
func Load(dir string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("transport.kind", transport.KindBLE)
	v.SetDefault("transport.ble.service_uuid", transport.DefaultServiceUUID)
	v.SetDefault("transport.ble.characteristic_uuid", transport.DefaultCharacteristicUUID)
	v.SetDefault("transport.ble.device_name", "")
	v.SetDefault("transport.ble.address", "")
	v.SetDefault("transport.ble.connect_timeout", time.Duration(0))
	v.SetDefault("transport.serial.port", "")
	v.SetDefault("transport.serial.baud_rate", 115200)
	v.SetDefault("transport.bmp390.bus", "")
	v.SetDefault("transport.bmp390.address", 0x76)
	v.SetDefault("transport.bmp390.interval", 200*time.Millisecond)
	v.SetDefault("transport.sim.interval", 100*time.Millisecond)
	v.SetDefault("transport.sim.baseline", 14.6959)
	v.SetDefault("transport.sim.amplitude", 0.5)
	v.SetDefault("transport.sim.period", 10*time.Second)

	v.SetDefault("chart.frame_interval", chart.DefaultFrameInterval)
	v.SetDefault("export.timestamp_layout", reading.DefaultTimestampLayout)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.no_color", false)
	v.SetDefault("log.source", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}
