// Command bmp390 prints pressure payloads from a locally attached BMP390, in
// the same "<elapsed>,<psi>" form the dashboard receives from the sensor.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jes/pressuredash/internal/logging"
	"github.com/jes/pressuredash/internal/reading"
	"github.com/jes/pressuredash/internal/transport"
)

func main() {
	var cfg transport.BMP390Config
	var addr uint
	flag.StringVar(&cfg.Bus, "bus", "", "I2C bus name, empty for the first one")
	flag.UintVar(&addr, "addr", 0x76, "I2C address")
	flag.DurationVar(&cfg.Interval, "interval", 2*time.Second, "poll interval")
	flag.Parse()
	cfg.Address = uint16(addr)

	logCfg, err := logging.FromEnv()
	if err != nil {
		log.Fatal(err)
	}
	logger, closer, err := logging.New(logCfg, os.Stderr)
	if err != nil {
		log.Fatal(err)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := probe(ctx, transport.NewBMP390(cfg, logger)); err != nil {
		logger.Error("bmp390 probe failed", "err", err)
	}
}

func probe(ctx context.Context, bmp *transport.BMP390) error {
	if err := bmp.Connect(ctx); err != nil {
		return err
	}
	defer bmp.Close()

	err := bmp.StartStreaming(func(raw []byte) {
		p, err := reading.Parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "unexpected payload %q: %v\n", raw, err)
			return
		}
		fmt.Printf("%s\t%.4f psi\n", raw, p.Pressure)
	})
	if err != nil {
		return err
	}

	<-ctx.Done()
	return bmp.StopStreaming()
}
