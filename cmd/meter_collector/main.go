// Responsible for storing the data collected from the smart meter
// Depends on the interpreter API being online.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/NotCoffee418/sml_power_meter/pkg/config"
	"github.com/NotCoffee418/sml_power_meter/pkg/livefeed"
	"github.com/NotCoffee418/sml_power_meter/pkg/logging"
	"github.com/NotCoffee418/sml_power_meter/pkg/meterdb"
	"github.com/NotCoffee418/sml_power_meter/pkg/types"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := config.LoadMeterCollectorConfig(); err != nil {
		logrus.Fatalf("Failed to load meter collector config: %v", err)
	}
	cfg := config.ActiveMeterCollectorConfig
	if err := logging.Configure(cfg.LogLevel, false); err != nil {
		logrus.Fatal(err)
	}
	log := logging.For("meter_collector")

	// Initialize database
	db, err := meterdb.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Subscribe to websocket with revive
	err = livefeed.Subscribe(ctx, livefeed.SubscribeOptions{
		Host:       cfg.InterpreterAPIHost,
		TLSEnabled: cfg.TLSEnabled,
	}, func(reading types.MeterReading) {
		if err := db.Store(ctx, reading); err != nil {
			log.WithError(err).Warn("Failed to store reading")
		}
	})
	if err != nil {
		log.Error(err)
		stop()
		db.Close()
		os.Exit(1)
	}
	log.Info("Shut down")
}
