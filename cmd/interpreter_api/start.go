package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/NotCoffee418/sml_power_meter/pkg/aggregator"
	"github.com/NotCoffee418/sml_power_meter/pkg/config"
	"github.com/NotCoffee418/sml_power_meter/pkg/extractor"
	"github.com/NotCoffee418/sml_power_meter/pkg/ingest"
	"github.com/NotCoffee418/sml_power_meter/pkg/livefeed"
	"github.com/NotCoffee418/sml_power_meter/pkg/meterdb"
	"github.com/NotCoffee418/sml_power_meter/pkg/serialport"
	"github.com/NotCoffee418/sml_power_meter/pkg/server"
	"github.com/NotCoffee418/sml_power_meter/pkg/types"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	startCmd = &cobra.Command{
		Use:   "start",
		Short: "Read the meter and serve readings",
		Args:  cobra.NoArgs,
		RunE:  runStart,
	}

	serialDevice string
	listenPort   int
	replayFile   string
)

func init() {
	startCmd.Flags().StringVar(&serialDevice, "port", "", "serial device of the meter (overrides serial_device)")
	startCmd.Flags().IntVar(&listenPort, "listen-port", 0, "HTTP port (overrides listen_port)")
	startCmd.Flags().StringVar(&replayFile, "replay", "", "read SML frames from a file instead of the serial device")
}

func runStart(cmd *cobra.Command, args []string) error {
	loaded, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := *loaded
	if serialDevice != "" {
		cfg.SerialDevice = serialDevice
	}
	if listenPort != 0 {
		cfg.ListenPort = listenPort
	}
	policy, err := extractor.ParseTimestampPolicy(cfg.TimestampSource)
	if err != nil {
		return err
	}
	log := logrus.WithField("component", "start")

	db, err := meterdb.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()
	readonlyDB, err := meterdb.OpenReadonly(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer readonlyDB.Close()

	source, err := openSource(cfg)
	if err != nil {
		return err
	}
	defer source.Close()

	var pipeline *ingest.Pipeline
	hub := livefeed.NewHub(func() (types.MeterReading, bool) {
		return pipeline.Latest().Get()
	})
	defer hub.Close()

	ingestLog := logrus.WithField("component", "ingest")
	pipeline = ingest.NewPipeline(
		source,
		extractor.New(extractor.WithTimestampPolicy(policy), extractor.WithLogger(ingestLog)),
		ingest.MultiSink{db, hub},
		ingest.Config{
			SinkQueueSize: cfg.SinkQueueSize,
			SinkTimeout:   cfg.SinkTimeout.Duration,
			Verbose:       verbose,
		},
		ingestLog,
	)
	srv := server.New(pipeline.Latest(), readonlyDB, hub)
	agg := aggregator.New(db, cfg.RetentionDays)

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		err := pipeline.Run(ctx)
		if errors.Is(err, ingest.ErrTransportClosed) && replayFile != "" {
			log.Info("Replay finished")
			<-ctx.Done()
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return srv.ListenAndServe(ctx, cfg.ListenAddr())
	})
	g.Go(func() error {
		return agg.Run(ctx, cfg.AggregateInterval.Duration)
	})

	log.WithFields(logrus.Fields{
		"device":    cfg.SerialDevice,
		"database":  cfg.DatabasePath,
		"timestamp": policy,
	}).Info("Started")
	return g.Wait()
}

func openSource(cfg config.InterpreterAPIConfig) (io.ReadCloser, error) {
	if replayFile != "" {
		f, err := os.Open(replayFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open replay file: %w", err)
		}
		return f, nil
	}
	return serialport.Open(cfg.SerialDevice, cfg.Baudrate)
}
