package ingest

import (
	"context"
	"errors"

	"github.com/NotCoffee418/sml_power_meter/pkg/types"
)

// Sink receives every complete reading. Store must honour ctx; the pipeline
// gives up on a call once its timeout expires.
type Sink interface {
	Store(ctx context.Context, reading types.MeterReading) error
}

type SinkFunc func(ctx context.Context, reading types.MeterReading) error

func (f SinkFunc) Store(ctx context.Context, reading types.MeterReading) error {
	return f(ctx, reading)
}

// MultiSink hands each reading to every sink in order. One failing sink does
// not keep the reading from the others.
type MultiSink []Sink

func (m MultiSink) Store(ctx context.Context, reading types.MeterReading) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Store(ctx, reading); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
