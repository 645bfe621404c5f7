package aggregator

import (
	"time"

	"github.com/NotCoffee418/sml_power_meter/pkg/meterdb"
	"github.com/sirupsen/logrus"
)

// Aggregator rolls raw readings up into hourly and daily aggregates and
// removes raw readings past their retention.
type Aggregator struct {
	db        *meterdb.MeterDB
	retention time.Duration
	now       func() time.Time
	log       *logrus.Entry
}

type Option func(*Aggregator)

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

func WithLogger(log *logrus.Entry) Option {
	return func(a *Aggregator) {
		a.log = log
	}
}

// Result says what one aggregation pass did.
type Result struct {
	Hourly  int
	Daily   int
	Deleted int64
}
