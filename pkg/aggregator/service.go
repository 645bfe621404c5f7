package aggregator

import (
	"context"
	"fmt"
	"time"

	"github.com/NotCoffee418/sml_power_meter/pkg/esmutils"
	"github.com/NotCoffee418/sml_power_meter/pkg/meterdb"
	"github.com/sirupsen/logrus"
)

// New returns an aggregator. retentionDays of zero keeps raw readings forever.
func New(db *meterdb.MeterDB, retentionDays int, opts ...Option) *Aggregator {
	a := &Aggregator{
		db:        db,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       time.Now,
		log:       logrus.WithField("component", "aggregator"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// roundToHourStart returns the Unix timestamp of the start of the hour for the given time
func roundToHourStart(t time.Time) int64 {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC).Unix()
}

// roundToDayStart returns the Unix timestamp of the start of the day for the given time
func roundToDayStart(t time.Time) int64 {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Unix()
}

// getHourEnd returns the Unix timestamp of the last second of the hour (next hour start - 1)
func getHourEnd(hourStart int64) int64 {
	return time.Unix(hourStart, 0).Add(time.Hour).Unix() - 1
}

// getDayEnd returns the Unix timestamp of the last second of the day (next day start - 1)
func getDayEnd(dayStart int64) int64 {
	return time.Unix(dayStart, 0).UTC().AddDate(0, 0, 1).Unix() - 1
}

func windowStart(tf meterdb.Timeframe, t time.Time) int64 {
	if tf == meterdb.Daily {
		return roundToDayStart(t)
	}
	return roundToHourStart(t)
}

func windowEnd(tf meterdb.Timeframe, start int64) int64 {
	if tf == meterdb.Daily {
		return getDayEnd(start)
	}
	return getHourEnd(start)
}

// aggregateWindow stores the rollup of one window if it holds any readings.
func (a *Aggregator) aggregateWindow(ctx context.Context, tf meterdb.Timeframe, start int64) (bool, error) {
	sum, ok, err := a.db.Summarize(ctx, start, windowEnd(tf, start))
	if err != nil || !ok {
		return false, err
	}

	err = a.db.UpsertAggregate(ctx, tf, meterdb.Aggregate{
		StartTime:     start,
		EnergyWh:      esmutils.EnergyDelta(sum.FirstEnergyWh, sum.LastEnergyWh),
		AvgLineOneW:   sum.AvgLineOneW,
		AvgLineTwoW:   sum.AvgLineTwoW,
		AvgLineThreeW: sum.AvgLineThreeW,
		SampleCount:   uint32(sum.Count),
	})
	return err == nil, err
}

// aggregateCompleted rolls up every finished window after the newest stored
// aggregate. The window holding now is still ongoing and is left alone.
func (a *Aggregator) aggregateCompleted(ctx context.Context, tf meterdb.Timeframe, now time.Time) (int, error) {
	last, ok, err := a.db.LastAggregateStart(ctx, tf)
	if err != nil {
		return 0, err
	}
	var start int64
	if ok {
		start = windowEnd(tf, last) + 1
	} else {
		first, found, err := a.db.FirstReadingAt(ctx)
		if err != nil || !found {
			return 0, err
		}
		start = windowStart(tf, first)
	}

	current := windowStart(tf, now)
	written := 0
	for ; start < current; start = windowEnd(tf, start) + 1 {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		stored, err := a.aggregateWindow(ctx, tf, start)
		if err != nil {
			return written, fmt.Errorf("failed to aggregate %s window %s: %w",
				tf, time.Unix(start, 0).UTC().Format(time.RFC3339), err)
		}
		if stored {
			written++
		}
	}
	return written, nil
}

// cleanupOldData removes raw readings older than the retention period, but
// only once they have been aggregated.
func (a *Aggregator) cleanupOldData(ctx context.Context, now time.Time) (int64, error) {
	if a.retention <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-a.retention)

	lastAggregateHour, ok, err := a.db.LastAggregateStart(ctx, meterdb.Hourly)
	if err != nil || !ok {
		return 0, err
	}
	// Only clean up if we have aggregated data up to the cutoff point
	if getHourEnd(lastAggregateHour) < cutoff.Unix() {
		return 0, nil
	}

	deleted, err := a.db.DeleteReadingsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		a.log.WithField("cutoff", cutoff.UTC().Format(time.RFC3339)).Infof("Cleaned up %d readings", deleted)
	}
	return deleted, nil
}

// AggregateAndCleanup performs all aggregation and cleanup tasks
func (a *Aggregator) AggregateAndCleanup(ctx context.Context) (Result, error) {
	now := a.now().UTC()
	var res Result
	var err error

	if res.Hourly, err = a.aggregateCompleted(ctx, meterdb.Hourly, now); err != nil {
		return res, err
	}
	if res.Daily, err = a.aggregateCompleted(ctx, meterdb.Daily, now); err != nil {
		return res, err
	}
	if res.Deleted, err = a.cleanupOldData(ctx, now); err != nil {
		return res, fmt.Errorf("failed to clean up old data: %w", err)
	}

	a.log.WithFields(logrus.Fields{
		"hourly":  res.Hourly,
		"daily":   res.Daily,
		"deleted": res.Deleted,
	}).Debug("Aggregation and cleanup completed")
	return res, nil
}

// Run aggregates once immediately and then every interval until ctx ends.
// Failed passes are logged and retried on the next tick.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := a.AggregateAndCleanup(ctx); err != nil && ctx.Err() == nil {
			a.log.WithError(err).Warn("Aggregation failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
