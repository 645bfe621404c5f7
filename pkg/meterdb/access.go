package meterdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/NotCoffee418/sml_power_meter/pkg/types"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// InsertReading stores r. A reading whose capture second is already stored
// is skipped with a warning and reports inserted == false.
func (m *MeterDB) InsertReading(ctx context.Context, r types.MeterReading) (inserted bool, err error) {
	var meterSeconds sql.NullInt64
	if r.MeterSeconds != nil {
		meterSeconds = sql.NullInt64{Int64: int64(*r.MeterSeconds), Valid: true}
	}

	_, err = m.db.ExecContext(ctx,
		"INSERT INTO readings "+
			"(captured_at, meter_seconds, time_source, server_id, total_energy_wh, line_one_w, line_two_w, line_three_w) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		r.CapturedAt.Unix(),
		meterSeconds,
		string(r.TimeSource),
		r.ServerID,
		r.TotalEnergy.Value,
		r.Lines[0].Value,
		r.Lines[1].Value,
		r.Lines[2].Value,
	)
	if err != nil {
		if isUniqueViolation(err) {
			m.log.WithField("captured_at", r.CapturedAt.Unix()).Warn("duplicate timestamp, reading not stored")
			return false, nil
		}
		return false, fmt.Errorf("failed to insert reading: %w", err)
	}
	return true, nil
}

// Store implements ingest.Sink.
func (m *MeterDB) Store(ctx context.Context, r types.MeterReading) error {
	_, err := m.InsertReading(ctx, r)
	return err
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT:
		return true
	}
	return false
}

// ListReadings returns stored readings with from <= captured_at < to, oldest first.
func (m *MeterDB) ListReadings(ctx context.Context, from, to time.Time) ([]ReadingRow, error) {
	rows, err := m.db.QueryContext(ctx,
		"SELECT captured_at, meter_seconds, time_source, server_id, total_energy_wh, line_one_w, line_two_w, line_three_w "+
			"FROM readings WHERE captured_at >= ? AND captured_at < ? ORDER BY captured_at",
		from.Unix(), to.Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReadingRow
	for rows.Next() {
		var r ReadingRow
		var meterSeconds sql.NullInt64
		if err := rows.Scan(&r.CapturedAt, &meterSeconds, &r.TimeSource, &r.ServerID,
			&r.TotalEnergyWh, &r.LineOneW, &r.LineTwoW, &r.LineThreeW); err != nil {
			return nil, err
		}
		if meterSeconds.Valid {
			v := meterSeconds.Int64
			r.MeterSeconds = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteReadingsBefore removes raw readings captured before cutoff.
func (m *MeterDB) DeleteReadingsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := m.db.ExecContext(ctx, "DELETE FROM readings WHERE captured_at < ?", cutoff.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (m *MeterDB) Metrics(ctx context.Context) (DatabaseMetrics, error) {
	metrics := DatabaseMetrics{Location: m.path}

	var first, last sql.NullInt64
	err := m.db.QueryRowContext(ctx, "SELECT COUNT(*), MIN(captured_at), MAX(captured_at) FROM readings").
		Scan(&metrics.CountReadings, &first, &last)
	if err != nil {
		return DatabaseMetrics{}, fmt.Errorf("failed to count readings: %w", err)
	}
	if first.Valid && last.Valid {
		f, l := time.Unix(first.Int64, 0).UTC(), time.Unix(last.Int64, 0).UTC()
		metrics.FirstReading, metrics.LastReading = &f, &l
	}

	info, err := os.Stat(m.path)
	if err != nil {
		return DatabaseMetrics{}, err
	}
	metrics.FileSize = info.Size()
	return metrics, nil
}

// UpsertAggregate writes one rollup row into aggregate_hourly or aggregate_daily.
func (m *MeterDB) UpsertAggregate(ctx context.Context, tf Timeframe, a Aggregate) error {
	query := fmt.Sprintf(`
		INSERT OR REPLACE INTO %s
		(%s, energy_wh, avg_line_one_w, avg_line_two_w, avg_line_three_w, sample_count)
		VALUES (?, ?, ?, ?, ?, ?)
	`, tf.table(), tf.keyColumn())

	_, err := m.db.ExecContext(ctx, query, a.StartTime, a.EnergyWh, a.AvgLineOneW, a.AvgLineTwoW, a.AvgLineThreeW, a.SampleCount)
	return err
}

// ListAggregates returns rollups with from <= start < to, oldest first.
func (m *MeterDB) ListAggregates(ctx context.Context, tf Timeframe, from, to time.Time) ([]Aggregate, error) {
	query := fmt.Sprintf(`
		SELECT %[2]s, energy_wh, avg_line_one_w, avg_line_two_w, avg_line_three_w, sample_count
		FROM %[1]s
		WHERE %[2]s >= ? AND %[2]s < ?
		ORDER BY %[2]s
	`, tf.table(), tf.keyColumn())

	rows, err := m.db.QueryContext(ctx, query, from.Unix(), to.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Aggregate
	for rows.Next() {
		var a Aggregate
		if err := rows.Scan(&a.StartTime, &a.EnergyWh, &a.AvgLineOneW, &a.AvgLineTwoW, &a.AvgLineThreeW, &a.SampleCount); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LastAggregateStart returns the newest rollup start, or ok == false when
// none exist yet.
func (m *MeterDB) LastAggregateStart(ctx context.Context, tf Timeframe) (start int64, ok bool, err error) {
	var last sql.NullInt64
	query := fmt.Sprintf("SELECT MAX(%s) FROM %s", tf.keyColumn(), tf.table())
	if err := m.db.QueryRowContext(ctx, query).Scan(&last); err != nil {
		return 0, false, err
	}
	return last.Int64, last.Valid, nil
}

// FirstReadingAt returns the oldest stored capture time.
func (m *MeterDB) FirstReadingAt(ctx context.Context) (time.Time, bool, error) {
	var first sql.NullInt64
	if err := m.db.QueryRowContext(ctx, "SELECT MIN(captured_at) FROM readings").Scan(&first); err != nil {
		return time.Time{}, false, err
	}
	if !first.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(first.Int64, 0).UTC(), true, nil
}

// Summarize computes the rollup of the readings in [start, end]. ok is false
// when there are none.
func (m *MeterDB) Summarize(ctx context.Context, start, end int64) (sum Summary, ok bool, err error) {
	var (
		count                  int64
		avgOne, avgTwo, avgThr sql.NullFloat64
		first, last            sql.NullFloat64
	)
	err = m.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			AVG(line_one_w),
			AVG(line_two_w),
			AVG(line_three_w),
			(SELECT total_energy_wh FROM readings WHERE captured_at >= ?1 AND captured_at <= ?2 ORDER BY captured_at ASC LIMIT 1),
			(SELECT total_energy_wh FROM readings WHERE captured_at >= ?1 AND captured_at <= ?2 ORDER BY captured_at DESC LIMIT 1)
		FROM readings
		WHERE captured_at >= ?1 AND captured_at <= ?2
	`, start, end).Scan(&count, &avgOne, &avgTwo, &avgThr, &first, &last)
	if err != nil {
		return Summary{}, false, err
	}
	if count == 0 {
		return Summary{}, false, nil
	}
	return Summary{
		Count:         count,
		AvgLineOneW:   avgOne.Float64,
		AvgLineTwoW:   avgTwo.Float64,
		AvgLineThreeW: avgThr.Float64,
		FirstEnergyWh: first.Float64,
		LastEnergyWh:  last.Float64,
	}, true, nil
}
