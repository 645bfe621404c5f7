package meterdb

import (
	"fmt"
	"time"
)

// ReadingRow is one row of the readings table. Timestamps are unix seconds.
type ReadingRow struct {
	CapturedAt    int64   `db:"captured_at"`
	MeterSeconds  *int64  `db:"meter_seconds"`
	TimeSource    string  `db:"time_source"`
	ServerID      string  `db:"server_id"`
	TotalEnergyWh float64 `db:"total_energy_wh"`
	LineOneW      float64 `db:"line_one_w"`
	LineTwoW      float64 `db:"line_two_w"`
	LineThreeW    float64 `db:"line_three_w"`
}

// Aggregate is a row of aggregate_hourly or aggregate_daily. StartTime is the
// hour_start or day_start column.
type Aggregate struct {
	StartTime     int64   `db:"start_time"`
	EnergyWh      float64 `db:"energy_wh"`
	AvgLineOneW   float64 `db:"avg_line_one_w"`
	AvgLineTwoW   float64 `db:"avg_line_two_w"`
	AvgLineThreeW float64 `db:"avg_line_three_w"`
	SampleCount   uint32  `db:"sample_count"`
}

type AggregateHourly = Aggregate
type AggregateDaily = Aggregate

type Timeframe uint8

const (
	Hourly Timeframe = iota
	Daily
)

func (tf Timeframe) String() string {
	if tf == Daily {
		return "daily"
	}
	return "hourly"
}

func (tf Timeframe) table() string {
	if tf == Daily {
		return "aggregate_daily"
	}
	return "aggregate_hourly"
}

func (tf Timeframe) keyColumn() string {
	if tf == Daily {
		return "day_start"
	}
	return "hour_start"
}

// Summary is the raw material of one rollup, straight from the readings table.
type Summary struct {
	Count         int64
	AvgLineOneW   float64
	AvgLineTwoW   float64
	AvgLineThreeW float64
	// Register values of the first and last reading in the window.
	FirstEnergyWh float64
	LastEnergyWh  float64
}

type DatabaseMetrics struct {
	Location      string
	CountReadings uint64
	FileSize      int64
	FirstReading  *time.Time
	LastReading   *time.Time
}

func (m DatabaseMetrics) String() string {
	s := fmt.Sprintf("Location: %s\nMetrics: %d readings, %d bytes", m.Location, m.CountReadings, m.FileSize)
	if m.FirstReading != nil && m.LastReading != nil {
		s += fmt.Sprintf("\nRange: %s to %s", m.FirstReading.Format(time.RFC3339), m.LastReading.Format(time.RFC3339))
	}
	return s
}

// QueryResult is the answer to a read-only query. Cells are int64, float64,
// string or nil.
type QueryResult struct {
	Columns   []string `json:"columns"`
	TookMs    int64    `json:"took_ms"`
	RowsCount int      `json:"rows_count"`
	Rows      [][]any  `json:"rows"`
}
