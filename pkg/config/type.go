package config

import "time"

type MeterCollectorConfig struct {
	InterpreterAPIHost string `toml:"interpreter_api_host"`
	TLSEnabled         bool   `toml:"tls_enabled"`
	DatabasePath       string `toml:"database_path"`
	LogLevel           string `toml:"log_level"`
}

type InterpreterAPIConfig struct {
	SerialDevice  string `toml:"serial_device"`
	Baudrate      uint   `toml:"baudrate"`
	ListenAddress string `toml:"listen_address"`
	ListenPort    int    `toml:"listen_port"`
	DatabasePath  string `toml:"database_path"`
	// meter_or_ingestion, ingestion or meter
	TimestampSource string   `toml:"timestamp_source"`
	SinkQueueSize   int      `toml:"sink_queue_size"`
	SinkTimeout     Duration `toml:"sink_timeout"`
	// Zero disables the periodic aggregation pass.
	AggregateInterval Duration `toml:"aggregate_interval"`
	// Raw readings older than this are removed once aggregated. Zero keeps them.
	RetentionDays int    `toml:"retention_days"`
	LogLevel      string `toml:"log_level"`
}

// Duration is written to TOML as a string such as "5s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}
