package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/NotCoffee418/sml_power_meter/pkg/extractor"
	"github.com/NotCoffee418/sml_power_meter/pkg/logging"
	"github.com/NotCoffee418/sml_power_meter/pkg/pathing"
)

var (
	ActiveInterpreterAPIConfig *InterpreterAPIConfig
	ActiveMeterCollectorConfig *MeterCollectorConfig
)

func DefaultInterpreterAPIConfig() InterpreterAPIConfig {
	return InterpreterAPIConfig{
		SerialDevice:      "/dev/ttyUSB0",
		Baudrate:          9600,
		ListenAddress:     "0.0.0.0",
		ListenPort:        3000,
		DatabasePath:      pathing.GetMeterDbPath(),
		TimestampSource:   string(extractor.TimestampMeterOrIngestion),
		SinkQueueSize:     16,
		SinkTimeout:       Duration{5 * time.Second},
		AggregateInterval: Duration{15 * time.Minute},
		RetentionDays:     0,
		LogLevel:          "info",
	}
}

func DefaultMeterCollectorConfig() MeterCollectorConfig {
	return MeterCollectorConfig{
		InterpreterAPIHost: "localhost:3000",
		TLSEnabled:         false,
		DatabasePath:       pathing.GetMeterDbPath(),
		LogLevel:           "info",
	}
}

func LoadInterpreterAPIConfig() error {
	cfg, err := LoadInterpreterAPIConfigFrom(filepath.Join(pathing.GetConfigDir(), "interpreter_api.toml"))
	if err != nil {
		return err
	}
	ActiveInterpreterAPIConfig = cfg
	return nil
}

// LoadInterpreterAPIConfigFrom reads configPath, writing the defaults there
// first if the file does not exist. Keys missing from the file keep their
// default value.
func LoadInterpreterAPIConfigFrom(configPath string) (*InterpreterAPIConfig, error) {
	cfg := DefaultInterpreterAPIConfig()
	if err := loadOrCreate(configPath, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	return &cfg, nil
}

func LoadMeterCollectorConfig() error {
	cfg, err := LoadMeterCollectorConfigFrom(filepath.Join(pathing.GetConfigDir(), "meter_collector.toml"))
	if err != nil {
		return err
	}
	ActiveMeterCollectorConfig = cfg
	return nil
}

func LoadMeterCollectorConfigFrom(configPath string) (*MeterCollectorConfig, error) {
	cfg := DefaultMeterCollectorConfig()
	if err := loadOrCreate(configPath, &cfg); err != nil {
		return nil, err
	}
	if cfg.InterpreterAPIHost == "" {
		return nil, fmt.Errorf("invalid config %s: interpreter_api_host is empty", configPath)
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("invalid config %s: log_level: %w", configPath, err)
	}
	return &cfg, nil
}

func (c *InterpreterAPIConfig) Validate() error {
	var errs []error
	if _, err := extractor.ParseTimestampPolicy(c.TimestampSource); err != nil {
		errs = append(errs, err)
	}
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		errs = append(errs, fmt.Errorf("listen_port %d out of range", c.ListenPort))
	}
	if c.Baudrate == 0 {
		errs = append(errs, errors.New("baudrate must be set"))
	}
	if c.SinkQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("sink_queue_size must be positive, got %d", c.SinkQueueSize))
	}
	if c.SinkTimeout.Duration <= 0 {
		errs = append(errs, fmt.Errorf("sink_timeout must be positive, got %s", c.SinkTimeout))
	}
	if c.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("retention_days must not be negative, got %d", c.RetentionDays))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	return errors.Join(errs...)
}

func (c *InterpreterAPIConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ListenAddress, c.ListenPort)
}

func loadOrCreate(configPath string, cfg any) error {
	// Create default if not exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return err
		}
		cfgFile, err := os.Create(configPath)
		if err != nil {
			return err
		}
		defer cfgFile.Close()
		if err := toml.NewEncoder(cfgFile).Encode(cfg); err != nil {
			return fmt.Errorf("failed to write default config: %w", err)
		}
		return nil
	}

	// Load existing config
	if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return fmt.Errorf("failed to read %s: %w", configPath, err)
	}
	return nil
}
