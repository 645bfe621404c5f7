package pathing

import (
	"os"
	"path/filepath"
)

const (
	EnvDataDir   = "SML_DATA_DIR"
	EnvConfigDir = "SML_CONFIG_DIR"
)

// EnsureDirs creates the data and config directories if they do not exist.
func EnsureDirs() error {
	for _, dir := range []string{GetDataDir(), GetConfigDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

func GetMeterDbPath() string {
	return filepath.Join(GetDataDir(), "sml-meter.db")
}

func GetDataDir() string {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		return dir
	}
	return "/var/lib/sml_power_meter"
}

func GetConfigDir() string {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir
	}
	return "/etc/sml_power_meter"
}
