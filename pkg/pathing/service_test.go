package pathing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDirsFollowEnvironment(t *testing.T) {
	root := t.TempDir()
	t.Setenv(EnvDataDir, filepath.Join(root, "data"))
	t.Setenv(EnvConfigDir, filepath.Join(root, "etc"))

	require.NoError(t, EnsureDirs())
	require.DirExists(t, filepath.Join(root, "data"))
	require.DirExists(t, filepath.Join(root, "etc"))
	require.Equal(t, filepath.Join(root, "data", "sml-meter.db"), GetMeterDbPath())
}

func TestDefaultDirs(t *testing.T) {
	t.Setenv(EnvDataDir, "")
	t.Setenv(EnvConfigDir, "")
	os.Unsetenv(EnvDataDir)
	os.Unsetenv(EnvConfigDir)

	require.Equal(t, "/var/lib/sml_power_meter", GetDataDir())
	require.Equal(t, "/etc/sml_power_meter", GetConfigDir())
}
