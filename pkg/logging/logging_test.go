package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]logrus.Level{
		"":       logrus.InfoLevel,
		"debug":  logrus.DebugLevel,
		" WARN ": logrus.WarnLevel,
		"off":    logrus.PanicLevel,
		"trace":  logrus.TraceLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestConfigureVerboseForcesDebug(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	defer logrus.SetLevel(logrus.InfoLevel)

	require.NoError(t, Configure("warn", true))
	require.Equal(t, logrus.DebugLevel, logrus.GetLevel())

	require.NoError(t, Configure("warn", false))
	require.Equal(t, logrus.WarnLevel, logrus.GetLevel())
}

func TestConfigureEnvOverride(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	defer logrus.SetLevel(logrus.InfoLevel)

	require.NoError(t, Configure("info", false))
	require.Equal(t, logrus.ErrorLevel, logrus.GetLevel())
}
