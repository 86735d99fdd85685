package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestParseLevelAcceptsPropertyFileNames(t *testing.T) {
	cases := map[string]zerolog.Level{
		"severe":  zerolog.ErrorLevel,
		"WARNING": zerolog.WarnLevel,
		"info":    zerolog.InfoLevel,
		"config":  zerolog.InfoLevel,
		"fine":    zerolog.DebugLevel,
		"finer":   zerolog.TraceLevel,
		" finest": zerolog.TraceLevel,
		"off":     zerolog.Disabled,
	}
	for raw, want := range cases {
		got, ok := ParseLevel(raw)
		require.True(t, ok, "level %q", raw)
		require.Equal(t, want, got, "level %q", raw)
	}
}

func TestParseLevelRejectsUnknown(t *testing.T) {
	_, ok := ParseLevel("loud")
	require.False(t, ok)
	_, ok = ParseLevel("")
	require.False(t, ok)
}

func TestDefaultOptionsTestProfileDropsFile(t *testing.T) {
	opts := defaultOptions(ProfileTest, Options{File: "app.log", Level: zerolog.ErrorLevel})
	require.Empty(t, opts.File)
	require.Equal(t, zerolog.DebugLevel, opts.Level)
	require.False(t, opts.Timestamp)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvLogNoColor, "true")
	t.Setenv(EnvLogTimestamp, "nope")
	cfg := Options{Level: zerolog.DebugLevel, Timestamp: true}
	applyEnvOverrides(&cfg)
	require.Equal(t, zerolog.WarnLevel, cfg.Level)
	require.True(t, cfg.NoColor)
	require.True(t, cfg.Timestamp)
}

func TestFileSinkRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	sink, err := fileSink(Options{File: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	require.Equal(t, path, sink.Filename)
	require.Equal(t, DefaultFileMaxMB, sink.MaxSize)
	require.Equal(t, DefaultFileBackups, sink.MaxBackups)

	_, err = sink.Write([]byte(`{"level":"info"}` + "\n"))
	require.NoError(t, err)
	require.FileExists(t, path)

	require.NoError(t, sink.Rotate())
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 2, "live file plus one backup")
}

func TestFileSinkHonoursOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	sink, err := fileSink(Options{File: path, FileMaxMB: 5, FileBackups: 2})
	require.NoError(t, err)
	require.Equal(t, 5, sink.MaxSize)
	require.Equal(t, 2, sink.MaxBackups)

	_, err = fileSink(Options{File: path, FileBackups: -1})
	require.Error(t, err)
}
