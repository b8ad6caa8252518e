package am

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigWatcherReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte("[schedule]\nwindow_days = 3\n"), 0644))

	cw, err := NewConfigWatcher(path)
	require.NoError(t, err)
	cw.debouncePeriod = 20 * time.Millisecond
	t.Cleanup(func() { cw.Stop() })

	reloaded := make(chan *Config, 4)
	cw.OnReload(func(c *Config) error {
		reloaded <- c
		return nil
	})
	cw.Start()

	require.NoError(t, os.WriteFile(path, []byte("[schedule]\nwindow_days = 9\n"), 0644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 9, cfg.Schedule.WindowDays)
	case <-time.After(5 * time.Second):
		t.Fatal("config reload not observed")
	}
}

func TestConfigWatcherRejectsInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte("[schedule]\nwindow_days = 3\n"), 0644))

	cw, err := NewConfigWatcher(path)
	require.NoError(t, err)
	t.Cleanup(func() { cw.Stop() })

	called := false
	cw.OnReload(func(c *Config) error {
		called = true
		return nil
	})

	require.NoError(t, os.WriteFile(path, []byte("[schedule]\nwindow_days = 0\n"), 0644))
	err = cw.reload()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedule.window_days")
	assert.False(t, called)
}

func TestConfigWatcherOwnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(""), 0644))

	cw, err := NewConfigWatcher(path)
	require.NoError(t, err)
	t.Cleanup(func() { cw.Stop() })

	cw.MarkOwnWrite()
	assert.True(t, cw.checkOwnWrite())
	assert.False(t, cw.checkOwnWrite(), "flag clears after one check")
}
