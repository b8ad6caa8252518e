package am

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/pricehist/errors"
)

const backupGenerations = 3

// createBackup keeps rotating backups (.back1 newest, .back3 oldest) of
// configPath before it is overwritten.
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	backup := func(n int) string { return configPath + ".back" + string(rune('0'+n)) }

	if err := os.Remove(backup(backupGenerations)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to delete old backup %s", backup(backupGenerations))
	}
	for n := backupGenerations - 1; n >= 1; n-- {
		if _, err := os.Stat(backup(n)); err == nil {
			if err := os.Rename(backup(n), backup(n+1)); err != nil {
				return errors.Wrapf(err, "failed to rotate %s", backup(n))
			}
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}
	if err := os.WriteFile(backup(1), content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}
	return nil
}

// Marshal renders cfg as commented TOML.
func Marshal(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to marshal config")
	}
	return buf.Bytes(), nil
}

// WriteConfig writes cfg to configPath, keeping backups of any previous file.
// An active ConfigWatcher on the same file ignores this write.
func WriteConfig(configPath string, cfg *Config) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), DefaultDirPermissions); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}
	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	abs, _ := filepath.Abs(configPath)
	globalWatcherMu.Lock()
	if globalWatcher != nil && globalWatcher.configPath == abs {
		globalWatcher.MarkOwnWrite()
	}
	globalWatcherMu.Unlock()

	if err := os.WriteFile(configPath, data, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to write config")
	}
	return nil
}
