package am

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/teranos/pricehist/errors"
)

var (
	mu            sync.Mutex
	globalConfig  *Config
	viperInstance *viper.Viper
	explicitPath  string
	loadedFrom    []string
)

// SetConfigPath pins the configuration to a single file, bypassing the search.
// Used by the --config flag.
func SetConfigPath(path string) {
	mu.Lock()
	defer mu.Unlock()
	explicitPath = path
	globalConfig = nil
	viperInstance = nil
}

// Load reads the configuration using Viper. The result is cached until Reset.
func Load() (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	if globalConfig != nil {
		return globalConfig, nil
	}

	v, err := initViper()
	if err != nil {
		return nil, err
	}

	config, err := LoadWithViper(v)
	if err != nil {
		return nil, err
	}

	globalConfig = config
	return globalConfig, nil
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path on top of the
// defaults. Environment variables are not consulted.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	config, err := LoadWithViper(v)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", configPath)
	}
	return config, nil
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	viperInstance = nil
	loadedFrom = nil
}

// Sources lists the files merged by the last Load, lowest precedence first.
func Sources() []string {
	mu.Lock()
	defer mu.Unlock()
	return append([]string(nil), loadedFrom...)
}

func initViper() (*viper.Viper, error) {
	if viperInstance != nil {
		return viperInstance, nil
	}

	v := viper.New()

	v.SetEnvPrefix("PRICEHIST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// DSNs carry credentials and usually come from the environment.
	_ = v.BindEnv("database.dsn", "PRICEHIST_DATABASE_DSN", "DATABASE_URL")

	SetDefaults(v)

	files, err := mergeConfigFiles(v)
	if err != nil {
		return nil, err
	}

	loadedFrom = files
	viperInstance = v
	return v, nil
}

// findProjectConfig walks up from the working directory looking for
// pricehist.toml and returns the first match, or "".
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// mergeConfigFiles merges configuration files in precedence order:
// system < user < project < env vars. An explicit --config path replaces
// the search and must exist.
func mergeConfigFiles(v *viper.Viper) ([]string, error) {
	var configPaths []string
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return nil, errors.WithHint(
				errors.Wrapf(err, "config file %s", explicitPath),
				"create one with: pricehist am init --path "+explicitPath,
			)
		}
		configPaths = []string{explicitPath}
	} else {
		configPaths = append(configPaths, "/etc/pricehist/"+ConfigFileName)
		if homeDir, err := os.UserHomeDir(); err == nil {
			configPaths = append(configPaths, filepath.Join(homeDir, ".pricehist", ConfigFileName))
		}
		if project := findProjectConfig(); project != "" {
			configPaths = append(configPaths, project)
		}
	}

	var merged []string
	for _, configPath := range configPaths {
		if _, err := os.Stat(configPath); err != nil {
			continue
		}
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.MergeInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
		}
		merged = append(merged, configPath)
	}
	return merged, nil
}
