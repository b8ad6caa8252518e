package am

import (
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/teranos/pricehist/errors"
)

// CheckUnknownKeys decodes configPath strictly and returns the keys that do
// not map to any Config field, sorted. Viper silently ignores these, so a
// typo such as "batchsize" would otherwise fall back to the default.
func CheckUnknownKeys(configPath string) ([]string, error) {
	var cfg Config
	md, err := toml.DecodeFile(configPath, &cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", configPath)
	}

	var unknown []string
	for _, key := range md.Undecoded() {
		unknown = append(unknown, key.String())
	}
	sort.Strings(unknown)
	return unknown, nil
}
