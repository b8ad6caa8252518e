// Package archive finds, downloads and opens the dated price archives.
//
// A date maps to exactly one remote archive and one local cache file. The
// cache file is only ever created by an atomic rename, so a non-empty file at
// the canonical path is a complete download.
package archive

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/teranos/pricehist/am"
	"github.com/teranos/pricehist/errors"
	"github.com/teranos/pricehist/price"
)

// Locator maps dates to archive names. It does no I/O apart from Cached.
type Locator struct {
	BaseURL    string
	FilePrefix string
	Suffix     string
	Dir        string
}

// Location is where one date's archive lives.
type Location struct {
	Date      price.Date
	RemoteURL string
	CachePath string
}

// NewLocator builds a locator from configuration.
func NewLocator(cfg am.ArchiveConfig) *Locator {
	return &Locator{
		BaseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		FilePrefix: cfg.FilePrefix,
		Suffix:     cfg.Suffix,
		Dir:        cfg.Dir,
	}
}

// FileName is the archive's base name for d, e.g. prices-2025-10-17.ppmd.7z.
func (l *Locator) FileName(d price.Date) string {
	return l.FilePrefix + d.String() + l.Suffix
}

// Locate returns the remote URL and cache path for d.
func (l *Locator) Locate(d price.Date) Location {
	name := l.FileName(d)
	return Location{
		Date:      d,
		RemoteURL: l.BaseURL + "/" + name,
		CachePath: filepath.Join(l.Dir, name),
	}
}

// Cached reports whether a complete archive for d is already on disk.
// Zero-byte files do not count. Errors other than "missing" are returned so
// a permission problem is not mistaken for an empty cache.
func (l *Locator) Cached(d price.Date) (bool, error) {
	info, err := os.Stat(l.Locate(d).CachePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, classifyLocalError(errors.Wrapf(err, "stat cached archive for %s", d))
	}
	return info.Mode().IsRegular() && info.Size() > 0, nil
}
