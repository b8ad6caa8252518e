// Package version reports build information stamped in with ldflags:
//
//	-X github.com/teranos/pricehist/version.Version=v1.2.0
//	-X github.com/teranos/pricehist/version.CommitHash=$(git rev-parse HEAD)
//	-X github.com/teranos/pricehist/version.BuildTime=$(date -u +%FT%TZ)
package version

import (
	"fmt"
	"runtime"
)

var (
	CommitHash = "dev"
	BuildTime  = "unknown"
	Version    = "dev"
)

// Info contains version and build information
type Info struct {
	Version    string `json:"version"`
	CommitHash string `json:"commit_hash"`
	BuildTime  string `json:"build_time"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
}

// Get returns the current version information
func Get() Info {
	return Info{
		Version:    Version,
		CommitHash: CommitHash,
		BuildTime:  BuildTime,
		GoVersion:  runtime.Version(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("pricehist %s (commit %s, built %s)", i.Version, i.Short(), i.BuildTime)
}

// Short is the abbreviated commit hash.
func (i Info) Short() string {
	if len(i.CommitHash) > 7 {
		return i.CommitHash[:7]
	}
	return i.CommitHash
}

// UserAgent identifies archive downloads, e.g. "pricehist/v1.2.0 (+3f2a9c1)".
func UserAgent() string {
	i := Get()
	if i.Version == "dev" {
		return "pricehist/dev (+" + i.Short() + ")"
	}
	return "pricehist/" + i.Version + " (+" + i.Short() + ")"
}
