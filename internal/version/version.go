// Package version exposes build metadata injected at link time:
//
//	go build -ldflags "-X github.com/HerbHall/netpulse/internal/version.Version=v1.2.0 \
//	  -X github.com/HerbHall/netpulse/internal/version.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/HerbHall/netpulse/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"fmt"
	"runtime"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Short returns the bare version string.
func Short() string {
	return Version
}

// Info returns a one-line human-readable build description.
func Info() string {
	return fmt.Sprintf("netpulse %s (commit %s, built %s, %s %s/%s)",
		Version, Commit, Date, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Map returns build metadata for JSON status responses.
func Map() map[string]string {
	return map[string]string{
		"version":    Version,
		"commit":     Commit,
		"date":       Date,
		"go_version": runtime.Version(),
	}
}
