// Package buildinfo reports the version stamped into the bookpipe binary.
package buildinfo

import (
	"runtime"
	"runtime/debug"
)

// These vars are set at build time via ldflags:
// -X github.com/otherjamesbrown/bookpipe/pkg/buildinfo.Version=v0.3.0
// -X github.com/otherjamesbrown/bookpipe/pkg/buildinfo.Commit=b806fe7
// -X github.com/otherjamesbrown/bookpipe/pkg/buildinfo.BuildTime=2026-02-07T10:30:00Z
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info holds build information for the binary.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildTime string `json:"build_time" yaml:"build_time"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
}

// Get returns the build info. Without ldflags, a module version recorded by
// "go install" is used when available.
func Get() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if info.Version == "dev" {
		if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
	}
	return info
}

// String returns a human-readable one-liner like "v0.3.0 (b806fe7, 2026-02-07T10:30:00Z)"
func String() string {
	info := Get()
	return info.Version + " (" + info.Commit + ", " + info.BuildTime + ")"
}
