package version

import (
	"runtime/debug"
)

// Version information for srcmodel
const (
	// Version is the current semantic version
	Version = "0.1.0"
)

// BuildDate and GitCommit are set at build time with -ldflags -X.
var (
	BuildDate = "development"
	GitCommit = "unknown"
)

// Info returns version information as a string
func Info() string {
	return Version
}

// FullInfo returns detailed version information
func FullInfo() string {
	return "srcmodel " + Version + " (commit: " + commit() + ", built: " + BuildDate + ")"
}

// commit falls back to the VCS revision recorded by the go tool.
func commit() string {
	if GitCommit != "unknown" {
		return GitCommit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return GitCommit
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 12 {
			return s.Value[:12]
		}
	}
	return GitCommit
}
