package version

import (
	"fmt"
	"runtime/debug"
)

var (
	// These will be set by build flags or default to development values
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info contains version information
type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
	Package string `json:"package"`
}

// buildSetting returns a VCS setting recorded by the Go toolchain.
func buildSetting(key string) (string, bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value, true
		}
	}
	return "", false
}

// GetVersion returns the version string, preferring the -ldflags value
func GetVersion() string {
	if Version != "dev" && Version != "" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
	}
	return "development"
}

// GetCommit returns the git commit hash, preferring the -ldflags value
func GetCommit() string {
	if Commit != "unknown" && Commit != "" {
		return Commit
	}
	if rev, ok := buildSetting("vcs.revision"); ok {
		return rev
	}
	return "unknown"
}

// GetBuildDate returns the build date, preferring the -ldflags value
func GetBuildDate() string {
	if Date != "unknown" && Date != "" {
		return Date
	}
	if t, ok := buildSetting("vcs.time"); ok {
		return t
	}
	return "unknown"
}

// GetInfo returns complete version information
func GetInfo() Info {
	return Info{
		Version: GetVersion(),
		Commit:  GetCommit(),
		Date:    GetBuildDate(),
		Package: "chunkfs",
	}
}

// GetFullVersion returns a formatted version string with commit and date
func GetFullVersion() string {
	return formatVersion(GetInfo())
}

func formatVersion(info Info) string {
	if info.Commit == "unknown" || len(info.Commit) <= 7 {
		return info.Version
	}
	short := info.Commit[:7]
	if info.Date != "unknown" {
		return fmt.Sprintf("%s (%s, built %s)", info.Version, short, info.Date)
	}
	return fmt.Sprintf("%s (%s)", info.Version, short)
}
