// Package version reports the docql build.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Set by ldflags in release builds.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Build describes the running binary.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
}

var resolveOnce sync.Once

// Resolve fills unset fields from the module build info, which is present
// for binaries built with go install.
func Resolve() {
	resolveOnce.Do(func() {
		if info, ok := debug.ReadBuildInfo(); ok {
			apply(info)
		}
	})
}

func apply(info *debug.BuildInfo) {
	if Version != "dev" {
		return
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		Version = v
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			Commit = s.Value
			if len(Commit) > 7 {
				Commit = Commit[:7]
			}
		case "vcs.time":
			Date = s.Value
		}
	}
}

// Current returns the resolved build.
func Current() Build {
	Resolve()
	return Build{Version: Version, Commit: Commit, Date: Date, GoVersion: runtime.Version()}
}

// Info returns a one-line description of the build.
func Info() string {
	b := Current()
	return fmt.Sprintf("docql %s (commit: %s, built: %s) %s", b.Version, b.Commit, b.Date, b.GoVersion)
}
