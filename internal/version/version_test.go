package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func restore(t *testing.T) {
	t.Helper()
	v, c, d := Version, Commit, Date
	t.Cleanup(func() { Version, Commit, Date = v, c, d })
}

func TestApply(t *testing.T) {
	restore(t)
	Version, Commit, Date = "dev", "none", "unknown"

	apply(&debug.BuildInfo{
		Main: debug.Module{Version: "v0.4.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef"},
			{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
		},
	})
	assert.Equal(t, "v0.4.1", Version)
	assert.Equal(t, "0123456", Commit)
	assert.Equal(t, "2026-01-02T03:04:05Z", Date)
}

func TestApply_DevelBuild(t *testing.T) {
	restore(t)
	Version, Commit = "dev", "none"

	apply(&debug.BuildInfo{
		Main:     debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "abc"}},
	})
	assert.Equal(t, "dev", Version)
	assert.Equal(t, "abc", Commit)
}

func TestApply_LdflagsWin(t *testing.T) {
	restore(t)
	Version, Commit = "v1.0.0", "feedbee"

	apply(&debug.BuildInfo{
		Main:     debug.Module{Version: "v0.9.0"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "0123456789"}},
	})
	assert.Equal(t, "v1.0.0", Version)
	assert.Equal(t, "feedbee", Commit)
}

func TestInfo(t *testing.T) {
	restore(t)
	Version, Commit, Date = "v1.2.3", "abcdef0", "today"

	assert.Contains(t, Info(), "docql v1.2.3 (commit: abcdef0, built: today) go")
}
