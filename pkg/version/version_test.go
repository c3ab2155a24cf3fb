package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo()

	assert.Equal(t, Version, info.Version)
	assert.Equal(t, APIVersion, info.APIVersion)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS, info.OS)
	assert.Equal(t, runtime.GOARCH, info.Arch)
	assert.NotEmpty(t, info.GitCommit)
	assert.True(t, strings.HasPrefix(info.GoVersion, "go"))
}

func TestApplyBuildSettings(t *testing.T) {
	settings := []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		{Key: "vcs.time", Value: "2026-10-01T12:00:00Z"},
		{Key: "vcs.modified", Value: "true"},
	}

	t.Run("fills defaults", func(t *testing.T) {
		info := Info{GitCommit: "unknown", BuildTime: "unknown"}
		info.applyBuildSettings(settings)

		assert.Equal(t, "0123456789ab", info.GitCommit)
		assert.Equal(t, "2026-10-01T12:00:00Z", info.BuildTime)
		assert.True(t, info.Modified)
	})

	t.Run("ldflags win", func(t *testing.T) {
		info := Info{GitCommit: "release", BuildTime: "2026-09-30"}
		info.applyBuildSettings(settings)

		assert.Equal(t, "release", info.GitCommit)
		assert.Equal(t, "2026-09-30", info.BuildTime)
	})
}

func TestInfoString(t *testing.T) {
	info := Info{
		Version:    "1.0.0",
		APIVersion: "v1",
		GitCommit:  "abc123",
		BuildTime:  "2026-01-01",
		GoVersion:  "go1.23.0",
		OS:         "linux",
		Arch:       "amd64",
	}
	assert.Equal(t, "Cadence 1.0.0 (api: v1, commit: abc123, built: 2026-01-01, go: go1.23.0, os/arch: linux/amd64)", info.String())

	info.Modified = true
	assert.Contains(t, info.String(), "commit: abc123+dirty")
	assert.Equal(t, "Cadence 1.0.0", info.Short())
}
