package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func stubBuildInfo(t *testing.T, info *debug.BuildInfo, ok bool) {
	t.Helper()
	prev := readBuildInfo
	readBuildInfo = func() (*debug.BuildInfo, bool) { return info, ok }
	t.Cleanup(func() { readBuildInfo = prev })
}

func stubLinkerValues(t *testing.T, v, c, d string) {
	t.Helper()
	prevV, prevC, prevD := version, commit, date
	version, commit, date = v, c, d
	t.Cleanup(func() { version, commit, date = prevV, prevC, prevD })
}

func TestCurrent_LinkerValuesWin(t *testing.T) {
	stubLinkerValues(t, "1.4.0", "abc123", "2026-10-01")
	stubBuildInfo(t, &debug.BuildInfo{
		GoVersion: "go1.24.0",
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "ffffffffffffffffffff"},
			{Key: "vcs.time", Value: "2020-01-01T00:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}, true)

	assert.Equal(t, Build{
		Service:   "credits-service",
		Version:   "1.4.0",
		Commit:    "abc123",
		Date:      "2026-10-01",
		GoVersion: "go1.24.0",
	}, Current())
	assert.Equal(t, "1.4.0", GetVersion())
}

func TestCurrent_FallsBackToVCS(t *testing.T) {
	stubLinkerValues(t, "dev", "unknown", "unknown")
	stubBuildInfo(t, &debug.BuildInfo{
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-09-30T12:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}, true)

	b := Current()
	assert.Equal(t, "0123456789ab", b.Commit)
	assert.Equal(t, "2026-09-30T12:00:00Z", b.Date)
	assert.Equal(t, "dev-dirty", b.Version)
}

func TestCurrent_WithoutBuildInfo(t *testing.T) {
	stubLinkerValues(t, "dev", "unknown", "unknown")
	stubBuildInfo(t, nil, false)

	assert.Equal(t, Build{Service: Service, Version: "dev", Commit: "unknown", Date: "unknown"}, Current())
}

func TestBuild_LogRepresentation(t *testing.T) {
	b := Build{Service: Service, Version: "2.0.1", Commit: "deadbeef", Date: "2026-10-14"}

	assert.Equal(t, "credits-service version=2.0.1 commit=deadbeef date=2026-10-14", b.String())
	fields := b.Fields()
	assert.Equal(t, "credits-service", fields["service"])
	assert.Equal(t, "deadbeef", fields["commit"])
	assert.Len(t, fields, 4)
}
