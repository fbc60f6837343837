package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func withVersion(t *testing.T, version, commit string) {
	t.Helper()
	prevVersion, prevCommit := Version, GitCommit
	Version, GitCommit = version, commit
	t.Cleanup(func() { Version, GitCommit = prevVersion, prevCommit })
}

func TestGetInfo(t *testing.T) {
	info := GetInfo()
	assert.NotEmpty(t, info.Version)
	assert.Contains(t, info.Platform, "/")
	assert.True(t, strings.HasPrefix(info.GoVersion, "go"))
}

func TestGetVersionString(t *testing.T) {
	withVersion(t, "1.2.3", "0123456789abcdef")
	assert.Equal(t, "livegmail 1.2.3 (01234567)", GetVersionString())
}

func TestGetDetailedVersionString(t *testing.T) {
	withVersion(t, "1.2.3", "abc")
	out := GetDetailedVersionString()
	assert.True(t, strings.HasPrefix(out, "livegmail 1.2.3\n"))
	assert.Contains(t, out, "Git commit: abc")
	assert.Contains(t, out, "Platform: ")
}

func TestIsRelease(t *testing.T) {
	tests := []struct {
		version, commit string
		want            bool
	}{
		{"1.0.0", "abc", true},
		{"1.0.0-dev", "abc", false},
		{"1.0.0", "unknown", false},
	}
	for _, tt := range tests {
		withVersion(t, tt.version, tt.commit)
		assert.Equal(t, tt.want, IsRelease(), tt.version+"/"+tt.commit)
	}
}
