package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func withBuild(t *testing.T, version, commit string) {
	t.Helper()
	oldVersion, oldCommit := Version, GitCommit
	Version, GitCommit = version, commit
	t.Cleanup(func() { Version, GitCommit = oldVersion, oldCommit })
}

func TestGetVersionString(t *testing.T) {
	withBuild(t, "1.2.3", "unknown")
	assert.Equal(t, "customlist 1.2.3", GetVersionString())

	withBuild(t, "1.2.3", "0123456789abcdef")
	assert.Equal(t, "customlist 1.2.3 (01234567)", GetVersionString())
}

func TestGetDetailedVersionString(t *testing.T) {
	withBuild(t, "1.2.3", "abc")
	out := GetDetailedVersionString()
	assert.Contains(t, out, "customlist 1.2.3\n")
	assert.Contains(t, out, "Git commit: abc")
	assert.Contains(t, out, "Go version: go")
}

func TestIsRelease(t *testing.T) {
	withBuild(t, "1.2.3", "abc")
	assert.True(t, IsRelease())

	withBuild(t, "1.3.0-dev", "abc")
	assert.False(t, IsRelease())

	withBuild(t, "1.2.3", "unknown")
	assert.False(t, IsRelease())
}
