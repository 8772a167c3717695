package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetVersionInfo(t *testing.T) {
	origVersion := versionInfo.Version
	origCommit := versionInfo.Commit
	origBuildDate := versionInfo.BuildDate
	defer func() {
		versionInfo.Version = origVersion
		versionInfo.Commit = origCommit
		versionInfo.BuildDate = origBuildDate
	}()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{
			name:      "set all values",
			version:   "1.0.0",
			commit:    "abc123",
			buildDate: "2026-01-15",
		},
		{
			name:      "set dev version",
			version:   "dev",
			commit:    "HEAD",
			buildDate: "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestExitCodeExtraction(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "exit code present",
			err:  exitError(32, "Auth failed", assert.AnError),
			want: "32",
		},
		{
			name: "file read error code",
			err:  exitError(12, "Preflight failed", assert.AnError),
			want: "12",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := exitCodeRe.FindStringSubmatch(tt.err.Error())
			require.NotNil(t, m)
			assert.Equal(t, tt.want, m[1])
		})
	}

	t.Run("plain error has no code", func(t *testing.T) {
		m := exitCodeRe.FindStringSubmatch(assert.AnError.Error())
		assert.Nil(t, m)
	})
}
