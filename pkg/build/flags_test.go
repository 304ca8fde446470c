// SPDX-License-Identifier: MIT
package build

import (
	"os"
	"testing"
)

var (
	origName    string
	origTime    string
	origCommit  string
	origVersion string
	origFlags   ldFlags
)

func TestMain(m *testing.M) {
	origName = buildName
	origTime = buildTime
	origCommit = buildCommit
	origVersion = buildVersion
	origFlags = *buildFlags

	exitCode := m.Run()

	buildName = origName
	buildTime = origTime
	buildCommit = origCommit
	buildVersion = origVersion
	*buildFlags = origFlags

	os.Exit(exitCode)
}

func TestInitialize(t *testing.T) {
	tests := []struct {
		name        string
		buildName   string
		buildTime   string
		buildCommit string
		buildVer    string
		wantErrMsg  string
	}{
		{"Missing BuildName", "", "2026-10-19", "abcdef123", "v0.3.0", "BuildName is required"},
		{"Missing BuildTime", "strobe", "", "abcdef123", "v0.3.0", "BuildTime is required"},
		{"Missing BuildCommit", "strobe", "2026-10-19", "", "v0.3.0", "BuildCommit is required"},
		{"Missing BuildVersion", "strobe", "2026-10-19", "abcdef123", "", "BuildVersion is required"},
		{"Success Case", "strobe", "2026-10-19", "abcdef123", "v0.3.0", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buildFlags = defaultFlags()

			buildName = tt.buildName
			buildTime = tt.buildTime
			buildCommit = tt.buildCommit
			buildVersion = tt.buildVer

			err := Initialize()

			if tt.wantErrMsg != "" {
				if err == nil {
					t.Fatalf("Initialize() expected error, got nil")
				}
				if err.Error() != tt.wantErrMsg {
					t.Errorf("Initialize() error = %v, want %v", err, tt.wantErrMsg)
				}
				if buildFlags.Version != "dev" {
					t.Errorf("defaults replaced on error: %+v", buildFlags)
				}
				return
			}

			if err != nil {
				t.Fatalf("Initialize() unexpected error: %v", err)
			}
			if buildFlags.Name != tt.buildName || buildFlags.Time != tt.buildTime ||
				buildFlags.Commit != tt.buildCommit || buildFlags.Version != tt.buildVer {
				t.Errorf("buildFlags = %+v, want values from ldflags", buildFlags)
			}
		})
	}
}

func TestBuildFlagsString(t *testing.T) {
	buildFlags = &ldFlags{
		Name:    "strobe",
		Time:    "2026-10-19",
		Commit:  "abcdef123",
		Version: "v0.3.0",
	}

	want := "strobe v0.3.0 (commit abcdef123, built 2026-10-19)"
	if got := GetBuildFlags().String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
