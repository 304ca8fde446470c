// SPDX-License-Identifier: MIT
//
// Package build exposes the build metadata stamped into the strobe binary
// with linker flags:
//
//	go build -ldflags "-X strobe/pkg/build.buildName=strobe \
//	  -X strobe/pkg/build.buildVersion=0.3.0 \
//	  -X strobe/pkg/build.buildCommit=$(git rev-parse --short HEAD) \
//	  -X strobe/pkg/build.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// Development builds carry no ldflags; Initialize reports the first missing
// value and the defaults below stay in place.
package build

import (
	"errors"
	"fmt"
)

type ldFlags struct {
	Name        string
	Description string
	Time        string
	Commit      string
	Version     string
}

// Package-level variables populated by -ldflags during compilation.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = defaultFlags()
)

func defaultFlags() *ldFlags {
	return &ldFlags{
		Name:        "strobe",
		Description: "Real-time strobe tuner",
		Time:        "unknown",
		Commit:      "unknown",
		Version:     "dev",
	}
}

// Initialize validates and copies build information from the ldflags
// variables into the build flags. Returns an error naming the first missing
// value; the development defaults are kept in that case.
func Initialize() error {
	if buildName == "" {
		return errors.New("BuildName is required")
	}
	if buildTime == "" {
		return errors.New("BuildTime is required")
	}
	if buildCommit == "" {
		return errors.New("BuildCommit is required")
	}
	if buildVersion == "" {
		return errors.New("BuildVersion is required")
	}

	buildFlags.Name = buildName
	buildFlags.Time = buildTime
	buildFlags.Commit = buildCommit
	buildFlags.Version = buildVersion

	return nil
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *ldFlags {
	return buildFlags
}

// String renders the one-line version banner printed by `strobe version`.
func (f *ldFlags) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", f.Name, f.Version, f.Commit, f.Time)
}
