// SPDX-License-Identifier: MIT
//
// Package build holds the metadata embedded into the binary with linker flags:
//
//	go build -ldflags "-X instrument/pkg/build.buildName=instrument \
//	  -X instrument/pkg/build.buildTime=$(date -u +%FT%TZ) \
//	  -X instrument/pkg/build.buildCommit=$(git rev-parse --short HEAD) \
//	  -X instrument/pkg/build.buildVersion=v0.1.0"
//
// A binary built without any flags (go run, go test) reports development
// defaults, with the commit taken from the module's VCS stamp when present.
package build

import (
	"fmt"
	"runtime/debug"
)

const (
	DefaultName        = "instrument"
	DefaultDescription = "Sample-based real-time instrument"
	devVersion         = "dev"
	unknown            = "unknown"
)

type ldFlags struct {
	Name        string
	Description string
	Time        string
	Commit      string
	Version     string
}

// Populated by -ldflags.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = &ldFlags{
		Name:        DefaultName,
		Description: DefaultDescription,
		Time:        unknown,
		Commit:      unknown,
		Version:     devVersion,
	}
)

// readBuildInfo is replaced in tests.
var readBuildInfo = debug.ReadBuildInfo

// Initialize copies the ldflags values into the build info. With no flags
// set it keeps the development defaults. A partial set of flags is an error,
// since it means the release build script is broken.
func Initialize() error {
	if buildName == "" && buildTime == "" && buildCommit == "" && buildVersion == "" {
		if commit := vcsRevision(); commit != "" {
			buildFlags.Commit = commit
		}
		return nil
	}

	if buildName == "" {
		return fmt.Errorf("BuildName is required")
	}
	if buildTime == "" {
		return fmt.Errorf("BuildTime is required")
	}
	if buildCommit == "" {
		return fmt.Errorf("BuildCommit is required")
	}
	if buildVersion == "" {
		return fmt.Errorf("BuildVersion is required")
	}

	buildFlags.Name = buildName
	buildFlags.Time = buildTime
	buildFlags.Commit = buildCommit
	buildFlags.Version = buildVersion
	return nil
}

func vcsRevision() string {
	info, ok := readBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > 7 {
				return s.Value[:7]
			}
			return s.Value
		}
	}
	return ""
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *ldFlags {
	return buildFlags
}

// String formats the version line printed by the CLI.
func (f *ldFlags) String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", f.Version, f.Commit, f.Time)
}
