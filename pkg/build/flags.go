// SPDX-License-Identifier: MIT
//
// Package build exposes metadata embedded at link time:
//
//	go build -ldflags "-X beatflux/pkg/build.buildName=beatflux \
//	  -X beatflux/pkg/build.buildVersion=0.1.0 \
//	  -X beatflux/pkg/build.buildCommit=$(git rev-parse --short HEAD) \
//	  -X beatflux/pkg/build.buildTime=$(date -u +%FT%TZ)"
//
// Development builds without ldflags report "dev" metadata.
package build

import (
	"errors"
	"fmt"
)

// Info describes the running binary.
type Info struct {
	Name        string
	Description string
	Version     string
	Commit      string
	Time        string
}

// String returns a one-line version banner.
func (i Info) String() string {
	return fmt.Sprintf("%s %s (%s, built %s)", i.Name, i.Version, i.Commit, i.Time)
}

// Populated by -ldflags.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
)

var info = Info{
	Name:        "beatflux",
	Description: "Streaming spectral onset detection and tempo estimation",
	Version:     "dev",
	Commit:      "unknown",
	Time:        "unknown",
}

// Initialize copies link-time metadata into the build info. Either no flag
// or every flag must be set; a partial set is reported as an error and the
// development defaults are kept.
func Initialize() error {
	flags := []struct {
		name  string
		value string
	}{
		{"BuildName", buildName},
		{"BuildTime", buildTime},
		{"BuildCommit", buildCommit},
		{"BuildVersion", buildVersion},
	}

	set := 0
	var missing []error
	for _, f := range flags {
		if f.value == "" {
			missing = append(missing, fmt.Errorf("%s is required", f.name))
			continue
		}
		set++
	}
	if set == 0 {
		return nil
	}
	if len(missing) > 0 {
		return errors.Join(missing...)
	}

	info.Name = buildName
	info.Time = buildTime
	info.Commit = buildCommit
	info.Version = buildVersion
	return nil
}

// GetInfo returns the current build information.
func GetInfo() Info {
	return info
}
