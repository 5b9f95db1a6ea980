package meta

import (
	"fmt"
	"runtime"
)

// Info describes how a chatter binary was built, as stamped in by the Go
// linker. See the vars below.
type Info struct {
	Version   string
	Build     string
	Branch    string
	BuildTime string
	Platform  string
	GoVersion string
	GoTag     string
}

// These will be filled in using the linker -X flag
var (
	// Version as an arbitrary string
	Version string

	// Build is the Git sha from when we are building
	Build string

	// Branch is the Git branch that we are building from
	Branch string

	// BuildTimeUTC is the build time in UTC (year/month/day hour:min:sec)
	BuildTimeUTC string

	// GoTag lists the build tags
	// https://golang.org/pkg/go/build/#hdr-Build_Constraints
	GoTag string

	platform = fmt.Sprintf("%s %s", runtime.GOOS, runtime.GOARCH)
)

// GetInfo returns the build information. Version falls back to "dev" for
// binaries built without linker flags.
func GetInfo() Info {
	return Info{
		GoVersion: runtime.Version(),
		Version:   orDev(Version),
		Build:     Build,
		Branch:    Branch,
		BuildTime: BuildTimeUTC,
		GoTag:     GoTag,
		Platform:  platform,
	}
}

func orDev(version string) string {
	if version == "" {
		return "dev"
	}
	return version
}

func (i Info) String() string {
	s := fmt.Sprintf("chatter %s (%s, %s)", i.Version, i.Platform, i.GoVersion)
	if i.Build != "" {
		s += fmt.Sprintf(" build %s on %s at %s", i.Build, i.Branch, i.BuildTime)
	}
	return s
}
