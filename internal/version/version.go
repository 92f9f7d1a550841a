// Package version holds build metadata injected with -ldflags.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const unknownStr = "unknown"

// Set via -ldflags "-X sky/internal/version.Version=v1.0.0 ...".
var (
	Version   = "dev"
	Commit    = unknownStr
	BuildDate = unknownStr
)

// Info is the version report of `sky version`.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the version information of the running binary. Development
// builds report "build-<commit>".
func Get() Info {
	v := Version
	if v == "dev" {
		c := Commit
		if c == unknownStr {
			if rev, ok := vcsRevision(); ok {
				c = rev
			}
		}
		if len(c) > 8 {
			c = c[:8]
		}
		v = "build-" + c
	}

	date := BuildDate
	if t, err := time.Parse(time.RFC3339, BuildDate); err == nil {
		date = t.UTC().Format("2006-01-02 15:04:05 UTC")
	}

	return Info{
		Version:   v,
		Commit:    Commit,
		BuildDate: date,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String formats Info for humans.
func (i Info) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sky %s\n", i.Version)
	fmt.Fprintf(&b, "  commit:     %s\n", i.Commit)
	fmt.Fprintf(&b, "  built:      %s\n", i.BuildDate)
	fmt.Fprintf(&b, "  go:         %s\n", i.GoVersion)
	fmt.Fprintf(&b, "  platform:   %s", i.Platform)
	return b.String()
}

// Dependency returns the version of a module linked into the binary, or
// "unknown".
func Dependency(modulePath string) string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return unknownStr
	}
	for _, dep := range bi.Deps {
		if dep.Path == modulePath {
			if dep.Replace != nil {
				return dep.Replace.Version
			}
			return dep.Version
		}
	}
	return unknownStr
}

func vcsRevision() (string, bool) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			return s.Value, true
		}
	}
	return "", false
}
