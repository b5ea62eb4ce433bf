// Package version holds the version of tlsvar and the build information
// embedded by the go tool.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Version represents the current version of tlsvar.
type Version struct {
	Major    string
	Minor    string
	Patch    string
	Metadata string
	// Build is the git revision. When left to the ident placeholder it is
	// taken from the vcs.revision build setting.
	Build string
}

const buildPlaceholder = "$Id$"

// TlsvarVersion is the current version of tlsvar.
var TlsvarVersion = Version{
	Major: "0", Minor: "3", Patch: "0",
	Build: buildPlaceholder,
}

var readBuildInfo = debug.ReadBuildInfo

func (v Version) String() string {
	ver := v.Major + "." + v.Minor + "." + v.Patch
	if v.Metadata != "" {
		ver += "-" + v.Metadata
	}
	return fmt.Sprintf("Version: %s\nBuild: %s", ver, v.build())
}

func (v Version) build() string {
	if !strings.HasPrefix(v.Build, buildPlaceholder) {
		return v.Build
	}
	if info, ok := readBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				return setting.Value
			}
		}
	}
	return v.Build
}

// BuildInfo returns the toolchain and the module dependencies tlsvar was
// built with.
func BuildInfo() string {
	var b strings.Builder
	b.WriteString(runtime.Version())
	b.WriteByte('\n')
	info, ok := readBuildInfo()
	if !ok {
		b.WriteString("not built in module mode\n")
		return b.String()
	}
	fmt.Fprintf(&b, " mod\t%s\t%s\n", info.Main.Path, info.Main.Version)
	for _, dep := range info.Deps {
		if dep.Replace != nil {
			fmt.Fprintf(&b, " dep\t%s\t%s\t=> %s\t%s\n", dep.Path, dep.Version, dep.Replace.Path, dep.Replace.Version)
			continue
		}
		fmt.Fprintf(&b, " dep\t%s\t%s\n", dep.Path, dep.Version)
	}
	return b.String()
}
