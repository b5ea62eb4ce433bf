package main

import (
	"os"

	"github.com/go-delve/tlsvar/cmd/tlsvar/cmds"
	"github.com/go-delve/tlsvar/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.TlsvarVersion.Build = Build
	}
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
