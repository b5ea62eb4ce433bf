package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestVersionString(t *testing.T) {
	defer func() { readBuildInfo = debug.ReadBuildInfo }()
	readBuildInfo = func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{
			Main:     debug.Module{Path: "github.com/go-delve/tlsvar", Version: "(devel)"},
			Deps:     []*debug.Module{{Path: "go.starlark.net", Version: "v0.0.0-20220816155156-cfacd8902214"}},
			Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "abc123"}},
		}, true
	}

	testCases := []struct {
		v    Version
		want string
	}{
		{Version{Major: "0", Minor: "3", Patch: "0", Build: buildPlaceholder}, "Version: 0.3.0\nBuild: abc123"},
		{Version{Major: "1", Minor: "0", Patch: "1", Metadata: "rc1", Build: "deadbeef"}, "Version: 1.0.1-rc1\nBuild: deadbeef"},
	}
	for _, tc := range testCases {
		if got := tc.v.String(); got != tc.want {
			t.Errorf("expected %q got %q", tc.want, got)
		}
	}

	info := BuildInfo()
	if !strings.Contains(info, " mod\tgithub.com/go-delve/tlsvar\t(devel)\n") || !strings.Contains(info, " dep\tgo.starlark.net\t") {
		t.Errorf("wrong build info %q", info)
	}
}
