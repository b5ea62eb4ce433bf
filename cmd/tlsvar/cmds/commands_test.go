package cmds

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/go-delve/tlsvar/pkg/config"
	"github.com/go-delve/tlsvar/pkg/proc"
	protest "github.com/go-delve/tlsvar/pkg/proc/test"
)

func withSession(t *testing.T, fixture protest.Fixture, fn func(s *session)) {
	t.Helper()
	oldPath, oldThread, oldAll, oldTarget := snapshotPath, thread, allThreads, target
	defer func() {
		snapshotPath, thread, allThreads, target = oldPath, oldThread, oldAll, oldTarget
	}()
	snapshotPath = fixture.Path
	s, err := openSession()
	if err != nil {
		t.Fatal(err)
	}
	fn(s)
}

func TestResolveVariables(t *testing.T) {
	withSession(t, protest.ThreadLocal(t), func(s *session) {
		var out bytes.Buffer
		if err := resolveVariables(s, &out, []string{"tl_local_int", "tl_global_int"}); err != nil {
			t.Fatal(err)
		}
		want := "tl_local_int thread 1: resolved 0x7ffff7d8a73c\ntl_global_int thread 1: resolved 0x7ffff7d8a738\n"
		if out.String() != want {
			t.Errorf("wrong output %q", out.String())
		}

		out.Reset()
		allThreads = true
		err := resolveVariables(s, &out, []string{"tl_local_int"})
		if !errors.Is(err, errUnresolved) {
			t.Errorf("expected errUnresolved, got %v", err)
		}
		if !strings.Contains(out.String(), "tl_local_int thread 2: thread is not stopped") {
			t.Errorf("wrong output %q", out.String())
		}

		allThreads = false
		out.Reset()
		if err := resolveVariables(s, &out, []string{"foo_tls"}); !errors.Is(err, errUnresolved) {
			t.Errorf("expected errUnresolved, got %v", err)
		}
		if !strings.Contains(out.String(), "not initialized") {
			t.Errorf("wrong output %q", out.String())
		}

		for _, name := range []string{"storage", "nosuchvar"} {
			if err := resolveVariables(s, &out, []string{name}); err == nil || errors.Is(err, errUnresolved) {
				t.Errorf("%s: expected error, got %v", name, err)
			}
		}
	})
}

func TestEvalExpression(t *testing.T) {
	withSession(t, protest.ThreadLocal(t), func(s *session) {
		var out bytes.Buffer
		if err := evalExpression(s, &out, "*tl_local_ptr + 2"); err != nil {
			t.Fatal(err)
		}
		if out.String() != "324\n" {
			t.Errorf("wrong output %q", out.String())
		}
	})
	withSession(t, protest.ThreadLocalPreinit(t), func(s *session) {
		err := evalExpression(s, &bytes.Buffer{}, "tl_local_int")
		if err == nil || !strings.Contains(err.Error(), "No TLS data currently exists for this thread") {
			t.Errorf("wrong error %v", err)
		}
	})
}

func TestExecuteExitStatus(t *testing.T) {
	oldPath, oldThread, oldAll := snapshotPath, thread, allThreads
	defer func() { snapshotPath, thread, allThreads = oldPath, oldThread, oldAll }()
	snapshotPath = protest.ThreadLocal(t).Path

	testCases := []struct {
		fn   func(*session) error
		want int
	}{
		{func(*session) error { return nil }, 0},
		{func(s *session) error { return resolveVariables(s, &bytes.Buffer{}, []string{"foo_tls"}) }, 1},
		{func(s *session) error { return resolveVariables(s, &bytes.Buffer{}, []string{"nosuchvar"}) }, 1},
	}
	for i, tc := range testCases {
		if got := execute(tc.fn); got != tc.want {
			t.Errorf("%d: expected exit status %d got %d", i, tc.want, got)
		}
	}
}

func TestOpenSessionErrors(t *testing.T) {
	oldPath := snapshotPath
	defer func() { snapshotPath = oldPath }()
	snapshotPath = ""
	if _, err := openSession(); err == nil {
		t.Errorf("opened a session without a snapshot")
	}
}

func TestTargetFlag(t *testing.T) {
	var v targetValue
	if err := v.Set("plan9/amd64"); err == nil || !strings.Contains(err.Error(), "linux/amd64") {
		t.Errorf("wrong error %v", err)
	}
	if err := v.Set("linux/arm64"); err != nil {
		t.Fatal(err)
	}
	if v.String() != "linux/arm64" {
		t.Errorf("wrong value %q", v)
	}
}

func TestResolverConfig(t *testing.T) {
	n := 4
	testCases := []struct {
		conf *config.Config
		want proc.ResolverConfig
	}{
		{nil, proc.ResolverConfig{CacheSize: 128}},
		{&config.Config{CacheSize: &n}, proc.ResolverConfig{CacheSize: 4}},
		{&config.Config{CacheSize: &n, DisableCache: true}, proc.ResolverConfig{}},
	}
	for i, tc := range testCases {
		if got := resolverConfig(tc.conf); got != tc.want {
			t.Errorf("%d: expected %v got %v", i, tc.want, got)
		}
	}
}
