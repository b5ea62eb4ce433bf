package starbind

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-delve/tlsvar/pkg/proc"
	"github.com/go-delve/tlsvar/pkg/proc/core"
	protest "github.com/go-delve/tlsvar/pkg/proc/test"
)

type bufferWriter struct {
	bytes.Buffer
}

func (w *bufferWriter) Echo(string) {}
func (w *bufferWriter) Flush()      {}

type fakeContext struct {
	p        *core.Process
	r        *proc.Resolver
	cmds     map[string]func(string) error
	calls    []string
	resumeCt int
}

func newFakeContext(t *testing.T, fixture protest.Fixture) *fakeContext {
	p, err := core.OpenSnapshot(fixture.Path, "")
	if err != nil {
		t.Fatal(err)
	}
	r, err := proc.NewResolver(p, p.Target(), proc.ResolverConfig{CacheSize: 8})
	if err != nil {
		t.Fatal(err)
	}
	return &fakeContext{p: p, r: r, cmds: map[string]func(string) error{}}
}

func (ctx *fakeContext) Scope(tid int) (*proc.EvalScope, error) {
	if tid == 0 {
		tid = 1
	}
	return &proc.EvalScope{Mem: ctx.p, Resolver: ctx.r, Thread: proc.ThreadContext{ID: tid}, Symbols: ctx.p}, nil
}

func (ctx *fakeContext) Threads() []int { return ctx.p.ThreadIDs() }

func (ctx *fakeContext) Resume() error {
	ctx.resumeCt++
	return ctx.p.Resume()
}

func (ctx *fakeContext) RegisterCommand(name, helpMsg string, cmdfn func(args string) error) {
	ctx.cmds[name] = cmdfn
}

func (ctx *fakeContext) CallCommand(cmdstr string) error {
	ctx.calls = append(ctx.calls, cmdstr)
	name, args, _ := strings.Cut(cmdstr, " ")
	if fn, ok := ctx.cmds[name]; ok {
		return fn(args)
	}
	return nil
}

func TestThreadLocalScript(t *testing.T) {
	ctx := newFakeContext(t, protest.ThreadLocalPreinit(t))
	out := &bufferWriter{}
	env := New(ctx, out)

	script := filepath.Join(protest.FindFixturesDir(), "scripts", "thread_local.star")
	if _, err := env.Execute(script, nil, "main", nil); err != nil {
		t.Fatalf("%v\noutput: %s", err, out.String())
	}
	if ctx.resumeCt != 1 {
		t.Errorf("expected one resume, got %d", ctx.resumeCt)
	}
	if got := out.String(); got != "ok [1]\n" {
		t.Errorf("unexpected output %q", got)
	}
}

func TestExpectFailures(t *testing.T) {
	ctx := newFakeContext(t, protest.ThreadLocal(t))
	env := New(ctx, &bufferWriter{})

	testCases := []struct {
		script string
		errstr string
	}{
		{`expect_expr("tl_local_int", 1)`, "tl_local_int: expected 1 got 322"},
		{`expect_expr("tl_local_int", "322")`, ""},
		{`expect_expr("tl_local_int + 1", 323, result_type="int")`, ""},
		{`expect_expr("*tl_local_ptr", 322, "int")`, ""},
		{`expect_expr("tl_local_int", 322, result_type="long")`, "tl_local_int: expected type long got int"},
		{`expect_expr("0x10", 16, result_type="int")`, "expected type int got untyped int"},
		{`expect_error("tl_local_int", ["x"])`, "expected error, got 322"},
		{`expect_error("foo_tls", ["No TLS data", "bogus"])`, "does not contain \"bogus\""},
		{`expect_error("foo_tls", ["No TLS data"])`, ""},
		{`eval("bar_tls")`, "no TLS block for module libbar.so in this thread"},
		{`eval("tl_local_int", thread=2)`, "thread is not stopped"},
		{`resolve("storage")`, "storage is not a thread-local variable"},
		{`resolve("nosuchvar")`, "could not find symbol value for nosuchvar"},
		{`resume(); resume()`, "process exited"},
	}

	for _, tc := range testCases {
		_, err := env.Execute("test.star", tc.script, "", nil)
		switch {
		case tc.errstr == "" && err != nil:
			t.Errorf("%s: unexpected error %v", tc.script, err)
		case tc.errstr != "" && err == nil:
			t.Errorf("%s: expected error", tc.script)
		case tc.errstr != "" && !strings.Contains(err.Error(), tc.errstr):
			t.Errorf("%s: error %q does not contain %q", tc.script, err, tc.errstr)
		}
	}
}

func TestDecoratedError(t *testing.T) {
	ctx := newFakeContext(t, protest.ThreadLocal(t))
	env := New(ctx, &bufferWriter{})
	_, err := env.Execute("test.star", "x = 1\nresolve(\"foo_tls\")\neval(\"foo_tls\")\n", "", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "test.star:3:5") {
		t.Errorf("error not decorated with position: %v", err)
	}
	if !proc.IsNotInitialized(err) {
		t.Errorf("decorated error does not wrap the TLS error: %v", err)
	}
}

func TestScriptCommands(t *testing.T) {
	ctx := newFakeContext(t, protest.ThreadLocal(t))
	out := &bufferWriter{}
	env := New(ctx, out)

	script := `
def command_show(args):
	"prints a variable"
	print(eval(args).Value)

def main():
	tlsvar_command("show tl_local_int | show 'tl_global_int + 1'")
`
	if _, err := env.Execute("cmds.star", script, "main", nil); err != nil {
		t.Fatal(err)
	}
	if _, ok := ctx.cmds["show"]; !ok {
		t.Fatalf("command not registered")
	}
	if len(ctx.calls) != 2 || ctx.calls[1] != "show tl_global_int + 1" {
		t.Errorf("wrong calls %q", ctx.calls)
	}
	if got := out.String(); got != "322\n124\n" {
		t.Errorf("unexpected output %q", got)
	}

	if _, err := env.Execute("cmds.star", "tlsvar_command(\"show `ls`\")", "", nil); err == nil {
		t.Errorf("backtick accepted")
	}
}

func TestSplitCommands(t *testing.T) {
	cmds, err := splitCommands(`resolve tl_local_int | eval "tl_local_int + 1"`)
	if err != nil {
		t.Fatal(err)
	}
	if len(cmds) != 2 || cmds[0] != "resolve tl_local_int" || cmds[1] != "eval tl_local_int + 1" {
		t.Errorf("wrong commands %q", cmds)
	}
}

type fakeLineReader struct {
	lines   []string
	history []string
}

func (rl *fakeLineReader) Prompt(prompt string) (string, error) {
	if len(rl.lines) == 0 {
		return "", io.EOF
	}
	line := rl.lines[0]
	rl.lines = rl.lines[1:]
	return line, nil
}

func (rl *fakeLineReader) AppendHistory(item string) {
	rl.history = append(rl.history, item)
}

func TestREPL(t *testing.T) {
	ctx := newFakeContext(t, protest.ThreadLocal(t))
	out := &bufferWriter{}
	env := New(ctx, out)

	rl := &fakeLineReader{lines: []string{
		`eval("tl_local_int + 1").Value`,
		`def twice(x):`,
		`	return 2 * eval(x).Value`,
		``,
		`twice("tl_global_int")`,
		`Answer = 42`,
		`:print tl_local_int`,
		`eval("bar_tls")`,
		`exit`,
	}}
	if err := env.repl(rl); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	for _, substr := range []string{"323\n", "246\n", "no TLS block for module libbar.so"} {
		if !strings.Contains(got, substr) {
			t.Errorf("output %q does not contain %q", got, substr)
		}
	}
	if len(ctx.calls) != 1 || ctx.calls[0] != "print tl_local_int" {
		t.Errorf("wrong terminal commands %q", ctx.calls)
	}
	if _, ok := env.env["Answer"]; !ok {
		t.Errorf("capitalized global not exported")
	}
	if len(rl.history) != 8 {
		t.Errorf("wrong history %q", rl.history)
	}
}
