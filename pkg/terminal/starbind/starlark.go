package starbind

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/cosiner/argv"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"

	"github.com/go-delve/tlsvar/pkg/logflags"
	"github.com/go-delve/tlsvar/pkg/proc"
)

const (
	evalBuiltinName       = "eval"
	resolveBuiltinName    = "resolve"
	threadsBuiltinName    = "threads"
	resumeBuiltinName     = "resume"
	expectExprBuiltinName = "expect_expr"
	expectErrBuiltinName  = "expect_error"
	commandBuiltinName    = "tlsvar_command"
	helpBuiltinName       = "help"
	commandPrefix         = "command_"
	tlsvarContextName     = "tlsvar_context"
)

func init() {
	resolve.AllowNestedDef = true
	resolve.AllowLambda = true
	resolve.AllowSet = true
	resolve.AllowRecursion = true
	resolve.AllowGlobalReassign = true
}

// Context is the debugger state scripts operate on.
type Context interface {
	// Scope returns the evaluation scope of thread tid, or of the current
	// thread if tid is 0.
	Scope(tid int) (*proc.EvalScope, error)
	// Threads returns the ids of the threads of the target.
	Threads() []int
	// Resume continues the target until the next stop.
	Resume() error
	RegisterCommand(name, helpMsg string, cmdfn func(args string) error)
	CallCommand(cmdstr string) error
}

// Env is the environment used to evaluate starlark scripts.
type Env struct {
	env       starlark.StringDict
	doc       map[string]string
	contextMu sync.Mutex
	thread    *starlark.Thread
	cancelfn  context.CancelFunc

	ctx Context
	out EchoWriter
}

// New creates a new starlark binding environment.
func New(ctx Context, out EchoWriter) *Env {
	env := &Env{ctx: ctx, out: out, env: starlark.StringDict{}, doc: map[string]string{}}

	env.builtin(evalBuiltinName, "(Expr, thread=0)", "evaluates Expr on the current thread, or on the specified thread, and returns the resulting variable.", env.evalBuiltin)
	env.builtin(resolveBuiltinName, "(Name, thread=0)", "resolves the thread-local variable Name and returns its status and address.", env.resolveBuiltin)
	env.builtin(threadsBuiltinName, "()", "returns the list of thread ids.", func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackArgs(threadsBuiltinName, args, kwargs); err != nil {
			return nil, err
		}
		ids := env.ctx.Threads()
		r := make([]starlark.Value, len(ids))
		for i := range ids {
			r[i] = starlark.MakeInt(ids[i])
		}
		return starlark.NewList(r), nil
	})
	env.builtin(resumeBuiltinName, "()", "resumes the target until its next stop.", func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackArgs(resumeBuiltinName, args, kwargs); err != nil {
			return nil, err
		}
		return starlark.None, env.ctx.Resume()
	})
	env.builtin(expectExprBuiltinName, "(Expr, Value, result_type=\"\")", "fails if Expr does not evaluate to Value, or to a value of a type other than result_type.", env.expectExprBuiltin)
	env.builtin(expectErrBuiltinName, "(Expr, Substrs)", "fails unless evaluating Expr returns an error containing every string of Substrs.", env.expectErrorBuiltin)
	env.builtin(commandBuiltinName, "(Command)", "executes a terminal command.", func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		argstrs := make([]string, len(args))
		for i := range args {
			a, ok := args[i].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("argument of %s is not a string", commandBuiltinName)
			}
			argstrs[i] = string(a)
		}
		cmds, err := splitCommands(strings.Join(argstrs, " "))
		if err != nil {
			return nil, err
		}
		for _, cmd := range cmds {
			if err := env.ctx.CallCommand(cmd); err != nil {
				return nil, err
			}
		}
		return starlark.None, nil
	})
	env.doc[helpBuiltinName] = helpBuiltinName + "(Object)\n\n" + helpBuiltinName + " prints help for Object."
	env.env[helpBuiltinName] = starlark.NewBuiltin(helpBuiltinName, env.help)

	return env
}

type builtinFn func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

// builtin registers fn as a predeclared function. Errors returned by fn
// are decorated with the position of the caller.
func (env *Env) builtin(name, args, descr string, fn builtinFn) {
	env.doc[name] = name + args + "\n\n" + name + " " + descr
	env.env[name] = starlark.NewBuiltin(name, func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, err
		}
		v, err := fn(thread, args, kwargs)
		return v, decorateError(thread, err)
	})
}

// splitCommands splits cmdline into the commands separated by '|'.
func splitCommands(cmdline string) ([]string, error) {
	v, err := argv.Argv(cmdline,
		func(s string) (string, error) {
			return "", fmt.Errorf("Backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	r := make([]string, 0, len(v))
	for _, w := range v {
		if len(w) == 0 {
			continue
		}
		r = append(r, strings.Join(w, " "))
	}
	return r, nil
}

func (env *Env) scope(tid int) (*proc.EvalScope, error) {
	return env.ctx.Scope(tid)
}

func (env *Env) evalBuiltin(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var expr string
	var tid int
	if err := starlark.UnpackArgs(evalBuiltinName, args, kwargs, "expr", &expr, "thread?", &tid); err != nil {
		return nil, err
	}
	scope, err := env.scope(tid)
	if err != nil {
		return nil, err
	}
	v, err := scope.EvalExpression(expr)
	if err != nil {
		return nil, err
	}
	return variableValue{v}, nil
}

func (env *Env) resolveBuiltin(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var tid int
	if err := starlark.UnpackArgs(resolveBuiltinName, args, kwargs, "name", &name, "thread?", &tid); err != nil {
		return nil, err
	}
	scope, err := env.scope(tid)
	if err != nil {
		return nil, err
	}
	sym, ok := scope.Symbols.LookupSymbol(name)
	if !ok {
		return nil, fmt.Errorf("could not find symbol value for %s", name)
	}
	desc, tls, err := sym.TLSDescriptor(scope.Resolver.PtrSize())
	if err != nil {
		return nil, err
	}
	if !tls {
		return nil, fmt.Errorf("%s is not a thread-local variable", name)
	}
	res, err := scope.Resolver.Resolve(desc, scope.Thread)
	if err != nil {
		return nil, err
	}
	return resultValue{res}, nil
}

func (env *Env) expectExprBuiltin(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		expr, resultType string
		want             starlark.Value
	)
	if err := starlark.UnpackArgs(expectExprBuiltinName, args, kwargs, "expr", &expr, "value", &want, "result_type?", &resultType); err != nil {
		return nil, err
	}
	scope, err := env.scope(0)
	if err != nil {
		return nil, err
	}
	v, err := scope.EvalExpression(expr)
	if err != nil {
		return nil, err
	}
	got := v.String()
	wantstr := want.String()
	if s, ok := want.(starlark.String); ok {
		wantstr = string(s)
	}
	if got != wantstr {
		return nil, fmt.Errorf("%s: expected %s got %s", expr, wantstr, got)
	}
	if resultType != "" && v.Type.String() != resultType {
		return nil, fmt.Errorf("%s: expected type %s got %s", expr, resultType, v.Type)
	}
	return starlark.None, nil
}

func (env *Env) expectErrorBuiltin(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var expr string
	var substrs *starlark.List
	if err := starlark.UnpackPositionalArgs(expectErrBuiltinName, args, kwargs, 2, &expr, &substrs); err != nil {
		return nil, err
	}
	scope, err := env.scope(0)
	if err != nil {
		return nil, err
	}
	v, everr := scope.EvalExpression(expr)
	if everr == nil {
		return nil, fmt.Errorf("%s: expected error, got %s", expr, v)
	}
	for i := 0; i < substrs.Len(); i++ {
		s, ok := substrs.Index(i).(starlark.String)
		if !ok {
			return nil, fmt.Errorf("element %d of substrs is not a string", i)
		}
		if !strings.Contains(everr.Error(), string(s)) {
			return nil, fmt.Errorf("%s: error %q does not contain %q", expr, everr, string(s))
		}
	}
	return starlark.None, nil
}

func (env *Env) help(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	switch len(args) {
	case 0:
		fmt.Fprintln(env.out, "Available builtins:")
		bins := make([]string, 0, len(env.env))
		for name, value := range env.env {
			if _, ok := value.(*starlark.Builtin); ok {
				bins = append(bins, name)
			}
		}
		sort.Strings(bins)
		for _, bin := range bins {
			fmt.Fprintf(env.out, "\t%s\n", bin)
		}
	case 1:
		switch x := args[0].(type) {
		case *starlark.Builtin:
			if env.doc[x.Name()] != "" {
				fmt.Fprintf(env.out, "%s\n", env.doc[x.Name()])
			} else {
				fmt.Fprintf(env.out, "no help for builtin %s\n", x.Name())
			}
		case *starlark.Function:
			fmt.Fprintf(env.out, "user defined function %s\n", x.Name())
			if doc := x.Doc(); doc != "" {
				fmt.Fprintln(env.out, doc)
			}
		default:
			fmt.Fprintf(env.out, "no help for object of type %T\n", args[0])
		}
	default:
		fmt.Fprintln(env.out, "wrong number of arguments ", len(args))
	}
	return starlark.None, nil
}

// Redirect redirects starlark output to out.
func (env *Env) Redirect(out EchoWriter) {
	env.out = out
	if env.thread != nil {
		env.thread.Print = env.printFunc()
	}
}

func (env *Env) printFunc() func(_ *starlark.Thread, msg string) {
	return func(_ *starlark.Thread, msg string) { fmt.Fprintln(env.out, msg) }
}

// Execute executes a script. Path is the name of the file to execute and
// source is the source code to execute.
// Source can be either a []byte, a string or a io.Reader. If source is nil
// Execute will execute the file specified by 'path'.
// After the file is executed if a function named mainFnName exists it will be called, passing args to it.
func (env *Env) Execute(path string, source interface{}, mainFnName string, args []interface{}) (_ starlark.Value, _err error) {
	defer func() {
		err := recover()
		if err == nil {
			return
		}
		_err = fmt.Errorf("panic executing starlark script: %v", err)
		fmt.Fprintf(env.out, "panic executing starlark script: %v\n", err)
		for i := 0; ; i++ {
			pc, file, line, ok := runtime.Caller(i)
			if !ok {
				break
			}
			fname := "<unknown>"
			fn := runtime.FuncForPC(pc)
			if fn != nil {
				fname = fn.Name()
			}
			fmt.Fprintf(env.out, "%s\n\tin %s:%d\n", fname, file, line)
		}
	}()

	if logflags.Script() {
		logflags.ScriptLogger().Debugf("executing %s", path)
	}

	thread := env.newThread()
	globals, err := starlark.ExecFile(thread, path, source, env.env)
	if err != nil {
		return starlark.None, err
	}

	err = env.exportGlobals(globals)
	if err != nil {
		return starlark.None, err
	}

	return env.callMain(thread, globals, mainFnName, args)
}

// exportGlobals saves globals with a name starting with a capital letter
// into the environment and creates commands from globals with a name
// starting with "command_"
func (env *Env) exportGlobals(globals starlark.StringDict) error {
	for name, val := range globals {
		switch {
		case strings.HasPrefix(name, commandPrefix):
			env.createCommand(name, val)
		case name[0] >= 'A' && name[0] <= 'Z':
			env.env[name] = val
		}
	}
	return nil
}

// Cancel cancels the execution of a currently running script or function.
func (env *Env) Cancel() {
	if env == nil {
		return
	}
	env.contextMu.Lock()
	if env.cancelfn != nil {
		env.cancelfn()
		env.cancelfn = nil
	}
	if env.thread != nil {
		env.thread.Cancel("user interrupt")
	}
	env.contextMu.Unlock()
}

func (env *Env) newThread() *starlark.Thread {
	thread := &starlark.Thread{
		Print: env.printFunc(),
	}
	env.contextMu.Lock()
	var ctx context.Context
	ctx, env.cancelfn = context.WithCancel(context.Background())
	env.thread = thread
	env.contextMu.Unlock()
	thread.SetLocal(tlsvarContextName, ctx)
	return thread
}

// createCommand registers a starlark function named command_<name> as the
// terminal command <name>. The command line is passed to the function as
// a single string.
func (env *Env) createCommand(name string, val starlark.Value) {
	fnval, ok := val.(*starlark.Function)
	if !ok {
		return
	}

	name = name[len(commandPrefix):]

	helpMsg := fnval.Doc()
	if helpMsg == "" {
		helpMsg = "user defined"
	}

	env.ctx.RegisterCommand(name, helpMsg, func(args string) error {
		var argtuple starlark.Tuple
		if fnval.NumParams() > 0 {
			argtuple = starlark.Tuple{starlark.String(args)}
		}
		_, err := starlark.Call(env.newThread(), fnval, argtuple, nil)
		return err
	})
}

// callMain calls the main function in globals, if one was defined.
func (env *Env) callMain(thread *starlark.Thread, globals starlark.StringDict, mainFnName string, args []interface{}) (starlark.Value, error) {
	if mainFnName == "" {
		return starlark.None, nil
	}
	mainval := globals[mainFnName]
	if mainval == nil {
		return starlark.None, nil
	}
	mainfn, ok := mainval.(*starlark.Function)
	if !ok {
		return starlark.None, fmt.Errorf("%s is not a function", mainFnName)
	}
	if mainfn.NumParams() != len(args) {
		return starlark.None, fmt.Errorf("wrong number of arguments for %s", mainFnName)
	}
	argtuple := make(starlark.Tuple, len(args))
	for i := range args {
		argtuple[i] = toStarlarkValue(args[i])
	}
	return starlark.Call(thread, mainfn, argtuple, nil)
}

func isCancelled(thread *starlark.Thread) error {
	if ctx, ok := thread.Local(tlsvarContextName).(context.Context); ok {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

// decorateError prefixes err with the position of the script line that
// called the builtin. The original error stays reachable with errors.Unwrap.
func decorateError(thread *starlark.Thread, err error) error {
	if err == nil {
		return nil
	}
	var everr *starlark.EvalError
	if errors.As(err, &everr) {
		return err
	}
	pos := thread.CallFrame(1).Pos
	if pos.Col > 0 {
		return fmt.Errorf("%s:%d:%d: %w", pos.Filename(), pos.Line, pos.Col, err)
	}
	return fmt.Errorf("%s:%d: %w", pos.Filename(), pos.Line, err)
}

type EchoWriter interface {
	io.Writer
	Echo(string)
	Flush()
}
