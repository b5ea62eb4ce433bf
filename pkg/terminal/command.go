// Package terminal implements functions for responding to user
// input and dispatching to the resolver and the evaluator.
package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/go-delve/tlsvar/pkg/proc"
)

type callContext struct {
	// Thread is the thread commands operate on, 0 for the current thread.
	Thread int
}

type cmdfunc func(t *Term, ctx callContext, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands for tlsvar terminal process.
type Commands struct {
	cmds []command
}

type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"resolve", "r"}, cmdFn: resolveCmd, helpMsg: `Resolves the address of a thread-local variable.

	resolve [-all] <variable>

Prints the address of the current thread's instance of the variable, or the reason it does not exist. With -all the variable is resolved for every thread.`},
		{aliases: []string{"print", "p"}, cmdFn: printVar, helpMsg: `Evaluate an expression.

	print <expression>

Supports integer literals, variables, the unary operators + - ^ *, the binary operators + - * / % and parentheses.`},
		{aliases: []string{"vars"}, cmdFn: vars, helpMsg: `Print variables.

	vars [<regex>]

If regex is specified only the variables matching it will be returned.`},
		{aliases: []string{"threads"}, cmdFn: threads, helpMsg: "Print out info for every traced thread."},
		{aliases: []string{"thread", "tr"}, cmdFn: thread, helpMsg: `Switch to the specified thread.

	thread <id>`},
		{aliases: []string{"continue", "c"}, cmdFn: cont, helpMsg: "Run until the next stop recorded in the snapshot."},
		{aliases: []string{"source"}, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of tlsvar commands.

	source <path>

If path ends with the .star extension it will be interpreted as a starlark script. If path is a single '-' character an interactive starlark interpreter will start instead. Type 'exit' to exit.`},
		{aliases: []string{"transcript"}, cmdFn: transcript, helpMsg: `Appends command output to a file.

	transcript [-t] [-x] <output file>
	transcript -off

Output of tlsvar's command is appended to the specified output file. If '-t' is specified and the output file exists it is truncated. If '-x' is specified output to stdout is suppressed and tlsvar's output will only go to the output file.

The command 'transcript -off' can be used to stop transcribing.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: "Exit the debugger."},
	}

	sort.Sort(byFirstAlias(c.cmds))
	return c
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
// If the command is an empty string it will do nothing.
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// CallWithContext takes a command and a context that command should be executed in.
func (c *Commands) CallWithContext(cmdstr string, t *Term, ctx callContext) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname)(t, ctx, args)
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	return c.CallWithContext(cmdstr, t, callContext{})
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

var errNoCmd = errors.New("command not available")

func noCmdAvailable(t *Term, ctx callContext, args string) error {
	return errNoCmd
}

func nullCommand(t *Term, ctx callContext, args string) error {
	return nil
}

func (c *Commands) help(t *Term, ctx callContext, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return errNoCmd
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 0, '-', 0)
	for _, cmd := range c.cmds {
		h := cmd.helpMsg
		if idx := strings.Index(h, "\n"); idx >= 0 {
			h = h[:idx]
		}
		if len(cmd.aliases) > 1 {
			fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
		} else {
			fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

func resolveCmd(t *Term, ctx callContext, args string) error {
	all := false
	if rest := strings.TrimPrefix(args, "-all"); rest != args {
		all = true
		args = strings.TrimSpace(rest)
	}
	if args == "" {
		return errors.New("not enough arguments")
	}
	tids := []int{ctx.Thread}
	if all {
		tids = t.Threads()
	}
	for _, tid := range tids {
		scope, err := t.Scope(tid)
		if err != nil {
			return err
		}
		res, err := resolveVar(scope, args)
		if err != nil {
			if all && errors.Is(err, proc.ErrThreadRunning) {
				fmt.Fprintf(t.stdout, "%s %v\n", args, err)
				continue
			}
			return err
		}
		fmt.Fprintln(t.stdout, FormatResult(args, scope.Thread.ID, res, t.color))
	}
	return nil
}

// resolveVar resolves the thread-local variable name in scope.
func resolveVar(scope *proc.EvalScope, name string) (proc.Result, error) {
	sym, ok := scope.Symbols.LookupSymbol(name)
	if !ok {
		return proc.Result{}, fmt.Errorf("could not find symbol value for %s", name)
	}
	desc, tls, err := sym.TLSDescriptor(scope.Resolver.PtrSize())
	if err != nil {
		return proc.Result{}, fmt.Errorf("%s: %v", name, err)
	}
	if !tls {
		return proc.Result{}, fmt.Errorf("%s is not a thread-local variable", name)
	}
	return scope.Resolver.Resolve(desc, scope.Thread)
}

func printVar(t *Term, ctx callContext, args string) error {
	if len(args) == 0 {
		return errors.New("not enough arguments")
	}
	scope, err := t.Scope(ctx.Thread)
	if err != nil {
		return err
	}
	v, err := scope.EvalExpression(args)
	if err != nil {
		return err
	}
	fmt.Fprintln(t.stdout, v.String())
	return nil
}

func vars(t *Term, ctx callContext, args string) error {
	var re *regexp.Regexp
	if args != "" {
		var err error
		re, err = regexp.Compile(args)
		if err != nil {
			return err
		}
	}
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 4, 4, 2, ' ', 0)
	for _, name := range t.proc.Symbols() {
		if re != nil && !re.MatchString(name) {
			continue
		}
		sym, _ := t.proc.LookupSymbol(name)
		kind := "global"
		if _, tls, _ := sym.TLSDescriptor(t.resolver.PtrSize()); tls {
			kind = "thread-local"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, sym.Type, sym.Module, kind)
	}
	return w.Flush()
}

func threads(t *Term, ctx callContext, args string) error {
	for _, tid := range t.Threads() {
		prefix := "  "
		if tid == t.thread {
			prefix = "* "
		}
		state := "stopped"
		if !t.proc.Stopped(tid) {
			state = "running"
		}
		fmt.Fprintf(t.stdout, "%sThread %d %s\n", prefix, tid, state)
	}
	return nil
}

func thread(t *Term, ctx callContext, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("you must specify a thread")
	}
	tid, err := strconv.Atoi(args)
	if err != nil {
		return err
	}
	if !t.hasThread(tid) {
		return fmt.Errorf("no thread with id %d", tid)
	}
	old := t.thread
	t.thread = tid
	fmt.Fprintf(t.stdout, "Switched from %d to %d\n", old, tid)
	return nil
}

func cont(t *Term, ctx callContext, args string) error {
	if err := t.Resume(); err != nil {
		return err
	}
	if !t.hasThread(t.thread) {
		t.thread = t.Threads()[0]
	}
	t.Println("> ", fmt.Sprintf("stopped, stop %d, thread %d", t.proc.StopID(), t.thread))
	return nil
}

func (c *Commands) sourceCommand(t *Term, ctx callContext, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("wrong number of arguments: source <filename>")
	}

	if args == "-" {
		return t.starlarkEnv.REPL()
	}

	if filepath.Ext(args) == ".star" {
		_, err := t.starlarkEnv.Execute(args, nil, "main", nil)
		return err
	}

	return c.executeFile(t, args)
}

func transcript(t *Term, ctx callContext, args string) error {
	argv := strings.Fields(args)
	truncate := false
	fileOnly := false
	disable := false
	path := ""
	for _, arg := range argv {
		switch arg {
		case "-x":
			fileOnly = true
		case "-t":
			truncate = true
		case "-off":
			disable = true
		default:
			if path != "" || strings.HasPrefix(arg, "-") {
				return fmt.Errorf("unrecognized option %q", arg)
			}
			path = arg
		}
	}

	if disable {
		if path != "" {
			return errors.New("-o option specified with an output path")
		}
		return t.stdout.CloseTranscript()
	}

	if path == "" {
		return errors.New("no output path specified")
	}

	flags := os.O_APPEND | os.O_WRONLY | os.O_CREATE
	if truncate {
		flags |= os.O_TRUNC
	}
	fh, err := os.OpenFile(path, flags, 0660)
	if err != nil {
		return err
	}

	if err := t.stdout.CloseTranscript(); err != nil {
		return err
	}

	t.stdout.TranscribeTo(fh, fileOnly)
	return nil
}

// ExitRequestError is returned when the user
// exits tlsvar.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, ctx callContext, args string) error {
	return ExitRequestError{}
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}
