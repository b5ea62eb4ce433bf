package cmds

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/go-delve/tlsvar/pkg/config"
	"github.com/go-delve/tlsvar/pkg/logflags"
	"github.com/go-delve/tlsvar/pkg/proc"
	"github.com/go-delve/tlsvar/pkg/proc/core"
	"github.com/go-delve/tlsvar/pkg/terminal"
	"github.com/go-delve/tlsvar/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// snapshotPath is the snapshot of the stopped process to examine.
	snapshotPath string
	// target overrides the target triple recorded in the snapshot.
	target targetValue
	// initFile is the path to initialization file.
	initFile string

	// thread selects the thread variables are resolved for, 0 is the
	// first thread of the snapshot.
	thread int
	// allThreads resolves variables for every thread.
	allThreads bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const tlsvarCommandLongDesc = `tlsvar resolves thread-local variables of a stopped native process.

Given a snapshot of the process (loaded modules, threads and the memory
holding their TLS directories) tlsvar computes, for each thread, the
address of its instance of a thread-local variable, or reports why the
instance does not exist yet.

See 'tlsvar help snapshot' for the format of snapshot files.`

// targetValue is a pflag.Value accepting only targets with a known TLS ABI.
type targetValue string

func (v *targetValue) String() string { return string(*v) }

func (v *targetValue) Set(s string) error {
	if _, err := proc.TargetPtrSize(s); err != nil {
		return fmt.Errorf("%v (supported: %s)", err, strings.Join(supportedTargets(), ", "))
	}
	*v = targetValue(s)
	return nil
}

func (v *targetValue) Type() string { return "goos/goarch" }

var _ pflag.Value = (*targetValue)(nil)

func supportedTargets() []string {
	r := proc.SupportedTargets()
	sort.Strings(r)
	return r
}

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	var err error
	conf, err = config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	// Main tlsvar root command.
	rootCommand = &cobra.Command{
		Use:           "tlsvar",
		Short:         "tlsvar resolves thread-local variables of stopped processes.",
		Long:          tlsvarCommandLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'tlsvar help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'tlsvar help log').")
	rootCommand.PersistentFlags().StringVarP(&snapshotPath, "snapshot", "s", "", "Snapshot of the stopped process (see 'tlsvar help snapshot').")
	rootCommand.PersistentFlags().Var(&target, "target", "Overrides the target triple of the snapshot.")

	// 'resolve' subcommand.
	resolveCommand := &cobra.Command{
		Use:   "resolve <variable>...",
		Short: "Resolve the address of thread-local variables.",
		Long: `Resolve the address of thread-local variables.

For every variable prints the address of the selected thread's instance of
the variable, or the reason why the thread has no instance of it. The exit
status is 1 if any variable could not be resolved.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide at least one variable")
			}
			if allThreads && thread != 0 {
				return errors.New("--thread and --all are mutually exclusive")
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(execute(func(s *session) error {
				return resolveVariables(s, cmd.OutOrStdout(), args)
			}))
		},
	}
	resolveCommand.Flags().IntVarP(&thread, "thread", "t", 0, "Thread to resolve the variables for.")
	resolveCommand.Flags().BoolVar(&allThreads, "all", false, "Resolve the variables for every thread.")
	rootCommand.AddCommand(resolveCommand)

	// 'eval' subcommand.
	evalCommand := &cobra.Command{
		Use:   "eval <expression>",
		Short: "Evaluate an expression.",
		Long: `Evaluate an expression in the context of a thread.

Supports integer literals, global and thread-local variables, the unary
operators + - ^ *, the binary operators + - * / % and parentheses.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("you must provide exactly one expression")
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(execute(func(s *session) error {
				return evalExpression(s, cmd.OutOrStdout(), args[0])
			}))
		},
	}
	evalCommand.Flags().IntVarP(&thread, "thread", "t", 0, "Thread to evaluate the expression on.")
	rootCommand.AddCommand(evalCommand)

	// 'script' subcommand.
	scriptCommand := &cobra.Command{
		Use:   "script <file>",
		Short: "Run a script against the snapshot.",
		Long: `Run a script against the snapshot.

Files ending in .star are executed as starlark scripts, calling their main
function if they define one. Any other file is read as a list of terminal
commands, one per line.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("you must provide a script")
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(execute(func(s *session) error {
				return s.term().CallCommand("source " + args[0])
			}))
		},
	}
	rootCommand.AddCommand(scriptCommand)

	// 'repl' subcommand.
	replCommand := &cobra.Command{
		Use:   "repl",
		Short: "Examine the snapshot interactively.",
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(execute(func(s *session) error {
				term := s.term()
				term.InitFile = initFile
				_, err := term.Run()
				return err
			}))
		},
	}
	replCommand.Flags().StringVar(&initFile, "init", "", "Init file, executed by the terminal client.")
	rootCommand.AddCommand(replCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tlsvar\n%s\n", version.TlsvarVersion)
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolP("verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "snapshot",
		Short: "Help about the snapshot file format.",
		Long: `A snapshot is a YAML file describing a stopped process:

	target		goos/goarch of the process (` + strings.Join(supportedTargets(), ", ") + `)
	stop-id		identifier of the current stop
	modules		loaded images: name, modid, generation, file-size,
			mem-size, align, static-base
	threads		id, running, registers (fs_base, gs_base,
			tpidr_el0, tpidrro_el0, x18)
	memory		regions: addr plus either bytes (hex) or words
			(pointer sized, little endian)
	variables	name, module, type (int, int *, long...) and
			location (hex DWARF location expression)
	after-resume	list of thread and memory overlays, one applied
			every time the process is resumed

`,
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	resolver	Log TLS resolutions and cache purges
	snapshot	Log snapshot loading and resumes
	eval		Log failed evaluations
	script		Log starlark script execution

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.

`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

// session is a snapshot opened for one command.
type session struct {
	proc     *core.Process
	resolver *proc.Resolver
	conf     *config.Config
}

func openSession() (*session, error) {
	if snapshotPath == "" {
		return nil, errors.New("you must provide a snapshot with --snapshot")
	}
	tgt := string(target)
	if tgt == "" && conf != nil {
		tgt = conf.Target
	}
	p, err := core.OpenSnapshot(snapshotPath, tgt)
	if err != nil {
		return nil, err
	}
	r, err := proc.NewResolver(p, p.Target(), resolverConfig(conf))
	if err != nil {
		return nil, err
	}
	return &session{proc: p, resolver: r, conf: conf}, nil
}

func resolverConfig(conf *config.Config) proc.ResolverConfig {
	if conf != nil && conf.DisableCache {
		return proc.ResolverConfig{}
	}
	return proc.ResolverConfig{CacheSize: conf.GetCacheSize()}
}

func (s *session) term() *terminal.Term {
	return terminal.New(s.proc, s.resolver, s.conf)
}

func (s *session) scope(tid int) (*proc.EvalScope, error) {
	if tid == 0 {
		ids := s.proc.ThreadIDs()
		if len(ids) == 0 {
			return nil, core.ErrNoThread
		}
		tid = ids[0]
	}
	return &proc.EvalScope{Mem: s.proc, Resolver: s.resolver, Thread: proc.ThreadContext{ID: tid}, Symbols: s.proc}, nil
}

// errUnresolved is returned when at least one variable was printed as
// unresolved. The reason was already written next to the variable, so
// execute only sets the exit status.
var errUnresolved = errors.New("some variables could not be resolved")

func resolveVariables(s *session, out io.Writer, names []string) error {
	tids := []int{thread}
	if allThreads {
		tids = s.proc.ThreadIDs()
	}
	failed := false
	for _, name := range names {
		sym, ok := s.proc.LookupSymbol(name)
		if !ok {
			return fmt.Errorf("could not find symbol value for %s", name)
		}
		desc, tls, err := sym.TLSDescriptor(s.resolver.PtrSize())
		if err != nil {
			return fmt.Errorf("%s: %v", name, err)
		}
		if !tls {
			return fmt.Errorf("%s is not a thread-local variable", name)
		}
		for _, tid := range tids {
			scope, err := s.scope(tid)
			if err != nil {
				return err
			}
			res, err := s.resolver.Resolve(desc, scope.Thread)
			if err != nil {
				fmt.Fprintf(out, "%s %v\n", name, err)
				failed = true
				continue
			}
			if res.Status != proc.Resolved {
				failed = true
			}
			fmt.Fprintln(out, terminal.FormatResult(name, scope.Thread.ID, res, false))
		}
	}
	if failed {
		return errUnresolved
	}
	return nil
}

func evalExpression(s *session, out io.Writer, expr string) error {
	scope, err := s.scope(thread)
	if err != nil {
		return err
	}
	v, err := scope.EvalExpression(expr)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, v.String())
	return nil
}

func execute(fn func(*session) error) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	s, err := openSession()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	if err := fn(s); err != nil {
		if !errors.Is(err, errUnresolved) {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
		return 1
	}
	return 0
}
