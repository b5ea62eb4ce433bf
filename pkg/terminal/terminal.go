package terminal

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-delve/liner"

	"github.com/go-delve/tlsvar/pkg/config"
	"github.com/go-delve/tlsvar/pkg/proc"
	"github.com/go-delve/tlsvar/pkg/proc/core"
	"github.com/go-delve/tlsvar/pkg/terminal/starbind"
)

const (
	historyFile string = ".tlsvar_history"
)

// Term represents the terminal running tlsvar.
type Term struct {
	proc     *core.Process
	resolver *proc.Resolver
	conf     *config.Config
	prompt   string
	line     *liner.State
	cmds     *Commands
	color    bool
	stdout   *transcriptWriter
	thread   int
	InitFile string

	starlarkEnv *starbind.Env
}

// New returns a new Term debugging p. The current thread is the first
// thread of the snapshot.
func New(p *core.Process, r *proc.Resolver, conf *config.Config) *Term {
	cmds := DebugCommands()
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}
	if conf == nil {
		conf = &config.Config{}
	}

	w, color := getColorableWriter()

	t := &Term{
		proc:     p,
		resolver: r,
		conf:     conf,
		prompt:   "(tlsvar) ",
		cmds:     cmds,
		color:    color,
		stdout:   &transcriptWriter{w: w},
	}
	if ids := p.ThreadIDs(); len(ids) > 0 {
		t.thread = ids[0]
	}
	t.starlarkEnv = starbind.New(t, t.stdout)
	return t
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	if t.line != nil {
		t.line.Close()
	}
	t.stdout.CloseTranscript()
}

// Run begins running tlsvar in the terminal.
func (t *Term) Run() (int, error) {
	t.line = liner.NewLiner()
	defer t.Close()

	t.line.SetCompleter(func(line string) (c []string) {
		for _, cmd := range t.cmds.cmds {
			for _, alias := range cmd.aliases {
				if strings.HasPrefix(alias, strings.ToLower(line)) {
					c = append(c, alias)
				}
			}
		}
		return
	})

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}

	if f != nil {
		t.line.ReadHistory(f)
		f.Close()
	}
	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("Prompt for input failed.\n")
		}

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
	}
}

// Println prints a line to the terminal.
func (t *Term) Println(prefix, str string) {
	if t.color {
		terminalColorEscapeCode := fmt.Sprintf(terminalHighlightEscapeCode, ansiBlue)
		prefix = fmt.Sprintf("%s%s%s", terminalColorEscapeCode, prefix, terminalResetEscapeCode)
	}
	fmt.Fprintf(t.stdout, "%s%s\n", prefix, str)
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
		return 0, nil
	}
	if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR, 0666); err == nil {
		_, err = t.line.WriteHistory(f)
		if err != nil {
			fmt.Println("readline history error:", err)
		}
		f.Close()
	}
	return 0, nil
}

// Scope implements starbind.Context.
func (t *Term) Scope(tid int) (*proc.EvalScope, error) {
	if tid == 0 {
		tid = t.thread
	}
	if !t.hasThread(tid) {
		return nil, fmt.Errorf("thread %d: %w", tid, core.ErrNoThread)
	}
	return &proc.EvalScope{Mem: t.proc, Resolver: t.resolver, Thread: proc.ThreadContext{ID: tid}, Symbols: t.proc}, nil
}

func (t *Term) hasThread(tid int) bool {
	for _, id := range t.proc.ThreadIDs() {
		if id == tid {
			return true
		}
	}
	return false
}

// Threads implements starbind.Context.
func (t *Term) Threads() []int {
	return t.proc.ThreadIDs()
}

// Resume implements starbind.Context.
func (t *Term) Resume() error {
	return t.proc.Resume()
}

// RegisterCommand implements starbind.Context.
func (t *Term) RegisterCommand(name, helpMsg string, cmdfn func(args string) error) {
	t.cmds.Register(name, func(_ *Term, _ callContext, args string) error {
		return cmdfn(args)
	}, helpMsg)
}

// CallCommand implements starbind.Context.
func (t *Term) CallCommand(cmdstr string) error {
	return t.cmds.Call(cmdstr, t)
}
