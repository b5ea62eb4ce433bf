package starbind

// Code in this file is derived from go.starlark.net/repl/repl.go
// Which is licensed under the following copyright:
//
// Copyright (c) 2017 The Bazel Authors.  All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are
// met:
//
// 1. Redistributions of source code must retain the above copyright
//    notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
//    notice, this list of conditions and the following disclaimer in the
//    documentation and/or other materials provided with the
//    distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
//    contributors may be used to endorse or promote products derived
//    from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS
// "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT
// LIMITED TO, THE IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR
// A PARTICULAR PURPOSE ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT
// HOLDER OR CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT
// LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR SERVICES; LOSS OF USE,
// DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER CAUSED AND ON ANY
// THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT
// (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

import (
	"fmt"
	"io"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/go-delve/liner"
)

const (
	normalPrompt = ">>> "
	extraPrompt  = "... "

	exitCommand = "exit"
	// Lines starting with commandEscape are run as terminal commands.
	commandEscape = ":"
)

// lineReader is the part of liner.State used by the REPL.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

type replSession struct {
	env     *Env
	rl      lineReader
	thread  *starlark.Thread
	globals starlark.StringDict
	eof     bool
}

// REPL executes a read, eval, print loop.
func (env *Env) REPL() error {
	rl := liner.NewLiner()
	defer rl.Close()
	return env.repl(rl)
}

func (env *Env) repl(rl lineReader) error {
	s := &replSession{env: env, rl: rl, thread: env.newThread(), globals: starlark.StringDict{}}
	for k, v := range env.env {
		s.globals[k] = v
	}
	for !s.eof {
		if err := isCancelled(s.thread); err != nil {
			return err
		}
		if err := s.step(); err != nil {
			return err
		}
	}
	fmt.Fprintln(env.out)
	return env.exportGlobals(s.globals)
}

// readline reads the next line of the current statement. The first line
// of a statement may be a terminal command, which is run immediately.
func (s *replSession) readline(prompt *string) ([]byte, error) {
	out := s.env.out
	line, err := s.rl.Prompt(*prompt)
	out.Echo(*prompt + line)
	if err != nil {
		if err == io.EOF {
			s.eof = true
		}
		return nil, err
	}
	if line == exitCommand {
		s.eof = true
		return nil, io.EOF
	}
	s.rl.AppendHistory(line)
	if *prompt == normalPrompt && strings.HasPrefix(line, commandEscape) {
		if err := s.env.ctx.CallCommand(strings.TrimPrefix(line, commandEscape)); err != nil {
			fmt.Fprintln(out, err)
		}
		return []byte("\n"), nil
	}
	*prompt = extraPrompt
	return []byte(line + "\n"), nil
}

// step reads, evaluates and prints one statement. Only failures of the
// line reader are returned, starlark errors are printed.
func (s *replSession) step() error {
	out := s.env.out
	defer out.Flush()

	prompt := normalPrompt
	f, err := syntax.ParseCompoundStmt("<stdin>", func() ([]byte, error) { return s.readline(&prompt) })
	switch {
	case err != nil && s.eof:
		return nil
	case err == io.EOF:
		return err
	case err != nil:
		printError(out, err)
		return nil
	}

	if len(f.Stmts) == 1 {
		if stmt, ok := f.Stmts[0].(*syntax.ExprStmt); ok {
			v, err := starlark.EvalExpr(s.thread, stmt.X, s.globals)
			if err != nil {
				printError(out, err)
			} else if v != starlark.None {
				fmt.Fprintln(out, v)
			}
			return nil
		}
	}

	prog, err := starlark.FileProgram(f, s.globals.Has)
	if err != nil {
		printError(out, err)
		return nil
	}
	// Globals defined by the statement stay visible to the next ones, even
	// if its execution failed halfway.
	res, err := prog.Init(s.thread, s.globals)
	if err != nil {
		printError(out, err)
	}
	for k, v := range res {
		s.globals[k] = v
	}
	return nil
}

// printError prints the error to out,
// or its backtrace if it is a Starlark evaluation error.
func printError(out io.Writer, err error) {
	if evalErr, ok := err.(*starlark.EvalError); ok {
		fmt.Fprintln(out, evalErr.Backtrace())
	} else {
		fmt.Fprintln(out, err)
	}
}
