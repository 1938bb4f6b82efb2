// elMeta: a parallel engine for multi-sample sequencing read pipelines.
// Copyright (c) 2026 imec vzw.

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version, and Additional Terms
// (see below).

// This program is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public
// License and Additional Terms along with this program. If not, see
// <https://github.com/ExaScience/elmeta/blob/master/LICENSE.txt>.

package internal

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// A Tool is an external operation invoked with named arguments.
type Tool interface {
	Run(ctx context.Context, vars map[string]string) error
}

// ToolFunc adapts a function to the Tool interface.
type ToolFunc func(ctx context.Context, vars map[string]string) error

// Run calls f(ctx, vars).
func (f ToolFunc) Run(ctx context.Context, vars map[string]string) error {
	return f(ctx, vars)
}

// A Command is an external program described by a template. Each
// argument may contain placeholders of the form {name} that are
// replaced by the variables passed to Run, for example
//
//	usearch -cluster_otus {input} -otus {output}
//
// If Stdout is not empty, it is a path template that receives the
// standard output of the program.
type Command struct {
	Args        []string
	Dir         string
	Stdout      string
	Env         []string
	GracePeriod time.Duration
}

// ParseCommand splits a command line on white space. A trailing
// "> path" redirects standard output to path.
func ParseCommand(line string) Command {
	args := strings.Fields(line)
	if n := len(args); n >= 2 && args[n-2] == ">" {
		return Command{Args: args[:n-2], Stdout: args[n-1]}
	}
	return Command{Args: args}
}

func expand(template string, vars map[string]string) (string, error) {
	var b strings.Builder
	for {
		open := strings.IndexByte(template, '{')
		if open < 0 {
			b.WriteString(template)
			return b.String(), nil
		}
		end := strings.IndexByte(template[open:], '}')
		if end < 0 {
			return "", fmt.Errorf("unterminated placeholder in %v", template)
		}
		end += open
		name := template[open+1 : end]
		value, ok := vars[name]
		if !ok {
			return "", fmt.Errorf("unknown placeholder {%v}", name)
		}
		b.WriteString(template[:open])
		b.WriteString(value)
		template = template[end+1:]
	}
}

// Expand returns the command line with all placeholders replaced.
func (c Command) Expand(vars map[string]string) ([]string, error) {
	if len(c.Args) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	args := make([]string, len(c.Args))
	for i, arg := range c.Args {
		a, err := expand(arg, vars)
		if err != nil {
			return nil, fmt.Errorf("%w, while expanding command %v", err, strings.Join(c.Args, " "))
		}
		args[i] = a
	}
	return args, nil
}

// Run executes the command and waits for it to finish. The program
// runs in its own process group. When ctx is cancelled, the group
// receives SIGTERM, followed by SIGKILL after the grace period.
// On failure the captured standard error is part of the returned
// error.
func (c Command) Run(ctx context.Context, vars map[string]string) (err error) {
	args, err := c.Expand(vars)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if c.Stdout != "" {
		path, err := expand(c.Stdout, vars)
		if err != nil {
			return err
		}
		out, err := CreateOutput(path, false)
		if err != nil {
			return err
		}
		defer func() {
			if err == nil {
				err = out.Commit()
			} else {
				_ = out.Close()
			}
		}()
		cmd.Stdout = out
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
	}
	cmd.WaitDelay = c.GracePeriod
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 5 * time.Second
	}
	if err = cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return fmt.Errorf("%w, while running %v", err, args[0])
		}
		return fmt.Errorf("%w, while running %v: %v", err, args[0], msg)
	}
	return nil
}
