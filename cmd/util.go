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

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/exascience/elmeta/config"
	"github.com/exascience/elmeta/utils"
)

// ProgramMessage is the first line printed when the elmeta binary is
// called.
var ProgramMessage string

func init() {
	ProgramMessage = fmt.Sprint(
		"\n", utils.ProgramName, " version ", utils.ProgramVersion,
		" compiled with ", runtime.Version(),
		" - see ", utils.ProgramURL, " for more information.\n",
	)
}

// HelpMessage is printed to show the --help flag
const HelpMessage = "Print command details:\n" +
	"[--help]\n"

// parseFlags parses the arguments after the command name. Positional
// arguments remain in flags.Args().
func parseFlags(flags *pflag.FlagSet, requiredArgs int, help string) {
	if len(os.Args) < requiredArgs {
		fmt.Fprintln(os.Stderr, "Incorrect number of parameters.")
		fmt.Fprint(os.Stderr, help)
		os.Exit(1)
	}
	flags.SetOutput(io.Discard)
	if err := flags.Parse(os.Args[2:]); err != nil {
		x := 0
		if !errors.Is(err, pflag.ErrHelp) {
			fmt.Fprintln(os.Stderr, err)
			x = 1
		}
		fmt.Fprint(os.Stderr, help)
		os.Exit(x)
	}
}

func checkFile(parameter, format string, v ...interface{}) error {
	if parameter != "" {
		return fmt.Errorf(format+" for command line parameter %v", append(v, parameter)...)
	}
	return fmt.Errorf(format, v...)
}

func checkExist(parameter, filename string) error {
	if len(filename) == 0 {
		return checkFile(parameter, "missing filename")
	}
	if filename[0] == '-' {
		return checkFile(parameter, "missing filename before %v", filename)
	}
	if _, err := os.Stat(filename); err == nil {
		return nil
	} else if os.IsNotExist(err) {
		return checkFile(parameter, "file %v does not exist", filename)
	} else if os.IsPermission(err) {
		return checkFile(parameter, "no permission to read file %v", filename)
	} else {
		return checkFile(parameter, "error %v when trying to access file %v", err, filename)
	}
}

func checkCreate(parameter, filename string) error {
	if len(filename) == 0 {
		return checkFile(parameter, "missing filename")
	}
	if filename[0] == '-' {
		return checkFile(parameter, "missing filename before %v", filename)
	}
	if _, err := os.Stat(filename); err == nil {
		// Assume that the file has been written by previous elmeta runs, and can be overwritten.
		return nil
	}
	err := os.MkdirAll(filepath.Dir(filename), 0700)
	if err == nil {
		err = os.WriteFile(filename, nil, 0666)
	}
	if err != nil {
		if os.IsPermission(err) {
			return checkFile(parameter, "no permission to create file %v", filename)
		}
		return checkFile(parameter, "error %v when trying to create file %v", err, filename)
	}
	_ = os.Remove(filename)
	return nil
}

func createLogFilename() string {
	t := time.Now()
	zone, _ := t.Zone()
	return fmt.Sprintf("logs/elmeta/elmeta-%d-%02d-%02d-%02d-%02d-%02d-%09d-%v.log", t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), zone)
}

func newLogger(w io.Writer, cfg config.Log) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("%w, while setting the log level", err)
	}
	if strings.ToLower(cfg.Format) == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

// setLogOutput returns a logger that writes to stderr. If a log path
// is configured, stderr is redirected to a fresh log file under that
// path, so output of external tools lands in the file as well, and the
// logger writes both to the file and the original stderr.
func setLogOutput(cfg config.Log) (zerolog.Logger, error) {
	if cfg.Path == "" {
		return newLogger(os.Stderr, cfg)
	}
	fullPath := filepath.Join(cfg.Path, createLogFilename())
	if err := os.MkdirAll(filepath.Dir(fullPath), 0700); err != nil {
		return zerolog.Nop(), err
	}
	f, err := os.Create(fullPath)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("%w, while creating log file", err)
	}
	fmt.Fprintln(f, ProgramMessage)

	orgStderr, err := unix.Dup(2)
	if err != nil {
		return zerolog.Nop(), err
	}
	ferr := os.NewFile(uintptr(orgStderr), "/dev/stderr")
	if err := unix.Dup2(int(f.Fd()), 2); err != nil {
		return zerolog.Nop(), err
	}

	logger, err := newLogger(io.MultiWriter(f, ferr), cfg)
	if err != nil {
		return logger, err
	}
	logger.Info().Str("path", fullPath).Msg("Created log file")
	logger.Info().Strs("args", os.Args).Msg("Command line")
	return logger, nil
}

func timedRun(logger zerolog.Logger, profile, msg string, f func() error) error {
	if profile != "" {
		file, err := os.Create(profile)
		if err != nil {
			return fmt.Errorf("%w, while creating profile %v", err, profile)
		}
		defer func() {
			_ = file.Close()
		}()
		if err := pprof.StartCPUProfile(file); err != nil {
			return err
		}
		defer pprof.StopCPUProfile()
	}
	logger.Info().Msg(msg)
	start := time.Now()
	defer func() {
		logger.Info().Dur("elapsed", time.Since(start)).Msg("Elapsed time")
	}()
	return f()
}
