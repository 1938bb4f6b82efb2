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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/exascience/elmeta/config"
	"github.com/exascience/elmeta/engine"
	"github.com/exascience/elmeta/manifest"
	"github.com/exascience/elmeta/workflows"
)

// RunHelp is the help string for the run command.
const RunHelp = "run parameters:\n" +
	"elmeta run [--config file]\n" +
	"[--env-file file]\n" +
	"[--workflow name] [--manifest file] [--output-dir path]\n" +
	"[--pool-size nr]\n" +
	"[--atomic-outputs]\n" +
	"[--log-level level] [--log-format console|json] [--log-path path]\n" +
	"[--dry-run]\n" +
	"[--profile file]\n"

// printFailures lists the failed units of a run, one per line, with
// the kind of their error.
func printFailures(w io.Writer, report *engine.Report) {
	if len(report.Failures) > 0 {
		fmt.Fprintln(w, "Failed samples:")
		for _, f := range report.Failures {
			fmt.Fprintf(w, "%v\t%v\t%v\t%v\n", f.Round, f.Unit, engine.Kind(f.Err), f.Err)
		}
	}
	if report.Stopped == nil {
		return
	}
	if _, ok := report.Stopped.(*engine.RoundError); ok {
		return
	}
	for _, f := range report.Failures {
		if errors.Is(report.Stopped, f.Err) {
			return
		}
	}
	fmt.Fprintf(w, "Run stopped: %v: %v\n", engine.Kind(report.Stopped), report.Stopped)
}

// Run implements the elmeta run command.
func Run() error {
	var (
		dryRun  bool
		profile string
	)
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	config.AddFlags(flags)
	flags.BoolVar(&dryRun, "dry-run", false, "check configuration and manifest without running")
	flags.StringVar(&profile, "profile", "", "write a CPU profile to this file")
	parseFlags(flags, 2, RunHelp)
	if flags.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Cannot parse remaining parameters:", flags.Args())
		fmt.Fprint(os.Stderr, RunHelp)
		os.Exit(1)
	}

	cfg, err := config.Load(config.WithFlags(flags), config.WithWorkflows(workflows.Names()...))
	if err != nil {
		return err
	}
	logger, err := setLogOutput(cfg.Log)
	if err != nil {
		return err
	}

	// sanity checks

	manifestPath, err := cfg.ManifestPath()
	if err != nil {
		return err
	}
	if err := checkExist("--manifest", manifestPath); err != nil {
		return err
	}
	if profile != "" {
		if err := checkCreate("--profile", profile); err != nil {
			return err
		}
	}
	samples, err := manifest.Load(manifestPath)
	if err != nil {
		return err
	}
	w, err := workflows.Lookup(cfg.Workflow)
	if err != nil {
		return err
	}
	plan, err := w.Plan(&workflows.Env{Config: cfg})
	if err != nil {
		return err
	}

	runID := uuid.New()
	logger.Info().
		Str("run", runID.String()).
		Str("workflow", w.Name).
		Str("manifest", manifestPath).
		Strs("samples", manifest.IDs(samples)).
		Int("pool-size", cfg.PoolSize).
		Msg("Executing command")
	if dryRun {
		phases := make([]string, len(plan))
		for i, phase := range plan {
			phases[i] = phase.Name
		}
		fmt.Fprintf(os.Stdout, "%v: %v samples, phases %v\n", w.Name, len(samples), strings.Join(phases, ", "))
		return nil
	}

	e, err := engine.New(engine.Config{
		PoolSize:      cfg.PoolSize,
		OutputDir:     cfg.OutputDir,
		AtomicOutputs: cfg.AtomicOutputs,
		RunID:         runID,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	var report *engine.Report
	if err := timedRun(logger, profile, "Running workflow "+w.Name, func() (err error) {
		report, err = e.Run(ctx, plan, samples)
		if report != nil {
			// failures are listed from the report below
			return nil
		}
		return err
	}); err != nil {
		return err
	}
	printFailures(os.Stderr, report)
	return report.Err()
}
