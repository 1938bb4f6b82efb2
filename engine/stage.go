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

// Package engine runs pipelines of stages over many samples: a fan-out
// runs one stage per sample on a bounded pool, a barrier verifies that
// all of them produced their outputs, and an aggregate stage reduces
// the pooled outputs.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/exascience/elmeta/internal"
)

// PoolUnit is the unit name of aggregate stages.
const PoolUnit = "pool"

const instrumentationName = "github.com/exascience/elmeta/engine"

// Config holds the settings of an Engine.
type Config struct {
	// PoolSize bounds the number of units that run at the same time.
	// Zero means runtime.GOMAXPROCS(0).
	PoolSize int

	// OutputDir is where workflows put their outputs.
	OutputDir string

	// AtomicOutputs requests that terminal outputs only appear once
	// they are complete.
	AtomicOutputs bool

	RunID  uuid.UUID
	Logger zerolog.Logger
	Tracer trace.Tracer
	Meter  metric.Meter
}

// A Runner performs the work of a stage.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context) error

// Run calls f(ctx).
func (f RunnerFunc) Run(ctx context.Context) error {
	return f(ctx)
}

type serial []Runner

func (runners serial) Run(ctx context.Context) error {
	for _, r := range runners {
		if err := r.Run(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Serial returns a Runner that runs the given runners one after the
// other, stopping at the first error.
func Serial(runners ...Runner) Runner {
	return serial(runners)
}

type toolRunner struct {
	tool internal.Tool
	vars map[string]string
}

func (t toolRunner) Run(ctx context.Context) error {
	return t.tool.Run(ctx, t.vars)
}

// Tool returns a Runner that invokes an external tool with the given
// placeholder values.
func Tool(tool internal.Tool, vars map[string]string) Runner {
	return toolRunner{tool: tool, vars: vars}
}

// A Stage is one unit of work: a runner with declared input and output
// files. Unit names the sample the stage works on, or PoolUnit.
type Stage struct {
	Name    string
	Unit    string
	Inputs  []string
	Outputs []string
	Runner  Runner
}

func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Execute checks that all inputs exist, creates the directories of the
// outputs, and runs the stage. Existing outputs are overwritten. Runner
// errors and panics are returned as a StageExecutionError.
func (s Stage) Execute(ctx context.Context) (err error) {
	for _, input := range s.Inputs {
		if !internal.Exists(input) {
			return &StageInputMissingError{Stage: s.Name, Unit: s.Unit, Path: input}
		}
	}
	for _, output := range s.Outputs {
		if err := os.MkdirAll(filepath.Dir(output), 0700); err != nil {
			return &StageExecutionError{Stage: s.Name, Unit: s.Unit, Err: err}
		}
	}
	if s.Runner == nil {
		return nil
	}
	defer func() {
		if p := recover(); p != nil {
			err = &StageExecutionError{Stage: s.Name, Unit: s.Unit, Err: fmt.Errorf("panic: %v\n%s", p, debug.Stack())}
		}
	}()
	if err := s.Runner.Run(ctx); err != nil {
		return &StageExecutionError{Stage: s.Name, Unit: s.Unit, Err: err}
	}
	return nil
}

// An Engine runs stages according to its Config.
type Engine struct {
	cfg      Config
	units    metric.Int64Counter
	duration metric.Float64Histogram
}

// New creates an Engine. Missing settings get defaults: the pool size
// from GOMAXPROCS, a fresh run id, and the global tracer and meter
// providers.
func New(cfg Config) (*Engine, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = runtime.GOMAXPROCS(0)
	}
	if cfg.RunID == uuid.Nil {
		cfg.RunID = uuid.New()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(instrumentationName)
	}
	if cfg.Meter == nil {
		cfg.Meter = otel.Meter(instrumentationName)
	}
	cfg.Logger = cfg.Logger.With().Str("run", cfg.RunID.String()).Logger()
	units, err := cfg.Meter.Int64Counter("elmeta.units",
		metric.WithDescription("Number of finished units, by status."))
	if err != nil {
		return nil, err
	}
	duration, err := cfg.Meter.Float64Histogram("elmeta.unit.duration",
		metric.WithDescription("Duration of units."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, units: units, duration: duration}, nil
}

// Config returns the effective configuration of the engine.
func (e *Engine) Config() Config {
	return e.cfg
}

// Logger returns the logger of the engine.
func (e *Engine) Logger() *zerolog.Logger {
	return &e.cfg.Logger
}
