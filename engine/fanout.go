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

package engine

import (
	"context"
	"path/filepath"
	"sort"
	"time"

	"github.com/exascience/pargo/pipeline"
	"github.com/willf/bitset"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/exascience/elmeta/internal"
	"github.com/exascience/elmeta/manifest"
)

// A Template creates the stage of one sample.
type Template func(manifest.Sample) Stage

// A Round is the result of a fan-out: its stages and the error of each
// unit, in sample order.
type Round struct {
	Name   string
	Stages []Stage
	Errors []error
	failed *bitset.BitSet
}

// Failed reports whether the unit with the given index failed.
func (r *Round) Failed(i int) bool {
	return r.failed.Test(uint(i))
}

// Succeeded returns the units that did not fail.
func (r *Round) Succeeded() []string {
	units := make([]string, 0, len(r.Stages)-int(r.failed.Count()))
	for i, s := range r.Stages {
		if !r.Failed(i) {
			units = append(units, s.Unit)
		}
	}
	return units
}

// Failures returns the failed units with their errors.
func (r *Round) Failures() []UnitFailure {
	var failures []UnitFailure
	for i, ok := r.failed.NextSet(0); ok; i, ok = r.failed.NextSet(i + 1) {
		failures = append(failures, UnitFailure{Round: r.Name, Unit: r.Stages[i].Unit, Err: r.Errors[i]})
	}
	return failures
}

// Err returns a RoundError if any unit failed.
func (r *Round) Err() error {
	if r.failed.Count() == 0 {
		return nil
	}
	return &RoundError{Round: r.Name, Failures: r.Failures()}
}

// CheckCollisions returns a FilenameCollisionError if two stages share
// a unit name or declare the same output.
func CheckCollisions(stages []Stage) error {
	units := make(map[string]bool, len(stages))
	owners := make(map[string][]string)
	for _, s := range stages {
		if units[s.Unit] {
			return &FilenameCollisionError{Units: []string{s.Unit, s.Unit}}
		}
		units[s.Unit] = true
		for _, output := range s.Outputs {
			path := filepath.Clean(output)
			owners[path] = append(owners[path], s.Unit)
		}
	}
	var paths []string
	for path, us := range owners {
		if len(us) > 1 {
			paths = append(paths, path)
		}
	}
	if len(paths) == 0 {
		return nil
	}
	sort.Strings(paths)
	return &FilenameCollisionError{Path: paths[0], Units: owners[paths[0]]}
}

func (e *Engine) runUnit(ctx context.Context, s Stage) error {
	logger := e.cfg.Logger.With().Str("phase", s.Name).Str("sample", s.Unit).Logger()
	ctx, span := e.cfg.Tracer.Start(ctx, "unit "+s.Name, trace.WithAttributes(
		attribute.String("elmeta.phase", s.Name),
		attribute.String("elmeta.sample", s.Unit),
	))
	defer span.End()
	logger.Info().Msgf("Start %v for %v", s.Name, s.Unit)
	start := time.Now()
	err := s.Execute(ctx)
	elapsed := time.Since(start)
	status := "ok"
	if err != nil {
		status = "failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, Kind(err))
		logger.Error().Err(err).Str("kind", Kind(err)).Dur("elapsed", elapsed).Msgf("Failed %v for %v", s.Name, s.Unit)
	} else {
		logger.Info().Dur("elapsed", elapsed).Msgf("Done %v for %v", s.Name, s.Unit)
	}
	attrs := metric.WithAttributes(attribute.String("phase", s.Name), attribute.String("status", status))
	e.units.Add(ctx, 1, attrs)
	e.duration.Record(ctx, elapsed.Seconds(), attrs)
	return err
}

// FanOut runs the stage of every sample, with at most PoolSize stages
// at the same time and in no particular order. Every unit is attempted
// once. A failing unit does not affect the others; the failures are
// available from the returned Round after all units finished. Once ctx
// is cancelled, units that have not started yet fail without running.
//
// Before anything runs, FanOut checks that no two units declare the
// same output, and returns a FilenameCollisionError otherwise.
func (e *Engine) FanOut(ctx context.Context, name string, samples []manifest.Sample, template Template) (*Round, error) {
	stages := make([]Stage, len(samples))
	for i, sample := range samples {
		stages[i] = template(sample)
		if stages[i].Name == "" {
			stages[i].Name = name
		}
		if stages[i].Unit == "" {
			stages[i].Unit = sample.ID
		}
	}
	if err := CheckCollisions(stages); err != nil {
		return nil, err
	}
	ctx, span := e.cfg.Tracer.Start(ctx, "fan-out "+name, trace.WithAttributes(
		attribute.String("elmeta.phase", name),
		attribute.Int("elmeta.units", len(stages)),
	))
	defer span.End()

	round := &Round{Name: name, Stages: stages, Errors: make([]error, len(stages)), failed: bitset.New(uint(len(stages)))}
	if len(stages) == 0 {
		return round, nil
	}
	indices := make([]int, len(stages))
	for i := range indices {
		indices[i] = i
	}
	var p pipeline.Pipeline
	p.Source(indices)
	p.NofBatches(len(indices))
	p.Add(pipeline.LimitedPar(e.cfg.PoolSize, pipeline.Receive(func(_ int, data interface{}) interface{} {
		for _, i := range data.([]int) {
			if err := ctx.Err(); err != nil {
				round.Errors[i] = &StageExecutionError{Stage: stages[i].Name, Unit: stages[i].Unit, Err: err}
				continue
			}
			round.Errors[i] = e.runUnit(ctx, stages[i])
		}
		return data
	})))
	p.Run()
	if err := p.Err(); err != nil {
		return nil, err
	}
	for i, err := range round.Errors {
		if err != nil {
			round.failed.Set(uint(i))
		}
	}
	if n := round.failed.Count(); n > 0 {
		span.SetStatus(codes.Error, "units failed")
		span.SetAttributes(attribute.Int("elmeta.failed", int(n)))
	}
	return round, nil
}

// Barrier verifies that a round can be reduced. It returns the round's
// RoundError if a unit failed, and an IncompleteFanOutError if a
// declared output is missing. Otherwise it returns the declared outputs
// of all units, pooled in sample order.
func (e *Engine) Barrier(ctx context.Context, round *Round) ([]string, error) {
	_, span := e.cfg.Tracer.Start(ctx, "barrier "+round.Name)
	defer span.End()
	if err := round.Err(); err != nil {
		span.SetStatus(codes.Error, KindRound)
		return nil, err
	}
	var outputs []string
	var owners []int
	for i, s := range round.Stages {
		for _, output := range s.Outputs {
			outputs = append(outputs, output)
			owners = append(owners, i)
		}
	}
	present := bitset.New(uint(len(outputs)))
	for i, output := range outputs {
		if internal.Exists(output) {
			present.Set(uint(i))
		}
	}
	if present.Count() != uint(len(outputs)) {
		missing := make(map[string][]string)
		for i, ok := present.NextClear(0); ok && i < uint(len(outputs)); i, ok = present.NextClear(i + 1) {
			unit := round.Stages[owners[i]].Unit
			missing[unit] = append(missing[unit], outputs[i])
		}
		err := &IncompleteFanOutError{Round: round.Name, Missing: missing}
		span.RecordError(err)
		span.SetStatus(codes.Error, KindIncompleteFanOut)
		e.cfg.Logger.Error().Err(err).Str("phase", round.Name).Msg("Barrier failed")
		return nil, err
	}
	e.cfg.Logger.Info().Str("phase", round.Name).Int("outputs", len(outputs)).Msg("Barrier passed")
	return outputs, nil
}

// Aggregate runs a single stage over pooled inputs, as unit PoolUnit.
func (e *Engine) Aggregate(ctx context.Context, s Stage) error {
	s.Unit = PoolUnit
	return e.runUnit(ctx, s)
}
