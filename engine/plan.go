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
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/exascience/elmeta/manifest"
)

// A Phase is one step of a plan. A fan-out phase has a Template and
// runs it for every sample. An aggregate phase has an Aggregate
// function, which receives the outputs the barrier pooled from the
// preceding fan-out phase, if any.
type Phase struct {
	Name      string
	Template  Template
	Aggregate func(inputs []string) Stage
}

// A Plan is an ordered list of phases.
type Plan []Phase

// A Report summarizes a run. Rounds holds the rounds of the fan-out
// phases only; Completed names every phase that finished, fan-out and
// aggregate alike.
type Report struct {
	RunID     uuid.UUID
	Rounds    []*Round
	Completed []string
	Failures  []UnitFailure

	// Stopped is the error that ended the run early, if any.
	Stopped error
}

// Err returns the error that stopped the run, or a RoundError listing
// all failed units, or nil.
func (r *Report) Err() error {
	if r.Stopped != nil {
		return r.Stopped
	}
	if len(r.Failures) > 0 {
		return &RoundError{Round: "run", Failures: r.Failures}
	}
	return nil
}

func survivors(samples []manifest.Sample, round *Round) []manifest.Sample {
	if round.failed.Count() == 0 {
		return samples
	}
	var result []manifest.Sample
	for i, sample := range samples {
		if !round.Failed(i) {
			result = append(result, sample)
		}
	}
	return result
}

// Run executes a plan. Each fan-out phase runs for the samples that
// did not fail in earlier phases. An aggregate phase pools the results
// of all samples, so it only runs when no unit has failed so far, and
// when it follows a fan-out phase the outputs of that round must pass
// a barrier. A failing aggregate stage or a filename collision also
// stops the run.
func (e *Engine) Run(ctx context.Context, plan Plan, samples []manifest.Sample) (*Report, error) {
	for _, phase := range plan {
		if (phase.Template == nil) == (phase.Aggregate == nil) {
			return nil, fmt.Errorf("phase %v needs either a template or an aggregate", phase.Name)
		}
	}
	ctx, span := e.cfg.Tracer.Start(ctx, "run", trace.WithAttributes(
		attribute.String("elmeta.run", e.cfg.RunID.String()),
		attribute.Int("elmeta.samples", len(samples)),
	))
	defer span.End()
	start := time.Now()
	e.cfg.Logger.Info().Int("samples", len(samples)).Int("phases", len(plan)).Msg("Start run")

	report := &Report{RunID: e.cfg.RunID}
	active := samples
	var last *Round
phaseLoop:
	for _, phase := range plan {
		if phase.Template != nil {
			round, err := e.FanOut(ctx, phase.Name, active, phase.Template)
			if err != nil {
				report.Stopped = err
				break phaseLoop
			}
			report.Rounds = append(report.Rounds, round)
			report.Failures = append(report.Failures, round.Failures()...)
			active = survivors(active, round)
			last = round
		} else {
			if len(report.Failures) > 0 {
				report.Stopped = &RoundError{Round: phase.Name, Failures: report.Failures}
				break phaseLoop
			}
			var inputs []string
			if last != nil {
				var err error
				if inputs, err = e.Barrier(ctx, last); err != nil {
					report.Stopped = err
					break phaseLoop
				}
			}
			stage := phase.Aggregate(inputs)
			if stage.Name == "" {
				stage.Name = phase.Name
			}
			if err := e.Aggregate(ctx, stage); err != nil {
				report.Failures = append(report.Failures, UnitFailure{Round: phase.Name, Unit: PoolUnit, Err: err})
				report.Stopped = err
				break phaseLoop
			}
			last = nil
		}
		report.Completed = append(report.Completed, phase.Name)
	}

	err := report.Err()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Kind(err))
		e.cfg.Logger.Error().Err(err).Dur("elapsed", time.Since(start)).Int("failures", len(report.Failures)).Msg("Run failed")
	} else {
		e.cfg.Logger.Info().Dur("elapsed", time.Since(start)).Msg("Done run")
	}
	return report, err
}
