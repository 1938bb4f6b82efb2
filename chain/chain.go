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

// Package chain implements operator chains: ordered steps that filter,
// transform, and write a stream of records, run by one executor on a
// pargo pipeline.
package chain

import (
	"context"
	"fmt"
	"io"

	"github.com/exascience/pargo/pipeline"

	"github.com/exascience/elmeta/seq"
)

// Kind tags the payload of a Step.
type Kind int

// Step kinds.
const (
	FilterStep Kind = iota
	TransformStep
	TerminalStep
)

func (k Kind) String() string {
	switch k {
	case FilterStep:
		return "filter"
	case TransformStep:
		return "transform"
	case TerminalStep:
		return "terminal"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

type (
	// A Predicate returns true if a record should be kept. It may
	// modify the record.
	Predicate func(*seq.Record) (bool, error)

	// A Transformer maps a batch of records to a new batch. Batches
	// of paired sources always hold whole pairs.
	Transformer func([]*seq.Record) ([]*seq.Record, error)

	// A Sink receives every batch that reaches a terminal step.
	Sink interface {
		Write(records []*seq.Record) error
		// Commit is called after the last batch of a successful run.
		Commit() error
		// Close is called instead of Commit when the run fails.
		Close() error
	}

	// A Step is one operation of a chain. Exactly one of Predicate,
	// Transformer, and Open is set, according to Kind.
	Step struct {
		Kind Kind
		Name string

		// Init, if set, runs before any record is read.
		Init func() error

		Predicate   Predicate
		Transformer Transformer
		Open        func() (Sink, error)

		// Ordered steps see batches in stream order, one at a time.
		// Terminal steps are always ordered.
		Ordered bool
	}

	// A Chain is an ordered list of steps, applied left to right.
	Chain []Step

	// A Source is a closable pipeline.Source of []*seq.Record batches.
	Source interface {
		pipeline.Source
		io.Closer
	}
)

func (s Step) check() error {
	var ok bool
	switch s.Kind {
	case FilterStep:
		ok = s.Predicate != nil && s.Transformer == nil && s.Open == nil
	case TransformStep:
		ok = s.Predicate == nil && s.Transformer != nil && s.Open == nil
	case TerminalStep:
		ok = s.Predicate == nil && s.Transformer == nil && s.Open != nil
	}
	if !ok {
		return fmt.Errorf("invalid %v step %v", s.Kind, s.Name)
	}
	return nil
}

func records(data interface{}) []*seq.Record {
	recs, _ := data.([]*seq.Record)
	return recs
}

// composePredicates returns a receiver that applies consecutive
// filter steps to a batch in place.
func composePredicates(p *pipeline.Pipeline, steps []Step) pipeline.Receiver {
	return func(_ int, data interface{}) interface{} {
		recs := records(data)
		i := 0
	recordLoop:
		for _, r := range recs {
			for _, step := range steps {
				keep, err := step.Predicate(r)
				if err != nil {
					p.SetErr(fmt.Errorf("%w, while running filter %v", err, step.Name))
					return recs[:0]
				}
				if !keep {
					continue recordLoop
				}
			}
			recs[i] = r
			i++
		}
		return recs[:i]
	}
}

func transformReceiver(p *pipeline.Pipeline, step Step) pipeline.Receiver {
	return func(_ int, data interface{}) interface{} {
		result, err := step.Transformer(records(data))
		if err != nil {
			p.SetErr(fmt.Errorf("%w, while running transform %v", err, step.Name))
			return []*seq.Record{}
		}
		return result
	}
}

func sinkReceiver(p *pipeline.Pipeline, step Step, sink Sink) pipeline.Receiver {
	return func(_ int, data interface{}) interface{} {
		recs := records(data)
		if err := sink.Write(recs); err != nil {
			p.SetErr(fmt.Errorf("%w, while running %v", err, step.Name))
		}
		return recs
	}
}

const (
	minBatchSize = 512
	maxBatchSize = 16384
)

func parOrOrd(ordered bool, filter pipeline.Filter) pipeline.Node {
	if ordered {
		return pipeline.StrictOrd(filter)
	}
	return pipeline.LimitedPar(0, filter)
}

// Run pulls all records of src through the chain. Init hooks run
// first, in order, then all sinks are opened. The first error of any
// step stops the pipeline. Sinks are committed after a successful run,
// and closed otherwise.
func (c Chain) Run(ctx context.Context, src pipeline.Source) (err error) {
	for _, step := range c {
		if err := step.check(); err != nil {
			return err
		}
	}
	for _, step := range c {
		if step.Init != nil {
			if err := step.Init(); err != nil {
				return fmt.Errorf("%w, while initializing %v", err, step.Name)
			}
		}
	}
	sinks := make([]Sink, len(c))
	defer func() {
		for _, sink := range sinks {
			if sink == nil {
				continue
			}
			var nerr error
			if err == nil {
				nerr = sink.Commit()
			} else {
				nerr = sink.Close()
			}
			if err == nil {
				err = nerr
			}
		}
	}()
	for i, step := range c {
		if step.Kind == TerminalStep {
			if sinks[i], err = step.Open(); err != nil {
				return fmt.Errorf("%w, while opening %v", err, step.Name)
			}
		}
	}

	var p pipeline.Pipeline
	p.Source(src)
	p.SetVariableBatchSize(minBatchSize, maxBatchSize)
	p.Add(pipeline.LimitedPar(0, pipeline.Receive(func(_ int, data interface{}) interface{} {
		if err := ctx.Err(); err != nil {
			p.SetErr(err)
			return []*seq.Record{}
		}
		return data
	})))
	for i := 0; i < len(c); {
		step := c[i]
		switch step.Kind {
		case FilterStep:
			j := i + 1
			for j < len(c) && c[j].Kind == FilterStep && c[j].Ordered == step.Ordered {
				j++
			}
			p.Add(parOrOrd(step.Ordered, pipeline.Receive(composePredicates(&p, c[i:j]))))
			i = j
			continue
		case TransformStep:
			p.Add(parOrOrd(step.Ordered, pipeline.Receive(transformReceiver(&p, step))))
		case TerminalStep:
			p.Add(pipeline.StrictOrd(pipeline.Receive(sinkReceiver(&p, step, sinks[i]))))
		}
		i++
	}
	p.Run()
	return p.Err()
}

// Collect runs the chain and returns the records that leave its last
// step.
func (c Chain) Collect(ctx context.Context, src pipeline.Source) ([]*seq.Record, error) {
	var result []*seq.Record
	collect := Step{
		Kind: TerminalStep,
		Name: "collect",
		Open: func() (Sink, error) {
			return SinkFunc(func(recs []*seq.Record) error {
				result = append(result, recs...)
				return nil
			}), nil
		},
	}
	if err := append(c[:len(c):len(c)], collect).Run(ctx, src); err != nil {
		return nil, err
	}
	return result, nil
}

// SinkFunc adapts a function to a Sink with no-op Commit and Close.
type SinkFunc func([]*seq.Record) error

// Write calls f(records).
func (f SinkFunc) Write(records []*seq.Record) error {
	return f(records)
}

// Commit does nothing.
func (SinkFunc) Commit() error {
	return nil
}

// Close does nothing.
func (SinkFunc) Close() error {
	return nil
}

// A Job runs a chain over a freshly opened source.
type Job struct {
	Source func() (Source, error)
	Chain  Chain
}

// Run opens the source, runs the chain, and closes the source.
func (job Job) Run(ctx context.Context) (err error) {
	src, err := job.Source()
	if err != nil {
		return err
	}
	defer func() {
		nerr := src.Close()
		if err == nil {
			err = nerr
		}
	}()
	return job.Chain.Run(ctx, src)
}

// FromFiles opens sequence files as the source of a job.
func FromFiles(paths ...string) func() (Source, error) {
	return func() (Source, error) {
		return seq.Open(paths...)
	}
}

// FromPairedFiles opens forward and reverse sequence files as the
// paired source of a job.
func FromPairedFiles(forward, reverse string) func() (Source, error) {
	return func() (Source, error) {
		return seq.OpenPaired(forward, reverse)
	}
}

// FromLanes opens the lanes of a sample as the paired source of a job.
func FromLanes(forward, reverse []string) func() (Source, error) {
	return func() (Source, error) {
		return seq.OpenLanes(forward, reverse)
	}
}

// FromInterleavedFiles opens sequence files with interleaved mates as
// the paired source of a job.
func FromInterleavedFiles(paths ...string) func() (Source, error) {
	return func() (Source, error) {
		return seq.OpenInterleaved(paths...)
	}
}
