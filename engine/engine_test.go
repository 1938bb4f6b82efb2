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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/exascience/elmeta/chain"
	"github.com/exascience/elmeta/manifest"
	"github.com/exascience/elmeta/seq"
	"github.com/exascience/elmeta/table"
)

func newEngine(t *testing.T, poolSize int) *Engine {
	t.Helper()
	e, err := New(Config{PoolSize: poolSize, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func samples(ids ...string) []manifest.Sample {
	result := make([]manifest.Sample, len(ids))
	for i, id := range ids {
		result[i] = manifest.Sample{ID: id}
	}
	return result
}

func touch(path string) error {
	return os.WriteFile(path, []byte(path), 0600)
}

func TestStageExecute(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.fq")
	err := Stage{Name: "p1", Unit: "A", Inputs: []string{missing}}.Execute(context.Background())
	var inputMissing *StageInputMissingError
	if !errors.As(err, &inputMissing) || inputMissing.Path != missing || inputMissing.Unit != "A" {
		t.Errorf("missing input failed: %v", err)
	}

	out := filepath.Join(dir, "sub", "out.txt")
	err = Stage{Name: "p1", Unit: "A", Outputs: []string{out}, Runner: RunnerFunc(func(context.Context) error {
		return touch(out)
	})}.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	err = Stage{Name: "p1", Unit: "A", Runner: RunnerFunc(func(context.Context) error { return boom })}.Execute(context.Background())
	var execution *StageExecutionError
	if !errors.As(err, &execution) || !errors.Is(err, boom) {
		t.Errorf("runner error failed: %v", err)
	}

	err = Stage{Name: "p1", Unit: "A", Runner: RunnerFunc(func(context.Context) error { panic("oops") })}.Execute(context.Background())
	if !errors.As(err, &execution) || !strings.Contains(err.Error(), "oops") {
		t.Errorf("runner panic failed: %v", err)
	}

	var calls []int
	err = Stage{Name: "p1", Unit: "A", Runner: Serial(
		RunnerFunc(func(context.Context) error { calls = append(calls, 1); return nil }),
		RunnerFunc(func(context.Context) error { calls = append(calls, 2); return boom }),
		RunnerFunc(func(context.Context) error { calls = append(calls, 3); return nil }),
	)}.Execute(context.Background())
	if err == nil || len(calls) != 2 {
		t.Error("Serial failed")
	}
}

func TestFanOutFaultIsolation(t *testing.T) {
	dir := t.TempDir()
	e := newEngine(t, 3)
	ids := []string{"A", "B", "C", "D", "E", "F"}
	round, err := e.FanOut(context.Background(), "p1", samples(ids...), func(s manifest.Sample) Stage {
		out := filepath.Join(dir, s.ID+".txt")
		return Stage{Outputs: []string{out}, Runner: RunnerFunc(func(context.Context) error {
			if s.ID == "C" {
				return errors.New("tool crashed")
			}
			if s.ID == "E" {
				panic("bad input")
			}
			return touch(out)
		})}
	})
	if err != nil {
		t.Fatal(err)
	}
	var roundErr *RoundError
	if !errors.As(round.Err(), &roundErr) || len(roundErr.Failures) != 2 {
		t.Fatalf("round error failed: %v", round.Err())
	}
	if roundErr.Failures[0].Unit != "C" || roundErr.Failures[1].Unit != "E" {
		t.Error("round failures failed")
	}
	for _, id := range []string{"A", "B", "D", "F"} {
		if _, err := os.Stat(filepath.Join(dir, id+".txt")); err != nil {
			t.Errorf("unit %v did not produce its output", id)
		}
	}
	if ok := round.Succeeded(); len(ok) != 4 || ok[2] != "D" {
		t.Error("Succeeded failed")
	}
	if _, err := e.Barrier(context.Background(), round); !errors.As(err, &roundErr) {
		t.Error("Barrier after failed round failed")
	}
	if Kind(round.Errors[2]) != KindStageExecution {
		t.Error("Kind failed")
	}
}

func TestFanOutPoolSize(t *testing.T) {
	e := newEngine(t, 2)
	var running, highest int32
	ids := make([]string, 12)
	for i := range ids {
		ids[i] = fmt.Sprintf("S%02d", i)
	}
	round, err := e.FanOut(context.Background(), "p1", samples(ids...), func(manifest.Sample) Stage {
		return Stage{Runner: RunnerFunc(func(context.Context) error {
			n := atomic.AddInt32(&running, 1)
			for {
				h := atomic.LoadInt32(&highest)
				if n <= h || atomic.CompareAndSwapInt32(&highest, h, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		})}
	})
	if err != nil || round.Err() != nil {
		t.Fatal("pool round failed")
	}
	if highest > 2 {
		t.Errorf("pool size exceeded: %v", highest)
	}
}

func TestFanOutCancelled(t *testing.T) {
	e := newEngine(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var ran int32
	round, err := e.FanOut(ctx, "p1", samples("A", "B"), func(manifest.Sample) Stage {
		return Stage{Runner: RunnerFunc(func(context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		})}
	})
	if err != nil {
		t.Fatal(err)
	}
	if ran != 0 || len(round.Failures()) != 2 || Kind(round.Errors[0]) != KindCancelled {
		t.Error("cancelled fan-out failed")
	}
}

func TestFilenameCollision(t *testing.T) {
	dir := t.TempDir()
	e := newEngine(t, 2)
	var ran int32
	_, err := e.FanOut(context.Background(), "p1", samples("A", "B"), func(s manifest.Sample) Stage {
		return Stage{
			Outputs: []string{filepath.Join(dir, "shared.txt"), filepath.Join(dir, s.ID+".txt")},
			Runner: RunnerFunc(func(context.Context) error {
				atomic.AddInt32(&ran, 1)
				return nil
			}),
		}
	})
	var collision *FilenameCollisionError
	if !errors.As(err, &collision) || collision.Path != filepath.Join(dir, "shared.txt") || len(collision.Units) != 2 {
		t.Errorf("collision failed: %v", err)
	}
	if ran != 0 {
		t.Error("units ran despite collision")
	}
	_, err = e.FanOut(context.Background(), "p1", samples("A", "A"), func(manifest.Sample) Stage { return Stage{} })
	if !errors.As(err, &collision) || Kind(err) != KindFilenameCollision {
		t.Error("duplicate sample failed")
	}
}

func TestBarrier(t *testing.T) {
	dir := t.TempDir()
	e := newEngine(t, 2)
	round, err := e.FanOut(context.Background(), "p1", samples("A", "B", "C"), func(s manifest.Sample) Stage {
		out1 := filepath.Join(dir, s.ID+".fq")
		out2 := filepath.Join(dir, s.ID+".tab")
		return Stage{Outputs: []string{out1, out2}, Runner: RunnerFunc(func(context.Context) error {
			if err := touch(out1); err != nil {
				return err
			}
			return touch(out2)
		})}
	})
	if err != nil || round.Err() != nil {
		t.Fatal("round failed")
	}
	pooled, err := e.Barrier(context.Background(), round)
	if err != nil {
		t.Fatal(err)
	}
	if len(pooled) != 6 || pooled[0] != filepath.Join(dir, "A.fq") || pooled[5] != filepath.Join(dir, "C.tab") {
		t.Error("pooled outputs failed")
	}
	removed := filepath.Join(dir, "B.tab")
	if err := os.Remove(removed); err != nil {
		t.Fatal(err)
	}
	_, err = e.Barrier(context.Background(), round)
	var incomplete *IncompleteFanOutError
	if !errors.As(err, &incomplete) {
		t.Fatalf("barrier refusal failed: %v", err)
	}
	if len(incomplete.Missing) != 1 || len(incomplete.Missing["B"]) != 1 || incomplete.Missing["B"][0] != removed {
		t.Errorf("barrier missing outputs failed: %v", incomplete.Missing)
	}
}

const (
	mate1 = "ACGTACGTACGTACGTACGTACGTA"
	mate2 = "TTGGCCAATTGGCCAATTGGCCAAT"
)

func fastq(ids []string, sequences []string, mate int) string {
	var b strings.Builder
	for i, id := range ids {
		fmt.Fprintf(&b, "@%s/%d\n%s\n+\n%s\n", id, mate, sequences[i], strings.Repeat("I", len(sequences[i])))
	}
	return b.String()
}

func TestEndToEnd(t *testing.T) {
	dir := t.TempDir()
	inputs := map[string][2]string{
		"A": {
			fastq([]string{"a1", "a2", "a3"}, []string{mate1, mate1[:10], mate1}, 1),
			fastq([]string{"a1", "a2", "a3"}, []string{mate2, mate2, mate2 + "GG"}, 2),
		},
		"B": {
			fastq([]string{"b1", "b2"}, []string{mate1[:20], mate1}, 1),
			fastq([]string{"b1", "b2"}, []string{mate2[:20], mate2}, 2),
		},
	}
	var all []manifest.Sample
	for _, id := range []string{"A", "B"} {
		lane := manifest.FilePair{Forward: filepath.Join(dir, id+"_R1.fq"), Reverse: filepath.Join(dir, id+"_R2.fq")}
		if err := os.WriteFile(lane.Forward, []byte(inputs[id][0]), 0600); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(lane.Reverse, []byte(inputs[id][1]), 0600); err != nil {
			t.Fatal(err)
		}
		all = append(all, manifest.Sample{ID: id, Lanes: []manifest.FilePair{lane}})
	}

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	e, err := New(Config{PoolSize: 1, Logger: zerolog.Nop(), Tracer: tp.Tracer("test")})
	if err != nil {
		t.Fatal(err)
	}
	summary := filepath.Join(dir, "summary.tab")
	plan := Plan{
		{
			Name: "p1",
			Template: func(s manifest.Sample) Stage {
				out := filepath.Join(dir, "p1_"+s.ID+".tab")
				return Stage{
					Inputs:  []string{s.Lanes[0].Forward, s.Lanes[0].Reverse},
					Outputs: []string{out},
					Runner: chain.Job{
						Source: chain.FromPairedFiles(s.Lanes[0].Forward, s.Lanes[0].Reverse),
						Chain: chain.Chain{
							chain.MinLength(20),
							chain.KeepPairs(),
							chain.MergePairs(seq.DefaultSeparator),
							chain.Grab(chain.Condition{Field: seq.SeqLen, Op: ">=", Value: "50"}),
							chain.AddKey("SAMPLE", s.ID),
							chain.WriteTable(out, table.WriteOptions{Keys: []string{seq.SeqName, seq.SeqLen, "SAMPLE"}}),
						},
					},
				}
			},
		},
		{
			Name: "p2",
			Aggregate: func(inputs []string) Stage {
				return Stage{
					Inputs:  inputs,
					Outputs: []string{summary},
					Runner: RunnerFunc(func(context.Context) error {
						counts, err := table.LoadAggregate("SAMPLE", inputs, table.CountRows(table.Options{Columns: []string{seq.SeqName, seq.SeqLen, "SAMPLE"}}, "SAMPLE", "", ""))
						if err != nil {
							return err
						}
						counts.Freeze()
						return counts.Write(summary, table.WriteOptions{Header: true})
					}),
				}
			},
		},
	}
	report, err := e.Run(context.Background(), plan, all)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Completed) != 2 || len(report.Failures) != 0 {
		t.Error("report failed")
	}
	for path, expected := range map[string]string{
		filepath.Join(dir, "p1_A.tab"): "a1/1~a1/2\t51\tA\na3/1~a3/2\t53\tA\n",
		filepath.Join(dir, "p1_B.tab"): "b2/1~b2/2\t51\tB\n",
		summary:                        "#SAMPLE\tCOUNT\nA\t2\nB\t1\n",
	} {
		content, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if string(content) != expected {
			t.Errorf("%v failed:\n%s", filepath.Base(path), content)
		}
	}

	units := 0
	for _, span := range sr.Ended() {
		if span.Name() == "unit p1" {
			units++
		}
	}
	if units != 2 {
		t.Errorf("unit spans failed: %v", units)
	}
}

func TestRunStopsAtBarrier(t *testing.T) {
	dir := t.TempDir()
	e := newEngine(t, 2)
	aggregated := false
	plan := Plan{
		{Name: "p1", Template: func(s manifest.Sample) Stage {
			out := filepath.Join(dir, s.ID+".txt")
			return Stage{Outputs: []string{out}, Runner: RunnerFunc(func(context.Context) error {
				if s.ID == "B" {
					return &seq.MalformedRecordError{Path: "B_R1.fq", Line: 4, Reason: "truncated FASTQ record"}
				}
				return touch(out)
			})}
		}},
		{Name: "p2", Template: func(s manifest.Sample) Stage {
			return Stage{Inputs: []string{filepath.Join(dir, s.ID+".txt")}}
		}},
		{Name: "p3", Aggregate: func([]string) Stage {
			aggregated = true
			return Stage{}
		}},
	}
	report, err := e.Run(context.Background(), plan, samples("A", "B"))
	if err == nil || aggregated {
		t.Fatal("run did not stop")
	}
	if len(report.Failures) != 1 || report.Failures[0].Unit != "B" || Kind(report.Failures[0].Err) != KindMalformedRecord {
		t.Error("report failures failed")
	}
	if len(report.Rounds) != 2 || len(report.Rounds[1].Stages) != 1 {
		t.Error("failed samples were not dropped from later rounds")
	}
	if len(report.Completed) != 2 {
		t.Error("completed phases failed")
	}
}
