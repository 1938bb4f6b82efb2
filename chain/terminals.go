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

package chain

import (
	"fmt"
	"strconv"

	"github.com/exascience/elmeta/idset"
	"github.com/exascience/elmeta/internal"
	"github.com/exascience/elmeta/seq"
	"github.com/exascience/elmeta/table"
)

type seqSink struct {
	w *seq.Writer
}

func (s seqSink) Write(records []*seq.Record) error {
	return s.w.WriteBatch(records)
}

func (s seqSink) Commit() error { return s.w.Commit() }
func (s seqSink) Close() error  { return s.w.Close() }

// WriteSeq writes records to a FASTQ or FASTA file, depending on the
// extension of path.
func WriteSeq(path string, atomic bool) Step {
	return Step{
		Kind: TerminalStep,
		Name: "write " + path,
		Open: func() (Sink, error) {
			w, err := seq.Create(path, atomic)
			if err != nil {
				return nil, err
			}
			return seqSink{w}, nil
		},
	}
}

type tableSink struct {
	w *table.Writer
}

func (s tableSink) Write(records []*seq.Record) error {
	for _, r := range records {
		if err := s.w.Write(r); err != nil {
			return err
		}
	}
	return nil
}

func (s tableSink) Commit() error { return s.w.Commit() }
func (s tableSink) Close() error  { return s.w.Close() }

// WriteTable writes records as rows of a table.
func WriteTable(path string, opts table.WriteOptions) Step {
	return Step{
		Kind: TerminalStep,
		Name: "write table " + path,
		Open: func() (Sink, error) {
			w, err := table.Create(path, opts)
			if err != nil {
				return nil, err
			}
			return tableSink{w}, nil
		},
	}
}

type idSink struct {
	out        *internal.Output
	projection idset.Projection
	seen       map[string]struct{}
}

func (s *idSink) Write(records []*seq.Record) error {
	for _, r := range records {
		id, ok := s.projection.Apply(r)
		if !ok {
			continue
		}
		if _, ok := s.seen[id]; ok {
			continue
		}
		if err := idset.CheckID(id); err != nil {
			return fmt.Errorf("%w, while writing record %v", err, r.ID)
		}
		s.seen[id] = struct{}{}
		if _, err := s.out.WriteString(id); err != nil {
			return err
		}
		if err := s.out.WriteByte('\n'); err != nil {
			return err
		}
	}
	return nil
}

func (s *idSink) Commit() error { return s.out.Commit() }
func (s *idSink) Close() error  { return s.out.Close() }

// WriteIDs writes the unique identifiers records project to, one per
// line, in first-occurrence order. The file can be loaded with
// idset.Load.
func WriteIDs(path string, projection idset.Projection, atomic bool) Step {
	return Step{
		Kind: TerminalStep,
		Name: "write identifiers " + path,
		Open: func() (Sink, error) {
			out, err := internal.CreateBuffered(path, atomic)
			if err != nil {
				return nil, err
			}
			return &idSink{out: out, projection: projection, seen: make(map[string]struct{})}, nil
		},
	}
}

// SeqCount is the field that holds the number of identical sequences
// of a dereplicated record.
const SeqCount = "SEQ_COUNT"

type derepSink struct {
	path   string
	opts   table.WriteOptions
	counts *table.AggregateTable
	names  map[string]string
}

func (s *derepSink) Write(records []*seq.Record) error {
	for _, r := range records {
		if _, ok := s.names[r.Seq]; !ok {
			s.names[r.Seq] = r.ID
		}
		s.counts.Add(r.Seq, SeqCount, 1)
	}
	return nil
}

func (s *derepSink) Commit() error {
	s.counts.Freeze()
	w, err := table.Create(s.path, s.opts)
	if err != nil {
		return err
	}
	for _, sequence := range s.counts.Keys() {
		count, _ := s.counts.Get(sequence, SeqCount)
		r := &seq.Record{ID: s.names[sequence], Seq: sequence}
		r.Set(SeqCount, count)
		if err := w.Write(r); err != nil {
			_ = w.Close()
			return err
		}
	}
	return w.Commit()
}

func (*derepSink) Close() error { return nil }

// WriteDereplicated writes one table row per unique sequence, with the
// columns SEQ_NAME, SEQ, and SEQ_COUNT. A unique sequence is named after
// its first record, and rows are in first-occurrence order.
func WriteDereplicated(path string, atomic bool) Step {
	return Step{
		Kind: TerminalStep,
		Name: "write dereplicated " + path,
		Open: func() (Sink, error) {
			return &derepSink{
				path: path,
				opts: table.WriteOptions{
					Keys:   []string{seq.SeqName, seq.SeqField, SeqCount},
					Header: true,
					Atomic: atomic,
				},
				counts: table.NewAggregate(seq.SeqField, SeqCount),
				names:  make(map[string]string),
			}, nil
		},
	}
}

type countSink struct {
	path   string
	atomic bool
	label  string
	n      int
}

func (s *countSink) Write(records []*seq.Record) error {
	s.n += len(records)
	return nil
}

func (s *countSink) Commit() error {
	out, err := internal.CreateBuffered(s.path, s.atomic)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(out, "#LABEL\tCOUNT\n%s\t%s\n", s.label, strconv.Itoa(s.n)); err != nil {
		_ = out.Close()
		return err
	}
	return out.Commit()
}

func (*countSink) Close() error { return nil }

// WriteCount writes a table with a single row: the label and the number
// of records that reached the step.
func WriteCount(path, label string, atomic bool) Step {
	return Step{
		Kind: TerminalStep,
		Name: "write count " + path,
		Open: func() (Sink, error) {
			return &countSink{path: path, atomic: atomic, label: label}, nil
		},
	}
}
