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
	"math"
	"strconv"

	"github.com/exascience/elmeta/seq"
	"github.com/exascience/elmeta/table"
)

// A Reporter summarizes the records that pass a Report step, for
// instance as a plot. Add is called for every batch in stream order,
// Write once after a successful run.
type Reporter interface {
	Add(records []*seq.Record) error
	Write(name, path string) error
}

type reportSink struct {
	reporter   Reporter
	name, path string
}

func (s reportSink) Write(records []*seq.Record) error { return s.reporter.Add(records) }
func (s reportSink) Commit() error                     { return s.reporter.Write(s.name, s.path) }
func (reportSink) Close() error                        { return nil }

// Report hands the records to a fresh reporter, and writes its report to
// path. The name distinguishes reports in the same run.
func Report(newReporter func() Reporter, name, path string) Step {
	return Step{
		Kind: TerminalStep,
		Name: "report " + name,
		Open: func() (Sink, error) {
			return reportSink{reporter: newReporter(), name: name, path: path}, nil
		},
	}
}

// A HistogramReporter counts the values of one field and writes them
// as a table with the columns VALUE and COUNT, sorted by value.
type HistogramReporter struct {
	Key    string
	Atomic bool
	counts *table.AggregateTable
}

// NewHistogramReporter returns a function for Report that creates
// histogram reporters for key.
func NewHistogramReporter(key string, atomic bool) func() Reporter {
	return func() Reporter {
		return &HistogramReporter{Key: key, Atomic: atomic}
	}
}

// Add implements the Reporter interface.
func (h *HistogramReporter) Add(records []*seq.Record) error {
	if h.counts == nil {
		h.counts = table.NewAggregate("VALUE", "COUNT")
	}
	for _, r := range records {
		if value, ok := r.Field(h.Key); ok {
			h.counts.Add(value, "COUNT", 1)
		}
	}
	return nil
}

// Write implements the Reporter interface.
func (h *HistogramReporter) Write(_, path string) error {
	if h.counts == nil {
		h.counts = table.NewAggregate("VALUE", "COUNT")
	}
	h.counts.Sort("VALUE", false)
	h.counts.Freeze()
	return h.counts.Write(path, table.WriteOptions{Header: true, Atomic: h.Atomic})
}

// A ScoresReporter computes the mean phred score per position and
// writes it as a table with the columns POS, MEAN, and COUNT.
type ScoresReporter struct {
	Atomic bool
	sums   []int
	counts []int
}

// NewScoresReporter returns a function for Report that creates scores
// reporters.
func NewScoresReporter(atomic bool) func() Reporter {
	return func() Reporter {
		return &ScoresReporter{Atomic: atomic}
	}
}

// Add implements the Reporter interface.
func (s *ScoresReporter) Add(records []*seq.Record) error {
	for _, r := range records {
		for len(s.sums) < len(r.Qual) {
			s.sums = append(s.sums, 0)
			s.counts = append(s.counts, 0)
		}
		for i := 0; i < len(r.Qual); i++ {
			s.sums[i] += int(r.Qual[i]) - QualityOffset
			s.counts[i]++
		}
	}
	return nil
}

// Write implements the Reporter interface.
func (s *ScoresReporter) Write(_, path string) error {
	t := table.NewAggregate("POS", "MEAN", "COUNT")
	for i, sum := range s.sums {
		pos := strconv.Itoa(i + 1)
		t.Set(pos, "MEAN", strconv.FormatFloat(float64(sum)/float64(s.counts[i]), 'f', 2, 64))
		t.Add(pos, "COUNT", s.counts[i])
	}
	t.Freeze()
	return t.Write(path, table.WriteOptions{Header: true, Atomic: s.Atomic})
}

// A HeatmapReporter writes the numeric columns of its records as a
// matrix for a heatmap plot. Rows are labeled by the Label field, all
// other fields except those in Skip are columns. With LogScale, cells
// hold log10(1 + value).
type HeatmapReporter struct {
	Label    string
	Skip     []string
	LogScale bool
	Atomic   bool
	rows     *table.AggregateTable
}

// NewHeatmapReporter returns a function for Report that creates heatmap
// reporters.
func NewHeatmapReporter(label string, skip []string, logScale, atomic bool) func() Reporter {
	return func() Reporter {
		return &HeatmapReporter{Label: label, Skip: skip, LogScale: logScale, Atomic: atomic}
	}
}

func (h *HeatmapReporter) skipped(key string) bool {
	if key == h.Label {
		return true
	}
	for _, s := range h.Skip {
		if s == key {
			return true
		}
	}
	return false
}

// Add implements the Reporter interface.
func (h *HeatmapReporter) Add(records []*seq.Record) error {
	if h.rows == nil {
		h.rows = table.NewAggregate(h.Label)
	}
	for _, r := range records {
		label, ok := r.Field(h.Label)
		if !ok {
			return fmt.Errorf("record %v has no heatmap label %v", r.ID, h.Label)
		}
		for _, column := range table.Columns(r) {
			if h.skipped(column) {
				continue
			}
			value, _ := r.Field(column)
			x, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return fmt.Errorf("%w, while reading heatmap cell %v of %v", err, column, label)
			}
			if h.LogScale {
				x = math.Log10(1 + x)
			}
			h.rows.Set(label, column, strconv.FormatFloat(x, 'f', 3, 64))
		}
	}
	return nil
}

// Write implements the Reporter interface.
func (h *HeatmapReporter) Write(_, path string) error {
	if h.rows == nil {
		h.rows = table.NewAggregate(h.Label)
	}
	h.rows.Freeze()
	return h.rows.Write(path, table.WriteOptions{Header: true, Atomic: h.Atomic})
}
