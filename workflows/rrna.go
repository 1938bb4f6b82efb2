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

package workflows

import (
	"fmt"

	"github.com/exascience/elmeta/chain"
	"github.com/exascience/elmeta/engine"
	"github.com/exascience/elmeta/idset"
	"github.com/exascience/elmeta/manifest"
	"github.com/exascience/elmeta/seq"
	"github.com/exascience/elmeta/table"
)

// FilterRRNATool locates ribosomal RNA. It is called for one read file
// at a time with the placeholders {input} and {output}, and writes the
// identifiers of the reads that do not match rRNA to {output}, one per
// line.
const FilterRRNATool = "filter_rrna"

// RRNA separates the read pairs of each sample into non-ribosomal and
// ribosomal pairs. A pair is non-ribosomal when the rRNA filter passes
// either of its mates.
var RRNA = register(&Workflow{
	Name:        "rrna",
	Description: "split read pairs into non-ribosomal and ribosomal pairs",
	Tools:       []string{FilterRRNATool},
	plan: func(env *Env) (engine.Plan, error) {
		ts, err := env.toolSet(FilterRRNATool)
		if err != nil {
			return nil, err
		}
		return rrnaPhases(env, ts), nil
	},
})

// NonRRNAReads returns the interleaved non-ribosomal read pairs the
// rrna workflow writes for a sample.
func NonRRNAReads(env *Env, id string) string {
	return env.path("rrna", id+"_norrna.fq")
}

// RRNAReads returns the interleaved ribosomal read pairs the rrna
// workflow writes for a sample.
func RRNAReads(env *Env, id string) string {
	return env.path("rrna", id+"_rrna.fq")
}

func rrnaIDs(env *Env, s manifest.Sample) (files []string, mates []string) {
	for i, lane := range s.Lanes {
		prefix := s.ID
		if len(s.Lanes) > 1 {
			prefix = fmt.Sprintf("%s_L%d", s.ID, i+1)
		}
		files = append(files, lane.Forward, lane.Reverse)
		mates = append(mates, env.path("rrna", prefix+"_R1_ids.tab"), env.path("rrna", prefix+"_R2_ids.tab"))
	}
	return files, mates
}

func rrnaPhases(env *Env, ts *toolSet) []engine.Phase {
	ids := func(s manifest.Sample) string {
		return env.path("rrna", s.ID+"_ids.tab")
	}
	isolate := func(name string, mode idset.Mode, output func(*Env, string) string) engine.Phase {
		return engine.Phase{
			Name: name,
			Template: func(s manifest.Sample) engine.Stage {
				filter := chain.SelectIDs
				if mode == idset.Reject {
					filter = chain.RejectIDs
				}
				out := output(env, s.ID)
				return engine.Stage{
					Inputs:  append(append(s.Forward(), s.Reverse()...), ids(s)),
					Outputs: []string{out},
					Runner: chain.Job{
						Source: chain.FromLanes(s.Forward(), s.Reverse()),
						Chain: chain.Chain{
							chain.MergePairs(env.separator()),
							filter(chain.IDsFrom(ids(s), ""), idset.Projection{Field: seq.SeqName, Delimiter: env.separator(), Base: true}),
							chain.SplitPairs(env.separator()),
							chain.WriteSeq(out, env.atomic()),
						},
					},
				}
			},
		}
	}
	return []engine.Phase{
		{
			Name: "locate_rrna",
			Template: func(s manifest.Sample) engine.Stage {
				files, mates := rrnaIDs(env, s)
				runners := make([]engine.Runner, len(files))
				for i, file := range files {
					runners[i] = ts.run(FilterRRNATool, map[string]string{"input": file, "output": mates[i], "sample": s.ID})
				}
				return engine.Stage{Inputs: files, Outputs: mates, Runner: engine.Serial(runners...)}
			},
		},
		{
			Name: "rrna_ids",
			Template: func(s manifest.Sample) engine.Stage {
				_, mates := rrnaIDs(env, s)
				out := ids(s)
				return engine.Stage{
					Inputs:  mates,
					Outputs: []string{out},
					Runner: chain.Job{
						Source: func() (chain.Source, error) {
							return table.Open(mates, table.Options{Columns: []string{seq.SeqName}})
						},
						Chain: chain.Chain{chain.WriteIDs(out, idset.BaseNames, env.atomic())},
					},
				}
			},
		},
		isolate("isolate_norrna", idset.Select, NonRRNAReads),
		isolate("isolate_rrna", idset.Reject, RRNAReads),
	}
}
