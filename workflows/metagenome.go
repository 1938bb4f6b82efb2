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
	"strconv"

	"github.com/exascience/elmeta/chain"
	"github.com/exascience/elmeta/engine"
	"github.com/exascience/elmeta/idset"
	"github.com/exascience/elmeta/manifest"
	"github.com/exascience/elmeta/seq"
)

// AssemblePairsTool assembles the overlapping mates of interleaved read
// pairs in {input}. It writes all records to the FASTA file {output}:
// assembled pairs with AssembledMarker in their identifier, and the
// mates of unassembled pairs interleaved.
const AssemblePairsTool = "assemble_pairs"

// AssembledMarker marks the identifiers of assembled pairs.
const AssembledMarker = "overlap"

// Metagenome removes rRNA, cleans the remaining pairs, assembles them,
// and merges the mates of unassembled pairs end to end.
var Metagenome = register(&Workflow{
	Name:        "metagenome",
	Description: "remove rRNA, clean, assemble pairs, and merge unassembled mates",
	Tools:       []string{FilterRRNATool, AssemblePairsTool},
	plan:        metagenomePlan,
})

func (env *Env) primerSteps(name func(string) string, forwardDistance, reverseDistance int, reverseComplement bool) chain.Chain {
	var steps chain.Chain
	forward, reverse := env.Config.Primers.Forward, env.Config.Primers.Reverse
	if forward != "" {
		steps = append(steps,
			chain.ClipPrimer(forward, env.primerOptions(forwardDistance)),
			chain.Report(chain.NewHistogramReporter(chain.ClipPrimerPos, env.atomic()), "clip forward", name("clip_forward")),
		)
	}
	if reverse != "" {
		clip := reverse
		if reverseComplement {
			clip = chain.ReverseComplement(reverse)
		}
		steps = append(steps,
			chain.ClipPrimer(clip, env.primerOptions(reverseDistance)),
			chain.Report(chain.NewHistogramReporter(chain.ClipPrimerPos, env.atomic()), "clip reverse", name("clip_reverse")),
		)
	}
	if forward != "" {
		steps = append(steps, chain.TrimPrimer(forward, env.primerOptions(0)))
	}
	if reverse != "" {
		steps = append(steps, chain.TrimPrimer(reverse, env.primerOptions(0)))
	}
	return steps
}

func metagenomePlan(env *Env) (engine.Plan, error) {
	ts, err := env.toolSet(FilterRRNATool, AssemblePairsTool)
	if err != nil {
		return nil, err
	}
	sep := env.separator()
	clean := func(id string) string { return env.path("clean", id+"_clean.fq") }
	all := func(id string) string { return env.path("assemble", id+"_assemble_pairs_all.fna") }
	pairedIDs := func(id string) string { return env.path("assemble", id+"_paired_ids.tab") }
	pairs := func(id string) string { return env.path("assemble", id+"_norrna_assemble_pairs_pairs.fna") }
	singletons := func(id string) string { return env.path("assemble", id+"_norrna_assemble_pairs_singletons.fna") }
	merged := func(id string) string { return env.path("assemble", id+"_merge_singletons.fna") }

	plan := engine.Plan(rrnaPhases(env, ts))
	plan = append(plan,
		engine.Phase{
			Name: "clean",
			Template: func(s manifest.Sample) engine.Stage {
				name := func(what string) string { return env.path("clean", s.ID+"_"+what+".tab") }
				mateMin := chain.Condition{Field: seq.SeqLenLeft, Op: ">=", Value: strconv.Itoa(env.Config.Parameters.MateLengthMin)}
				steps := env.primerSteps(name, env.Config.Primers.SearchDistance, env.Config.Primers.SearchDistance, true)
				steps = append(steps,
					chain.TrimQuality(env.trimOptions()),
					chain.MergePairs(sep),
					chain.Grab(mateMin),
					chain.Grab(chain.Condition{Field: seq.SeqLenRight, Op: mateMin.Op, Value: mateMin.Value}),
					chain.SplitPairs(sep),
					chain.Report(chain.NewHistogramReporter(seq.SeqLen, env.atomic()), "length distribution", name("lendist")),
					chain.Report(chain.NewScoresReporter(env.atomic()), "scores", name("scores")),
					chain.WriteSeq(clean(s.ID), env.atomic()),
				)
				return engine.Stage{
					Inputs:  []string{NonRRNAReads(env, s.ID)},
					Outputs: []string{clean(s.ID)},
					Runner:  chain.Job{Source: chain.FromInterleavedFiles(NonRRNAReads(env, s.ID)), Chain: steps},
				}
			},
		},
		engine.Phase{
			Name: "assemble_pairs",
			Template: func(s manifest.Sample) engine.Stage {
				return engine.Stage{
					Inputs:  []string{clean(s.ID)},
					Outputs: []string{all(s.ID), pairedIDs(s.ID)},
					Runner: engine.Serial(
						ts.run(AssemblePairsTool, map[string]string{"input": clean(s.ID), "output": all(s.ID), "sample": s.ID}),
						chain.Job{
							Source: chain.FromFiles(all(s.ID)),
							Chain: chain.Chain{
								chain.Contains(seq.SeqName, AssembledMarker),
								chain.WriteIDs(pairedIDs(s.ID), idset.Names, env.atomic()),
							},
						},
					),
				}
			},
		},
		engine.Phase{
			Name: "isolate_pairs",
			Template: func(s manifest.Sample) engine.Stage {
				ids := chain.IDsFrom(pairedIDs(s.ID), "")
				return engine.Stage{
					Inputs:  []string{all(s.ID), pairedIDs(s.ID)},
					Outputs: []string{pairs(s.ID), singletons(s.ID)},
					Runner: engine.Serial(
						chain.Job{
							Source: chain.FromFiles(all(s.ID)),
							Chain: chain.Chain{
								chain.SelectIDs(ids, idset.Names),
								chain.Report(chain.NewHistogramReporter(seq.SeqLen, env.atomic()), "pairs length distribution",
									env.path("assemble", s.ID+"_pairs_lendist.tab")),
								chain.WriteSeq(pairs(s.ID), env.atomic()),
							},
						},
						chain.Job{
							Source: chain.FromFiles(all(s.ID)),
							Chain: chain.Chain{
								chain.RejectIDs(ids, idset.Names),
								chain.Report(chain.NewHistogramReporter(seq.SeqLen, env.atomic()), "singletons length distribution",
									env.path("assemble", s.ID+"_singletons_lendist.tab")),
								chain.WriteSeq(singletons(s.ID), env.atomic()),
							},
						},
					),
				}
			},
		},
		engine.Phase{
			Name: "merge_singletons",
			Template: func(s manifest.Sample) engine.Stage {
				return engine.Stage{
					Inputs:  []string{singletons(s.ID)},
					Outputs: []string{merged(s.ID)},
					Runner: chain.Job{
						Source: chain.FromInterleavedFiles(singletons(s.ID)),
						Chain: chain.Chain{
							chain.MergePairs(""),
							chain.WriteSeq(merged(s.ID), env.atomic()),
						},
					},
				}
			},
		},
	)
	return plan, nil
}
