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
	"context"

	"github.com/exascience/elmeta/chain"
	"github.com/exascience/elmeta/engine"
	"github.com/exascience/elmeta/manifest"
	"github.com/exascience/elmeta/table"
)

// QA counts the read pairs of each sample and collects the counts in one
// table, sorted by decreasing count.
var QA = register(&Workflow{
	Name:        "qa",
	Description: "count read pairs per sample and report mean quality scores per position",
	plan:        qaPlan,
})

func qaPlan(env *Env) (engine.Plan, error) {
	summary := env.path("qa", "p2_count.tab")
	return engine.Plan{
		{
			Name: "p1",
			Template: func(s manifest.Sample) engine.Stage {
				count := env.path("qa", "p1_"+s.ID+"_count.tab")
				scores := env.path("qa", "p1_scores_"+s.ID+".tab")
				return engine.Stage{
					Inputs:  append(s.Forward(), s.Reverse()...),
					Outputs: []string{count, scores},
					Runner: chain.Job{
						Source: chain.FromLanes(s.Forward(), s.Reverse()),
						Chain: chain.Chain{
							chain.Report(chain.NewScoresReporter(env.atomic()), "scores", scores),
							chain.MergePairs(env.separator()),
							chain.WriteCount(count, s.ID, env.atomic()),
						},
					},
				}
			},
		},
		{
			Name: "p2",
			Aggregate: func(inputs []string) engine.Stage {
				counts := withSuffix(inputs, "_count.tab")
				return engine.Stage{
					Inputs:  counts,
					Outputs: []string{summary},
					Runner: engine.RunnerFunc(func(_ context.Context) error {
						t, err := table.LoadAggregate("SAMPLE", counts, table.CountRows(table.Options{}, "LABEL", "", "COUNT"))
						if err != nil {
							return err
						}
						t.Sort("COUNT", true)
						t.Freeze()
						return t.Write(summary, table.WriteOptions{Header: true, Atomic: env.atomic()})
					}),
				}
			},
		},
	}, nil
}
