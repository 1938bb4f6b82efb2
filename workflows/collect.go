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
	"github.com/exascience/elmeta/chain"
	"github.com/exascience/elmeta/engine"
	"github.com/exascience/elmeta/manifest"
)

// Collect merges the lanes of each sample into one forward and one
// reverse file.
var Collect = register(&Workflow{
	Name:        "collect",
	Description: "merge the lanes of each sample into one forward and one reverse file",
	plan:        collectPlan,
})

// CollectedReads returns the forward and reverse files the collect
// workflow writes for a sample.
func CollectedReads(env *Env, s manifest.Sample) (forward, reverse string) {
	ext := seqExtension(s.Lanes[0].Forward)
	return env.path("collect", s.ID+"_R1"+ext), env.path("collect", s.ID+"_R2"+ext)
}

func collectPlan(env *Env) (engine.Plan, error) {
	return engine.Plan{{
		Name: "collect",
		Template: func(s manifest.Sample) engine.Stage {
			forward, reverse := CollectedReads(env, s)
			return engine.Stage{
				Inputs:  append(s.Forward(), s.Reverse()...),
				Outputs: []string{forward, reverse},
				Runner: engine.Serial(
					chain.Job{Source: chain.FromFiles(s.Forward()...), Chain: chain.Chain{chain.WriteSeq(forward, env.atomic())}},
					chain.Job{Source: chain.FromFiles(s.Reverse()...), Chain: chain.Chain{chain.WriteSeq(reverse, env.atomic())}},
				),
			}
		},
	}}, nil
}
