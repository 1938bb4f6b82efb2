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
	"fmt"
	"strconv"
	"strings"

	"github.com/exascience/elmeta/chain"
	"github.com/exascience/elmeta/engine"
	"github.com/exascience/elmeta/manifest"
	"github.com/exascience/elmeta/seq"
	"github.com/exascience/elmeta/table"
)

// External tools of the amplicon workflow. Each is called with the
// placeholders {input} and {output}; the search tool also gets
// {database}.
const (
	// ClusterOTUsTool clusters dereplicated sequences, FASTA with
	// ";size=N" annotations, into OTU representatives.
	ClusterOTUsTool = "cluster_otus"

	// ChimeraFilterTool removes chimeric OTUs from a FASTA file.
	ChimeraFilterTool = "uchime_ref"

	// ClassifyTool writes a table with the columns SEQ_NAME and
	// TAXONOMY for the OTUs in a FASTA file.
	ClassifyTool = "classify_seq"

	// SearchTool maps query sequences against the OTU database and
	// writes a usearch .uc hit table.
	SearchTool = "usearch_global"
)

// UCColumns names the columns of a usearch .uc hit table.
var UCColumns = []string{"TYPE", "CLUSTER", "SEQ_LEN", "IDENT", "STRAND", "Q_START", "S_START", "CIGAR", "Q_ID", "S_ID"}

// Amplicon cleans and dereplicates the reads of each sample, clusters
// the pooled sequences into OTUs, maps each sample back onto the OTUs,
// and collects an OTU table over all samples.
var Amplicon = register(&Workflow{
	Name:        "amplicon",
	Description: "clean, dereplicate, cluster OTUs, and build an OTU table",
	Tools:       []string{AssemblePairsTool, ClusterOTUsTool, SearchTool, ChimeraFilterTool, ClassifyTool},
	plan:        ampliconPlan,
})

const countDelimiter = ":count="

func amplicon(env *Env, name string) string {
	return env.path("amplicon", name)
}

func derepTable(env *Env, id string) string {
	return amplicon(env, "p3_"+id+"_derep.tab")
}

// loadDereplicated adds the dereplicated sequences of one sample to a
// table keyed by sequence. Counts are summed, and the first name of a
// sequence is kept.
func loadDereplicated(t *table.AggregateTable, path string) error {
	records, err := table.ReadAll([]string{path}, table.Options{})
	if err != nil {
		return err
	}
	for _, r := range records {
		value, _ := r.Field(chain.SeqCount)
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w, while reading the count of %v", err, r.ID)
		}
		if _, ok := t.Get(r.Seq, seq.SeqName); !ok {
			t.Set(r.Seq, seq.SeqName, r.ID)
		}
		t.Add(r.Seq, chain.SeqCount, n)
	}
	return nil
}

// loadHits adds the hits of one sample to an OTU table: the column of
// the sample counts the dereplicated reads mapped to each OTU.
func loadHits(t *table.AggregateTable, path string) error {
	records, err := table.ReadAll([]string{path}, table.Options{})
	if err != nil {
		return err
	}
	for _, r := range records {
		query, _ := r.Field("Q_ID")
		otu, _ := r.Field("S_ID")
		sample, _ := r.Field("SAMPLE")
		i := strings.LastIndex(query, countDelimiter)
		if i < 0 {
			return fmt.Errorf("query %v has no count", query)
		}
		n, err := strconv.Atoi(query[i+len(countDelimiter):])
		if err != nil {
			return fmt.Errorf("%w, while reading the count of query %v", err, query)
		}
		t.Add(otu, sample, n)
	}
	return nil
}

func loadClassification(path string) (*table.AggregateTable, error) {
	records, err := table.ReadAll([]string{path}, table.Options{})
	if err != nil {
		return nil, err
	}
	t := table.NewAggregate("OTU", "TAXONOMY")
	for _, r := range records {
		taxonomy, _ := r.Field("TAXONOMY")
		t.Set(r.ID, "TAXONOMY", taxonomy)
	}
	t.Freeze()
	return t, nil
}

func ampliconPlan(env *Env) (engine.Plan, error) {
	params := env.Config.Parameters
	tools := []string{AssemblePairsTool, ClusterOTUsTool, SearchTool}
	if params.Chimeras {
		tools = append(tools, ChimeraFilterTool)
	}
	if params.Classify {
		tools = append(tools, ClassifyTool)
	}
	ts, err := env.toolSet(tools...)
	if err != nil {
		return nil, err
	}
	reverseDistance := env.Config.Primers.ReverseSearchDistance
	if reverseDistance == 0 {
		reverseDistance = env.Config.Primers.SearchDistance
	}
	otus := amplicon(env, "p4_otus.fna")
	classification := amplicon(env, "p4_classification_table.txt")
	otuTable := amplicon(env, "p6_otu_table.txt")
	heatmap := amplicon(env, "p6_heatmap.tab")

	p3 := func(s manifest.Sample) engine.Stage {
		name := func(what string) string { return amplicon(env, "p3_"+s.ID+"_"+what+".tab") }
		trimmed := amplicon(env, "p3_"+s.ID+"_trimmed.fq")
		assembled := amplicon(env, "p3_"+s.ID+"_assembled.fq")
		clean := amplicon(env, "p3_"+s.ID+"_clean.fna")

		trim := chain.Chain{chain.Report(chain.NewScoresReporter(env.atomic()), "scores before trimming", name("scores_pretrim"))}
		trim = append(trim, env.primerSteps(name, env.Config.Primers.SearchDistance, reverseDistance, false)...)
		trim = append(trim,
			chain.TrimQuality(env.trimOptions()),
			chain.Report(chain.NewHistogramReporter(seq.SeqLen, env.atomic()), "length after trimming", name("lendist_posttrim")),
			chain.WriteSeq(trimmed, env.atomic()),
		)
		minLength := chain.Condition{Field: seq.SeqLen, Op: ">=", Value: strconv.Itoa(params.MinLength)}
		meanMin := chain.Condition{Field: chain.ScoresMean, Op: ">=", Value: strconv.FormatFloat(params.MeanScoreMin, 'f', -1, 64)}
		localMin := chain.Condition{Field: chain.ScoresMeanLocal, Op: ">=", Value: strconv.FormatFloat(params.LocalScoreMin, 'f', -1, 64)}
		return engine.Stage{
			Inputs:  append(s.Forward(), s.Reverse()...),
			Outputs: []string{clean, derepTable(env, s.ID)},
			Runner: engine.Serial(
				chain.Job{Source: chain.FromLanes(s.Forward(), s.Reverse()), Chain: trim},
				ts.run(AssemblePairsTool, map[string]string{"input": trimmed, "output": assembled, "sample": s.ID}),
				chain.Job{
					Source: chain.FromFiles(assembled),
					Chain: chain.Chain{
						chain.MergeMates(""),
						chain.Grab(minLength),
						chain.MeanScores(false, 0),
						chain.Grab(meanMin),
						chain.MeanScores(true, params.ScoreWindow),
						chain.Grab(localMin),
						chain.Report(chain.NewHistogramReporter(seq.SeqLen, env.atomic()), "length after assembly", name("lendist_postassembly")),
						chain.Report(chain.NewScoresReporter(env.atomic()), "scores after assembly", name("scores_postassembly")),
						chain.WriteSeq(clean, env.atomic()),
						chain.WriteDereplicated(derepTable(env, s.ID), env.atomic()),
					},
				},
			),
		}
	}

	p4 := func(inputs []string) engine.Stage {
		tables := withSuffix(inputs, "_derep.tab")
		derep := amplicon(env, "p4_derep.fna")
		raw := amplicon(env, "p4_otus_raw.fna")
		outputs := []string{otus}
		if params.Classify {
			outputs = append(outputs, classification)
		}
		dereplicate := engine.RunnerFunc(func(ctx context.Context) error {
			counts, err := table.LoadAggregate(seq.SeqField, tables, loadDereplicated)
			if err != nil {
				return err
			}
			counts.Sort(chain.SeqCount, true)
			counts.Freeze()
			return chain.Chain{
				chain.Grab(chain.Condition{Field: chain.SeqCount, Op: ">=", Value: strconv.Itoa(params.MinCount)}),
				chain.MergeValues([]string{seq.SeqName, chain.SeqCount}, ";size="),
				chain.WriteSeq(derep, env.atomic()),
			}.Run(ctx, seq.NewSource(seq.FromRecords(counts.Records()...)))
		})
		runners := []engine.Runner{
			dereplicate,
			ts.run(ClusterOTUsTool, map[string]string{"input": derep, "output": raw}),
		}
		if params.Chimeras {
			nonChimeric := amplicon(env, "p4_otus_nonchimeric.fna")
			runners = append(runners, ts.run(ChimeraFilterTool, map[string]string{"input": raw, "output": nonChimeric}))
			raw = nonChimeric
		}
		runners = append(runners, chain.Job{
			Source: chain.FromFiles(raw),
			Chain:  chain.Chain{chain.AddNumberedKey(seq.SeqName, "OTU_"), chain.WriteSeq(otus, env.atomic())},
		})
		if params.Classify {
			runners = append(runners, ts.run(ClassifyTool, map[string]string{"input": otus, "output": classification}))
		}
		return engine.Stage{Inputs: tables, Outputs: outputs, Runner: engine.Serial(runners...)}
	}

	p5 := func(s manifest.Sample) engine.Stage {
		query := amplicon(env, "p5_"+s.ID+"_query.fna")
		hits := amplicon(env, "p5_"+s.ID+"_hits.uc")
		out := amplicon(env, "p5_"+s.ID+"_usearch_global.tab")
		return engine.Stage{
			Inputs:  []string{derepTable(env, s.ID), otus},
			Outputs: []string{out},
			Runner: engine.Serial(
				chain.Job{
					Source: func() (chain.Source, error) { return table.Open([]string{derepTable(env, s.ID)}, table.Options{}) },
					Chain: chain.Chain{
						chain.MergeValues([]string{seq.SeqName, chain.SeqCount}, countDelimiter),
						chain.WriteSeq(query, env.atomic()),
					},
				},
				ts.run(SearchTool, map[string]string{"input": query, "database": otus, "output": hits, "sample": s.ID}),
				chain.Job{
					Source: func() (chain.Source, error) { return table.Open([]string{hits}, table.Options{Columns: UCColumns}) },
					Chain: chain.Chain{
						chain.Match("TYPE", "H"),
						chain.AddKey("SAMPLE", s.ID),
						chain.WriteTable(out, table.WriteOptions{Keys: []string{"TYPE", "Q_ID", "S_ID", "SAMPLE"}, Header: true, Atomic: env.atomic()}),
					},
				},
			),
		}
	}

	p6 := func(inputs []string) engine.Stage {
		hitTables := withSuffix(inputs, "_usearch_global.tab")
		stageInputs := append([]string(nil), hitTables...)
		if params.Classify {
			stageInputs = append(stageInputs, classification)
		}
		return engine.Stage{
			Inputs:  stageInputs,
			Outputs: []string{otuTable, heatmap},
			Runner: engine.RunnerFunc(func(ctx context.Context) error {
				t, err := table.LoadAggregate("OTU", hitTables, loadHits)
				if err != nil {
					return err
				}
				samples := t.Columns()
				for _, otu := range t.Keys() {
					for _, sample := range samples {
						if _, ok := t.Get(otu, sample); !ok {
							t.Set(otu, sample, "0")
						}
					}
				}
				if params.Classify {
					taxonomy, err := loadClassification(classification)
					if err != nil {
						return err
					}
					t.Join(taxonomy, "TAXONOMY")
					t.Collapse("TAXONOMY")
				}
				t.Freeze()
				if err := t.Write(otuTable, table.WriteOptions{Header: true, Atomic: env.atomic()}); err != nil {
					return err
				}
				return chain.Chain{
					chain.Report(chain.NewHeatmapReporter("OTU", []string{"TAXONOMY"}, true, env.atomic()), "heatmap", heatmap),
				}.Run(ctx, seq.NewSource(seq.FromRecords(t.Records()...)))
			}),
		}
	}

	return engine.Plan{
		{Name: "p3", Template: p3},
		{Name: "p4", Aggregate: p4},
		{Name: "p5", Template: p5},
		{Name: "p6", Aggregate: p6},
	}, nil
}
