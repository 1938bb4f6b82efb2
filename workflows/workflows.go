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

// Package workflows defines the built-in elmeta workflows as engine
// plans.
package workflows

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/exascience/elmeta/chain"
	"github.com/exascience/elmeta/config"
	"github.com/exascience/elmeta/engine"
	"github.com/exascience/elmeta/internal"
	"github.com/exascience/elmeta/seq"
)

// A Workflow builds an engine plan from a configuration.
type Workflow struct {
	Name        string
	Description string

	// Tools names the external tools the plan needs. Optional tools
	// are only needed when the configuration enables them.
	Tools []string

	plan func(env *Env) (engine.Plan, error)
}

var registry = map[string]*Workflow{}

func register(w *Workflow) *Workflow {
	registry[w.Name] = w
	return w
}

// Names returns the names of all built-in workflows, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the named workflow.
func Lookup(name string) (*Workflow, error) {
	if w, ok := registry[name]; ok {
		return w, nil
	}
	return nil, fmt.Errorf("unknown workflow %v, expected one of %v", name, strings.Join(Names(), ", "))
}

// Plan builds the plan of the workflow.
func (w *Workflow) Plan(env *Env) (engine.Plan, error) {
	plan, err := w.plan(env)
	if err != nil {
		return nil, fmt.Errorf("%w, while building workflow %v", err, w.Name)
	}
	return plan, nil
}

// An Env provides the configuration and the external tools to the
// workflows.
type Env struct {
	Config *config.Config

	// Tools overrides the tools configured in Config.
	Tools map[string]internal.Tool
}

// Tool returns the named external tool.
func (env *Env) Tool(name string) (internal.Tool, error) {
	if tool, ok := env.Tools[name]; ok {
		return tool, nil
	}
	return env.Config.Tool(name)
}

func (env *Env) path(phase, name string) string {
	return filepath.Join(env.Config.OutputDir, phase, name)
}

func (env *Env) atomic() bool {
	return env.Config.AtomicOutputs
}

func (env *Env) separator() string {
	return env.Config.Parameters.Separator
}

func (env *Env) trimOptions() chain.TrimOptions {
	return chain.TrimOptions{
		Min:       env.Config.Parameters.QualityMin,
		LengthMin: env.Config.Parameters.QualityLengthMin,
	}
}

func (env *Env) primerOptions(searchDistance int) chain.PrimerOptions {
	return chain.PrimerOptions{
		Direction:       chain.Forward,
		MismatchPercent: env.Config.Primers.MismatchPercent,
		SearchDistance:  searchDistance,
		OverlapMin:      env.Config.Primers.OverlapMin,
	}
}

// A toolSet resolves the tools of a plan while it is built, so that a
// missing tool is reported before anything runs.
type toolSet struct {
	env   *Env
	tools map[string]internal.Tool
}

func (env *Env) toolSet(names ...string) (*toolSet, error) {
	ts := &toolSet{env: env, tools: make(map[string]internal.Tool)}
	for _, name := range names {
		tool, err := env.Tool(name)
		if err != nil {
			return nil, err
		}
		ts.tools[name] = tool
	}
	return ts, nil
}

func (ts *toolSet) run(name string, vars map[string]string) engine.Runner {
	return engine.Tool(ts.tools[name], vars)
}

func seqExtension(path string) string {
	if format, err := seq.FormatOf(path); err == nil && format == seq.FASTA {
		return ".fna"
	}
	return ".fq"
}

func withSuffix(paths []string, suffix string) []string {
	var result []string
	for _, path := range paths {
		if strings.HasSuffix(path, suffix) {
			result = append(result, path)
		}
	}
	return result
}
