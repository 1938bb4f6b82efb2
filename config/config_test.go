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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

const configYAML = `workflow: amplicon
manifest: samples.txt
output_dir: out
pool_size: 4
primers:
  forward: CCTAYGGGRBGCASCAG
  reverse: GGACTACHVGGGTWTCTAAT
  search_distance: 50
tools:
  cluster_otus: usearch -cluster_otus {input} -otus {output}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeFile(t, t.TempDir(), "elmeta.yml", configYAML)
	cfg, err := Load(WithConfigFile(path), WithWorkflows("amplicon", "qa"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Workflow != "amplicon" || cfg.OutputDir != "out" || cfg.PoolSize != 4 {
		t.Error("Load of top-level keys failed")
	}
	if cfg.Primers.Forward != "CCTAYGGGRBGCASCAG" || cfg.Primers.SearchDistance != 50 || cfg.Primers.MismatchPercent != 20 {
		t.Error("Load of primers failed")
	}
	if cfg.Parameters.Separator != "~" || cfg.Parameters.MinCount != 2 || cfg.Log.Level != "info" {
		t.Error("Load defaults failed")
	}
	tool, err := cfg.Tool("cluster_otus")
	if err != nil || tool == nil {
		t.Error("Tool failed")
	}
	if _, err := cfg.Tool("uchime_ref"); err == nil {
		t.Error("Tool without command failed")
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "elmeta.yml", configYAML)
	env := writeFile(t, dir, "run.env", "ELMETA_LOG_FORMAT=json\n")
	t.Setenv("ELMETA_POOL_SIZE", "8")
	t.Setenv("ELMETA_OUTPUT_DIR", "env-out")

	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	AddFlags(flags)
	if err := flags.Parse([]string{"--config", path, "--env-file", env, "-o", "flag-out"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(WithFlags(flags))
	os.Unsetenv("ELMETA_LOG_FORMAT")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PoolSize != 8 {
		t.Error("environment override failed")
	}
	if cfg.OutputDir != "flag-out" {
		t.Error("flag override failed")
	}
	if cfg.Log.Format != "json" {
		t.Error("env file failed")
	}
	if cfg.Workflow != "amplicon" {
		t.Error("configuration file under flags failed")
	}
}

func TestValidate(t *testing.T) {
	path := writeFile(t, t.TempDir(), "elmeta.yml", configYAML)
	t.Setenv("ELMETA_POOL_SIZE", "0")
	_, err := Load(WithConfigFile(path), WithWorkflows("qa"))
	if err == nil {
		t.Fatal("Validate failed")
	}
	for _, field := range []string{"pool_size", "workflow"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("Validate did not report %v: %v", field, err)
		}
	}

	cfg := &Config{
		Workflow:   "qa",
		Manifest:   "samples.txt",
		OutputDir:  ".",
		PoolSize:   1,
		Log:        Log{Level: "info", Format: "console"},
		Primers:    Primers{Forward: "ACGX", OverlapMin: 1, MismatchPercent: 120},
		Parameters: Parameters{QualityLengthMin: 1, ScoreWindow: 1, MinCount: 1, Separator: "~"},
	}
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "primers.forward") || !strings.Contains(err.Error(), "primers.mismatch_percent") {
		t.Errorf("Validate of primers failed: %v", err)
	}
	cfg.Primers = Primers{Forward: "ACGN", OverlapMin: 1}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate of valid configuration failed: %v", err)
	}
}

func TestToolNames(t *testing.T) {
	cfg := &Config{Tools: map[string]string{"b": "x", "a": "y"}}
	if names := cfg.ToolNames(); len(names) != 2 || names[0] != "a" {
		t.Error("ToolNames failed")
	}
}
