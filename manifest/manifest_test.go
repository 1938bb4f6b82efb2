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

package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	const input = "# sample forward reverse\n" +
		"A\tA_R1.fq.gz\tA_R2.fq.gz\n" +
		"\n" +
		"B  /data/B_R1.fq  /data/B_R2.fq   extra\n" +
		"A\tA_L2_R1.fq.gz\tA_L2_R2.fq.gz\n"
	samples, err := Parse(strings.NewReader(input), "samples.txt", "/runs/x")
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 2 || samples[0].ID != "A" || samples[1].ID != "B" {
		t.Fatal("Parse samples failed")
	}
	if len(samples[0].Lanes) != 2 || samples[0].Lanes[1].Forward != "/runs/x/A_L2_R1.fq.gz" {
		t.Error("Parse lanes failed")
	}
	if samples[1].Lanes[0].Reverse != "/data/B_R2.fq" {
		t.Error("Parse absolute path failed")
	}
	if r := samples[0].Reverse(); len(r) != 2 || r[0] != "/runs/x/A_R2.fq.gz" {
		t.Error("Reverse failed")
	}
}

func TestParseErrors(t *testing.T) {
	_, err := Parse(strings.NewReader("A\tA_R1.fq\tA_R2.fq\nB\tB_R1.fq\n"), "samples.txt", "")
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("short row failed: %v", err)
	}
	if _, err = Parse(strings.NewReader("# nothing\n"), "samples.txt", ""); err == nil {
		t.Error("empty manifest failed")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "samples.txt")
	if err := os.WriteFile(path, []byte("S1 r1.fq r2.fq\n"), 0600); err != nil {
		t.Fatal(err)
	}
	samples, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if samples[0].Lanes[0].Forward != filepath.Join(dir, "r1.fq") {
		t.Error("Load failed")
	}
	if ids := IDs(samples); len(ids) != 1 || ids[0] != "S1" {
		t.Error("IDs failed")
	}
}
