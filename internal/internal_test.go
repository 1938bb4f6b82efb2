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

package internal

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestExpand(t *testing.T) {
	c := ParseCommand("usearch -cluster_otus {input} -otus {output}.fa")
	args, err := c.Expand(map[string]string{"input": "in.fa", "output": "out"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(args, " ") != "usearch -cluster_otus in.fa -otus out.fa" {
		t.Error("Expand failed")
	}
	if _, err := c.Expand(map[string]string{"input": "in.fa"}); err == nil {
		t.Error("Expand with unknown placeholder failed")
	}
	if _, err := ParseCommand("tool {input").Expand(map[string]string{"input": "x"}); err == nil {
		t.Error("Expand with unterminated placeholder failed")
	}
	if c := ParseCommand("sortmerna --reads {input} > {output}"); len(c.Args) != 3 || c.Stdout != "{output}" {
		t.Error("ParseCommand with redirection failed")
	}
	if _, err := ParseCommand("").Expand(nil); err == nil {
		t.Error("Expand of empty command failed")
	}
}

func TestCommandRun(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "sub", "out.txt")
	c := Command{Args: []string{"sh", "-c", "echo {word}"}, Stdout: filepath.Join(dir, "sub", "{name}")}
	if err := c.Run(context.Background(), map[string]string{"word": "hello", "name": "out.txt"}); err != nil {
		t.Fatal(err)
	}
	content, err := os.ReadFile(out)
	if err != nil || string(content) != "hello\n" {
		t.Error("Run with stdout failed")
	}

	err = Command{Args: []string{"sh", "-c", "echo broken >&2; exit 3"}}.Run(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Errorf("Run with failure failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = Command{Args: []string{"sleep", "10"}, GracePeriod: time.Second}.Run(ctx, nil)
	if err == nil || time.Since(start) > 5*time.Second {
		t.Error("Run with cancellation failed")
	}
}

func TestToolFunc(t *testing.T) {
	var got string
	var tool Tool = ToolFunc(func(_ context.Context, vars map[string]string) error {
		got = vars["input"]
		return nil
	})
	if err := tool.Run(context.Background(), map[string]string{"input": "x"}); err != nil || got != "x" {
		t.Error("ToolFunc failed")
	}
}

func TestExpandInputs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.fq", "a.fq", "c.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0600); err != nil {
			t.Fatal(err)
		}
	}
	names, err := ExpandInputs(filepath.Join(dir, "*.fq"), "plain.fq")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 3 || filepath.Base(names[0]) != "a.fq" || filepath.Base(names[1]) != "b.fq" || names[2] != "plain.fq" {
		t.Errorf("ExpandInputs failed: %v", names)
	}
	if _, err := ExpandInputs(filepath.Join(dir, "*.fa")); err == nil {
		t.Error("ExpandInputs without matches failed")
	}
}

func TestAtomicOutput(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "out.txt")

	f, err := CreateOutput(name, true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("partial"); err != nil {
		t.Fatal(err)
	}
	if Exists(name) {
		t.Error("atomic output visible before Commit")
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	if files, _ := Directory(dir); len(files) != 0 {
		t.Errorf("Close did not remove temporary file: %v", files)
	}

	f, err = CreateOutput(name, true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("complete"); err != nil {
		t.Fatal(err)
	}
	if err := f.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Error("Close after Commit failed")
	}
	content, err := os.ReadFile(name)
	if err != nil || string(content) != "complete" {
		t.Error("atomic Commit failed")
	}
}

func TestGzipRoundTrip(t *testing.T) {
	name := filepath.Join(t.TempDir(), "reads.fq.gz")
	out, err := CreateBuffered(name, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := out.WriteString("@r1\nACGT\n+\nIIII\n"); err != nil {
		t.Fatal(err)
	}
	if err := out.Commit(); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(name)
	if err != nil || len(raw) < 2 || raw[0] != 0x1f || raw[1] != 0x8b {
		t.Fatal("gzip output failed")
	}
	in, err := OpenInput(name)
	if err != nil {
		t.Fatal(err)
	}
	content, err := io.ReadAll(in)
	if nerr := in.Close(); err == nil {
		err = nerr
	}
	if err != nil || string(content) != "@r1\nACGT\n+\nIIII\n" {
		t.Error("gzip input failed")
	}
}
