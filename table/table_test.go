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

package table

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/exascience/elmeta/seq"
)

func TestReadWrite(t *testing.T) {
	const input = "#SEQ_NAME\tSEQ\tSEQ_COUNT\nseq1\tACGT\t3\nseq2\tGG\t1\n"
	records, err := readString(t, input, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[0].ID != "seq1" || records[0].Seq != "ACGT" {
		t.Fatal("table read failed")
	}
	if v, _ := records[0].Field("SEQ_COUNT"); v != "3" {
		t.Error("table metadata failed")
	}
	var buf bytes.Buffer
	w := NewWriter(&buf, WriteOptions{Header: true})
	for _, r := range records {
		if err := w.Write(r); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Commit(); err != nil {
		t.Fatal(err)
	}
	if buf.String() != input {
		t.Errorf("table round trip failed:\n%v", buf.String())
	}

	buf.Reset()
	w = NewWriter(&buf, WriteOptions{
		Keys:   []string{seq.SeqName, seq.SeqLen, "SEQ_COUNT"},
		Skip:   []string{"SEQ_COUNT"},
		Rename: map[string]string{seq.SeqName: "ID"},
		Header: true,
	})
	for _, r := range records {
		_ = w.Write(r)
	}
	_ = w.Commit()
	if buf.String() != "#ID\tSEQ_LEN\nseq1\t4\nseq2\t2\n" {
		t.Errorf("table write options failed:\n%v", buf.String())
	}
}

func readString(t *testing.T, input string, opts Options) ([]*seq.Record, error) {
	t.Helper()
	return seq.NewSource(NewReader(strings.NewReader(input), "test.tab", opts)).ReadAll()
}

func TestHeaderlessAndMalformed(t *testing.T) {
	records, err := readString(t, "# comment\nH\tq1\tOTU_1\nN\tq2\t*\n", Options{Columns: []string{"TYPE", "Q_ID", "S_ID"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatal("headerless read failed")
	}
	if v, _ := records[0].Field("S_ID"); v != "OTU_1" {
		t.Error("headerless columns failed")
	}
	_, err = readString(t, "#A\tB\n1\t2\n3\n", Options{})
	var malformed *seq.MalformedRecordError
	if !errors.As(err, &malformed) || malformed.Line != 3 {
		t.Errorf("malformed row failed: %v", err)
	}
}

func TestAggregateTable(t *testing.T) {
	otus := NewAggregate("OTU", "A", "B")
	otus.Add("OTU_1", "A", 3)
	otus.Add("OTU_2", "A", 1)
	otus.Add("OTU_1", "B", 2)
	otus.Add("OTU_3", "B", 5)
	otus.Add("OTU_1", "A", 1)
	if v, _ := otus.Get("OTU_1", "A"); v != "4" {
		t.Error("Add failed")
	}

	taxonomy := NewAggregate("OTU")
	taxonomy.Set("OTU_1", "TAXONOMY", "Bacteria;Firmicutes")
	taxonomy.Set("OTU_2", "TAXONOMY", "Bacteria;Proteobacteria")
	taxonomy.Set("OTU_3", "TAXONOMY", "Bacteria;Firmicutes")
	otus.Join(taxonomy, "TAXONOMY")
	if v, _ := otus.Get("OTU_2", "TAXONOMY"); v != "Bacteria;Proteobacteria" {
		t.Error("Join failed")
	}

	otus.Collapse("TAXONOMY")
	if otus.Len() != 2 {
		t.Fatal("Collapse failed")
	}
	if v, _ := otus.Get("OTU_1", "B"); v != "7" {
		t.Error("Collapse sum failed")
	}

	otus.Sort("B", true)
	if keys := otus.Keys(); keys[0] != "OTU_1" || keys[1] != "OTU_2" {
		t.Error("Sort failed")
	}
	otus.Sort("A", false)
	if keys := otus.Keys(); keys[0] != "OTU_2" {
		t.Error("Sort ascending failed")
	}

	otus.Freeze()
	defer func() {
		if recover() == nil {
			t.Error("Freeze failed")
		}
	}()
	otus.Add("OTU_9", "A", 1)
}

func TestMergeNumericFields(t *testing.T) {
	t1 := NewAggregate(seq.SeqField)
	t1.Set("ACGT", "SEQ_NAME", "17")
	t1.Add("ACGT", "SEQ_COUNT", 2)
	t2 := NewAggregate(seq.SeqField)
	t2.Set("ACGT", "SEQ_NAME", "42")
	t2.Add("ACGT", "SEQ_COUNT", 3)
	t1.Merge(t2)
	if v, _ := t1.Get("ACGT", "SEQ_NAME"); v != "17" {
		t.Errorf("Merge name failed: %v", v)
	}
	if v, _ := t1.Get("ACGT", "SEQ_COUNT"); v != "5" {
		t.Errorf("Merge count failed: %v", v)
	}

	t3 := NewAggregate(seq.SeqField)
	t3.Set("ACGT", "SEQ_NAME", "8")
	t3.Merge(t1)
	if v, _ := t3.Get("ACGT", "SEQ_NAME"); v != "8" {
		t.Error("Merge into names failed")
	}
	if v, _ := t3.Get("ACGT", "SEQ_COUNT"); v != "5" {
		t.Error("Merge new count failed")
	}
	t3.Merge(t2)
	if v, _ := t3.Get("ACGT", "SEQ_COUNT"); v != "8" {
		t.Error("Merge imported count failed")
	}
}

func TestLoadAggregate(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i, content := range []string{
		"#TYPE\tQ_ID\tS_ID\tSAMPLE\tSEQ_COUNT\nH\tq1\tOTU_1\tA\t3\nH\tq2\tOTU_2\tA\t1\n",
		"#TYPE\tQ_ID\tS_ID\tSAMPLE\tSEQ_COUNT\nH\tq1\tOTU_1\tB\t2\n",
		"#TYPE\tQ_ID\tS_ID\tSAMPLE\tSEQ_COUNT\nH\tq7\tOTU_1\tC\t5\nH\tq8\tOTU_1\tC\t1\n",
	} {
		path := filepath.Join(dir, "hits"+string(rune('0'+i))+".tab")
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, path)
	}
	otus, err := LoadAggregate("OTU", paths, CountRows(Options{}, "S_ID", "SAMPLE", "SEQ_COUNT"))
	if err != nil {
		t.Fatal(err)
	}
	if keys := otus.Keys(); len(keys) != 2 || keys[0] != "OTU_1" {
		t.Error("LoadAggregate keys failed")
	}
	for column, expected := range map[string]string{"A": "3", "B": "2", "C": "6"} {
		if v, _ := otus.Get("OTU_1", column); v != expected {
			t.Errorf("LoadAggregate column %v failed", column)
		}
	}
	out := filepath.Join(dir, "otus.tab")
	if err := otus.Write(out, WriteOptions{Header: true}); err != nil {
		t.Fatal(err)
	}
	content, _ := os.ReadFile(out)
	if string(content) != "#OTU\tA\tB\tC\nOTU_1\t3\t2\t6\nOTU_2\t1\t\t\n" {
		t.Errorf("aggregate Write failed:\n%s", content)
	}

	if _, err := LoadAggregate("OTU", append(paths, filepath.Join(dir, "missing.tab")), CountRows(Options{}, "S_ID", "SAMPLE", "")); err == nil {
		t.Error("LoadAggregate of missing file failed")
	}
}
