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

package seq

import (
	"bytes"
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const fastqInput = "@read1/1 lane=1\nACGTACGT\n+\nIIIIHHHH\n" +
	"@read2/1\nTTTT\n+read2/1\n~~~~\n" +
	"@read3/1\n\n+\n\n"

func readAll(t *testing.T, r Reader) []*Record {
	t.Helper()
	records, err := NewSource(r).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	return records
}

func writeAll(t *testing.T, format Format, records []*Record) string {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf, format)
	for _, r := range records {
		if err := w.Write(r); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Commit(); err != nil {
		t.Fatal(err)
	}
	return buf.String()
}

func TestFastqRoundTrip(t *testing.T) {
	records := readAll(t, NewFastqReader(strings.NewReader(fastqInput), "test.fq"))
	if len(records) != 3 {
		t.Fatalf("FASTQ read failed: got %v records", len(records))
	}
	if records[0].ID != "read1/1 lane=1" || records[0].Seq != "ACGTACGT" || records[0].Qual != "IIIIHHHH" {
		t.Error("FASTQ record 1 failed")
	}
	if records[1].Plus != "read2/1" {
		t.Error("FASTQ separator line failed")
	}
	if out := writeAll(t, FASTQ, records); out != fastqInput {
		t.Errorf("FASTQ round trip failed:\n%v", out)
	}
}

func TestFastaRoundTrip(t *testing.T) {
	const wrapped = ">seq1 description\nACGT\nACGT\n\n>seq2\nGG\n"
	records := readAll(t, NewFastaReader(strings.NewReader(wrapped), "test.fa"))
	if len(records) != 2 || records[0].Seq != "ACGTACGT" || records[1].ID != "seq2" {
		t.Fatal("FASTA read failed")
	}
	const canonical = ">seq1 description\nACGTACGT\n>seq2\nGG\n"
	out := writeAll(t, FASTA, records)
	if out != canonical {
		t.Errorf("FASTA write failed:\n%v", out)
	}
	again := readAll(t, NewFastaReader(strings.NewReader(out), "test.fa"))
	if writeAll(t, FASTA, again) != canonical {
		t.Error("FASTA round trip failed")
	}
}

func TestFastaEmptySequence(t *testing.T) {
	const input = ">a\n\n>b\nACGT\n"
	records := readAll(t, NewFastaReader(strings.NewReader(input), "test.fa"))
	if len(records) != 2 || records[0].ID != "a" || records[0].Seq != "" || records[1].Seq != "ACGT" {
		t.Fatal("FASTA empty sequence read failed")
	}
	if out := writeAll(t, FASTA, records); out != input {
		t.Errorf("FASTA empty sequence write failed:\n%v", out)
	}
	for _, truncated := range []string{">a\n>b\nACGT\n", ">a\n"} {
		_, err := NewSource(NewFastaReader(strings.NewReader(truncated), "test.fa")).ReadAll()
		var malformed *MalformedRecordError
		if !errors.As(err, &malformed) || malformed.Line != 1 {
			t.Errorf("FASTA truncated record failed: %q", truncated)
		}
	}
}

func TestWriteBatch(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, FASTQ)
	if err := w.WriteBatch([]*Record{{ID: "r1", Seq: "AC", Qual: "II"}, {ID: "r2", Seq: "AC"}}); err == nil {
		t.Error("WriteBatch without quality failed")
	}
	if err := w.WriteBatch([]*Record{{ID: "r1", Seq: "AC", Qual: "II"}, {ID: "r2", Seq: "G", Qual: "#"}}); err != nil {
		t.Fatal(err)
	}
	if err := w.Commit(); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "@r1\nAC\n+\nII\n@r2\nG\n+\n#\n" {
		t.Errorf("WriteBatch failed:\n%v", buf.String())
	}
}

func expectMalformed(t *testing.T, input, name string, line int) {
	t.Helper()
	_, err := NewSource(NewFastqReader(strings.NewReader(input), "bad.fq")).ReadAll()
	var malformed *MalformedRecordError
	if !errors.As(err, &malformed) {
		t.Errorf("%v failed: got %v", name, err)
		return
	}
	if malformed.Path != "bad.fq" || malformed.Line != line {
		t.Errorf("%v failed: wrong position %v:%v", name, malformed.Path, malformed.Line)
	}
}

func TestMalformedFastq(t *testing.T) {
	expectMalformed(t, "@r1\nACGT\n+\nIII\n", "quality length", 4)
	expectMalformed(t, "r1\nACGT\n+\nIIII\n", "missing header", 1)
	expectMalformed(t, "@r1\nACGT\n-\nIIII\n", "missing separator", 3)
	expectMalformed(t, "@r1\nACGT\n+\nIIII\n@r2\nAC\n", "truncated", 5)
}

func TestFormatOf(t *testing.T) {
	for path, format := range map[string]Format{
		"a.fq": FASTQ, "a.fastq.gz": FASTQ, "a.fna": FASTA, "b.FASTA": FASTA, "c.fas.gz": FASTA,
	} {
		if f, err := FormatOf(path); err != nil || f != format {
			t.Errorf("FormatOf %v failed", path)
		}
	}
	if _, err := FormatOf("a.txt"); err == nil {
		t.Error("FormatOf a.txt failed")
	}
}

func TestFilesAndGzip(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "in.fq")
	if err := os.WriteFile(plain, []byte(fastqInput), 0600); err != nil {
		t.Fatal(err)
	}
	compressed := filepath.Join(dir, "in2.fq.gz")
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, _ = gz.Write([]byte(fastqInput))
	_ = gz.Close()
	if err := os.WriteFile(compressed, buf.Bytes(), 0600); err != nil {
		t.Fatal(err)
	}
	src, err := Open(plain, compressed)
	if err != nil {
		t.Fatal(err)
	}
	records, err := src.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if err := src.Close(); err != nil {
		t.Fatal(err)
	}
	if len(records) != 6 {
		t.Fatalf("lane concatenation failed: got %v records", len(records))
	}
	out := filepath.Join(dir, "sub", "out.fq")
	w, err := Create(out, true)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range records[:3] {
		if err := w.Write(r); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := os.Stat(out); err == nil {
		t.Error("atomic output visible before commit")
	}
	if err := w.Commit(); err != nil {
		t.Fatal(err)
	}
	content, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != fastqInput {
		t.Error("file round trip failed")
	}
}

func TestPairedSource(t *testing.T) {
	forward := "@p1/1\nAAAA\n+\nIIII\n@p2/1\nCCCC\n+\nIIII\n"
	reverse := "@p1/2\nGGGG\n+\nJJJJ\n@p2/2\nTTTT\n+\nJJJJ\n"
	src := NewPairedSource(NewFastqReader(strings.NewReader(forward), "r1.fq"), NewFastqReader(strings.NewReader(reverse), "r2.fq"), "r2.fq")
	if n := src.Fetch(1); n != 2 {
		t.Fatalf("paired Fetch failed: got %v", n)
	}
	batch := src.Data().([]*Record)
	if batch[0].ID != "p1/1" || batch[1].ID != "p1/2" {
		t.Error("paired interleaving failed")
	}
	rest, err := src.ReadAll()
	if err != nil || len(rest) != 2 {
		t.Error("paired ReadAll failed")
	}

	src = NewPairedSource(NewFastqReader(strings.NewReader(forward), "r1.fq"), NewFastqReader(strings.NewReader("@p1/2\nGGGG\n+\nJJJJ\n"), "r2.fq"), "r2.fq")
	_, err = src.ReadAll()
	var malformed *MalformedRecordError
	if !errors.As(err, &malformed) || malformed.Path != "r2.fq" {
		t.Errorf("missing mate failed: %v", err)
	}
}

func TestOpenLanes(t *testing.T) {
	dir := t.TempDir()
	contents := map[string]string{
		"L1_R1.fq": "@a/1\nAAAA\n+\nIIII\n",
		"L1_R2.fq": "@a/2\nGGGG\n+\nIIII\n",
		"L2_R1.fq": "@b/1\nCCCC\n+\nIIII\n@c/1\nCCCC\n+\nIIII\n",
		"L2_R2.fq": "@b/2\nTTTT\n+\nIIII\n@c/2\nTTTT\n+\nIIII\n",
	}
	for name, content := range contents {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}
	path := func(name string) string { return filepath.Join(dir, name) }
	src, err := OpenLanes([]string{path("L1_R1.fq"), path("L2_R1.fq")}, []string{path("L1_R2.fq"), path("L2_R2.fq")})
	if err != nil {
		t.Fatal(err)
	}
	records, err := src.ReadAll()
	if nerr := src.Close(); err == nil {
		err = nerr
	}
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	if strings.Join(ids, " ") != "a/1 a/2 b/1 b/2 c/1 c/2" {
		t.Errorf("OpenLanes failed: %v", ids)
	}
	if _, err := OpenLanes([]string{path("L1_R1.fq")}, nil); err == nil {
		t.Error("OpenLanes with unequal lanes failed")
	}
}

func TestOpenInterleaved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reads.fq")
	content := "@a/1\nAAAA\n+\nIIII\n@a/2\nGGGG\n+\nIIII\n@b/1\nCCCC\n+\nIIII\n@b/2\nTTTT\n+\nIIII\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	src, err := OpenInterleaved(path)
	if err != nil {
		t.Fatal(err)
	}
	if n := src.Fetch(1); n != 2 || src.Data().([]*Record)[1].ID != "a/2" {
		t.Error("interleaved Fetch failed")
	}
	rest, err := src.ReadAll()
	if err != nil || len(rest) != 2 {
		t.Error("interleaved ReadAll failed")
	}
	if err := src.Close(); err != nil {
		t.Errorf("interleaved Close failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("@a/1\nAAAA\n+\nIIII\n@b/2\nGGGG\n+\nIIII\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if src, err = OpenInterleaved(path); err != nil {
		t.Fatal(err)
	}
	_, err = src.ReadAll()
	_ = src.Close()
	var malformed *MalformedRecordError
	if !errors.As(err, &malformed) {
		t.Errorf("interleaved mismatch failed: %v", err)
	}
}

func TestFetchKeepsMates(t *testing.T) {
	records := []*Record{{ID: "a"}, {ID: "b/1"}, {ID: "b/2"}, {ID: "c"}}
	src := NewSource(FromRecords(records...))
	if n := src.Fetch(2); n != 3 {
		t.Errorf("Fetch split mates: got %v records", n)
	}
	if n := src.Fetch(2); n != 1 || src.Data().([]*Record)[0].ID != "c" {
		t.Error("Fetch after mates failed")
	}
}

func TestBaseID(t *testing.T) {
	for id, base := range map[string]string{
		"r1/1":          "r1",
		"r1/2 extra":    "r1",
		"r1 1:N:0:ACGT": "r1",
		"r1/3":          "r1/3",
	} {
		if BaseID(id) != base {
			t.Errorf("BaseID %v failed", id)
		}
	}
}

func recordsEqual(r1, r2 *Record) bool {
	return r1.ID == r2.ID && r1.Seq == r2.Seq && r1.Qual == r2.Qual && r1.Plus == r2.Plus && r1.Meta.Equal(r2.Meta)
}

func TestMergeSplitPair(t *testing.T) {
	m1 := &Record{ID: "p1/1", Seq: "ACGT", Qual: "II~I"}
	m1.Set("CLIP_PRIMER_POS", "3")
	m2 := &Record{ID: "p1/2", Seq: "TTGCA", Qual: "~~~~~", Plus: "p1/2"}
	m2.Set(SeqLen, 5)
	merged := MergePair(Pair{Mate1: m1, Mate2: m2}, DefaultSeparator)
	if merged.ID != "p1/1~p1/2" || merged.Seq != "ACGT~TTGCA" || merged.Qual != "II~I~~~~~~" || merged.Plus != "~p1/2" {
		t.Fatal("MergePair failed")
	}
	if v, ok := merged.Field("CLIP_PRIMER_POS_LEFT"); !ok || v != "3" {
		t.Error("MergePair left metadata failed")
	}
	if v, ok := merged.Field(SeqLenRight); !ok || v != "5" {
		t.Error("SEQ_LEN_RIGHT failed")
	}
	if v, ok := merged.Field(SeqLenLeft); !ok || v != "4" {
		t.Error("SEQ_LEN_LEFT failed")
	}
	pair, err := SplitPair(merged, DefaultSeparator)
	if err != nil {
		t.Fatal(err)
	}
	if !recordsEqual(pair.Mate1, m1) || !recordsEqual(pair.Mate2, m2) {
		t.Error("merge then split failed")
	}

	merged.Set("SAMPLE", "A")
	pair, err = SplitPair(merged, DefaultSeparator)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := pair.Mate1.Field("SAMPLE"); v != "A" {
		t.Error("metadata copy to mate 1 failed")
	}
	if v, _ := pair.Mate2.Field("SAMPLE"); v != "A" {
		t.Error("metadata copy to mate 2 failed")
	}

	joined := MergePair(Pair{Mate1: m1, Mate2: m2}, "")
	if joined.ID != "p1/1" || joined.Seq != "ACGTTTGCA" {
		t.Error("end to end MergePair failed")
	}
	if _, err := SplitPair(joined, ""); err == nil {
		t.Error("SplitPair without separator failed")
	}

	ambiguous := MergePair(Pair{Mate1: &Record{ID: "r~1/1", Seq: "AC"}, Mate2: &Record{ID: "r~1/2", Seq: "GT"}}, DefaultSeparator)
	if _, err := SplitPair(ambiguous, DefaultSeparator); err == nil {
		t.Error("SplitPair with ambiguous identifier failed")
	}
}

func TestPairs(t *testing.T) {
	records := []*Record{{ID: "a/1"}, {ID: "a/2"}, {ID: "b/1"}, {ID: "c/1"}, {ID: "c/2"}}
	pairs, lone := Pairs(records)
	if len(pairs) != 2 || len(lone) != 1 || lone[0].ID != "b/1" {
		t.Error("Pairs failed")
	}
}
