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
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/exascience/elmeta/internal"
)

// Format is a sequence file format.
type Format int

// Supported sequence file formats.
const (
	FASTQ Format = iota
	FASTA
)

func (f Format) String() string {
	if f == FASTA {
		return "FASTA"
	}
	return "FASTQ"
}

// FormatOf determines the format of a file from its extension. A
// trailing .gz extension is ignored.
func FormatOf(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".gz" {
		ext = strings.ToLower(filepath.Ext(strings.TrimSuffix(path, filepath.Ext(path))))
	}
	switch ext {
	case ".fq", ".fastq":
		return FASTQ, nil
	case ".fa", ".fna", ".fasta", ".fas":
		return FASTA, nil
	}
	return FASTQ, fmt.Errorf("unknown sequence file extension %v", path)
}

func openReader(path string) (Reader, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	in, err := internal.OpenInput(path)
	if err != nil {
		return nil, err
	}
	if format == FASTA {
		return NewFastaReader(in, path), nil
	}
	return NewFastqReader(in, path), nil
}

// A Source is a pipeline.Source of records. Each batch is a
// []*Record. A paired source yields mates interleaved and never splits
// a pair across batches. Other sources do not split adjacent records
// with the same base identifier either.
type Source struct {
	readers []Reader
	paired  bool
	mates   Reader
	path    string
	current int
	next    *Record
	data    []*Record
	err     error
}

// NewSource returns a Source that reads the given readers one after
// the other.
func NewSource(readers ...Reader) *Source {
	return &Source{readers: readers}
}

// NewPairedSource returns a Source that reads pairs from a forward and
// a reverse reader. The path of the reverse input is used in error
// messages about missing mates.
func NewPairedSource(forward, reverse Reader, path string) *Source {
	return &Source{readers: []Reader{forward}, paired: true, mates: reverse, path: path}
}

// Open opens sequence files for input. Several files are read one
// after another.
func Open(paths ...string) (*Source, error) {
	readers := make([]Reader, 0, len(paths))
	for _, path := range paths {
		r, err := openReader(path)
		if err != nil {
			for _, r := range readers {
				_ = r.Close()
			}
			return nil, fmt.Errorf("%w, while opening sequence input %v", err, path)
		}
		readers = append(readers, r)
	}
	return NewSource(readers...), nil
}

// OpenPaired opens a forward and a reverse sequence file for paired input.
func OpenPaired(forward, reverse string) (*Source, error) {
	r1, err := openReader(forward)
	if err != nil {
		return nil, fmt.Errorf("%w, while opening sequence input %v", err, forward)
	}
	r2, err := openReader(reverse)
	if err != nil {
		_ = r1.Close()
		return nil, fmt.Errorf("%w, while opening sequence input %v", err, reverse)
	}
	return NewPairedSource(r1, r2, reverse), nil
}

// OpenLanes opens several lanes of paired input as one paired source.
// The forward and reverse files of each lane are read one lane after
// another.
func OpenLanes(forward, reverse []string) (*Source, error) {
	if len(forward) != len(reverse) {
		return nil, fmt.Errorf("%v forward and %v reverse lane files", len(forward), len(reverse))
	}
	if len(forward) == 1 {
		return OpenPaired(forward[0], reverse[0])
	}
	fwd, err := Open(forward...)
	if err != nil {
		return nil, err
	}
	rev, err := Open(reverse...)
	if err != nil {
		_ = fwd.Close()
		return nil, err
	}
	return NewPairedSource(Concat(fwd.readers...), Concat(rev.readers...), strings.Join(reverse, ",")), nil
}

// OpenInterleaved opens sequence files in which mates follow each
// other as a paired source.
func OpenInterleaved(paths ...string) (*Source, error) {
	src, err := Open(paths...)
	if err != nil {
		return nil, err
	}
	r := Concat(src.readers...)
	return &Source{readers: []Reader{r}, paired: true, mates: r, path: strings.Join(paths, ",")}, nil
}

type concatReader struct {
	readers []Reader
	current int
}

// Concat returns a Reader that reads the given readers one after the
// other. Closing it closes all of them.
func Concat(readers ...Reader) Reader {
	if len(readers) == 1 {
		return readers[0]
	}
	return &concatReader{readers: readers}
}

func (c *concatReader) Read() (*Record, error) {
	for c.current < len(c.readers) {
		r, err := c.readers[c.current].Read()
		if err == io.EOF {
			c.current++
			continue
		}
		return r, err
	}
	return nil, io.EOF
}

func (c *concatReader) Close() (err error) {
	for _, r := range c.readers {
		if nerr := r.Close(); err == nil {
			err = nerr
		}
	}
	return err
}

// Paired reports whether the source yields interleaved mates.
func (src *Source) Paired() bool {
	return src.paired
}

// Err implements the method of the pipeline.Source interface.
func (src *Source) Err() error {
	return src.err
}

// Prepare implements the method of the pipeline.Source interface.
func (src *Source) Prepare(_ context.Context) (size int) {
	return -1
}

func (src *Source) read() (*Record, error) {
	if r := src.next; r != nil {
		src.next = nil
		return r, nil
	}
	for src.current < len(src.readers) {
		r, err := src.readers[src.current].Read()
		if err == io.EOF {
			src.current++
			continue
		}
		return r, err
	}
	return nil, io.EOF
}

func (src *Source) readPair() (*Record, *Record, error) {
	r1, err1 := src.read()
	if err1 != nil && err1 != io.EOF {
		return nil, nil, err1
	}
	r2, err2 := src.mates.Read()
	if err2 != nil && err2 != io.EOF {
		return nil, nil, err2
	}
	switch {
	case err1 == io.EOF && err2 == io.EOF:
		return nil, nil, io.EOF
	case err1 == io.EOF:
		return nil, nil, &MalformedRecordError{Path: src.path, Reason: fmt.Sprintf("mate %v has no forward mate", r2.ID)}
	case err2 == io.EOF:
		return nil, nil, &MalformedRecordError{Path: src.path, Reason: fmt.Sprintf("mate %v has no reverse mate", r1.ID)}
	}
	if BaseID(r1.ID) != BaseID(r2.ID) {
		return nil, nil, &MalformedRecordError{Path: src.path, Reason: fmt.Sprintf("mates %v and %v do not match", r1.ID, r2.ID)}
	}
	return r1, r2, nil
}

// Fetch implements the method of the pipeline.Source interface.
func (src *Source) Fetch(size int) (fetched int) {
	src.data = nil
	if src.err != nil {
		return 0
	}
	var records []*Record
	if src.paired {
		for fetched = 0; fetched < size || fetched == 0; fetched += 2 {
			r1, r2, err := src.readPair()
			if err != nil {
				if err != io.EOF {
					src.err = err
				}
				break
			}
			records = append(records, r1, r2)
		}
	} else {
		for fetched = 0; fetched < size; fetched++ {
			r, err := src.read()
			if err != nil {
				if err != io.EOF {
					src.err = err
				}
				break
			}
			records = append(records, r)
		}
		// Keep adjacent mates of interleaved input in one batch.
		if src.err == nil && fetched > 0 && fetched == size && records[fetched-1].ID != "" {
			r, err := src.read()
			switch {
			case err == io.EOF:
			case err != nil:
				src.err = err
			case BaseID(r.ID) == BaseID(records[fetched-1].ID):
				records = append(records, r)
				fetched++
			default:
				src.next = r
			}
		}
	}
	src.data = records
	return fetched
}

// Data implements the method of the pipeline.Source interface.
func (src *Source) Data() interface{} {
	return src.data
}

// ReadAll reads all remaining records.
func (src *Source) ReadAll() (records []*Record, err error) {
	for src.Fetch(4096) > 0 {
		records = append(records, src.data...)
	}
	return records, src.err
}

// Close closes all underlying readers.
func (src *Source) Close() (err error) {
	for _, r := range src.readers {
		if nerr := r.Close(); err == nil {
			err = nerr
		}
	}
	if src.mates != nil && (len(src.readers) != 1 || src.mates != src.readers[0]) {
		if nerr := src.mates.Close(); err == nil {
			err = nerr
		}
	}
	return err
}

type sliceReader struct {
	records []*Record
}

// FromRecords returns a Reader over records in memory.
func FromRecords(records ...*Record) Reader {
	return &sliceReader{records: records}
}

func (sr *sliceReader) Read() (*Record, error) {
	if len(sr.records) == 0 {
		return nil, io.EOF
	}
	r := sr.records[0]
	sr.records = sr.records[1:]
	return r, nil
}

func (*sliceReader) Close() error {
	return nil
}

// A Writer writes records in FASTQ or FASTA format.
type Writer struct {
	w      *bufio.Writer
	out    *internal.Output
	format Format
}

// NewWriter returns a Writer that writes to w.
func NewWriter(w io.Writer, format Format) *Writer {
	return &Writer{w: bufio.NewWriter(w), format: format}
}

// Create creates a sequence file for output, in the format implied by
// its extension. If atomic is true, the file only appears under its
// name after a successful Commit.
func Create(path string, atomic bool) (*Writer, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	out, err := internal.CreateBuffered(path, atomic)
	if err != nil {
		return nil, fmt.Errorf("%w, while creating sequence output %v", err, path)
	}
	return &Writer{w: out.Writer, out: out, format: format}, nil
}

// Path returns the path of the output file, if any.
func (w *Writer) Path() string {
	if w.out == nil {
		return ""
	}
	return w.out.Path()
}

func (f Format) appendRecord(buf []byte, r *Record) ([]byte, error) {
	if f == FASTA {
		buf = append(buf, '>')
		buf = append(buf, r.ID...)
		buf = append(buf, '\n')
		buf = append(buf, r.Seq...)
		return append(buf, '\n'), nil
	}
	if len(r.Qual) != len(r.Seq) {
		return buf, fmt.Errorf("record %v has no quality scores for FASTQ output", r.ID)
	}
	buf = append(buf, '@')
	buf = append(buf, r.ID...)
	buf = append(buf, '\n')
	buf = append(buf, r.Seq...)
	buf = append(buf, '\n', '+')
	buf = append(buf, r.Plus...)
	buf = append(buf, '\n')
	buf = append(buf, r.Qual...)
	return append(buf, '\n'), nil
}

// Write writes a record.
func (w *Writer) Write(r *Record) error {
	return w.WriteBatch([]*Record{r})
}

// WriteBatch formats a batch of records into one buffer and writes it
// at once. Nothing is written if a record cannot be formatted.
func (w *Writer) WriteBatch(records []*Record) (err error) {
	buf := internal.ReserveByteBuffer()
	defer func() {
		internal.ReleaseByteBuffer(buf)
	}()
	for _, r := range records {
		if buf, err = w.format.appendRecord(buf, r); err != nil {
			return err
		}
	}
	_, err = w.w.Write(buf)
	return err
}

// Commit flushes all records and commits the output file.
func (w *Writer) Commit() error {
	if w.out == nil {
		return w.w.Flush()
	}
	return w.out.Commit()
}

// Close closes an output that has not been committed.
func (w *Writer) Close() error {
	if w.out == nil {
		return w.w.Flush()
	}
	return w.out.Close()
}
