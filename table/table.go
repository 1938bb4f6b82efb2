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

// Package table reads and writes tab-delimited tables of records, and
// implements the keyed tables that aggregate per-sample results.
package table

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/exascience/elmeta/internal"
	"github.com/exascience/elmeta/seq"
	"github.com/exascience/elmeta/utils"
)

// Options control how tables are read.
type Options struct {
	// Columns names the columns of a table without a header row.
	// When nil, the first line of each file is the header.
	Columns []string

	// Delimiter separates columns. The default is a tab.
	Delimiter string
}

func (opts Options) delimiter() string {
	if opts.Delimiter == "" {
		return "\t"
	}
	return opts.Delimiter
}

type reader struct {
	r       *bufio.Reader
	closer  io.Closer
	path    string
	line    int
	opts    Options
	columns []string
}

// NewReader returns a seq.Reader that yields one record per table
// row. The path is only used in error messages.
func NewReader(r io.Reader, path string, opts Options) seq.Reader {
	tr := &reader{path: path, opts: opts, columns: opts.Columns}
	if in, ok := r.(*internal.Input); ok {
		tr.r = in.Reader
	} else {
		tr.r = bufio.NewReader(r)
	}
	if c, ok := r.(io.Closer); ok {
		tr.closer = c
	}
	return tr
}

func (tr *reader) readLine() (string, error) {
	for {
		s, err := tr.r.ReadString('\n')
		if err != nil && (err != io.EOF || s == "") {
			return "", err
		}
		tr.line++
		s = strings.TrimRight(s, "\r\n")
		if s != "" {
			return s, nil
		}
	}
}

func (tr *reader) Read() (*seq.Record, error) {
	delim := tr.opts.delimiter()
	if tr.columns == nil {
		header, err := tr.readLine()
		if err != nil {
			return nil, err
		}
		tr.columns = strings.Split(strings.TrimPrefix(header, "#"), delim)
	}
	line, err := tr.readLine()
	for err == nil && tr.opts.Columns != nil && line[0] == '#' {
		line, err = tr.readLine()
	}
	if err != nil {
		return nil, err
	}
	fields := strings.Split(line, delim)
	if len(fields) != len(tr.columns) {
		return nil, &seq.MalformedRecordError{
			Path:   tr.path,
			Line:   tr.line,
			Reason: fmt.Sprintf("%v fields for %v columns", len(fields), len(tr.columns)),
		}
	}
	r := &seq.Record{}
	for i, column := range tr.columns {
		r.Set(column, fields[i])
	}
	return r, nil
}

func (tr *reader) Close() error {
	if tr.closer != nil {
		return tr.closer.Close()
	}
	return nil
}

// Open opens table files for input. Several files are read one after
// another, each with its own header.
func Open(paths []string, opts Options) (*seq.Source, error) {
	readers := make([]seq.Reader, 0, len(paths))
	for _, path := range paths {
		in, err := internal.OpenInput(path)
		if err != nil {
			for _, r := range readers {
				_ = r.Close()
			}
			return nil, fmt.Errorf("%w, while opening table input %v", err, path)
		}
		readers = append(readers, NewReader(in, path, opts))
	}
	return seq.NewSource(readers...), nil
}

// ReadAll reads all rows of the given table files.
func ReadAll(paths []string, opts Options) (records []*seq.Record, err error) {
	src, err := Open(paths, opts)
	if err != nil {
		return nil, err
	}
	defer func() {
		nerr := src.Close()
		if err == nil {
			err = nerr
		}
	}()
	return src.ReadAll()
}

// WriteOptions control how tables are written.
type WriteOptions struct {
	// Keys selects the columns to write, in order. When nil, the
	// columns are taken from the first record written.
	Keys []string

	// Skip names columns that are not written.
	Skip []string

	// Rename maps field names to column names in the header.
	Rename map[string]string

	// Header requests a header row starting with '#'.
	Header bool

	// Atomic makes the file appear only after a successful Commit.
	Atomic bool
}

// A Writer writes records as table rows.
type Writer struct {
	w       *bufio.Writer
	out     *internal.Output
	opts    WriteOptions
	columns []string
}

// NewWriter returns a Writer that writes to w.
func NewWriter(w io.Writer, opts WriteOptions) *Writer {
	return &Writer{w: bufio.NewWriter(w), opts: opts}
}

// Create creates a table file for output.
func Create(path string, opts WriteOptions) (*Writer, error) {
	out, err := internal.CreateBuffered(path, opts.Atomic)
	if err != nil {
		return nil, fmt.Errorf("%w, while creating table output %v", err, path)
	}
	return &Writer{w: out.Writer, out: out, opts: opts}, nil
}

// Columns returns the fields a record contributes to a table without
// explicitly selected columns.
func Columns(r *seq.Record) []string {
	var columns []string
	if r.ID != "" {
		columns = append(columns, seq.SeqName)
	}
	if r.Seq != "" {
		columns = append(columns, seq.SeqField)
	}
	if r.Qual != "" {
		columns = append(columns, seq.Scores)
	}
	for _, entry := range r.Meta {
		columns = append(columns, utils.Name(entry.Key))
	}
	return columns
}

func (w *Writer) selectColumns(r *seq.Record) error {
	columns := w.opts.Keys
	if columns == nil {
		columns = Columns(r)
	}
	w.columns = make([]string, 0, len(columns))
	for _, column := range columns {
		skip := false
		for _, s := range w.opts.Skip {
			if s == column {
				skip = true
				break
			}
		}
		if !skip {
			w.columns = append(w.columns, column)
		}
	}
	if !w.opts.Header {
		return nil
	}
	names := make([]string, len(w.columns))
	for i, column := range w.columns {
		if name, ok := w.opts.Rename[column]; ok {
			names[i] = name
		} else {
			names[i] = column
		}
	}
	_, err := fmt.Fprintf(w.w, "#%s\n", strings.Join(names, "\t"))
	return err
}

// Write writes a record as one row. Missing fields are written as
// empty columns.
func (w *Writer) Write(r *seq.Record) error {
	if w.columns == nil {
		if err := w.selectColumns(r); err != nil {
			return err
		}
	}
	for i, column := range w.columns {
		if i > 0 {
			if err := w.w.WriteByte('\t'); err != nil {
				return err
			}
		}
		value, _ := r.Field(column)
		if _, err := w.w.WriteString(value); err != nil {
			return err
		}
	}
	return w.w.WriteByte('\n')
}

// Commit flushes all rows and commits the output file.
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
