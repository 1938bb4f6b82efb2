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
	"bufio"
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
)

// Directory returns the names of the files in a directory, or the base
// name of file if it is not a directory.
func Directory(file string) (files []string, err error) {
	info, err := os.Stat(file)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{filepath.Base(file)}, nil
	}
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer func() {
		nerr := f.Close()
		if err == nil {
			err = nerr
		}
	}()
	return f.Readdirnames(0)
}

// FullPathname returns filename relative to the working directory.
func FullPathname(filename string) (string, error) {
	if filepath.IsAbs(filename) {
		return filename, nil
	}
	wd, err := os.Getwd()
	return filepath.Join(wd, filename), err
}

// Exists reports whether filename names an existing file or directory.
func Exists(filename string) bool {
	_, err := os.Stat(filename)
	return err == nil
}

// ExpandInputs expands shell glob patterns in the given names. Names
// without glob characters are passed through unchanged even if they do
// not exist, so that callers can report them as missing. Matches of
// each pattern are sorted, so results do not depend on directory order.
func ExpandInputs(names ...string) ([]string, error) {
	var result []string
	for _, name := range names {
		if !hasMeta(name) {
			result = append(result, name)
			continue
		}
		matches, err := filepath.Glob(name)
		if err != nil {
			return nil, fmt.Errorf("%w, while expanding input pattern %v", err, name)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match input pattern %v", name)
		}
		sort.Strings(matches)
		result = append(result, matches...)
	}
	return result, nil
}

func hasMeta(path string) bool {
	for i := 0; i < len(path); i++ {
		switch path[i] {
		case '*', '?', '[':
			return true
		}
	}
	return false
}

// An OutputFile is a file created for output. If it is atomic, data
// goes to a temporary sibling which Commit renames into place, and
// Close without Commit removes it. Otherwise data goes straight to the
// final path and whatever was written stays there.
type OutputFile struct {
	*os.File
	final     string
	atomic    bool
	committed bool
}

// CreateOutput creates or truncates the named output file, creating
// parent directories as needed.
func CreateOutput(name string, atomic bool) (*OutputFile, error) {
	if err := os.MkdirAll(filepath.Dir(name), 0700); err != nil {
		return nil, err
	}
	path := name
	if atomic {
		path = fmt.Sprintf("%s.%s.tmp", name, uuid.New().String())
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &OutputFile{File: f, final: name, atomic: atomic}, nil
}

// Path returns the final path of the output file.
func (f *OutputFile) Path() string {
	return f.final
}

// Commit closes the file and, for atomic output, renames it into place.
func (f *OutputFile) Commit() error {
	if err := f.File.Close(); err != nil {
		return err
	}
	f.committed = true
	if f.atomic {
		return os.Rename(f.File.Name(), f.final)
	}
	return nil
}

// Close closes an uncommitted file. For atomic output the temporary
// file is removed; otherwise the partial file is left in place.
func (f *OutputFile) Close() error {
	if f.committed {
		return nil
	}
	f.committed = true
	err := f.File.Close()
	if f.atomic {
		if nerr := os.Remove(f.File.Name()); err == nil {
			err = nerr
		}
	}
	return err
}

// An Input is a buffered input file that is transparently
// decompressed when it starts with the gzip magic number.
type Input struct {
	*bufio.Reader
	file *os.File
	gz   *gzip.Reader
}

// OpenInput opens the named file for buffered reading.
func OpenInput(name string) (*Input, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	in := &Input{Reader: bufio.NewReaderSize(f, 1<<16), file: f}
	if magic, err := in.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(in.Reader)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("%w, while opening gzip input %v", err, name)
		}
		in.gz = gz
		in.Reader = bufio.NewReaderSize(gz, 1<<16)
	}
	return in, nil
}

// Name returns the name of the underlying file.
func (in *Input) Name() string {
	return in.file.Name()
}

// Close closes the input file.
func (in *Input) Close() (err error) {
	if in.gz != nil {
		err = in.gz.Close()
	}
	if nerr := in.file.Close(); err == nil {
		err = nerr
	}
	return err
}

// An Output is a buffered OutputFile that is gzip compressed when its
// name ends in .gz.
type Output struct {
	*bufio.Writer
	file *OutputFile
	gz   *gzip.Writer
}

// CreateBuffered creates the named output for buffered writing.
func CreateBuffered(name string, atomic bool) (*Output, error) {
	f, err := CreateOutput(name, atomic)
	if err != nil {
		return nil, err
	}
	out := &Output{file: f}
	if filepath.Ext(name) == ".gz" {
		out.gz = gzip.NewWriter(f)
		out.Writer = bufio.NewWriterSize(out.gz, 1<<16)
	} else {
		out.Writer = bufio.NewWriterSize(f, 1<<16)
	}
	return out, nil
}

// Path returns the final path of the output.
func (out *Output) Path() string {
	return out.file.Path()
}

// Commit flushes all buffered data and commits the underlying file.
func (out *Output) Commit() error {
	err := out.Flush()
	if err == nil && out.gz != nil {
		err = out.gz.Close()
	}
	if err != nil {
		_ = out.file.Close()
		return err
	}
	return out.file.Commit()
}

// Close flushes what it can and closes an uncommitted output.
func (out *Output) Close() error {
	if out.file.committed {
		return nil
	}
	err := out.Flush()
	if out.gz != nil {
		if nerr := out.gz.Close(); err == nil {
			err = nerr
		}
	}
	if nerr := out.file.Close(); err == nil {
		err = nerr
	}
	return err
}
