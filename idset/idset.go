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

// Package idset implements sets of record identifiers, used to select
// or reject records of one stream based on the outcome of another.
package idset

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/exascience/pargo/parallel"
	"github.com/exascience/pargo/pipeline"

	"github.com/exascience/elmeta/internal"
	"github.com/exascience/elmeta/seq"
	"github.com/exascience/elmeta/table"
)

// A Projection extracts an identifier from a record: the value of
// Field, optionally split on Delimiter, of which Part is taken. With
// Base set, the result is reduced to its base identifier, as by
// seq.BaseID.
type Projection struct {
	Field     string
	Delimiter string
	Part      int
	Base      bool
}

// Names projects the full record identifier.
var Names = Projection{Field: seq.SeqName}

// FirstWord projects the record identifier up to the first space.
var FirstWord = Projection{Field: seq.SeqName, Delimiter: " "}

// BaseNames projects the base identifier shared by the mates of a pair.
var BaseNames = Projection{Field: seq.SeqName, Base: true}

// Apply returns the identifier a record projects to.
func (p Projection) Apply(r *seq.Record) (string, bool) {
	value, ok := r.Field(p.Field)
	if !ok {
		return "", false
	}
	if p.Delimiter != "" {
		parts := strings.Split(value, p.Delimiter)
		if p.Part < 0 || p.Part >= len(parts) {
			return "", false
		}
		value = parts[p.Part]
	}
	if p.Base {
		value = seq.BaseID(value)
	}
	return value, true
}

// A Set is an immutable set of identifiers. It remembers the order in
// which identifiers were first added.
type Set struct {
	ids     []string
	members map[string]struct{}
}

// New returns a set of the given identifiers. Duplicates are dropped.
func New(ids ...string) *Set {
	s := &Set{members: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.add(id)
	}
	return s
}

func (s *Set) add(id string) {
	if _, ok := s.members[id]; !ok {
		s.members[id] = struct{}{}
		s.ids = append(s.ids, id)
	}
}

// Union returns a set of the members of all sets, in order.
func Union(sets ...*Set) *Set {
	result := New()
	for _, s := range sets {
		for _, id := range s.ids {
			result.add(id)
		}
	}
	return result
}

// Len returns the number of identifiers.
func (s *Set) Len() int {
	return len(s.ids)
}

// IDs returns the identifiers in first-occurrence order.
func (s *Set) IDs() []string {
	return s.ids
}

// Contains reports whether id is a member.
func (s *Set) Contains(id string) bool {
	_, ok := s.members[id]
	return ok
}

// Build makes one pass over a source of records and collects the
// identifiers they project to. Records without the projected field
// are skipped.
func Build(src pipeline.Source, projection Projection) (*Set, error) {
	s := New()
	src.Prepare(context.Background())
	for src.Fetch(4096) > 0 {
		for _, r := range src.Data().([]*seq.Record) {
			if id, ok := projection.Apply(r); ok {
				s.add(id)
			}
		}
	}
	if err := src.Err(); err != nil {
		return nil, fmt.Errorf("%w, while building identifier set", err)
	}
	return s, nil
}

// BuildFromFiles builds a set from sequence files, which are read in
// parallel.
func BuildFromFiles(paths []string, projection Projection) (*Set, error) {
	sets := make([]*Set, len(paths))
	errs := make([]error, len(paths))
	parallel.Range(0, len(paths), 0, func(low, high int) {
		for i := low; i < high; i++ {
			src, err := seq.Open(paths[i])
			if err != nil {
				errs[i] = err
				continue
			}
			sets[i], errs[i] = Build(src, projection)
			if err := src.Close(); errs[i] == nil {
				errs[i] = err
			}
		}
	})
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return Union(sets...), nil
}

// Read reads a set from a list of identifiers, one per line. Blank
// lines and lines starting with '#' are ignored.
func Read(r io.Reader) (*Set, error) {
	s := New()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, 1<<20)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" || line[0] == '#' {
			continue
		}
		s.add(line)
	}
	return s, scanner.Err()
}

// Load loads a set from a file. If column is empty, the file lists one
// identifier per line. Otherwise it is a table with a header, and the
// identifiers are taken from the named column.
func Load(path, column string) (s *Set, err error) {
	if column != "" {
		return loadColumn(path, column)
	}
	in, err := internal.OpenInput(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		nerr := in.Close()
		if err == nil {
			err = nerr
		}
	}()
	if s, err = Read(in); err != nil {
		return nil, fmt.Errorf("%w, while reading identifier set %v", err, path)
	}
	return s, nil
}

func loadColumn(path, column string) (s *Set, err error) {
	src, err := table.Open([]string{path}, table.Options{})
	if err != nil {
		return nil, err
	}
	defer func() {
		nerr := src.Close()
		if err == nil {
			err = nerr
		}
	}()
	return Build(src, Projection{Field: column})
}

// CheckID returns an error for an identifier that would not be read
// back by Read: one that is empty, starts with #, or spans lines.
func CheckID(id string) error {
	if id == "" || id[0] == '#' || strings.ContainsAny(id, "\r\n") {
		return fmt.Errorf("identifier %q cannot be written to an identifier list", id)
	}
	return nil
}

// Write writes the identifiers, one per line.
func (s *Set) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, id := range s.ids {
		if err := CheckID(id); err != nil {
			return err
		}
		if _, err := bw.WriteString(id); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Save writes the set to a file.
func (s *Set) Save(path string) (err error) {
	out, err := internal.CreateBuffered(path, false)
	if err != nil {
		return err
	}
	defer func() {
		if err == nil {
			err = out.Commit()
		} else {
			_ = out.Close()
		}
	}()
	return s.Write(out)
}

// Mode selects whether a filter keeps members or non-members.
type Mode int

const (
	// Select keeps the records that are members.
	Select Mode = iota
	// Reject keeps the records that are not members.
	Reject
)

func (m Mode) String() string {
	if m == Reject {
		return "reject"
	}
	return "select"
}

// Filter returns a predicate that tests record identifiers for
// membership.
func (s *Set) Filter(mode Mode) func(*seq.Record) (bool, error) {
	return s.FilterBy(mode, Names)
}

// FilterBy returns a predicate that tests the identifiers records
// project to for membership. Records without the projected field are
// not members.
func (s *Set) FilterBy(mode Mode, projection Projection) func(*seq.Record) (bool, error) {
	return func(r *seq.Record) (bool, error) {
		id, ok := projection.Apply(r)
		member := ok && s.Contains(id)
		return member == (mode == Select), nil
	}
}
