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

// Package seq implements the sequence record model: records read from
// FASTQ and FASTA files, paired reads, and the merging of mates into a
// single record and back.
package seq

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/exascience/elmeta/utils"
)

// Well-known field names. SEQ_NAME, SEQ, and SCORES name the record
// identifier, sequence, and quality string. The others are computed
// on access.
const (
	SeqName     = "SEQ_NAME"
	SeqField    = "SEQ"
	Scores      = "SCORES"
	SeqLen      = "SEQ_LEN"
	SeqLenLeft  = "SEQ_LEN_LEFT"
	SeqLenRight = "SEQ_LEN_RIGHT"
)

// A Record is one sequence, optionally with a quality string and
// metadata. Meta keys are interned field names.
type Record struct {
	ID   string
	Seq  string
	Qual string

	// Plus is the remainder of the FASTQ separator line after the
	// leading '+'.
	Plus string

	// PairSep is the separator of a record produced by MergePair,
	// and empty otherwise.
	PairSep string

	Meta utils.SmallMap
}

// A MalformedRecordError is returned when an input file does not
// contain well-formed records.
type MalformedRecordError struct {
	Path   string
	Line   int
	Reason string
}

func (err *MalformedRecordError) Error() string {
	if err.Line > 0 {
		return fmt.Sprintf("malformed record in %v at line %v: %v", err.Path, err.Line, err.Reason)
	}
	return fmt.Sprintf("malformed record in %v: %v", err.Path, err.Reason)
}

// Validate checks that the quality string, if any, is as long as the
// sequence.
func (r *Record) Validate() error {
	if r.Qual != "" && len(r.Qual) != len(r.Seq) {
		return fmt.Errorf("record %v has %v quality scores for %v bases", r.ID, len(r.Qual), len(r.Seq))
	}
	return nil
}

// Clone returns a copy of r with its own metadata.
func (r *Record) Clone() *Record {
	c := *r
	c.Meta = r.Meta.Clone()
	return &c
}

// Get returns the metadata value for key.
func (r *Record) Get(key string) (interface{}, bool) {
	return r.Meta.Get(utils.Intern(key))
}

// Set assigns a field. SEQ_NAME, SEQ, and SCORES assign the
// identifier, sequence, and quality string, everything else is
// stored as metadata.
func (r *Record) Set(key string, value interface{}) {
	switch key {
	case SeqName:
		r.ID = fmt.Sprint(value)
	case SeqField:
		r.Seq = fmt.Sprint(value)
	case Scores:
		r.Qual = fmt.Sprint(value)
	default:
		r.Meta.Set(utils.Intern(key), value)
	}
}

// Delete removes a metadata entry.
func (r *Record) Delete(key string) {
	r.Meta, _ = r.Meta.Delete(utils.Intern(key))
}

// Field returns the string value of a field. Metadata takes
// precedence over the fields that are computed from the record.
func (r *Record) Field(key string) (string, bool) {
	if value, ok := r.Meta.Get(utils.Intern(key)); ok {
		return FormatValue(value), true
	}
	switch key {
	case SeqName:
		return r.ID, true
	case SeqField:
		return r.Seq, true
	case Scores:
		return r.Qual, r.Qual != ""
	case SeqLen:
		return strconv.Itoa(len(r.Seq)), true
	case SeqLenLeft, SeqLenRight:
		sep := r.PairSep
		if sep == "" {
			sep = DefaultSeparator
		}
		i := strings.Index(r.Seq, sep)
		if i < 0 {
			return "", false
		}
		if key == SeqLenLeft {
			return strconv.Itoa(i), true
		}
		return strconv.Itoa(len(r.Seq) - i - len(sep)), true
	}
	return "", false
}

// FormatValue formats a metadata value for output.
func FormatValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
