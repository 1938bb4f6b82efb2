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
	"fmt"
	"strings"

	"github.com/exascience/elmeta/utils"
)

// DefaultSeparator joins the mates of a merged pair.
const DefaultSeparator = "~"

// Suffixes of the metadata keys of the mates of a merged pair.
const (
	LeftSuffix  = "_LEFT"
	RightSuffix = "_RIGHT"
)

// A Pair holds the two mates of a paired-end read.
type Pair struct {
	Mate1, Mate2 *Record
}

// BaseID returns the identifier up to the first white space, without
// a trailing /1 or /2.
func BaseID(id string) string {
	if i := strings.IndexAny(id, " \t"); i >= 0 {
		id = id[:i]
	}
	if n := len(id); n >= 2 && id[n-2] == '/' && (id[n-1] == '1' || id[n-1] == '2') {
		id = id[:n-2]
	}
	return id
}

// MergePair merges the mates of a pair into one record. Identifier,
// sequence, quality string, and separator line are left + sep +
// right. The metadata of the mates is kept under keys with the suffix
// _LEFT and _RIGHT respectively.
//
// With an empty separator, the mates are joined end to end, and the
// result carries the identifier of the first mate. Such records cannot
// be split again.
func MergePair(pair Pair, sep string) *Record {
	m1, m2 := pair.Mate1, pair.Mate2
	r := &Record{
		Seq:     m1.Seq + sep + m2.Seq,
		PairSep: sep,
	}
	if sep == "" {
		r.ID = m1.ID
		r.Plus = m1.Plus
	} else {
		r.ID = m1.ID + sep + m2.ID
		r.Plus = m1.Plus + sep + m2.Plus
	}
	if m1.Qual != "" || m2.Qual != "" {
		r.Qual = m1.Qual + sep + m2.Qual
	}
	if len(m1.Meta)+len(m2.Meta) > 0 {
		r.Meta = make(utils.SmallMap, 0, len(m1.Meta)+len(m2.Meta))
		for _, entry := range m1.Meta {
			r.Meta = append(r.Meta, utils.SmallMapEntry{Key: utils.Intern(*entry.Key + LeftSuffix), Value: entry.Value})
		}
		for _, entry := range m2.Meta {
			r.Meta = append(r.Meta, utils.SmallMapEntry{Key: utils.Intern(*entry.Key + RightSuffix), Value: entry.Value})
		}
	}
	return r
}

func splitAt(s, sep string, what, id string) (string, string, error) {
	i := strings.Index(s, sep)
	if i < 0 {
		return "", "", fmt.Errorf("%v of record %v does not contain pair separator %q", what, id, sep)
	}
	return s[:i], s[i+len(sep):], nil
}

// SplitPair splits a record produced by MergePair into its mates.
// Metadata with a _LEFT or _RIGHT suffix goes to the respective mate
// without the suffix, other metadata is copied to both mates. The
// separator must occur exactly once in the identifier.
func SplitPair(r *Record, sep string) (Pair, error) {
	if sep == "" {
		return Pair{}, fmt.Errorf("cannot split record %v without a pair separator", r.ID)
	}
	if strings.Count(r.ID, sep) > 1 {
		return Pair{}, fmt.Errorf("identifier of record %v contains pair separator %q more than once", r.ID, sep)
	}
	id1, id2, err := splitAt(r.ID, sep, "identifier", r.ID)
	if err != nil {
		return Pair{}, err
	}
	seq1, seq2, err := splitAt(r.Seq, sep, "sequence", r.ID)
	if err != nil {
		return Pair{}, err
	}
	m1 := &Record{ID: id1, Seq: seq1}
	m2 := &Record{ID: id2, Seq: seq2}
	if r.Qual != "" {
		if len(r.Qual) != len(r.Seq) {
			return Pair{}, fmt.Errorf("record %v has %v quality scores for %v bases", r.ID, len(r.Qual), len(r.Seq))
		}
		// Quality characters may contain the separator, so split by position.
		m1.Qual = r.Qual[:len(seq1)]
		m2.Qual = r.Qual[len(seq1)+len(sep):]
	}
	if r.Plus != "" {
		if m1.Plus, m2.Plus, err = splitAt(r.Plus, sep, "separator line", r.ID); err != nil {
			return Pair{}, err
		}
	}
	for _, entry := range r.Meta {
		key := utils.Name(entry.Key)
		switch {
		case strings.HasSuffix(key, LeftSuffix):
			m1.Meta = append(m1.Meta, utils.SmallMapEntry{Key: utils.Intern(strings.TrimSuffix(key, LeftSuffix)), Value: entry.Value})
		case strings.HasSuffix(key, RightSuffix):
			m2.Meta = append(m2.Meta, utils.SmallMapEntry{Key: utils.Intern(strings.TrimSuffix(key, RightSuffix)), Value: entry.Value})
		default:
			m1.Meta.Set(entry.Key, entry.Value)
			m2.Meta.Set(entry.Key, entry.Value)
		}
	}
	return Pair{Mate1: m1, Mate2: m2}, nil
}

// Pairs groups an interleaved batch into pairs. Records whose
// neighbour does not share its base identifier are returned as lone
// mates.
func Pairs(records []*Record) (pairs []Pair, lone []*Record) {
	for i := 0; i < len(records); {
		if i+1 < len(records) && BaseID(records[i].ID) == BaseID(records[i+1].ID) {
			pairs = append(pairs, Pair{Mate1: records[i], Mate2: records[i+1]})
			i += 2
		} else {
			lone = append(lone, records[i])
			i++
		}
	}
	return pairs, lone
}
