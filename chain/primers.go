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

package chain

import (
	"fmt"
	"math"

	"github.com/exascience/elmeta/seq"
)

// A Matcher counts mismatches between a primer and a stretch of
// sequence of the same length.
type Matcher interface {
	// Distance returns the number of mismatches between pattern and
	// text. It may stop counting once max is exceeded.
	Distance(pattern, text string, max int) int
}

var iupacMask [256]byte

func init() {
	for c, bits := range map[byte]byte{
		'A': 1, 'C': 2, 'G': 4, 'T': 8, 'U': 8,
		'R': 1 | 4, 'Y': 2 | 8, 'S': 2 | 4, 'W': 1 | 8, 'K': 4 | 8, 'M': 1 | 2,
		'B': 2 | 4 | 8, 'D': 1 | 4 | 8, 'H': 1 | 2 | 8, 'V': 1 | 2 | 4,
		'N': 1 | 2 | 4 | 8,
	} {
		iupacMask[c] = bits
		iupacMask[c+'a'-'A'] = bits
	}
}

var complement [256]byte

func init() {
	for _, pair := range []string{"AT", "CG", "GC", "TA", "UA", "RY", "YR", "SS", "WW", "KM", "MK", "BV", "VB", "DH", "HD", "NN"} {
		complement[pair[0]] = pair[1]
		complement[pair[0]+'a'-'A'] = pair[1] + 'a' - 'A'
	}
}

// ReverseComplement returns the reverse complement of a nucleotide
// sequence in IUPAC notation. Unknown characters become N.
func ReverseComplement(s string) string {
	n := len(s)
	b := make([]byte, n)
	for i := 0; i < n; i++ {
		c := complement[s[n-1-i]]
		if c == 0 {
			c = 'N'
		}
		b[i] = c
	}
	return string(b)
}

// IUPACMatcher is a Hamming distance Matcher. Primer bases may be
// IUPAC ambiguity codes. Sequence bases other than A, C, G, T, and U
// always mismatch.
type IUPACMatcher struct{}

// BaseMatch reports whether sequence base s matches primer base p.
func BaseMatch(s, p byte) bool {
	switch s {
	case 'A', 'C', 'G', 'T', 'U', 'a', 'c', 'g', 't', 'u':
		return iupacMask[p]&iupacMask[s] != 0
	}
	return false
}

// Distance implements the Matcher interface.
func (IUPACMatcher) Distance(pattern, text string, max int) int {
	mm := 0
	for i := 0; i < len(pattern); i++ {
		if !BaseMatch(text[i], pattern[i]) {
			mm++
			if mm > max {
				return mm
			}
		}
	}
	return mm
}

// MaxMismatches returns the number of mismatches allowed for a
// pattern of length n, rounded down.
func MaxMismatches(n int, percent float64) int {
	return int(math.Floor(float64(n) * percent / 100))
}

// Direction says at which end of a sequence a primer is expected.
type Direction int

// Primer directions.
const (
	Forward Direction = iota
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}

// PrimerOptions control ClipPrimer and TrimPrimer.
type PrimerOptions struct {
	Direction       Direction
	MismatchPercent float64

	// SearchDistance limits the ClipPrimer search to the first (or
	// last, in reverse direction) bases. Zero searches everything.
	SearchDistance int

	// OverlapMin is the shortest partial primer TrimPrimer removes.
	OverlapMin int

	Matcher Matcher
}

func (opts PrimerOptions) matcher() Matcher {
	if opts.Matcher == nil {
		return IUPACMatcher{}
	}
	return opts.Matcher
}

// FindPrimer returns the leftmost position in text[low:high] where
// the primer matches with at most maxMM mismatches, or -1.
func FindPrimer(m Matcher, primer, text string, low, high, maxMM int) (pos, mm int) {
	if high > len(text) {
		high = len(text)
	}
	for pos = low; pos+len(primer) <= high; pos++ {
		if mm = m.Distance(primer, text[pos:pos+len(primer)], maxMM); mm <= maxMM {
			return pos, mm
		}
	}
	return -1, 0
}

func cut(r *seq.Record, low, high int) {
	r.Seq = r.Seq[low:high]
	if r.Qual != "" {
		r.Qual = r.Qual[low:high]
	}
}

// ClipPrimerPos is the field holding the position of a clipped primer.
const ClipPrimerPos = "CLIP_PRIMER_POS"

// ClipPrimer locates a primer in each record. In forward direction,
// the primer and everything before it is removed, in reverse direction
// the primer and everything after it. Records with a match get the
// fields CLIP_PRIMER_DIR, CLIP_PRIMER_POS, CLIP_PRIMER_LEN, and
// CLIP_PRIMER_PAT. Records without a match are kept unchanged.
func ClipPrimer(primer string, opts PrimerOptions) Step {
	m := opts.matcher()
	maxMM := MaxMismatches(len(primer), opts.MismatchPercent)
	return Step{
		Kind: TransformStep,
		Name: fmt.Sprintf("clip %v primer %v", opts.Direction, primer),
		Transformer: func(records []*seq.Record) ([]*seq.Record, error) {
			for _, r := range records {
				low, high := 0, len(r.Seq)
				if opts.SearchDistance > 0 {
					if opts.Direction == Forward {
						high = opts.SearchDistance
					} else if low = len(r.Seq) - opts.SearchDistance; low < 0 {
						low = 0
					}
				}
				pos, _ := FindPrimer(m, primer, r.Seq, low, high, maxMM)
				if pos < 0 {
					continue
				}
				r.Set("CLIP_PRIMER_DIR", opts.Direction.String())
				r.Set(ClipPrimerPos, pos)
				r.Set("CLIP_PRIMER_LEN", len(primer))
				r.Set("CLIP_PRIMER_PAT", r.Seq[pos:pos+len(primer)])
				if opts.Direction == Forward {
					cut(r, pos+len(primer), len(r.Seq))
				} else {
					cut(r, 0, pos)
				}
			}
			return records, nil
		},
	}
}

// TrimPrimer removes partial primer matches of at least OverlapMin
// bases. In forward direction, a suffix of the primer is matched
// against the start of the sequence, in reverse direction a prefix of
// the primer against its end. The longest overlap wins. Trimmed
// records get the fields TRIM_PRIMER_DIR, TRIM_PRIMER_POS,
// TRIM_PRIMER_LEN, and TRIM_PRIMER_PAT.
func TrimPrimer(primer string, opts PrimerOptions) Step {
	m := opts.matcher()
	overlapMin := opts.OverlapMin
	if overlapMin < 1 {
		overlapMin = 1
	}
	return Step{
		Kind: TransformStep,
		Name: fmt.Sprintf("trim %v primer %v", opts.Direction, primer),
		Transformer: func(records []*seq.Record) ([]*seq.Record, error) {
			for _, r := range records {
				n := len(primer)
				if n > len(r.Seq) {
					n = len(r.Seq)
				}
				for ; n >= overlapMin; n-- {
					maxMM := MaxMismatches(n, opts.MismatchPercent)
					var pattern, text string
					var pos int
					if opts.Direction == Forward {
						pattern, text, pos = primer[len(primer)-n:], r.Seq[:n], 0
					} else {
						pattern, text, pos = primer[:n], r.Seq[len(r.Seq)-n:], len(r.Seq)-n
					}
					if m.Distance(pattern, text, maxMM) > maxMM {
						continue
					}
					r.Set("TRIM_PRIMER_DIR", opts.Direction.String())
					r.Set("TRIM_PRIMER_POS", pos)
					r.Set("TRIM_PRIMER_LEN", n)
					r.Set("TRIM_PRIMER_PAT", text)
					if opts.Direction == Forward {
						cut(r, n, len(r.Seq))
					} else {
						cut(r, 0, pos)
					}
					break
				}
			}
			return records, nil
		},
	}
}
