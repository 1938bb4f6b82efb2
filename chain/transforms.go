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
	"strings"

	"github.com/exascience/elmeta/seq"
)

// QualityOffset is the offset of phred quality scores in FASTQ files.
const QualityOffset = 33

// MergePairs merges the mates of each pair into one record. Mates whose
// partner is missing from the stream are dropped.
func MergePairs(sep string) Step {
	return Step{
		Kind: TransformStep,
		Name: "merge pairs",
		Transformer: func(records []*seq.Record) ([]*seq.Record, error) {
			pairs, _ := seq.Pairs(records)
			result := make([]*seq.Record, len(pairs))
			for i, pair := range pairs {
				result[i] = seq.MergePair(pair, sep)
			}
			return result, nil
		},
	}
}

// MergeMates merges adjacent mates like MergePairs, but passes records
// without a neighbouring mate through unchanged.
func MergeMates(sep string) Step {
	return Step{
		Kind: TransformStep,
		Name: "merge mates",
		Transformer: func(records []*seq.Record) ([]*seq.Record, error) {
			result := records[:0]
			for i := 0; i < len(records); i++ {
				r := records[i]
				if i+1 < len(records) && seq.BaseID(r.ID) == seq.BaseID(records[i+1].ID) {
					r = seq.MergePair(seq.Pair{Mate1: r, Mate2: records[i+1]}, sep)
					i++
				}
				result = append(result, r)
			}
			return result, nil
		},
	}
}

// SplitPairs splits merged records into interleaved mates.
func SplitPairs(sep string) Step {
	return Step{
		Kind: TransformStep,
		Name: "split pairs",
		Transformer: func(records []*seq.Record) ([]*seq.Record, error) {
			result := make([]*seq.Record, 0, 2*len(records))
			for _, r := range records {
				pair, err := seq.SplitPair(r, sep)
				if err != nil {
					return nil, err
				}
				result = append(result, pair.Mate1, pair.Mate2)
			}
			return result, nil
		},
	}
}

// KeepPairs drops mates whose partner is missing from the stream, for
// instance after a filter removed it.
func KeepPairs() Step {
	return Step{
		Kind: TransformStep,
		Name: "keep pairs",
		Transformer: func(records []*seq.Record) ([]*seq.Record, error) {
			pairs, lone := seq.Pairs(records)
			if len(lone) == 0 {
				return records, nil
			}
			result := make([]*seq.Record, 0, 2*len(pairs))
			for _, pair := range pairs {
				result = append(result, pair.Mate1, pair.Mate2)
			}
			return result, nil
		},
	}
}

// KeepSingletons keeps only the mates whose partner is missing.
func KeepSingletons() Step {
	return Step{
		Kind: TransformStep,
		Name: "keep singletons",
		Transformer: func(records []*seq.Record) ([]*seq.Record, error) {
			_, lone := seq.Pairs(records)
			return lone, nil
		},
	}
}

// TrimOptions control TrimQuality.
type TrimOptions struct {
	// Min is the lowest acceptable phred score.
	Min int
	// LengthMin is the number of consecutive acceptable bases that
	// ends trimming.
	LengthMin int
	// Left and Right select the ends to trim. If neither is set, both
	// ends are trimmed.
	Left, Right bool
}

// DefaultTrimOptions trims both ends down to three consecutive bases
// of phred score 20 or more.
var DefaultTrimOptions = TrimOptions{Min: 20, LengthMin: 3}

// TrimQuality trims low quality bases from the ends of each record.
// Records without an acceptable stretch of bases become empty.
func TrimQuality(opts TrimOptions) Step {
	if !opts.Left && !opts.Right {
		opts.Left, opts.Right = true, true
	}
	if opts.LengthMin < 1 {
		opts.LengthMin = 1
	}
	good := func(q byte) bool {
		return int(q)-QualityOffset >= opts.Min
	}
	return Step{
		Kind: TransformStep,
		Name: "trim quality",
		Transformer: func(records []*seq.Record) ([]*seq.Record, error) {
			for _, r := range records {
				if r.Qual == "" {
					continue
				}
				low, high := 0, len(r.Qual)
				if opts.Left {
					low = high
					for i, run := 0, 0; i < len(r.Qual); i++ {
						if !good(r.Qual[i]) {
							run = 0
						} else if run++; run == opts.LengthMin {
							low = i + 1 - run
							break
						}
					}
				}
				if opts.Right && low < high {
					end := low
					for i, run := high-1, 0; i >= low; i-- {
						if !good(r.Qual[i]) {
							run = 0
						} else if run++; run == opts.LengthMin {
							end = i + run
							break
						}
					}
					high = end
				}
				cut(r, low, high)
			}
			return records, nil
		},
	}
}

// Fields set by MeanScores.
const (
	ScoresMean      = "SCORES_MEAN"
	ScoresMeanLocal = "SCORES_MEAN_LOCAL"
)

// MeanScores computes SCORES_MEAN, the mean phred score of each
// record. If local is set, it also computes SCORES_MEAN_LOCAL, the
// lowest mean over a sliding window.
func MeanScores(local bool, window int) Step {
	if window < 1 {
		window = 5
	}
	return Step{
		Kind: TransformStep,
		Name: "mean scores",
		Transformer: func(records []*seq.Record) ([]*seq.Record, error) {
			for _, r := range records {
				n := len(r.Qual)
				if n == 0 {
					continue
				}
				sum := 0
				for i := 0; i < n; i++ {
					sum += int(r.Qual[i]) - QualityOffset
				}
				r.Set(ScoresMean, float64(sum)/float64(n))
				if !local {
					continue
				}
				if n <= window {
					r.Set(ScoresMeanLocal, float64(sum)/float64(n))
					continue
				}
				run := 0
				for i := 0; i < window; i++ {
					run += int(r.Qual[i]) - QualityOffset
				}
				lowest := run
				for i := window; i < n; i++ {
					run += int(r.Qual[i]) - int(r.Qual[i-window])
					if run < lowest {
						lowest = run
					}
				}
				r.Set(ScoresMeanLocal, float64(lowest)/float64(window))
			}
			return records, nil
		},
	}
}

// ComputeLength stores the sequence length as SEQ_LEN metadata, so that
// it survives writing to a table.
func ComputeLength() Step {
	return Step{
		Kind: TransformStep,
		Name: "compute length",
		Transformer: func(records []*seq.Record) ([]*seq.Record, error) {
			for _, r := range records {
				r.Set(seq.SeqLen, len(r.Seq))
			}
			return records, nil
		},
	}
}

// SplitValues splits the value of key on a delimiter and assigns the
// parts to keys. Records with fewer parts are kept unchanged.
func SplitValues(key string, keys []string, delimiter string) Step {
	return Step{
		Kind: TransformStep,
		Name: "split values " + key,
		Transformer: func(records []*seq.Record) ([]*seq.Record, error) {
			for _, r := range records {
				value, ok := r.Field(key)
				if !ok {
					continue
				}
				parts := strings.SplitN(value, delimiter, len(keys))
				if len(parts) < len(keys) {
					continue
				}
				for i, k := range keys {
					r.Set(k, parts[i])
				}
			}
			return records, nil
		},
	}
}

// MergeValues joins the values of keys with a delimiter and assigns the
// result to the first key.
func MergeValues(keys []string, delimiter string) Step {
	return Step{
		Kind: TransformStep,
		Name: "merge values " + strings.Join(keys, ","),
		Transformer: func(records []*seq.Record) ([]*seq.Record, error) {
			values := make([]string, len(keys))
			for _, r := range records {
				for i, k := range keys {
					v, ok := r.Field(k)
					if !ok {
						return nil, fmt.Errorf("record %v has no field %v", r.ID, k)
					}
					values[i] = v
				}
				r.Set(keys[0], strings.Join(values, delimiter))
			}
			return records, nil
		},
	}
}

// AddKey assigns a constant value to a field.
func AddKey(key, value string) Step {
	return Step{
		Kind: TransformStep,
		Name: "add key " + key,
		Transformer: func(records []*seq.Record) ([]*seq.Record, error) {
			for _, r := range records {
				r.Set(key, value)
			}
			return records, nil
		},
	}
}

// AddNumberedKey assigns prefix followed by a running number, starting
// at 1, to a field. The numbers follow stream order.
func AddNumberedKey(key, prefix string) Step {
	n := 0
	return Step{
		Kind:    TransformStep,
		Name:    "add numbered key " + key,
		Ordered: true,
		Transformer: func(records []*seq.Record) ([]*seq.Record, error) {
			for _, r := range records {
				n++
				r.Set(key, fmt.Sprintf("%s%d", prefix, n))
			}
			return records, nil
		},
	}
}

// Rename renames a metadata field. Renaming to SEQ_NAME, SEQ, or
// SCORES assigns the identifier, sequence, or quality string.
func Rename(from, to string) Step {
	return Step{
		Kind: TransformStep,
		Name: fmt.Sprintf("rename %v to %v", from, to),
		Transformer: func(records []*seq.Record) ([]*seq.Record, error) {
			for _, r := range records {
				if value, ok := r.Get(from); ok {
					r.Delete(from)
					r.Set(to, value)
				}
			}
			return records, nil
		},
	}
}
