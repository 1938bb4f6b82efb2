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
	"strconv"
	"strings"

	"github.com/exascience/elmeta/idset"
	"github.com/exascience/elmeta/seq"
)

// A Condition compares the value of a field with a constant.
type Condition struct {
	Field string
	Op    string
	Value string
}

var operators = []string{">=", "<=", "==", "!=", ">", "<"}

// ParseCondition parses a condition such as ":SEQ_LEN >= 100". The
// leading colon of the field name is optional.
func ParseCondition(s string) (Condition, error) {
	s = strings.TrimSpace(s)
	for i := 0; i < len(s); i++ {
		for _, op := range operators {
			if strings.HasPrefix(s[i:], op) {
				field := strings.TrimPrefix(strings.TrimSpace(s[:i]), ":")
				value := strings.TrimSpace(s[i+len(op):])
				if field == "" || value == "" {
					return Condition{}, fmt.Errorf("invalid condition %q", s)
				}
				return Condition{Field: field, Op: op, Value: value}, nil
			}
		}
	}
	return Condition{}, fmt.Errorf("missing operator in condition %q", s)
}

func (c Condition) String() string {
	return fmt.Sprintf(":%v %v %v", c.Field, c.Op, c.Value)
}

func compare(op string, cmp int) bool {
	switch op {
	case "==":
		return cmp == 0
	case "!=":
		return cmp != 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	}
	return false
}

// Eval evaluates the condition for a record. If the constant is a
// number, the field is compared numerically, and records whose field
// is missing or not a number do not satisfy the condition. Otherwise
// the comparison is on strings.
func (c Condition) Eval(r *seq.Record) bool {
	value, ok := r.Field(c.Field)
	if !ok {
		return false
	}
	if limit, err := strconv.ParseFloat(c.Value, 64); err == nil {
		x, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return false
		}
		switch {
		case x < limit:
			return compare(c.Op, -1)
		case x > limit:
			return compare(c.Op, 1)
		default:
			return compare(c.Op, 0)
		}
	}
	return compare(c.Op, strings.Compare(value, c.Value))
}

// Grab keeps the records that satisfy a condition.
func Grab(c Condition) Step {
	return Step{
		Kind: FilterStep,
		Name: "grab " + c.String(),
		Predicate: func(r *seq.Record) (bool, error) {
			return c.Eval(r), nil
		},
	}
}

// MinLength keeps the records with at least n bases.
func MinLength(n int) Step {
	return Step{
		Kind: FilterStep,
		Name: fmt.Sprintf("min length %v", n),
		Predicate: func(r *seq.Record) (bool, error) {
			return len(r.Seq) >= n, nil
		},
	}
}

// Contains keeps the records whose field contains substr.
func Contains(key, substr string) Step {
	return Step{
		Kind: FilterStep,
		Name: fmt.Sprintf("contains %v %v", key, substr),
		Predicate: func(r *seq.Record) (bool, error) {
			value, ok := r.Field(key)
			return ok && strings.Contains(value, substr), nil
		},
	}
}

func match(name, key string, keep bool, values []string) Step {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return Step{
		Kind: FilterStep,
		Name: fmt.Sprintf("%v %v %v", name, key, strings.Join(values, ",")),
		Predicate: func(r *seq.Record) (bool, error) {
			value, ok := r.Field(key)
			if ok {
				_, ok = set[value]
			}
			return ok == keep, nil
		},
	}
}

// Match keeps the records whose field equals one of the values.
func Match(key string, values ...string) Step {
	return match("match", key, true, values)
}

// Exclude drops the records whose field equals one of the values.
func Exclude(key string, values ...string) Step {
	return match("exclude", key, false, values)
}

func filterIDs(mode idset.Mode, load func() (*idset.Set, error), projection idset.Projection) Step {
	var predicate Predicate
	return Step{
		Kind: FilterStep,
		Name: mode.String() + " identifiers",
		Init: func() error {
			set, err := load()
			if err != nil {
				return err
			}
			predicate = set.FilterBy(mode, projection)
			return nil
		},
		Predicate: func(r *seq.Record) (bool, error) {
			return predicate(r)
		},
	}
}

// SelectIDs keeps the records that project to a member of the set
// returned by load. The set is loaded before the stream is read.
func SelectIDs(load func() (*idset.Set, error), projection idset.Projection) Step {
	return filterIDs(idset.Select, load, projection)
}

// RejectIDs keeps the records that do not project to a member of the
// set returned by load.
func RejectIDs(load func() (*idset.Set, error), projection idset.Projection) Step {
	return filterIDs(idset.Reject, load, projection)
}

// IDsFrom returns a loader for SelectIDs and RejectIDs that reads an
// identifier set from a file. See idset.Load.
func IDsFrom(path, column string) func() (*idset.Set, error) {
	return func() (*idset.Set, error) {
		return idset.Load(path, column)
	}
}
