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

package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/exascience/elmeta/seq"
)

// A StageInputMissingError reports a declared stage input that does not
// exist when the stage starts.
type StageInputMissingError struct {
	Stage, Unit, Path string
}

func (err *StageInputMissingError) Error() string {
	return fmt.Sprintf("stage %v for %v: missing input %v", err.Stage, err.Unit, err.Path)
}

// A StageExecutionError wraps the failure of a stage runner.
type StageExecutionError struct {
	Stage, Unit string
	Err         error
}

func (err *StageExecutionError) Error() string {
	return fmt.Sprintf("stage %v for %v failed: %v", err.Stage, err.Unit, err.Err)
}

func (err *StageExecutionError) Unwrap() error {
	return err.Err
}

// An IncompleteFanOutError reports the declared outputs a barrier could
// not find, per unit.
type IncompleteFanOutError struct {
	Round   string
	Missing map[string][]string
}

func (err *IncompleteFanOutError) Error() string {
	units := make([]string, 0, len(err.Missing))
	for unit := range err.Missing {
		units = append(units, unit)
	}
	sort.Strings(units)
	var b strings.Builder
	fmt.Fprintf(&b, "round %v is incomplete:", err.Round)
	for _, unit := range units {
		fmt.Fprintf(&b, " %v is missing %v;", unit, strings.Join(err.Missing[unit], ", "))
	}
	return strings.TrimSuffix(b.String(), ";")
}

// A FilenameCollisionError reports units of one round that declare the
// same output. An empty Path reports a duplicate unit.
type FilenameCollisionError struct {
	Path  string
	Units []string
}

func (err *FilenameCollisionError) Error() string {
	if err.Path == "" {
		return fmt.Sprintf("duplicate unit %v", err.Units[0])
	}
	return fmt.Sprintf("output %v is declared by more than one unit: %v", err.Path, strings.Join(err.Units, ", "))
}

// A UnitFailure is the error of one unit of a round.
type UnitFailure struct {
	Round, Unit string
	Err         error
}

// A RoundError lists every unit that failed.
type RoundError struct {
	Round    string
	Failures []UnitFailure
}

func (err *RoundError) Error() string {
	units := make([]string, len(err.Failures))
	for i, f := range err.Failures {
		units[i] = f.Unit
	}
	return fmt.Sprintf("round %v: %v of its units failed: %v", err.Round, len(err.Failures), strings.Join(units, ", "))
}

// Unwrap returns the errors of all failed units.
func (err *RoundError) Unwrap() []error {
	errs := make([]error, len(err.Failures))
	for i, f := range err.Failures {
		errs[i] = f.Err
	}
	return errs
}

// Error kinds returned by Kind.
const (
	KindFilenameCollision = "filename_collision"
	KindIncompleteFanOut  = "incomplete_fan_out"
	KindInputMissing      = "stage_input_missing"
	KindMalformedRecord   = "malformed_record"
	KindStageExecution    = "stage_execution"
	KindRound             = "round"
	KindCancelled         = "cancelled"
	KindOther             = "error"
)

// Kind names the most specific kind of err for reporting.
func Kind(err error) string {
	var (
		collision  *FilenameCollisionError
		incomplete *IncompleteFanOutError
		missing    *StageInputMissingError
		malformed  *seq.MalformedRecordError
		execution  *StageExecutionError
		round      *RoundError
	)
	switch {
	case errors.As(err, &collision):
		return KindFilenameCollision
	case errors.As(err, &incomplete):
		return KindIncompleteFanOut
	case errors.As(err, &missing):
		return KindInputMissing
	case errors.As(err, &malformed):
		return KindMalformedRecord
	case errors.As(err, &execution):
		if isCancelled(execution.Err) {
			return KindCancelled
		}
		return KindStageExecution
	case errors.As(err, &round):
		return KindRound
	}
	return KindOther
}
