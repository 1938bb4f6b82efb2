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

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/pflag"

	"github.com/exascience/elmeta/idset"
	"github.com/exascience/elmeta/internal"
	"github.com/exascience/elmeta/seq"
)

// IDsHelp is the help string for the ids command.
const IDsHelp = "ids parameters:\n" +
	"elmeta ids sequence-file|directory [...] --output file\n" +
	"[--field name]\n" +
	"[--delimiter string] [--part nr]\n" +
	"[--base]\n"

// IDs implements the elmeta ids command, which writes the identifier
// set of one or more sequence files.
func IDs() error {
	var (
		output     string
		projection idset.Projection
	)
	flags := pflag.NewFlagSet("ids", pflag.ContinueOnError)
	flags.StringVarP(&output, "output", "o", "", "identifier list to write")
	flags.StringVar(&projection.Field, "field", seq.SeqName, "field to take identifiers from")
	flags.StringVar(&projection.Delimiter, "delimiter", "", "split the field on this delimiter")
	flags.IntVar(&projection.Part, "part", 0, "part of the split field to take")
	flags.BoolVar(&projection.Base, "base", false, "strip mate suffixes")
	parseFlags(flags, 3, IDsHelp)

	// sanity checks

	patterns, err := internal.ExpandInputs(flags.Args()...)
	if err != nil {
		return err
	}
	var inputs []string
	for _, pattern := range patterns {
		if info, err := os.Stat(pattern); err != nil || !info.IsDir() {
			inputs = append(inputs, pattern)
			continue
		}
		files, err := internal.Directory(pattern)
		if err != nil {
			return err
		}
		sort.Strings(files)
		for _, file := range files {
			inputs = append(inputs, filepath.Join(pattern, file))
		}
	}
	if len(inputs) == 0 {
		fmt.Fprintln(os.Stderr, "Sequence file(s) in command line missing.")
		fmt.Fprint(os.Stderr, IDsHelp)
		os.Exit(1)
	}
	for _, input := range inputs {
		if err := checkExist("", input); err != nil {
			return err
		}
	}
	if err := checkCreate("--output", output); err != nil {
		return err
	}

	set, err := idset.BuildFromFiles(inputs, projection)
	if err != nil {
		return err
	}
	return set.Save(output)
}
