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

// elmeta is a parallel engine for multi-sample sequencing read
// pipelines. It runs built-in workflows over the samples of a manifest:
// per-sample stages fan out over a bounded pool, and pooled stages run
// once all samples passed a barrier.
//
// Please see https://github.com/exascience/elmeta for a documentation
// of the tool.
package main

import (
	"fmt"
	"os"

	"github.com/exascience/elmeta/cmd"
)

func printHelp() {
	fmt.Fprintln(os.Stderr, "Available commands: run, workflows, ids")
	fmt.Fprint(os.Stderr, "\n", cmd.RunHelp)
	fmt.Fprint(os.Stderr, "\n", cmd.WorkflowsHelp)
	fmt.Fprint(os.Stderr, "\n", cmd.IDsHelp)
}

func main() {
	fmt.Fprintln(os.Stderr, cmd.ProgramMessage)
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Incorrect number of parameters.")
		fmt.Fprint(os.Stderr, cmd.HelpMessage)
		printHelp()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = cmd.Run()
	case "workflows":
		err = cmd.Workflows()
	case "ids":
		err = cmd.IDs()
	case "help", "-help", "--help", "-h", "--h":
		printHelp()
	default:
		fmt.Fprintln(os.Stderr, "Unknown command", os.Args[1])
		printHelp()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
