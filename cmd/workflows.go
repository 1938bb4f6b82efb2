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
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/exascience/elmeta/workflows"
)

// WorkflowsHelp is the help string for the workflows command.
const WorkflowsHelp = "workflows parameters:\n" +
	"elmeta workflows\n"

func listWorkflows(w io.Writer) {
	for _, name := range workflows.Names() {
		workflow, _ := workflows.Lookup(name)
		fmt.Fprintf(w, "%v\t%v\n", name, workflow.Description)
		if len(workflow.Tools) > 0 {
			fmt.Fprintf(w, "\ttools: %v\n", strings.Join(workflow.Tools, ", "))
		}
	}
}

// Workflows implements the elmeta workflows command.
func Workflows() error {
	flags := pflag.NewFlagSet("workflows", pflag.ContinueOnError)
	parseFlags(flags, 2, WorkflowsHelp)
	listWorkflows(os.Stdout)
	return nil
}
