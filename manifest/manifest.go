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

// Package manifest parses sample manifests: one row per sample lane
// with a sample identifier and the forward and reverse read files.
package manifest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// A FilePair names the forward and reverse read files of one lane.
type FilePair struct {
	Forward, Reverse string
}

// A Sample is a sample identifier with its lanes, in manifest order.
type Sample struct {
	ID    string
	Lanes []FilePair
}

// Forward returns the forward read files of all lanes.
func (s Sample) Forward() []string {
	files := make([]string, len(s.Lanes))
	for i, lane := range s.Lanes {
		files[i] = lane.Forward
	}
	return files
}

// Reverse returns the reverse read files of all lanes.
func (s Sample) Reverse() []string {
	files := make([]string, len(s.Lanes))
	for i, lane := range s.Lanes {
		files[i] = lane.Reverse
	}
	return files
}

// Parse reads a manifest. Rows are split on white space; blank lines
// and lines starting with '#' are skipped, and columns after the third
// are ignored. Rows with the same sample identifier become lanes of one
// sample, which keeps the position of its first row. Relative file
// names are resolved against dir.
func Parse(r io.Reader, name, dir string) ([]Sample, error) {
	var samples []Sample
	index := make(map[string]int)
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || text[0] == '#' {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 3 {
			return nil, fmt.Errorf("manifest %v line %v: expected sample id, forward and reverse file, got %q", name, line, text)
		}
		lane := FilePair{Forward: resolve(dir, fields[1]), Reverse: resolve(dir, fields[2])}
		if i, ok := index[fields[0]]; ok {
			samples[i].Lanes = append(samples[i].Lanes, lane)
			continue
		}
		index[fields[0]] = len(samples)
		samples = append(samples, Sample{ID: fields[0], Lanes: []FilePair{lane}})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w, while reading manifest %v", err, name)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("manifest %v lists no samples", name)
	}
	return samples, nil
}

func resolve(dir, file string) string {
	if dir == "" || filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(dir, file)
}

// Load reads a manifest file.
func Load(path string) (samples []Sample, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		nerr := f.Close()
		if err == nil {
			err = nerr
		}
	}()
	return Parse(f, path, filepath.Dir(path))
}

// IDs returns the identifiers of the samples.
func IDs(samples []Sample) []string {
	ids := make([]string, len(samples))
	for i, s := range samples {
		ids[i] = s.ID
	}
	return ids
}
