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
	"bufio"
	"io"
	"strings"

	"github.com/exascience/elmeta/internal"
)

type lineReader struct {
	r    *bufio.Reader
	path string
	line int
	next *string
}

// readLine returns the next line without its line terminator, or
// io.EOF when the input is exhausted.
func (lr *lineReader) readLine() (string, error) {
	if lr.next != nil {
		s := *lr.next
		lr.next = nil
		lr.line++
		return s, nil
	}
	s, err := lr.r.ReadString('\n')
	if err != nil {
		if err != io.EOF || s == "" {
			return "", err
		}
	}
	lr.line++
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r"), nil
}

func (lr *lineReader) unreadLine(s string) {
	lr.next = &s
	lr.line--
}

func (lr *lineReader) malformed(line int, reason string) error {
	return &MalformedRecordError{Path: lr.path, Line: line, Reason: reason}
}

// A Reader reads records one at a time.
type Reader interface {
	// Read returns the next record, or io.EOF after the last one.
	Read() (*Record, error)
	io.Closer
}

type fastqReader struct {
	lineReader
	closer io.Closer
}

// NewFastqReader returns a Reader for FASTQ records. The path is only
// used in error messages.
func NewFastqReader(r io.Reader, path string) Reader {
	return &fastqReader{lineReader: lineReader{r: bufioReader(r), path: path}, closer: closer(r)}
}

func (fq *fastqReader) Close() error {
	if fq.closer != nil {
		return fq.closer.Close()
	}
	return nil
}

func (fq *fastqReader) Read() (*Record, error) {
	header, err := fq.readLine()
	for err == nil && header == "" {
		header, err = fq.readLine()
	}
	if err != nil {
		return nil, err
	}
	start := fq.line
	if header[0] != '@' {
		return nil, fq.malformed(start, "missing @ in FASTQ header line")
	}
	sequence, err := fq.readLine()
	if err == io.EOF {
		return nil, fq.malformed(start, "truncated FASTQ record")
	} else if err != nil {
		return nil, err
	}
	plus, err := fq.readLine()
	if err == io.EOF {
		return nil, fq.malformed(start, "truncated FASTQ record")
	} else if err != nil {
		return nil, err
	}
	if plus == "" || plus[0] != '+' {
		return nil, fq.malformed(fq.line, "missing + in FASTQ separator line")
	}
	qual, err := fq.readLine()
	if err == io.EOF {
		return nil, fq.malformed(start, "truncated FASTQ record")
	} else if err != nil {
		return nil, err
	}
	if len(qual) != len(sequence) {
		return nil, fq.malformed(fq.line, "quality line length does not match sequence length")
	}
	return &Record{ID: header[1:], Seq: sequence, Qual: qual, Plus: plus[1:]}, nil
}

type fastaReader struct {
	lineReader
	closer io.Closer
}

// NewFastaReader returns a Reader for FASTA records. Sequence lines
// that are wrapped over several lines are joined.
func NewFastaReader(r io.Reader, path string) Reader {
	return &fastaReader{lineReader: lineReader{r: bufioReader(r), path: path}, closer: closer(r)}
}

func (fa *fastaReader) Close() error {
	if fa.closer != nil {
		return fa.closer.Close()
	}
	return nil
}

func (fa *fastaReader) Read() (*Record, error) {
	header, err := fa.readLine()
	for err == nil && header == "" {
		header, err = fa.readLine()
	}
	if err != nil {
		return nil, err
	}
	start := fa.line
	if header[0] != '>' {
		return nil, fa.malformed(start, "missing > in FASTA header line")
	}
	var sequence strings.Builder
	lines := 0
	for {
		line, err := fa.readLine()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		if line == "" {
			if lines == 0 {
				// empty sequence
				lines++
			}
			continue
		}
		if line[0] == '>' {
			fa.unreadLine(line)
			break
		}
		sequence.WriteString(line)
		lines++
	}
	if lines == 0 {
		return nil, fa.malformed(start, "truncated FASTA record")
	}
	return &Record{ID: header[1:], Seq: sequence.String()}, nil
}

func bufioReader(r io.Reader) *bufio.Reader {
	switch r := r.(type) {
	case *bufio.Reader:
		return r
	case *internal.Input:
		return r.Reader
	default:
		return bufio.NewReader(r)
	}
}

func closer(r io.Reader) io.Closer {
	if c, ok := r.(io.Closer); ok {
		return c
	}
	return nil
}
