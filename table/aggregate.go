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

package table

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/exascience/pargo/parallel"

	"github.com/exascience/elmeta/seq"
)

type row struct {
	key    string
	values map[string]string
}

// An AggregateTable is a table with a unique key per row and named
// columns of counts or other fields. It is filled while results are
// reduced, and frozen afterwards. Mutating a frozen table panics.
type AggregateTable struct {
	key     string
	columns []string
	index   map[string]int
	rows    []row
	counts  map[string]bool
	frozen  bool
}

// NewAggregate creates an empty table. The key names the row key
// column, columns optionally fixes the order of the first columns.
func NewAggregate(key string, columns ...string) *AggregateTable {
	return &AggregateTable{
		key:     key,
		columns: append([]string(nil), columns...),
		index:   make(map[string]int),
		counts:  make(map[string]bool),
	}
}

func (t *AggregateTable) checkMutable() {
	if t.frozen {
		panic("mutation of a frozen AggregateTable")
	}
}

func (t *AggregateTable) addColumn(column string) {
	for _, c := range t.columns {
		if c == column {
			return
		}
	}
	t.columns = append(t.columns, column)
}

func (t *AggregateTable) row(key string) *row {
	if i, ok := t.index[key]; ok {
		return &t.rows[i]
	}
	t.index[key] = len(t.rows)
	t.rows = append(t.rows, row{key: key, values: make(map[string]string)})
	return &t.rows[len(t.rows)-1]
}

// Key returns the name of the key column.
func (t *AggregateTable) Key() string {
	return t.key
}

// Columns returns the names of the non-key columns in order.
func (t *AggregateTable) Columns() []string {
	return t.columns
}

// Keys returns the row keys in order.
func (t *AggregateTable) Keys() []string {
	keys := make([]string, len(t.rows))
	for i, r := range t.rows {
		keys[i] = r.key
	}
	return keys
}

// Len returns the number of rows.
func (t *AggregateTable) Len() int {
	return len(t.rows)
}

// Get returns the value in the given row and column.
func (t *AggregateTable) Get(key, column string) (string, bool) {
	i, ok := t.index[key]
	if !ok {
		return "", false
	}
	value, ok := t.rows[i].values[column]
	return value, ok
}

// Set assigns a value, adding the row or column if needed.
func (t *AggregateTable) Set(key, column, value string) {
	t.checkMutable()
	t.addColumn(column)
	t.row(key).values[column] = value
}

// Add adds n to the count in the given row and column.
func (t *AggregateTable) Add(key, column string, n int) {
	t.checkMutable()
	t.addColumn(column)
	t.counts[column] = true
	r := t.row(key)
	count, _ := strconv.Atoi(r.values[column])
	r.values[column] = strconv.Itoa(count + n)
}

func (t *AggregateTable) mergeRow(r *row, values map[string]string) {
	for column, value := range values {
		old, ok := r.values[column]
		if !ok {
			r.values[column] = value
			continue
		}
		if !t.counts[column] {
			continue
		}
		n1, err1 := strconv.Atoi(old)
		n2, err2 := strconv.Atoi(value)
		if err1 == nil && err2 == nil {
			r.values[column] = strconv.Itoa(n1 + n2)
		}
	}
}

// Merge adds the rows of other to t. Count columns, those filled with
// Add, of rows with equal keys are summed. Other fields keep the value
// in t, even when they look numeric.
func (t *AggregateTable) Merge(other *AggregateTable) {
	t.checkMutable()
	for _, c := range other.columns {
		t.addColumn(c)
	}
	for c := range other.counts {
		t.counts[c] = true
	}
	for _, r := range other.rows {
		t.mergeRow(t.row(r.key), r.values)
	}
}

// Join copies the given columns from rows of other with the same key.
// Without columns, all columns of other are copied.
func (t *AggregateTable) Join(other *AggregateTable, columns ...string) {
	t.checkMutable()
	if len(columns) == 0 {
		columns = other.columns
	}
	for _, c := range columns {
		t.addColumn(c)
	}
	for i := range t.rows {
		j, ok := other.index[t.rows[i].key]
		if !ok {
			continue
		}
		for _, c := range columns {
			if value, ok := other.rows[j].values[c]; ok {
				t.rows[i].values[c] = value
			}
		}
	}
}

// Collapse merges rows that have the same value in the given column.
// The merged row keeps the key of its first row, and count columns are
// summed. Rows without a value in the column are kept as they are.
func (t *AggregateTable) Collapse(column string) {
	t.checkMutable()
	groups := make(map[string]int)
	rows := t.rows[:0:0]
	for _, r := range t.rows {
		value, ok := r.values[column]
		if ok {
			if i, found := groups[value]; found {
				t.mergeRow(&rows[i], r.values)
				continue
			}
			groups[value] = len(rows)
		}
		rows = append(rows, r)
	}
	t.rows = rows
	t.reindex()
}

func (t *AggregateTable) reindex() {
	t.index = make(map[string]int, len(t.rows))
	for i, r := range t.rows {
		t.index[r.key] = i
	}
}

// Sort sorts the rows by a column, numerically if both values are
// integers. The sort is stable.
func (t *AggregateTable) Sort(column string, descending bool) {
	t.checkMutable()
	valueOf := func(r row) string {
		if column == t.key {
			return r.key
		}
		return r.values[column]
	}
	less := func(i, j int) bool {
		v1, v2 := valueOf(t.rows[i]), valueOf(t.rows[j])
		n1, err1 := strconv.Atoi(v1)
		n2, err2 := strconv.Atoi(v2)
		if err1 == nil && err2 == nil {
			if descending {
				return n1 > n2
			}
			return n1 < n2
		}
		if descending {
			return v1 > v2
		}
		return v1 < v2
	}
	sort.SliceStable(t.rows, less)
	t.reindex()
}

// Freeze makes the table immutable.
func (t *AggregateTable) Freeze() {
	t.frozen = true
}

// Frozen reports whether the table is frozen.
func (t *AggregateTable) Frozen() bool {
	return t.frozen
}

// Records returns one record per row, with the key column first.
func (t *AggregateTable) Records() []*seq.Record {
	records := make([]*seq.Record, len(t.rows))
	for i, r := range t.rows {
		rec := &seq.Record{}
		rec.Set(t.key, r.key)
		for _, c := range t.columns {
			if value, ok := r.values[c]; ok {
				rec.Set(c, value)
			}
		}
		records[i] = rec
	}
	return records
}

// Write writes the table to a file. Without explicit keys, the key
// column comes first, followed by all other columns.
func (t *AggregateTable) Write(path string, opts WriteOptions) (err error) {
	if opts.Keys == nil {
		opts.Keys = append([]string{t.key}, t.columns...)
	}
	w, err := Create(path, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err == nil {
			err = w.Commit()
		} else {
			_ = w.Close()
		}
	}()
	for _, rec := range t.Records() {
		if err = w.Write(rec); err != nil {
			return fmt.Errorf("%w, while writing aggregate table %v", err, path)
		}
	}
	return nil
}

// A Loader adds the contents of one file to a table.
type Loader func(t *AggregateTable, path string) error

type loadResult struct {
	table *AggregateTable
	err   error
}

// LoadAggregate loads several files in parallel into one table. Each
// subrange of files is loaded into its own table, and the partial
// tables are merged in file order.
func LoadAggregate(key string, paths []string, load Loader) (*AggregateTable, error) {
	if len(paths) == 0 {
		return NewAggregate(key), nil
	}
	result := parallel.RangeReduce(0, len(paths), 0, func(low, high int) interface{} {
		t := NewAggregate(key)
		for _, path := range paths[low:high] {
			if err := load(t, path); err != nil {
				return loadResult{err: fmt.Errorf("%w, while loading %v", err, path)}
			}
		}
		return loadResult{table: t}
	}, func(x, y interface{}) interface{} {
		r1, r2 := x.(loadResult), y.(loadResult)
		if r1.err != nil {
			return r1
		}
		if r2.err != nil {
			return r2
		}
		r1.table.Merge(r2.table)
		return r1
	}).(loadResult)
	return result.table, result.err
}

// CountRows returns a Loader that reads a table file and adds the
// value of the count field of each row to the row named by the key
// field and the column named by the column field. An empty count field
// counts rows. An empty column field counts into a column named
// COUNT.
func CountRows(opts Options, keyField, columnField, countField string) Loader {
	return func(t *AggregateTable, path string) error {
		records, err := ReadAll([]string{path}, opts)
		if err != nil {
			return err
		}
		for _, r := range records {
			key, ok := r.Field(keyField)
			if !ok {
				return fmt.Errorf("missing field %v", keyField)
			}
			column := "COUNT"
			if columnField != "" {
				if column, ok = r.Field(columnField); !ok {
					return fmt.Errorf("missing field %v", columnField)
				}
			}
			n := 1
			if countField != "" {
				value, _ := r.Field(countField)
				if n, err = strconv.Atoi(value); err != nil {
					return fmt.Errorf("%w, while parsing field %v", err, countField)
				}
			}
			t.Add(key, column, n)
		}
		return nil
	}
}
