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

package utils

// A SmallMapEntry is one key/value pair of a SmallMap.
type SmallMapEntry struct {
	Key   Symbol
	Value interface{}
}

// A SmallMap is an insertion-ordered map for the handful of metadata
// entries a record carries. Lookups are linear, which beats a hash map
// for the sizes involved, and the order of entries is the order in
// which tables write their columns.
type SmallMap []SmallMapEntry

// Get returns the value for key.
func (m SmallMap) Get(key Symbol) (interface{}, bool) {
	for _, entry := range m {
		if entry.Key == key {
			return entry.Value, true
		}
	}
	return nil, false
}

// Set replaces the value for key, or appends a new entry.
func (m *SmallMap) Set(key Symbol, value interface{}) {
	for index := range *m {
		if (*m)[index].Key == key {
			(*m)[index].Value = value
			return
		}
	}
	*m = append(*m, SmallMapEntry{key, value})
}

// Delete removes the entry for key, if any.
func (m SmallMap) Delete(key Symbol) (SmallMap, bool) {
	for index, entry := range m {
		if entry.Key == key {
			return append(m[:index], m[index+1:]...), true
		}
	}
	return m, false
}

// Clone returns a copy of m that does not share its backing array.
func (m SmallMap) Clone() SmallMap {
	if m == nil {
		return nil
	}
	return append(SmallMap(nil), m...)
}

// Equal reports whether m and other hold the same entries in the same order.
func (m SmallMap) Equal(other SmallMap) bool {
	if len(m) != len(other) {
		return false
	}
	for i, entry := range m {
		if entry.Key != other[i].Key || entry.Value != other[i].Value {
			return false
		}
	}
	return true
}
