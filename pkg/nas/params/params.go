// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package params holds the hyperparameters of an ENAS experiment: a typed set of named values with
// defaults, that can be overridden from the command line (see ParseSettings) or from a YAML file
// (see LoadYAML).
//
// The type of each parameter is defined by its default value, and overriding values are parsed
// (or converted) to that type.
package params

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Params is a set of named hyperparameters. The zero value is not usable, create it with New.
type Params struct {
	values map[string]any
}

// New creates an empty Params.
func New() *Params {
	return &Params{values: make(map[string]any)}
}

// Set a parameter value. It also defines the parameter type, if it is not yet set.
func (p *Params) Set(key string, value any) *Params {
	p.values[key] = value
	return p
}

// SetMany sets all the values in the map.
func (p *Params) SetMany(values map[string]any) *Params {
	for key, value := range values {
		p.values[key] = value
	}
	return p
}

// Get returns the value of the parameter and whether it was found.
func (p *Params) Get(key string) (value any, found bool) {
	value, found = p.values[key]
	return
}

// Has returns whether the parameter is defined.
func (p *Params) Has(key string) bool {
	_, found := p.values[key]
	return found
}

// GetOr returns the value of the parameter, or defaultValue if it is not set or of a different type.
//
// If T is float64 and the value is an int, it is converted.
func GetOr[T any](p *Params, key string, defaultValue T) T {
	value, found := p.values[key]
	if !found {
		return defaultValue
	}
	if t, ok := value.(T); ok {
		return t
	}
	if i, ok := value.(int); ok {
		if f, ok := any(float64(i)).(T); ok {
			return f
		}
	}
	return defaultValue
}

// Keys returns the sorted list of parameter names.
func (p *Params) Keys() []string {
	return slices.Sorted(maps.Keys(p.values))
}

// Enumerate calls fn for each parameter, in sorted key order.
func (p *Params) Enumerate(fn func(key string, value any)) {
	for _, key := range p.Keys() {
		fn(key, p.values[key])
	}
}

// Map returns a copy of the parameters as a map.
func (p *Params) Map() map[string]any {
	return maps.Clone(p.values)
}

// Clone returns a copy of the Params. Slice values are shared.
func (p *Params) Clone() *Params {
	return &Params{values: maps.Clone(p.values)}
}

// String pretty-prints the parameters, one per line.
func (p *Params) String() string {
	var parts []string
	p.Enumerate(func(key string, value any) {
		parts = append(parts, fmt.Sprintf("\t%q: (%T) %v", key, value, value))
	})
	return strings.Join(parts, "\n")
}

// SprintModified pretty-prints the values of the given parameters, typically the ones returned by
// ParseSettings or LoadYAML. Duplicates are listed once.
func (p *Params) SprintModified(keys []string) string {
	keys = slices.Clone(keys)
	slices.Sort(keys)
	keys = slices.Compact(keys)
	var parts []string
	for _, key := range keys {
		value, found := p.values[key]
		if !found {
			continue
		}
		parts = append(parts, fmt.Sprintf("\t%q: (%T) %v", key, value, value))
	}
	return strings.Join(parts, "\n")
}
