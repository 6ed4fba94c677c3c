// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package arcs defines the encodings of sampled child-network architectures ("arcs") and the
// plain-text format used to hand them over to the process training the child networks.
//
// A file holds one batch: the first line is the number of samples, followed by one line per
// sample for the macro (general) search space, or two lines per sample -- normal cell then
// reduce cell -- for the micro search space. Each arc line is a list of space-separated
// non-negative integers.
package arcs

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// SearchSpace selects how architectures are encoded.
type SearchSpace string

const (
	// Micro searches for a normal and a reduce cell, stacked to build the child network.
	Micro SearchSpace = "micro"

	// Macro searches the whole network: one op per layer plus skip connections to previous layers.
	Macro SearchSpace = "macro"
)

// SearchSpaceFromName maps the "search_for" setting to a SearchSpace: exactly "micro" is micro search,
// anything else (including "Micro") falls back to the general (macro) search, as the controller
// registry does.
func SearchSpaceFromName(name string) SearchSpace {
	if name == string(Micro) {
		return Micro
	}
	return Macro
}

// LinesPerSample returns the number of arc lines written for each sample.
func (s SearchSpace) LinesPerSample() int {
	if s == Micro {
		return 2
	}
	return 1
}

// Arc is one encoded architecture: the list of choices made by the controller.
type Arc []int

// String implements fmt.Stringer, using the same format as the arc lines.
func (a Arc) String() string {
	return FormatArc(a)
}

// Clone returns a copy of the arc.
func (a Arc) Clone() Arc {
	if a == nil {
		return nil
	}
	c := make(Arc, len(a))
	copy(c, a)
	return c
}

// Sample is one sampled architecture.
// For Macro search only Normal is set.
type Sample struct {
	Normal Arc
	Reduce Arc
}

// Clone returns a deep copy of the sample.
func (s Sample) Clone() Sample {
	return Sample{Normal: s.Normal.Clone(), Reduce: s.Reduce.Clone()}
}

// Batch is an ordered list of samples of the same search space.
type Batch struct {
	Space   SearchSpace
	Samples []Sample
}

// Len returns the number of samples in the batch.
func (b *Batch) Len() int {
	return len(b.Samples)
}

// NormalArcs returns the normal arcs of all samples.
func (b *Batch) NormalArcs() []Arc {
	arcs := make([]Arc, len(b.Samples))
	for ii, s := range b.Samples {
		arcs[ii] = s.Normal
	}
	return arcs
}

// ReduceArcs returns the reduce arcs of all samples. They are nil for Macro batches.
func (b *Batch) ReduceArcs() []Arc {
	arcs := make([]Arc, len(b.Samples))
	for ii, s := range b.Samples {
		arcs[ii] = s.Reduce
	}
	return arcs
}

// FormatArc formats the arc as a line of space-separated integers (without the new line).
func FormatArc(arc Arc) string {
	parts := make([]string, len(arc))
	for ii, v := range arc {
		parts[ii] = strconv.Itoa(v)
	}
	return strings.Join(parts, " ")
}

// ParseArc parses one arc line.
func ParseArc(line string) (Arc, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, errors.New("empty arc line")
	}
	arc := make(Arc, len(fields))
	for ii, field := range fields {
		v, err := strconv.Atoi(field)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid arc entry #%d %q", ii, field)
		}
		if v < 0 {
			return nil, errors.Errorf("invalid arc entry #%d: negative value %d", ii, v)
		}
		arc[ii] = v
	}
	return arc, nil
}

// Encode writes the batch in the hand-off format.
func (b *Batch) Encode(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "%d\n", len(b.Samples)); err != nil {
		return errors.Wrap(err, "writing arcs count")
	}
	for ii, s := range b.Samples {
		if len(s.Normal) == 0 {
			return errors.Errorf("sample #%d has an empty arc", ii)
		}
		if _, err := fmt.Fprintln(bw, FormatArc(s.Normal)); err != nil {
			return errors.Wrapf(err, "writing arc of sample #%d", ii)
		}
		if b.Space != Micro {
			continue
		}
		if len(s.Reduce) == 0 {
			return errors.Errorf("micro sample #%d has an empty reduce arc", ii)
		}
		if _, err := fmt.Fprintln(bw, FormatArc(s.Reduce)); err != nil {
			return errors.Wrapf(err, "writing reduce arc of sample #%d", ii)
		}
	}
	return errors.Wrap(bw.Flush(), "flushing arcs")
}

// Decode reads a batch in the hand-off format.
func Decode(r io.Reader, space SearchSpace) (*Batch, error) {
	lines, err := readLines(r)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, errors.New("missing arcs count line")
	}
	count, err := strconv.Atoi(lines[0])
	if err != nil || count < 0 {
		return nil, errors.Errorf("invalid arcs count line %q", lines[0])
	}
	want := count * space.LinesPerSample()
	if got := len(lines) - 1; got != want {
		return nil, errors.Errorf("arcs file declares %d samples (%d lines for %s search), but has %d arc lines",
			count, want, space, got)
	}
	b := &Batch{Space: space, Samples: make([]Sample, count)}
	for ii := range count {
		lineIdx := 1 + ii*space.LinesPerSample()
		b.Samples[ii].Normal, err = ParseArc(lines[lineIdx])
		if err != nil {
			return nil, errors.WithMessagef(err, "line %d", lineIdx+1)
		}
		if space == Micro {
			b.Samples[ii].Reduce, err = ParseArc(lines[lineIdx+1])
			if err != nil {
				return nil, errors.WithMessagef(err, "line %d", lineIdx+2)
			}
		}
	}
	return b, nil
}

// readLines returns the trimmed lines, dropping trailing empty ones.
func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading lines")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines, nil
}
