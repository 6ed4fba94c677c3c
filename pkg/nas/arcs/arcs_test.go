// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package arcs

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchSpaceFromName(t *testing.T) {
	assert.Equal(t, Micro, SearchSpaceFromName("micro"))
	assert.Equal(t, Macro, SearchSpaceFromName(" Micro "))
	assert.Equal(t, Macro, SearchSpaceFromName("Micro"))
	assert.Equal(t, Macro, SearchSpaceFromName("macro"))
	assert.Equal(t, Macro, SearchSpaceFromName(""))
	assert.Equal(t, Macro, SearchSpaceFromName("whatever"))
}

func TestParseArc(t *testing.T) {
	arc, err := ParseArc("  0 1  2 3\t4 ")
	require.NoError(t, err)
	assert.Equal(t, Arc{0, 1, 2, 3, 4}, arc)
	assert.Equal(t, "0 1 2 3 4", arc.String())

	_, err = ParseArc("")
	require.Error(t, err)
	_, err = ParseArc("1 x 3")
	require.Error(t, err)
	_, err = ParseArc("1 -2 3")
	require.Error(t, err)
}

func TestEncodeMicro(t *testing.T) {
	b := &Batch{Space: Micro, Samples: []Sample{
		{Normal: Arc{0, 1, 1, 2}, Reduce: Arc{1, 0, 0, 4}},
		{Normal: Arc{1, 3, 0, 0}, Reduce: Arc{0, 2, 1, 1}},
	}}
	var buf bytes.Buffer
	require.NoError(t, b.Encode(&buf))
	assert.Equal(t, "2\n0 1 1 2\n1 0 0 4\n1 3 0 0\n0 2 1 1\n", buf.String())

	decoded, err := Decode(&buf, Micro)
	require.NoError(t, err)
	assert.Equal(t, b, decoded)
	assert.Equal(t, []Arc{{0, 1, 1, 2}, {1, 3, 0, 0}}, decoded.NormalArcs())
	assert.Equal(t, []Arc{{1, 0, 0, 4}, {0, 2, 1, 1}}, decoded.ReduceArcs())
}

func TestEncodeMacro(t *testing.T) {
	b := &Batch{Space: Macro, Samples: []Sample{{Normal: Arc{3, 1, 0, 1}}}}
	var buf bytes.Buffer
	require.NoError(t, b.Encode(&buf))
	assert.Equal(t, "1\n3 1 0 1\n", buf.String())

	// Empty reduce arcs are an error only for micro batches.
	b.Space = Micro
	require.Error(t, b.Encode(&bytes.Buffer{}))
}

func TestDecodeErrors(t *testing.T) {
	for name, contents := range map[string]string{
		"empty":          "",
		"bad count":      "two\n1 2\n",
		"negative count": "-1\n",
		"truncated":      "2\n1 2\n3 4\n1 1\n",
		"extra lines":    "1\n1 2\n3 4\n5 6\n",
		"bad entry":      "1\n1 2\n3 x\n",
	} {
		_, err := Decode(strings.NewReader(contents), Micro)
		assert.Errorf(t, err, "case %q should fail", name)
	}

	// Trailing empty lines are accepted.
	b, err := Decode(strings.NewReader("1\n0 0 1 1\n\n\n"), Macro)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Len())
}

func TestValidateMicro(t *testing.T) {
	require.NoError(t, ValidateMicro(Arc{0, 4, 1, 0, 2, 3, 0, 1}, 2, 5))
	// Node 0 can only take inputs 0 and 1.
	require.Error(t, ValidateMicro(Arc{2, 0, 0, 0, 0, 0, 0, 0}, 2, 5))
	// Op out of range.
	require.Error(t, ValidateMicro(Arc{0, 5, 0, 0, 0, 0, 0, 0}, 2, 5))
	// Wrong length.
	require.Error(t, ValidateMicro(Arc{0, 0, 0, 0}, 2, 5))
}

func TestValidateMacro(t *testing.T) {
	// 3 layers: [op0] [op1 s0] [op2 s0 s1]
	arc := Arc{0, 5, 1, 2, 0, 1}
	assert.Equal(t, 6, MacroArcLen(3))
	require.NoError(t, ValidateMacro(arc, 3, 6))
	require.Error(t, ValidateMacro(Arc{0, 5, 2, 2, 0, 1}, 3, 6))
	require.Error(t, ValidateMacro(Arc{0, 6, 1, 2, 0, 1}, 3, 6))
	require.Error(t, ValidateMacro(Arc{0, 5}, 3, 6))
	assert.InDelta(t, 2.0/3.0, SkipRate(arc, 3), 1e-9)
	assert.Equal(t, 0.0, SkipRate(Arc{1}, 1))
}
