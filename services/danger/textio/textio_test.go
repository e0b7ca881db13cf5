// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package textio

import (
	"bytes"
	"errors"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/dangerpath/services/danger/graph"
)

func TestParseEdges(t *testing.T) {
	input := "1 2 5\n\n  1\t3   10  \r\n2 4 3\n   \n"

	records, err := ParseEdgesString(input)
	require.NoError(t, err)
	assert.Equal(t, []graph.EdgeRecord{
		{U: 1, V: 2, Danger: 5},
		{U: 1, V: 3, Danger: 10},
		{U: 2, V: 4, Danger: 3},
	}, records)
}

func TestParseEdges_Blank(t *testing.T) {
	records, err := ParseEdgesString("\n  \n")
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestParseEdges_Invalid(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"two fields", "1 2"},
		{"four fields", "1 2 3 4"},
		{"word", "1 two 3"},
		{"fraction", "1 2 3.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := ParseEdgesString("1 2 5\n" + tt.line + "\n2 3 1\n")
			require.Error(t, err)
			assert.Nil(t, records)
			assert.ErrorIs(t, err, graph.ErrInvalidEdgeFormat)
			assert.Equal(t, `invalid edge format: "`+tt.line+`"`, err.Error())
		})
	}
}

// TestParseEdges_OutOfRangeLeftToBuilder verifies the parser accepts any integers.
func TestParseEdges_OutOfRangeLeftToBuilder(t *testing.T) {
	records, err := ParseEdgesString("0 -1 -7\n")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, graph.EdgeRecord{U: 0, V: -1, Danger: -7}, records[0])
}

func TestParseEdges_ReadError(t *testing.T) {
	boom := errors.New("disk gone")
	_, err := ParseEdges(iotest.ErrReader(boom))
	assert.ErrorIs(t, err, boom)
}

func TestParseQueries(t *testing.T) {
	lines, err := ParseQueriesString("4 6\n\nfoo bar\n8 11\n1 2 3\n")
	require.NoError(t, err)
	require.Len(t, lines, 4)

	assert.Equal(t, 1, lines[0].Line)
	assert.Equal(t, graph.QueryPair{U: 4, V: 6}, lines[0].Pair)
	assert.NoError(t, lines[0].Err)

	assert.Equal(t, 3, lines[1].Line)
	assert.ErrorIs(t, lines[1].Err, graph.ErrInvalidQueryFormat)
	assert.Equal(t, `invalid query: "foo bar"`, lines[1].Err.Error())
	assert.Equal(t, graph.QueryPair{}, lines[1].Pair)

	assert.Equal(t, graph.QueryPair{U: 8, V: 11}, lines[2].Pair)
	assert.ErrorIs(t, lines[3].Err, graph.ErrInvalidQueryFormat)
}

func TestParsePairs(t *testing.T) {
	pairs, err := ParsePairs(bytes.NewBufferString("4 6\n9 10\n"))
	require.NoError(t, err)
	assert.Equal(t, []graph.QueryPair{{U: 4, V: 6}, {U: 9, V: 10}}, pairs)

	_, err = ParsePairs(bytes.NewBufferString("4 6\n9\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrInvalidQueryFormat)
	assert.Contains(t, err.Error(), "line 2")
}

func TestFormatEdges_RoundTrip(t *testing.T) {
	records := []graph.EdgeRecord{{U: 1, V: 2, Danger: 5}, {U: 2, V: 3, Danger: 0}}

	var buf bytes.Buffer
	require.NoError(t, FormatEdges(&buf, records))
	assert.Equal(t, "1 2 5\n2 3 0\n", buf.String())

	back, err := ParseEdges(&buf)
	require.NoError(t, err)
	assert.Equal(t, records, back)
}
