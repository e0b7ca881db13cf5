// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package textio reads danger maps and queries from their line-oriented
// text form.
//
// Edges are one "u v danger" triple per line and queries one "u v" pair
// per line. Fields are separated by any run of whitespace and blank lines
// are skipped. Values are parsed as base-10 integers; range checks are
// left to graph.BuildGraph and the query engine.
package textio

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/AleutianAI/dangerpath/services/danger/graph"
)

// maxLineBytes bounds a single input line.
const maxLineBytes = 1 << 20

// QueryLine is one non-blank line of query input.
type QueryLine struct {
	// Line is the 1-based line number in the input.
	Line int

	// Text is the raw line as read.
	Text string

	// Pair is the parsed query. Zero when Err is set.
	Pair graph.QueryPair

	// Err is non-nil when the line is not two integers. Wraps
	// graph.ErrInvalidQueryFormat.
	Err error
}

// ParseEdges reads edge records from r.
//
// Description:
//
//	Each non-blank line must be exactly three integers. The first
//	malformed line aborts the parse; no partial edge list is returned.
//
// Outputs:
//   - []graph.EdgeRecord: Records in input order. Empty, not nil, for blank input.
//   - error: Wraps graph.ErrInvalidEdgeFormat with the quoted line, or a read error.
func ParseEdges(r io.Reader) ([]graph.EdgeRecord, error) {
	records := make([]graph.EdgeRecord, 0)
	err := scanLines(r, func(_ int, line string, fields []string) error {
		vals, ok := parseInts(fields, 3)
		if !ok {
			return fmt.Errorf("%w: %q", graph.ErrInvalidEdgeFormat, line)
		}
		records = append(records, graph.EdgeRecord{
			U:      graph.NodeID(vals[0]),
			V:      graph.NodeID(vals[1]),
			Danger: graph.Danger(vals[2]),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ParseEdgesString is ParseEdges over an in-memory string.
func ParseEdgesString(s string) ([]graph.EdgeRecord, error) {
	return ParseEdges(strings.NewReader(s))
}

// ParseQueries reads query lines from r.
//
// Description:
//
//	Malformed lines do not stop the parse. Each is returned with Err set
//	so the caller can report it in place, keeping results aligned with
//	the input.
//
// Outputs:
//   - []QueryLine: One entry per non-blank line, in input order.
//   - error: Only read errors.
func ParseQueries(r io.Reader) ([]QueryLine, error) {
	lines := make([]QueryLine, 0)
	err := scanLines(r, func(n int, line string, fields []string) error {
		q := QueryLine{Line: n, Text: line}
		if vals, ok := parseInts(fields, 2); ok {
			q.Pair = graph.QueryPair{U: graph.NodeID(vals[0]), V: graph.NodeID(vals[1])}
		} else {
			q.Err = fmt.Errorf("%w: %q", graph.ErrInvalidQueryFormat, line)
		}
		lines = append(lines, q)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lines, nil
}

// ParseQueriesString is ParseQueries over an in-memory string.
func ParseQueriesString(s string) ([]QueryLine, error) {
	return ParseQueries(strings.NewReader(s))
}

// ParsePairs reads queries strictly: the first malformed line is an error.
func ParsePairs(r io.Reader) ([]graph.QueryPair, error) {
	lines, err := ParseQueries(r)
	if err != nil {
		return nil, err
	}
	pairs := make([]graph.QueryPair, 0, len(lines))
	for _, l := range lines {
		if l.Err != nil {
			return nil, fmt.Errorf("line %d: %w", l.Line, l.Err)
		}
		pairs = append(pairs, l.Pair)
	}
	return pairs, nil
}

// FormatEdges writes records in the same form ParseEdges reads.
func FormatEdges(w io.Writer, records []graph.EdgeRecord) error {
	bw := bufio.NewWriter(w)
	for _, r := range records {
		if _, err := fmt.Fprintln(bw, r.String()); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// scanLines calls fn for every non-blank line with its 1-based number,
// the line with its line ending stripped, and its whitespace fields.
func scanLines(r io.Reader, fn func(n int, line string, fields []string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	n := 0
	for scanner.Scan() {
		n++
		line := strings.TrimRight(scanner.Text(), "\r")
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if err := fn(n, line, fields); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}

// parseInts parses exactly want base-10 integers.
func parseInts(fields []string, want int) ([]int64, bool) {
	if len(fields) != want {
		return nil, false
	}
	vals := make([]int64, want)
	for i, f := range fields {
		v, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, false
		}
		vals[i] = v
	}
	return vals, true
}
