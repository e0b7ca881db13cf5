// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command dangerpath answers maximum-danger path queries over a tree of
// locations joined by weighted edges, and serves them over HTTP.
//
// Usage:
//
//	dangerpath query --edges map.txt --queries queries.txt
//	dangerpath export --edges map.txt
//	dangerpath serve --config dangerpath.yaml --watch map.txt
//	dangerpath maps save harbor --edges map.txt --db ./maps
//
// Edges are one "u v danger" triple per line and queries one "u v" pair
// per line. For every query the tool prints the largest danger on the
// unique path between u and v, and the edge that carries it.
//
// Example requests against a running server:
//
//	# Load a map
//	curl -X POST http://localhost:8080/v1/danger/map \
//	  -H "Content-Type: application/json" \
//	  -d '{"edges": "1 2 5\n1 3 10\n"}'
//
//	# Query it
//	curl -X POST http://localhost:8080/v1/danger/query \
//	  -H "Content-Type: application/json" \
//	  -d '{"pairs": [[2, 3]]}'
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/dangerpath/pkg/ux"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		ux.NewPrinter(os.Stdout, os.Stderr, ux.DetectMode(os.Stderr)).Error(err.Error())
		os.Exit(1)
	}
}
