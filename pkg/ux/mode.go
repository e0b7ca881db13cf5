// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// ModeEnvVar overrides terminal detection when set.
const ModeEnvVar = "DANGERPATH_OUTPUT"

// Mode defines the richness of CLI output
type Mode string

const (
	// ModeRich enables colors, icons, boxes and bordered tables
	ModeRich Mode = "rich"

	// ModePlain outputs tab-separated text suitable for scripting and parsing
	ModePlain Mode = "plain"
)

// ParseMode converts a string to Mode. Unknown values return "".
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rich", "full", "color", "r":
		return ModeRich
	case "plain", "machine", "quiet", "p":
		return ModePlain
	default:
		return ""
	}
}

// DetectMode picks the mode for f: the DANGERPATH_OUTPUT override when it
// parses, rich for a terminal, plain otherwise.
func DetectMode(f *os.File) Mode {
	if m := ParseMode(os.Getenv(ModeEnvVar)); m != "" {
		return m
	}
	if f != nil && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return ModeRich
	}
	return ModePlain
}
