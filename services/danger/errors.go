// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package danger

import "errors"

// Sentinel errors for the danger path service.
var (
	// ErrNoMapLoaded indicates a query arrived before any map was loaded.
	ErrNoMapLoaded = errors.New("no danger map loaded")

	// ErrStorageDisabled indicates a named-map operation without a configured store.
	ErrStorageDisabled = errors.New("map storage not configured")

	// ErrTooManyPairs indicates a query request above the configured pair limit.
	ErrTooManyPairs = errors.New("too many query pairs")

	// ErrEmptyMapInput indicates a load request carrying neither edge text nor records.
	ErrEmptyMapInput = errors.New("edges or records required")
)
