// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldJobID  = "job_id"
	FieldURL    = "url"
	FieldQueue  = "queue"
	FieldSource = "source"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldAttempt   = "attempt"
	FieldKind      = "kind"

	// Artifact fields
	FieldWeek      = "week"
	FieldMediaType = "media_type"
	FieldPath      = "path"
	FieldSize      = "size"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
)
