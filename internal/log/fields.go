// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldRequestID = "request_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Playback fields
	FieldPath        = "path"
	FieldPositionMs  = "position_ms"
	FieldDurationMs  = "duration_ms"
	FieldOffsetMs    = "offset_ms"
	FieldSpeedID     = "speed_id"
	FieldRate        = "rate"
	FieldFingerprint = "fingerprint"
	FieldUnitSize    = "unit_size"
	FieldDrops       = "drops"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Output fields
	FieldSink = "sink"
)
