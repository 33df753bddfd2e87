// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by controller and API spans.
const (
	CommandKey    = "tsplay.command"
	PathKey       = "tsplay.path"
	SessionIDKey  = "tsplay.session_id"
	PositionKey   = "tsplay.position_ms"
	OffsetKey     = "tsplay.offset_ms"
	SpeedIDKey    = "tsplay.speed_id"
	ResumedKey    = "tsplay.resumed"
	PlaylistIdx   = "tsplay.playlist.index"
	HTTPMethodKey = "http.method"
	HTTPRouteKey  = "http.route"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// CommandAttributes describes a controller command.
func CommandAttributes(command, path string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(CommandKey, command)}
	if path != "" {
		attrs = append(attrs, attribute.String(PathKey, path))
	}
	return attrs
}

// OpenAttributes describes the outcome of an open.
func OpenAttributes(sessionID string, offsetMsec int, resumed bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(SessionIDKey, sessionID),
		attribute.Int(OffsetKey, offsetMsec),
		attribute.Bool(ResumedKey, resumed),
	}
}

// ErrorAttributes marks a failed operation.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
