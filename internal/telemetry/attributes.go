// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by spans across the daemon.
const (
	// Connector attributes
	ConnectorIDKey   = "connector.id"
	ConnectorTypeKey = "connector.type"
	ConnectorNameKey = "connector.name"

	// Sweep attributes
	SweepModeKey       = "sweep.mode"
	SweepSourceKey     = "sweep.source"
	SweepConnectorsKey = "sweep.connectors"
	SweepDispatchedKey = "sweep.dispatched"
	SweepDeferredKey   = "sweep.deferred"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// ConnectorAttributes identifies the upstream service a span talks to.
func ConnectorAttributes(id int64, connectorType, name string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(ConnectorIDKey, id),
		attribute.String(ConnectorTypeKey, connectorType),
		attribute.String(ConnectorNameKey, name),
	}
}

// SweepAttributes describes one sweep run.
func SweepAttributes(mode, source string, connectors int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(SweepModeKey, mode),
		attribute.String(SweepSourceKey, source),
		attribute.Int(SweepConnectorsKey, connectors),
	}
}

// SweepOutcomeAttributes records what a finished sweep produced.
func SweepOutcomeAttributes(dispatched, deferred int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(SweepDispatchedKey, dispatched),
		attribute.Int(SweepDeferredKey, deferred),
	}
}

// ErrorAttributes marks a span failed with a coarse error class.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
