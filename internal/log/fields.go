// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldCorrelationID = "correlation_id"
	FieldSource        = "source"
	FieldUserID        = "user_id"
	FieldJobName       = "job_name"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Domain fields
	FieldConnectorID = "connector_id"
	FieldScheduleID  = "schedule_id"
	FieldRegistryID  = "registry_id"
	FieldCommandID   = "command_id"
	FieldContentID   = "content_id"
	FieldDecision    = "decision"
	FieldAttempts    = "attempts"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path / URL fields
	FieldBaseURL = "base_url"
)
