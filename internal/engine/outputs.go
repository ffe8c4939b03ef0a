package engine

import (
	"github.com/harrison/autopilot/internal/models"
	"github.com/harrison/autopilot/internal/ops"
)

// WellKnownFields are result fields copied into the task context without a
// declared mapping, unless a mapping already wrote that name.
var WellKnownFields = []string{
	"element_ids",
	"room_ids",
	"view_ids",
	"level_ids",
	"sheet_ids",
	"element_id",
	"view_id",
	"sheet_id",
}

// extractOutputs applies the step's declared mappings and then the well-known
// fields, writing into taskCtx. Returns what was written.
func extractOutputs(step models.ExecutionStep, raw ops.Result, taskCtx map[string]any) map[string]any {
	written := map[string]any{}

	for target, path := range step.Outputs {
		if value, ok := raw.Lookup(path); ok {
			taskCtx[target] = value
			written[target] = value
		}
	}

	for _, field := range WellKnownFields {
		if _, declared := written[field]; declared {
			continue
		}
		if value, ok := raw.Fields[field]; ok {
			taskCtx[field] = value
			written[field] = value
		}
	}

	return written
}
