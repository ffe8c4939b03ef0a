package planner

import (
	"fmt"

	"github.com/harrison/autopilot/internal/models"
)

// BuiltinTemplates returns the builtin goal catalog in priority order.
func BuiltinTemplates() []Template {
	return []Template{
		{
			Name:        "tag all rooms",
			Triggers:    []string{"tag rooms", "tag untagged rooms"},
			Description: "Find rooms without a tag and tag them",
			Build:       buildTagAllRooms,
		},
		{
			Name:        "delete all elements",
			Triggers:    []string{"remove all elements"},
			Description: "Delete every element of a category (context: category)",
			Build:       buildDeleteAllElements,
		},
		{
			Name:        "create floor plans",
			Triggers:    []string{"floor plan for every level", "floor plans for all levels"},
			Description: "Create a floor plan view per level (context: view_template)",
			Build:       buildCreateFloorPlans,
		},
		{
			Name:        "create sheets",
			Triggers:    []string{"sheets for all views"},
			Description: "Place every view on a new sheet (context: title_block)",
			Build:       buildCreateSheets,
		},
		{
			Name:        "renumber doors",
			Triggers:    []string{"number doors", "number all doors"},
			Description: "Renumber doors sequentially (context: prefix)",
			Build:       buildRenumberDoors,
		},
		{
			Name:        "audit model",
			Triggers:    []string{"check model health", "model health"},
			Description: "Collect project info, warnings and purgeable elements",
			Build:       buildAuditModel,
		},
	}
}

func buildTagAllRooms(_ string, ctx map[string]any) []models.ExecutionStep {
	tagParams := map[string]any{"element_ids": "{{untagged_room_ids}}"}
	if tagType := contextString(ctx, "tag_type", ""); tagType != "" {
		tagParams["type_name"] = tagType
	}
	return []models.ExecutionStep{
		{
			Description: "Find rooms without a room tag",
			Operation:   "find_untagged_rooms",
			Params:      map[string]any{},
			Required:    true,
			Outputs:     map[string]string{"untagged_room_ids": "room_ids"},
		},
		{
			Description: "Tag the untagged rooms",
			Operation:   "tag_rooms",
			Params:      tagParams,
			Required:    true,
		},
	}
}

func buildDeleteAllElements(_ string, ctx map[string]any) []models.ExecutionStep {
	category := contextString(ctx, "category", "Generic Models")
	return []models.ExecutionStep{
		{
			Description: fmt.Sprintf("Collect all %s elements", category),
			Operation:   "get_elements",
			Params:      map[string]any{"category": category},
			Required:    true,
			Outputs:     map[string]string{"target_element_ids": "element_ids"},
		},
		{
			Description: fmt.Sprintf("Delete all %s elements", category),
			Operation:   "delete_elements",
			Params:      map[string]any{"element_ids": "{{target_element_ids}}"},
			Required:    true,
		},
	}
}

func buildCreateFloorPlans(_ string, ctx map[string]any) []models.ExecutionStep {
	params := map[string]any{"level_ids": "{{level_ids}}"}
	if tmpl := contextString(ctx, "view_template", ""); tmpl != "" {
		params["view_template"] = tmpl
	}
	return []models.ExecutionStep{
		{
			Description: "List model levels",
			Operation:   "list_levels",
			Params:      map[string]any{},
			Required:    true,
			Outputs:     map[string]string{"level_ids": "level_ids"},
		},
		{
			Description: "Create a floor plan for each level",
			Operation:   "create_floor_plans",
			Params:      params,
			Required:    true,
		},
	}
}

func buildCreateSheets(_ string, ctx map[string]any) []models.ExecutionStep {
	params := map[string]any{"view_ids": "{{view_ids}}"}
	if tb := contextString(ctx, "title_block", ""); tb != "" {
		params["type_name"] = tb
	}
	return []models.ExecutionStep{
		{
			Description: "List views not yet placed on sheets",
			Operation:   "list_views",
			Params:      map[string]any{"unplaced_only": true},
			Required:    true,
			Outputs:     map[string]string{"view_ids": "view_ids"},
		},
		{
			Description: "Create a sheet per view",
			Operation:   "create_sheets",
			Params:      params,
			Required:    true,
		},
	}
}

func buildRenumberDoors(_ string, ctx map[string]any) []models.ExecutionStep {
	return []models.ExecutionStep{
		{
			Description: "Collect all doors",
			Operation:   "get_elements",
			Params:      map[string]any{"category": "Doors"},
			Required:    true,
			Outputs:     map[string]string{"door_ids": "element_ids"},
		},
		{
			Description: "Renumber doors sequentially",
			Operation:   "renumber_elements",
			Params: map[string]any{
				"element_ids": "{{door_ids}}",
				"prefix":      contextString(ctx, "prefix", "D"),
				"start":       contextInt(ctx, "start", 1),
			},
			Required: true,
		},
	}
}

func buildAuditModel(_ string, _ map[string]any) []models.ExecutionStep {
	return []models.ExecutionStep{
		{
			Description: "Read project information",
			Operation:   "get_project_info",
			Params:      map[string]any{},
			Required:    true,
		},
		{
			Description: "Collect model warnings",
			Operation:   "get_warnings",
			Params:      map[string]any{},
			Required:    false,
			Outputs:     map[string]string{"warning_count": "count"},
		},
		{
			Description: "List purgeable elements",
			Operation:   "get_purgeable_elements",
			Params:      map[string]any{},
			Required:    false,
			Outputs:     map[string]string{"purgeable_ids": "element_ids"},
		},
	}
}

func contextString(ctx map[string]any, key, fallback string) string {
	if v, ok := ctx[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

func contextInt(ctx map[string]any, key string, fallback int) int {
	switch v := ctx[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}
