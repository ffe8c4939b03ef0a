package guardrail

// BuiltinProfiles returns the default operation profiles in evaluation order.
// Exact names come first so they can refine the glob families below them.
func BuiltinProfiles() []Profile {
	return []Profile{
		// Batch-shaped write operations
		{Pattern: "tag_rooms", Class: ClassStandard, BatchParams: []string{"element_ids", "room_ids"}},
		{Pattern: "create_floor_plans", Class: ClassStandard, BatchParams: []string{"level_ids"}},
		{Pattern: "create_sheets", Class: ClassStandard, BatchParams: []string{"view_ids"}},
		{Pattern: "renumber_elements", Class: ClassStandard, BatchParams: []string{"element_ids"}},
		{Pattern: "set_parameter", Class: ClassStandard, BatchParams: []string{"element_ids"}},

		// Destructive operations
		{Pattern: "delete_*", Class: ClassDestructive, BatchParams: []string{"element_ids", "view_ids", "sheet_ids"}},
		{Pattern: "purge_*", Class: ClassDestructive},
		{Pattern: "demolish_*", Class: ClassDestructive},
		{Pattern: "clear_*", Class: ClassDestructive},
		{Pattern: "reset_*", Class: ClassDestructive},

		// Read-only operations
		{Pattern: "get_*", Class: ClassSafe},
		{Pattern: "list_*", Class: ClassSafe},
		{Pattern: "find_*", Class: ClassSafe},
		{Pattern: "query_*", Class: ClassSafe},
		{Pattern: "count_*", Class: ClassSafe},
		{Pattern: "export_*", Class: ClassSafe},
	}
}

// ProfilesFrom builds profiles from configured operation name patterns.
func ProfilesFrom(safe, destructive []string) []Profile {
	profiles := make([]Profile, 0, len(safe)+len(destructive))
	for _, p := range destructive {
		profiles = append(profiles, Profile{Pattern: p, Class: ClassDestructive})
	}
	for _, p := range safe {
		profiles = append(profiles, Profile{Pattern: p, Class: ClassSafe})
	}
	return profiles
}
