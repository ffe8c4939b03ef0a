package planner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/autopilot/internal/guardrail"
	"github.com/harrison/autopilot/internal/models"
)

func TestCreatePlan_TagAllRooms(t *testing.T) {
	p := NewDefault()

	plan := p.CreatePlan("Please TAG ALL ROOMS on level 2", nil)

	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "tag all rooms", plan.Source)
	assert.Equal(t, "Please TAG ALL ROOMS on level 2", plan.Goal)
	assert.NotEmpty(t, plan.ID)

	assert.Equal(t, 1, plan.Steps[0].Number)
	assert.Equal(t, "find_untagged_rooms", plan.Steps[0].Operation)
	assert.Equal(t, "room_ids", plan.Steps[0].Outputs["untagged_room_ids"])

	assert.Equal(t, 2, plan.Steps[1].Number)
	assert.Equal(t, "tag_rooms", plan.Steps[1].Operation)
	assert.Equal(t, "{{untagged_room_ids}}", plan.Steps[1].Params["element_ids"])
}

func TestCreatePlan_UnknownGoalIsEmpty(t *testing.T) {
	p := NewDefault()

	plan := p.CreatePlan("make me a sandwich", map[string]any{"bread": "rye"})

	assert.True(t, plan.IsEmpty())
	assert.Equal(t, "make me a sandwich", plan.Goal)
	assert.Empty(t, plan.Source)
}

func TestCreatePlan_ContextParameterizesSteps(t *testing.T) {
	p := NewDefault()

	plan := p.CreatePlan("delete all elements", map[string]any{"category": "Furniture"})
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "Furniture", plan.Steps[0].Params["category"])
	assert.Equal(t, "delete_elements", plan.Steps[1].Operation)

	plan = p.CreatePlan("renumber doors", map[string]any{"prefix": "DR", "start": 100})
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "DR", plan.Steps[1].Params["prefix"])
	assert.Equal(t, 100, plan.Steps[1].Params["start"])
}

func TestCreatePlan_NewIDPerPlan(t *testing.T) {
	p := NewDefault()
	a := p.CreatePlan("tag all rooms", nil)
	b := p.CreatePlan("tag all rooms", nil)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestMatch_DeclaredOrderWins(t *testing.T) {
	build := func(op string) Builder {
		return func(string, map[string]any) []models.ExecutionStep {
			return []models.ExecutionStep{{Operation: op, Required: true}}
		}
	}
	p := New(
		Template{Name: "rooms", Build: build("first")},
		Template{Name: "tag all rooms", Build: build("second")},
	)

	// Both templates match; the earlier one must win every time
	for i := 0; i < 20; i++ {
		plan := p.CreatePlan("tag all rooms", nil)
		require.Len(t, plan.Steps, 1)
		assert.Equal(t, "first", plan.Steps[0].Operation)
	}

	p.Prepend(Template{Name: "tag all", Build: build("custom")})
	assert.Equal(t, "custom", p.CreatePlan("tag all rooms", nil).Steps[0].Operation)

	p.Register(Template{Name: "sheets", Build: build("last")})
	names := []string{}
	for _, tmpl := range p.Templates() {
		names = append(names, tmpl.Name)
	}
	assert.Equal(t, []string{"tag all", "rooms", "tag all rooms", "sheets"}, names)
}

func TestTemplate_CustomPredicate(t *testing.T) {
	tmpl := Template{
		Name:  "unused",
		Match: func(goal string) bool { return len(goal) == 3 },
	}
	assert.True(t, tmpl.Matches("abc"))
	assert.False(t, tmpl.Matches("unused"))
}

func TestBuiltinTemplates_StepsAreDense(t *testing.T) {
	p := NewDefault()
	for _, tmpl := range p.Templates() {
		plan := p.CreatePlan(tmpl.Name, nil)
		require.NotEmpty(t, plan.Steps, tmpl.Name)
		for i, step := range plan.Steps {
			assert.Equal(t, i+1, step.Number, "%s step %d", tmpl.Name, i)
			assert.NotEmpty(t, step.Operation)
		}
		assert.Equal(t, tmpl.Name, plan.Source, "builtin %q must match its own name first", tmpl.Name)
	}
}

func TestCreatePlan_AuditModelIsReadOnly(t *testing.T) {
	plan := NewDefault().CreatePlan("audit model", nil)

	require.Len(t, plan.Steps, 3)
	assert.Equal(t, "get_project_info", plan.Steps[0].Operation)
	assert.True(t, plan.Steps[0].Required)
	assert.Equal(t, "get_purgeable_elements", plan.Steps[2].Operation)
	assert.False(t, plan.Steps[2].Required)

	verdict := guardrail.MustPolicy(guardrail.Config{RequireApprovalForDestructive: true}).ValidatePlan(plan)
	assert.True(t, verdict.Valid, "audit must not park for approval: %+v", verdict)
}

func TestLoadCatalog_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := `templates:
  - name: isolate walls
    triggers: [show only walls]
    description: Hide everything but walls
    steps:
      - description: Collect walls
        operation: get_elements
        params: {category: Walls}
        outputs: {wall_ids: element_ids}
      - description: Isolate them
        operation: isolate_elements
        params: {element_ids: "{{wall_ids}}"}
        required: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	templates, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, templates, 1)

	p := New(templates...)
	plan := p.CreatePlan("please show only walls", nil)
	require.Len(t, plan.Steps, 2)
	assert.True(t, plan.Steps[0].Required)
	assert.False(t, plan.Steps[1].Required)
	assert.Equal(t, "{{wall_ids}}", plan.Steps[1].Params["element_ids"])
	assert.Equal(t, "element_ids", plan.Steps[0].Outputs["wall_ids"])
}

func TestLoadCatalog_Markdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.md")
	content := "# Custom goals\n\n" +
		"## Goal: color clashes\n\n" +
		"Triggers: highlight clashes, show clashes\n\n" +
		"Colors every clashing element red.\n\n" +
		"```yaml\n" +
		"- description: Find clashes\n" +
		"  operation: find_clashes\n" +
		"  outputs: {clash_ids: element_ids}\n" +
		"- description: Color them\n" +
		"  operation: set_parameter\n" +
		"  params: {element_ids: \"{{clash_ids}}\", color: red}\n" +
		"```\n\n" +
		"## Notes\n\nNot a template.\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	templates, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, templates, 1)

	tmpl := templates[0]
	assert.Equal(t, "color clashes", tmpl.Name)
	assert.Equal(t, []string{"highlight clashes", "show clashes"}, tmpl.Triggers)
	assert.Equal(t, "Colors every clashing element red.", tmpl.Description)

	steps := tmpl.Build("", nil)
	require.Len(t, steps, 2)
	assert.Equal(t, "find_clashes", steps[0].Operation)
	assert.Equal(t, 2, steps[1].Number)
	assert.Equal(t, "red", steps[1].Params["color"])
}

func TestLoadCatalog_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{name: "unsupported extension", file: "catalog.txt", content: "x", wantErr: "unsupported"},
		{name: "malformed yaml", file: "bad.yaml", content: "templates: [", wantErr: "failed to parse"},
		{name: "missing steps", file: "empty.yaml", content: "templates:\n  - name: nothing\n", wantErr: "has no steps"},
		{name: "unquoted placeholder", file: "bare.yaml", content: "templates:\n  - name: x\n    steps:\n      - operation: tag_rooms\n        params: {element_ids: {{room_ids}}}\n", wantErr: `placeholder {{room_ids}} must be quoted`},
		{name: "unquoted placeholder in block params", file: "block.yaml", content: "templates:\n  - name: x\n    steps:\n      - operation: tag_rooms\n        params:\n          element_ids: {{room_ids}}\n", wantErr: `must be quoted`},
		{name: "missing operation", file: "noop.yaml", content: "templates:\n  - name: x\n    steps:\n      - description: y\n", wantErr: "operation is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))
			_, err := LoadCatalog(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := LoadCatalog(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
