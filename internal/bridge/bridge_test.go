package bridge

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandbox_TagRooms(t *testing.T) {
	sb := NewSandbox(nil)
	ctx := context.Background()

	res, err := sb.Execute(ctx, "find_untagged_rooms", nil)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, []any{102, 201}, res.Fields["room_ids"])

	res, err = sb.Execute(ctx, "tag_rooms", map[string]any{"element_ids": res.Fields["room_ids"]})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 2, res.Fields["tagged_count"])

	res, err = sb.Execute(ctx, "find_untagged_rooms", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{}, res.Fields["room_ids"])

	res, err = sb.Execute(ctx, "tag_rooms", map[string]any{"element_ids": []any{}})
	require.NoError(t, err)
	assert.True(t, res.Success, "tagging an empty set succeeds")
}

func TestSandbox_Failures(t *testing.T) {
	tests := []struct {
		name      string
		model     *Model
		operation string
		params    map[string]any
		wantErr   string
	}{
		{name: "unknown operation", operation: "explode", wantErr: "Unknown operation: explode"},
		{name: "unknown room", operation: "tag_rooms", params: map[string]any{"element_ids": []any{999}}, wantErr: "Element not found: 999"},
		{name: "unknown tag type", operation: "tag_rooms", params: map[string]any{"element_ids": []any{102}, "type_name": "Fancy"}, wantErr: "Tag type not found"},
		{name: "unresolved placeholder", operation: "delete_elements", params: map[string]any{"element_ids": "{{ids}}"}, wantErr: "unresolved"},
		{name: "read only", model: &Model{ReadOnly: true}, operation: "delete_elements", params: map[string]any{"element_ids": []any{1}}, wantErr: "read-only"},
		{name: "unknown level", operation: "create_view", params: map[string]any{"level_id": 77}, wantErr: "Level not found"},
		{name: "duplicate level", operation: "create_level", params: map[string]any{"name": "Level 1"}, wantErr: "already exists"},
		{name: "unknown view", operation: "create_sheets", params: map[string]any{"view_ids": []any{3}}, wantErr: "View not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewSandbox(tt.model).Execute(context.Background(), tt.operation, tt.params)
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Contains(t, res.Error, tt.wantErr)
		})
	}
}

func TestSandbox_LevelFallback(t *testing.T) {
	sb := NewSandbox(nil)

	res, err := sb.Execute(context.Background(), "create_view", map[string]any{"level_id": 0, "name": "Fallback"})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 1, res.Fields["level_id"], "zero level uses the lowest level")
}

func TestSandbox_DeleteAndSheets(t *testing.T) {
	sb := NewSandbox(nil)
	ctx := context.Background()

	res, err := sb.Execute(ctx, "get_elements", map[string]any{"category": "generic models"})
	require.NoError(t, err)
	assert.Equal(t, []any{503, 504}, res.Fields["element_ids"])

	res, err = sb.Execute(ctx, "delete_elements", map[string]any{"element_ids": res.Fields["element_ids"]})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 2, res.Fields["deleted_count"])
	assert.Len(t, sb.Model().Elements, 2)

	res, err = sb.Execute(ctx, "list_views", map[string]any{"unplaced_only": true})
	require.NoError(t, err)
	assert.Equal(t, []any{302}, res.Fields["view_ids"])

	res, err = sb.Execute(ctx, "create_sheets", map[string]any{"view_ids": []any{302}, "type_name": "A1 Title Block"})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.Len(t, res.Fields["sheet_ids"], 1)

	res, err = sb.Execute(ctx, "list_views", map[string]any{"unplaced_only": true})
	require.NoError(t, err)
	assert.Equal(t, []any{}, res.Fields["view_ids"])
}

func TestSandbox_RenumberDoors(t *testing.T) {
	sb := NewSandbox(nil)
	res, err := sb.Execute(context.Background(), "renumber_elements", map[string]any{"element_ids": []any{501, 502}, "prefix": "D", "start": 10})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)

	model := sb.Model()
	assert.Equal(t, "D10", model.Elements[0].Params["Mark"])
	assert.Equal(t, "D11", model.Elements[1].Params["Mark"])
}

func TestSandbox_FailNext(t *testing.T) {
	sb := NewSandbox(nil)
	ctx := context.Background()
	sb.FailNext("list_levels", "Transient failure", 2)

	for i := 0; i < 2; i++ {
		res, err := sb.Execute(ctx, "list_levels", nil)
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, "Transient failure", res.Error)
	}

	res, err := sb.Execute(ctx, "list_levels", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Len(t, sb.Calls(), 3)
}

func TestSandbox_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSandbox(nil).Execute(ctx, "list_levels", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.yaml")
	content := `project:
  name: Fixture
levels:
  - {id: 1, name: Ground}
rooms:
  - {id: 10, name: Hall, level_id: 1}
  - {id: 11, name: Store, level_id: 1, tagged: true}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	model, err := LoadModel(path)
	require.NoError(t, err)
	assert.Equal(t, "Fixture", model.Project["name"])

	sb := NewSandbox(model)
	res, err := sb.Execute(context.Background(), "find_untagged_rooms", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{10}, res.Fields["room_ids"])

	_, err = LoadModel(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestCommandExecutor(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	ctx := context.Background()

	t.Run("decodes flat result", func(t *testing.T) {
		ex := NewCommandExecutor("sh", "-c", `cat >/dev/null; echo '{"success": true, "room_ids": [1, 2]}'`)
		res, err := ex.Execute(ctx, "find_untagged_rooms", nil)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, []any{float64(1), float64(2)}, res.Fields["room_ids"])
	})

	t.Run("request reaches stdin", func(t *testing.T) {
		ex := NewCommandExecutor("sh", "-c", `grep -q '"operation":"tag_rooms"' && echo '{"success": true}' || echo '{"success": false, "error": "bad request"}'`)
		res, err := ex.Execute(ctx, "tag_rooms", map[string]any{"element_ids": []any{1}})
		require.NoError(t, err)
		assert.True(t, res.Success, res.Error)
	})

	t.Run("operation failure", func(t *testing.T) {
		ex := NewCommandExecutor("sh", "-c", `cat >/dev/null; echo '{"success": false, "error": "Level not found"}'`)
		res, err := ex.Execute(ctx, "create_view", nil)
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, "Level not found", res.Error)
	})

	t.Run("non-zero exit is a transport error", func(t *testing.T) {
		ex := NewCommandExecutor("sh", "-c", `cat >/dev/null; echo oops >&2; exit 3`)
		_, err := ex.Execute(ctx, "x", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "oops")
	})

	t.Run("garbage output", func(t *testing.T) {
		ex := NewCommandExecutor("sh", "-c", `cat >/dev/null; echo not-json`)
		_, err := ex.Execute(ctx, "x", nil)
		assert.Error(t, err)
	})

	t.Run("unconfigured", func(t *testing.T) {
		_, err := (&CommandExecutor{}).Execute(ctx, "x", nil)
		assert.Error(t, err)
	})
}
