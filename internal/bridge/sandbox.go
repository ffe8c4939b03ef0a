package bridge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/harrison/autopilot/internal/ops"
)

// Call is one operation received by the sandbox.
type Call struct {
	Operation string
	Params    map[string]any
}

type fault struct {
	message   string
	remaining int
}

type handler func(s *Sandbox, params map[string]any) ops.Result

// Sandbox executes operations against an in-memory Model.
// It is safe for concurrent use.
type Sandbox struct {
	mu       sync.Mutex
	model    *Model
	nextID   int
	faults   map[string]*fault
	calls    []Call
	handlers map[string]handler
}

// NewSandbox creates a sandbox over model. A nil model uses DefaultModel.
func NewSandbox(model *Model) *Sandbox {
	if model == nil {
		model = DefaultModel()
	}
	s := &Sandbox{
		model:  model,
		nextID: model.maxID() + 1,
		faults: make(map[string]*fault),
	}
	s.handlers = map[string]handler{
		"find_untagged_rooms":    (*Sandbox).findUntaggedRooms,
		"tag_rooms":              (*Sandbox).tagRooms,
		"get_elements":           (*Sandbox).getElements,
		"delete_elements":        (*Sandbox).deleteElements,
		"list_levels":            (*Sandbox).listLevels,
		"create_level":           (*Sandbox).createLevel,
		"create_view":            (*Sandbox).createView,
		"create_floor_plans":     (*Sandbox).createFloorPlans,
		"list_views":             (*Sandbox).listViews,
		"create_sheets":          (*Sandbox).createSheets,
		"renumber_elements":      (*Sandbox).renumberElements,
		"set_parameter":          (*Sandbox).setParameter,
		"get_project_info":       (*Sandbox).getProjectInfo,
		"get_warnings":           (*Sandbox).getWarnings,
		"get_purgeable_elements": (*Sandbox).getPurgeableElements,
	}
	return s
}

// Operations lists the supported operation names, sorted.
func (s *Sandbox) Operations() []string {
	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FailNext makes the next times calls to operation fail with message.
func (s *Sandbox) FailNext(operation, message string, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if times <= 0 {
		delete(s.faults, operation)
		return
	}
	s.faults[operation] = &fault{message: message, remaining: times}
}

// Calls returns every call received so far, in order.
func (s *Sandbox) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call{}, s.calls...)
}

// Model returns a snapshot of the sandbox document state.
func (s *Sandbox) Model() Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := *s.model
	m.Levels = append([]Level{}, s.model.Levels...)
	m.Rooms = append([]Room{}, s.model.Rooms...)
	m.Views = append([]View{}, s.model.Views...)
	m.Sheets = append([]Sheet{}, s.model.Sheets...)
	m.Elements = append([]Element{}, s.model.Elements...)
	m.Types = append([]ElementType{}, s.model.Types...)
	m.Warnings = append([]string{}, s.model.Warnings...)
	return m
}

// Execute implements ops.Executor. Operation failures are reported in the
// Result; only a done context yields an error.
func (s *Sandbox) Execute(ctx context.Context, operation string, params map[string]any) (ops.Result, error) {
	if err := ctx.Err(); err != nil {
		return ops.Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{Operation: operation, Params: copyParams(params)})

	if f, ok := s.faults[operation]; ok {
		f.remaining--
		if f.remaining <= 0 {
			delete(s.faults, operation)
		}
		return ops.Fail("%s", f.message), nil
	}

	h, ok := s.handlers[operation]
	if !ok {
		return ops.Fail("Unknown operation: %s", operation), nil
	}
	return h(s, params), nil
}

func (s *Sandbox) allocID() int {
	id := s.nextID
	s.nextID++
	return id
}

func (s *Sandbox) findUntaggedRooms(_ map[string]any) ops.Result {
	ids := []any{}
	for _, r := range s.model.Rooms {
		if !r.Tagged {
			ids = append(ids, r.ID)
		}
	}
	return ops.OK(map[string]any{"room_ids": ids, "count": len(ids)})
}

func (s *Sandbox) tagRooms(params map[string]any) ops.Result {
	ids, err := idList(params, "element_ids")
	if err != nil {
		return ops.Fail("%v", err)
	}
	if name, ok := params["type_name"].(string); ok && name != "" {
		if !s.hasType(CategoryRoomTags, name) {
			return ops.Fail("Tag type not found: %s", name)
		}
	}

	index := make(map[int]int, len(s.model.Rooms))
	for i, r := range s.model.Rooms {
		index[r.ID] = i
	}
	for _, id := range ids {
		if _, ok := index[id]; !ok {
			return ops.Fail("Element not found: %d", id)
		}
	}

	tagIDs := []any{}
	for _, id := range ids {
		s.model.Rooms[index[id]].Tagged = true
		tagIDs = append(tagIDs, s.allocID())
	}
	return ops.OK(map[string]any{"tagged_count": len(ids), "tag_ids": tagIDs})
}

func (s *Sandbox) getElements(params map[string]any) ops.Result {
	category, _ := params["category"].(string)
	ids := []any{}
	for _, e := range s.model.Elements {
		if category == "" || strings.EqualFold(e.Category, category) {
			ids = append(ids, e.ID)
		}
	}
	return ops.OK(map[string]any{"element_ids": ids, "count": len(ids)})
}

func (s *Sandbox) deleteElements(params map[string]any) ops.Result {
	if s.model.ReadOnly {
		return ops.Fail("Document is read-only")
	}
	ids, err := idList(params, "element_ids")
	if err != nil {
		return ops.Fail("%v", err)
	}

	doomed := make(map[int]bool, len(ids))
	for _, id := range ids {
		doomed[id] = true
	}
	found := 0
	for _, e := range s.model.Elements {
		if doomed[e.ID] {
			found++
		}
	}
	if found != len(doomed) {
		for _, id := range ids {
			if !s.hasElement(id) {
				return ops.Fail("Element not found: %d", id)
			}
		}
	}

	kept := s.model.Elements[:0]
	for _, e := range s.model.Elements {
		if !doomed[e.ID] {
			kept = append(kept, e)
		}
	}
	s.model.Elements = kept
	return ops.OK(map[string]any{"deleted_count": found})
}

func (s *Sandbox) listLevels(_ map[string]any) ops.Result {
	ids := []any{}
	names := []any{}
	for _, l := range s.model.Levels {
		ids = append(ids, l.ID)
		names = append(names, l.Name)
	}
	return ops.OK(map[string]any{"level_ids": ids, "level_names": names, "count": len(ids)})
}

func (s *Sandbox) createLevel(params map[string]any) ops.Result {
	if s.model.ReadOnly {
		return ops.Fail("Document is read-only")
	}
	name, _ := params["name"].(string)
	if name == "" {
		return ops.Fail("Missing parameter: name")
	}
	for _, l := range s.model.Levels {
		if strings.EqualFold(l.Name, name) {
			return ops.Fail("Level '%s' already exists", name)
		}
	}
	elevation, _ := toFloat(params["elevation"])
	level := Level{ID: s.allocID(), Name: name, Elevation: elevation}
	s.model.Levels = append(s.model.Levels, level)
	return ops.OK(map[string]any{"level_id": level.ID, "name": level.Name})
}

// createView creates a floor plan on level_id. A zero or missing level_id
// uses the lowest level.
func (s *Sandbox) createView(params map[string]any) ops.Result {
	if s.model.ReadOnly {
		return ops.Fail("Document is read-only")
	}
	level, ok := s.resolveLevel(params["level_id"])
	if !ok {
		return ops.Fail("Level not found: %v", params["level_id"])
	}
	name, _ := params["name"].(string)
	if name == "" {
		name = level.Name
	}
	for _, v := range s.model.Views {
		if strings.EqualFold(v.Name, name) && v.Kind == "floor_plan" {
			return ops.Fail("View '%s' already exists", name)
		}
	}
	view := View{ID: s.allocID(), Name: name, Kind: "floor_plan", LevelID: level.ID}
	s.model.Views = append(s.model.Views, view)
	return ops.OK(map[string]any{"view_id": view.ID, "level_id": level.ID})
}

func (s *Sandbox) createFloorPlans(params map[string]any) ops.Result {
	if s.model.ReadOnly {
		return ops.Fail("Document is read-only")
	}
	ids, err := idList(params, "level_ids")
	if err != nil {
		return ops.Fail("%v", err)
	}

	levels := make([]Level, 0, len(ids))
	for _, id := range ids {
		level, ok := s.resolveLevel(id)
		if !ok || level.ID != id {
			return ops.Fail("Level not found: %d", id)
		}
		levels = append(levels, level)
	}

	viewIDs := []any{}
	for _, level := range levels {
		name := level.Name + " Plan"
		if s.hasView(name) {
			continue
		}
		view := View{ID: s.allocID(), Name: name, Kind: "floor_plan", LevelID: level.ID}
		s.model.Views = append(s.model.Views, view)
		viewIDs = append(viewIDs, view.ID)
	}
	return ops.OK(map[string]any{"view_ids": viewIDs, "count": len(viewIDs)})
}

func (s *Sandbox) listViews(params map[string]any) ops.Result {
	unplacedOnly, _ := params["unplaced_only"].(bool)
	ids := []any{}
	for _, v := range s.model.Views {
		if unplacedOnly && v.OnSheet {
			continue
		}
		ids = append(ids, v.ID)
	}
	return ops.OK(map[string]any{"view_ids": ids, "count": len(ids)})
}

func (s *Sandbox) createSheets(params map[string]any) ops.Result {
	if s.model.ReadOnly {
		return ops.Fail("Document is read-only")
	}
	ids, err := idList(params, "view_ids")
	if err != nil {
		return ops.Fail("%v", err)
	}
	if name, ok := params["type_name"].(string); ok && name != "" {
		if !s.hasType(CategoryTitleBlocks, name) {
			return ops.Fail("Title block type not found: %s", name)
		}
	}

	index := make(map[int]int, len(s.model.Views))
	for i, v := range s.model.Views {
		index[v.ID] = i
	}
	for _, id := range ids {
		if _, ok := index[id]; !ok {
			return ops.Fail("View not found: %d", id)
		}
	}

	sheetIDs := []any{}
	for _, id := range ids {
		view := &s.model.Views[index[id]]
		sheet := Sheet{
			ID:      s.allocID(),
			Number:  fmt.Sprintf("A%d", 101+len(s.model.Sheets)),
			Name:    view.Name,
			ViewIDs: []int{view.ID},
		}
		view.OnSheet = true
		s.model.Sheets = append(s.model.Sheets, sheet)
		sheetIDs = append(sheetIDs, sheet.ID)
	}
	return ops.OK(map[string]any{"sheet_ids": sheetIDs, "count": len(sheetIDs)})
}

func (s *Sandbox) renumberElements(params map[string]any) ops.Result {
	if s.model.ReadOnly {
		return ops.Fail("Document is read-only")
	}
	ids, err := idList(params, "element_ids")
	if err != nil {
		return ops.Fail("%v", err)
	}
	prefix, _ := params["prefix"].(string)
	start := 1
	if v, ok := toFloat(params["start"]); ok {
		start = int(v)
	}

	for i, id := range ids {
		e := s.element(id)
		if e == nil {
			return ops.Fail("Element not found: %d", id)
		}
		if e.Params == nil {
			e.Params = map[string]string{}
		}
		e.Params["Mark"] = fmt.Sprintf("%s%d", prefix, start+i)
	}
	return ops.OK(map[string]any{"renumbered_count": len(ids)})
}

func (s *Sandbox) setParameter(params map[string]any) ops.Result {
	if s.model.ReadOnly {
		return ops.Fail("Document is read-only")
	}
	ids, err := idList(params, "element_ids")
	if err != nil {
		return ops.Fail("%v", err)
	}
	name, _ := params["parameter"].(string)
	if name == "" {
		return ops.Fail("Missing parameter: parameter")
	}
	value := fmt.Sprint(params["value"])

	for _, id := range ids {
		e := s.element(id)
		if e == nil {
			return ops.Fail("Element not found: %d", id)
		}
		if e.Params == nil {
			e.Params = map[string]string{}
		}
		e.Params[name] = value
	}
	return ops.OK(map[string]any{"updated_count": len(ids)})
}

func (s *Sandbox) getProjectInfo(_ map[string]any) ops.Result {
	fields := make(map[string]any, len(s.model.Project)+1)
	for k, v := range s.model.Project {
		fields[k] = v
	}
	fields["read_only"] = s.model.ReadOnly
	return ops.OK(fields)
}

func (s *Sandbox) getWarnings(_ map[string]any) ops.Result {
	warnings := make([]any, 0, len(s.model.Warnings))
	for _, w := range s.model.Warnings {
		warnings = append(warnings, w)
	}
	return ops.OK(map[string]any{"warnings": warnings, "count": len(warnings)})
}

func (s *Sandbox) getPurgeableElements(_ map[string]any) ops.Result {
	ids := []any{}
	for _, e := range s.model.Elements {
		if e.Purgeable {
			ids = append(ids, e.ID)
		}
	}
	return ops.OK(map[string]any{"element_ids": ids, "count": len(ids)})
}

// resolveLevel finds a level by id; zero or nil picks the lowest level.
func (s *Sandbox) resolveLevel(v any) (Level, bool) {
	if len(s.model.Levels) == 0 {
		return Level{}, false
	}
	id := 0
	if v != nil {
		f, ok := toFloat(v)
		if !ok {
			return Level{}, false
		}
		id = int(f)
	}
	if id == 0 {
		lowest := s.model.Levels[0]
		for _, l := range s.model.Levels[1:] {
			if l.Elevation < lowest.Elevation {
				lowest = l
			}
		}
		return lowest, true
	}
	for _, l := range s.model.Levels {
		if l.ID == id {
			return l, true
		}
	}
	return Level{}, false
}

func (s *Sandbox) hasType(category, name string) bool {
	for _, t := range s.model.Types {
		if t.Category == category && strings.EqualFold(t.Name, name) {
			return true
		}
	}
	return false
}

func (s *Sandbox) hasView(name string) bool {
	for _, v := range s.model.Views {
		if strings.EqualFold(v.Name, name) {
			return true
		}
	}
	return false
}

func (s *Sandbox) hasElement(id int) bool {
	return s.element(id) != nil
}

func (s *Sandbox) element(id int) *Element {
	for i := range s.model.Elements {
		if s.model.Elements[i].ID == id {
			return &s.model.Elements[i]
		}
	}
	return nil
}

// idList reads an identifier array parameter. A missing parameter is an empty list.
func idList(params map[string]any, key string) ([]int, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return nil, nil
	}

	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case []int:
		out := append([]int{}, v...)
		return out, nil
	case string:
		return nil, fmt.Errorf("Invalid parameter %s: unresolved value %q", key, v)
	default:
		return nil, fmt.Errorf("Invalid parameter %s: expected a list, got %T", key, raw)
	}

	out := make([]int, 0, len(items))
	for _, item := range items {
		f, ok := toFloat(item)
		if !ok {
			return nil, fmt.Errorf("Invalid parameter %s: %v is not an id", key, item)
		}
		out = append(out, int(f))
	}
	return out, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func copyParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
