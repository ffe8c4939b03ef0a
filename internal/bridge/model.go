// Package bridge provides operation executors: an in-memory sandbox of a
// design model, and a command bridge that forwards operations to an external
// process speaking JSON.
package bridge

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Level is a building storey.
type Level struct {
	ID        int     `yaml:"id"`
	Name      string  `yaml:"name"`
	Elevation float64 `yaml:"elevation"`
}

// Room is a bounded space on a level.
type Room struct {
	ID      int    `yaml:"id"`
	Name    string `yaml:"name"`
	LevelID int    `yaml:"level_id"`
	Tagged  bool   `yaml:"tagged"`
}

// View is a drawing view.
type View struct {
	ID      int    `yaml:"id"`
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"`
	LevelID int    `yaml:"level_id,omitempty"`
	OnSheet bool   `yaml:"on_sheet"`
}

// Sheet is a printable sheet holding placed views.
type Sheet struct {
	ID      int    `yaml:"id"`
	Number  string `yaml:"number"`
	Name    string `yaml:"name"`
	ViewIDs []int  `yaml:"view_ids"`
}

// Element is a model element of some category.
type Element struct {
	ID        int               `yaml:"id"`
	Category  string            `yaml:"category"`
	Name      string            `yaml:"name"`
	Purgeable bool              `yaml:"purgeable"`
	Params    map[string]string `yaml:"params,omitempty"`
}

// ElementType is a loadable family type such as a tag or title block.
type ElementType struct {
	ID       int    `yaml:"id"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
}

// Model is the sandbox document state.
type Model struct {
	Project  map[string]string `yaml:"project"`
	ReadOnly bool              `yaml:"read_only"`
	Levels   []Level           `yaml:"levels"`
	Rooms    []Room            `yaml:"rooms"`
	Views    []View            `yaml:"views"`
	Sheets   []Sheet           `yaml:"sheets"`
	Elements []Element         `yaml:"elements"`
	Types    []ElementType     `yaml:"types"`
	Warnings []string          `yaml:"warnings"`
}

// Element type categories the sandbox looks up by name.
const (
	CategoryRoomTags    = "Room Tags"
	CategoryTitleBlocks = "Title Blocks"
)

// DefaultModel returns a small two-level model.
func DefaultModel() *Model {
	return &Model{
		Project: map[string]string{"name": "Sample Project", "number": "0001", "client": "Sandbox"},
		Levels: []Level{
			{ID: 1, Name: "Level 1", Elevation: 0},
			{ID: 2, Name: "Level 2", Elevation: 3.5},
		},
		Rooms: []Room{
			{ID: 101, Name: "Lobby", LevelID: 1, Tagged: true},
			{ID: 102, Name: "Office", LevelID: 1},
			{ID: 201, Name: "Meeting", LevelID: 2},
		},
		Views: []View{
			{ID: 301, Name: "Level 1", Kind: "floor_plan", LevelID: 1, OnSheet: true},
			{ID: 302, Name: "Section A", Kind: "section"},
		},
		Sheets: []Sheet{
			{ID: 401, Number: "A101", Name: "Ground Floor", ViewIDs: []int{301}},
		},
		Elements: []Element{
			{ID: 501, Category: "Doors", Name: "Single Door"},
			{ID: 502, Category: "Doors", Name: "Double Door"},
			{ID: 503, Category: "Generic Models", Name: "Box"},
			{ID: 504, Category: "Generic Models", Name: "Unused Family", Purgeable: true},
		},
		Types: []ElementType{
			{ID: 601, Name: "Room Tag", Category: CategoryRoomTags},
			{ID: 602, Name: "A1 Title Block", Category: CategoryTitleBlocks},
		},
		Warnings: []string{"Room is not enclosed"},
	}
}

// LoadModel reads a model fixture from a YAML file.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sandbox model: %w", err)
	}

	var model Model
	if err := yaml.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("failed to parse sandbox model %s: %w", path, err)
	}
	if model.Project == nil {
		model.Project = map[string]string{}
	}
	return &model, nil
}

// maxID returns the largest id used anywhere in the model.
func (m *Model) maxID() int {
	top := 0
	bump := func(id int) {
		if id > top {
			top = id
		}
	}
	for _, l := range m.Levels {
		bump(l.ID)
	}
	for _, r := range m.Rooms {
		bump(r.ID)
	}
	for _, v := range m.Views {
		bump(v.ID)
	}
	for _, s := range m.Sheets {
		bump(s.ID)
	}
	for _, e := range m.Elements {
		bump(e.ID)
	}
	for _, t := range m.Types {
		bump(t.ID)
	}
	return top
}
