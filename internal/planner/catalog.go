package planner

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"github.com/harrison/autopilot/internal/models"
)

// Format is the on-disk format of a template catalog.
type Format int

const (
	// FormatUnknown is an unsupported catalog file
	FormatUnknown Format = iota
	// FormatYAML is a .yaml/.yml catalog
	FormatYAML
	// FormatMarkdown is a .md/.markdown catalog
	FormatMarkdown
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatYAML:
		return "yaml"
	case FormatMarkdown:
		return "markdown"
	default:
		return "unknown"
	}
}

// DetectFormat infers the catalog format from the file extension.
func DetectFormat(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".md", ".markdown":
		return FormatMarkdown
	default:
		return FormatUnknown
	}
}

// stepSpec is the file representation of a template step.
type stepSpec struct {
	Description string            `yaml:"description"`
	Operation   string            `yaml:"operation"`
	Params      stepParams        `yaml:"params"`
	Required    *bool             `yaml:"required"` // Defaults to true
	Outputs     map[string]string `yaml:"outputs"`
}

// stepParams decodes step parameters, rejecting unquoted placeholders.
type stepParams map[string]any

// UnmarshalYAML fails on `{{key}}` written without quotes, which YAML reads as
// a nested flow mapping instead of the placeholder string.
func (p *stepParams) UnmarshalYAML(value *yaml.Node) error {
	if key, ok := findUnquotedPlaceholder(value); ok {
		return fmt.Errorf("line %d: placeholder {{%s}} must be quoted, e.g. \"{{%s}}\"", value.Line, key, key)
	}
	var params map[string]any
	if err := value.Decode(&params); err != nil {
		return err
	}
	*p = params
	return nil
}

func findUnquotedPlaceholder(n *yaml.Node) (string, bool) {
	if key, ok := placeholderShape(n); ok {
		return key, true
	}
	for _, child := range n.Content {
		if key, ok := findUnquotedPlaceholder(child); ok {
			return key, true
		}
	}
	return "", false
}

// placeholderShape matches the parse of {{key}}: a mapping whose only key is a
// single-entry mapping {key: null}, itself mapped to null.
func placeholderShape(n *yaml.Node) (string, bool) {
	if n.Kind != yaml.MappingNode || len(n.Content) != 2 {
		return "", false
	}
	inner, outerValue := n.Content[0], n.Content[1]
	if inner.Kind != yaml.MappingNode || len(inner.Content) != 2 || !isNull(outerValue) {
		return "", false
	}
	key, innerValue := inner.Content[0], inner.Content[1]
	if key.Kind != yaml.ScalarNode || !isNull(innerValue) {
		return "", false
	}
	return key.Value, true
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null"
}

// templateSpec is the file representation of a template.
type templateSpec struct {
	Name        string     `yaml:"name"`
	Triggers    []string   `yaml:"triggers"`
	Description string     `yaml:"description"`
	Steps       []stepSpec `yaml:"steps"`
}

type catalogSpec struct {
	Templates []templateSpec `yaml:"templates"`
}

// LoadCatalog reads templates from a YAML or Markdown catalog file, in file order.
func LoadCatalog(path string) ([]Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template catalog: %w", err)
	}

	var specs []templateSpec
	switch DetectFormat(path) {
	case FormatYAML:
		specs, err = parseYAMLCatalog(data)
	case FormatMarkdown:
		specs, err = parseMarkdownCatalog(data)
	default:
		return nil, fmt.Errorf("unsupported template catalog format: %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse template catalog %s: %w", path, err)
	}

	templates := make([]Template, 0, len(specs))
	for _, spec := range specs {
		t, err := spec.toTemplate()
		if err != nil {
			return nil, fmt.Errorf("template catalog %s: %w", path, err)
		}
		templates = append(templates, t)
	}
	return templates, nil
}

func parseYAMLCatalog(data []byte) ([]templateSpec, error) {
	var catalog catalogSpec
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, err
	}
	return catalog.Templates, nil
}

// parseMarkdownCatalog reads "## Goal: <phrase>" sections. Each section may hold a
// "Triggers: a, b" paragraph and must hold a fenced yaml block with the step list.
func parseMarkdownCatalog(data []byte) ([]templateSpec, error) {
	doc := goldmark.New().Parser().Parse(text.NewReader(data))

	var specs []templateSpec
	var current *templateSpec

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			if current != nil {
				specs = append(specs, *current)
				current = nil
			}
			if node.Level != 2 {
				continue
			}
			heading := strings.TrimSpace(extractText(node, data))
			if !strings.HasPrefix(strings.ToLower(heading), "goal:") {
				continue
			}
			current = &templateSpec{Name: strings.TrimSpace(heading[len("goal:"):])}

		case *ast.Paragraph:
			if current == nil {
				continue
			}
			para := strings.TrimSpace(string(blockLines(node, data)))
			if strings.HasPrefix(strings.ToLower(para), "triggers:") {
				for _, phrase := range strings.Split(para[len("triggers:"):], ",") {
					if phrase = strings.TrimSpace(phrase); phrase != "" {
						current.Triggers = append(current.Triggers, phrase)
					}
				}
			} else if current.Description == "" {
				current.Description = para
			}

		case *ast.FencedCodeBlock:
			if current == nil {
				continue
			}
			lang := strings.ToLower(string(node.Language(data)))
			if lang != "yaml" && lang != "yml" {
				continue
			}
			var steps []stepSpec
			if err := yaml.Unmarshal(blockLines(node, data), &steps); err != nil {
				return nil, fmt.Errorf("goal %q: %w", current.Name, err)
			}
			current.Steps = append(current.Steps, steps...)
		}
	}

	if current != nil {
		specs = append(specs, *current)
	}
	return specs, nil
}

func extractText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Segment.Value(source))
			if t.SoftLineBreak() {
				buf.WriteByte(' ')
			}
		}
	}
	return buf.String()
}

func blockLines(n ast.Node, source []byte) []byte {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(source))
	}
	return buf.Bytes()
}

func (s templateSpec) toTemplate() (Template, error) {
	if strings.TrimSpace(s.Name) == "" {
		return Template{}, fmt.Errorf("template name is required")
	}
	if len(s.Steps) == 0 {
		return Template{}, fmt.Errorf("template %q has no steps", s.Name)
	}

	steps := make([]models.ExecutionStep, 0, len(s.Steps))
	for i, spec := range s.Steps {
		if spec.Operation == "" {
			return Template{}, fmt.Errorf("template %q step %d: operation is required", s.Name, i+1)
		}
		required := true
		if spec.Required != nil {
			required = *spec.Required
		}
		params := map[string]any(spec.Params)
		if params == nil {
			params = map[string]any{}
		}
		steps = append(steps, models.ExecutionStep{
			Number:      i + 1,
			Description: spec.Description,
			Operation:   spec.Operation,
			Params:      params,
			Required:    required,
			Outputs:     spec.Outputs,
		})
	}

	return Template{
		Name:        s.Name,
		Triggers:    s.Triggers,
		Description: s.Description,
		Build: func(string, map[string]any) []models.ExecutionStep {
			return models.Renumber(steps)
		},
	}, nil
}
