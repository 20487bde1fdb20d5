// Package labels loads the workflow-label schema and answers classification,
// transition, and priority questions about label names. The schema is data,
// not code: a default copy is bundled into the binary, and a project may
// override it with a local JSON document of the same shape.
package labels

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

//go:embed schema.json
var bundledSchema []byte

// Category classifies a workflow label by who acts on it.
type Category string

const (
	// CategoryHumanAction marks labels that open attended editor sessions.
	CategoryHumanAction Category = "human_action"
	// CategoryBotPickup marks labels that trigger automated dispatch.
	CategoryBotPickup Category = "bot_pickup"
	// CategoryBotBusy marks labels for in-flight work the coordinator skips.
	CategoryBotBusy Category = "bot_busy"
	// CategoryUnknown is returned for names the schema does not recognize.
	CategoryUnknown Category = ""
)

// ErrUnknownTransition is returned when a transition is requested for a label
// that is not a bot_pickup label or is not in the schema at all.
var ErrUnknownTransition = errors.New("no transition defined for label")

// AttendedConfig carries per-label settings for attended sessions.
type AttendedConfig struct {
	Instructions        string `json:"instructions"`
	RegenerateOnRestart bool   `json:"regenerate_on_restart"`
}

// Label is one workflow-label entry from the schema.
type Label struct {
	Name          string          `json:"name"`
	Category      Category        `json:"category"`
	Color         string          `json:"color"`
	Description   string          `json:"description"`
	InternalID    string          `json:"internal_id,omitempty"`
	Workflow      string          `json:"workflow,omitempty"`
	TransitionsTo string          `json:"transitions_to,omitempty"`
	Attended      *AttendedConfig `json:"attended_config,omitempty"`
}

type schemaDoc struct {
	WorkflowLabels []Label  `json:"workflow_labels"`
	IgnoreLabels   []string `json:"ignore_labels"`
}

// Registry is the loaded, validated label schema. It is immutable after Load
// and safe for concurrent readers.
type Registry struct {
	labels []Label
	byName map[string]int // index into labels, doubles as priority
	ignore map[string]struct{}
}

// Load parses and validates the bundled schema.
func Load() (*Registry, error) {
	return parse(bundledSchema, "bundled schema")
}

// LoadFile parses and validates a project-local schema override.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read label schema %s: %w", path, err)
	}
	return parse(data, path)
}

func parse(data []byte, source string) (*Registry, error) {
	var doc schemaDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse label schema %s: %w", source, err)
	}
	if len(doc.WorkflowLabels) == 0 {
		return nil, fmt.Errorf("label schema %s: no workflow_labels defined", source)
	}

	r := &Registry{
		labels: doc.WorkflowLabels,
		byName: make(map[string]int, len(doc.WorkflowLabels)),
		ignore: make(map[string]struct{}, len(doc.IgnoreLabels)),
	}
	for i, l := range doc.WorkflowLabels {
		if l.Name == "" {
			return nil, fmt.Errorf("label schema %s: entry %d has no name", source, i)
		}
		if _, dup := r.byName[l.Name]; dup {
			return nil, fmt.Errorf("label schema %s: duplicate label name %q", source, l.Name)
		}
		switch l.Category {
		case CategoryHumanAction, CategoryBotPickup, CategoryBotBusy:
		default:
			return nil, fmt.Errorf("label schema %s: label %q has unknown category %q", source, l.Name, l.Category)
		}
		r.byName[l.Name] = i
	}

	// Every bot_pickup label needs exactly one transition target, and the
	// target must be a bot_busy label in the same schema.
	for _, l := range doc.WorkflowLabels {
		if l.Category != CategoryBotPickup {
			continue
		}
		if l.TransitionsTo == "" {
			return nil, fmt.Errorf("label schema %s: bot_pickup label %q has no transitions_to", source, l.Name)
		}
		ti, ok := r.byName[l.TransitionsTo]
		if !ok {
			return nil, fmt.Errorf("label schema %s: label %q transitions to unknown label %q", source, l.Name, l.TransitionsTo)
		}
		if r.labels[ti].Category != CategoryBotBusy {
			return nil, fmt.Errorf("label schema %s: label %q transitions to %q which is not bot_busy", source, l.Name, l.TransitionsTo)
		}
		if l.Workflow == "" {
			return nil, fmt.Errorf("label schema %s: bot_pickup label %q has no workflow", source, l.Name)
		}
	}

	for _, name := range doc.IgnoreLabels {
		r.ignore[name] = struct{}{}
	}
	return r, nil
}

// Classify returns the category of a label name, or CategoryUnknown.
func (r *Registry) Classify(name string) Category {
	i, ok := r.byName[name]
	if !ok {
		return CategoryUnknown
	}
	return r.labels[i].Category
}

// Lookup returns the full schema entry for a label name.
func (r *Registry) Lookup(name string) (Label, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Label{}, false
	}
	return r.labels[i], true
}

// NextLabel returns the bot_busy label that replaces a bot_pickup label on
// successful dispatch. Calling it on any other label is ErrUnknownTransition.
func (r *Registry) NextLabel(current string) (string, error) {
	i, ok := r.byName[current]
	if !ok || r.labels[i].Category != CategoryBotPickup {
		return "", fmt.Errorf("%w: %q", ErrUnknownTransition, current)
	}
	return r.labels[i].TransitionsTo, nil
}

// Workflow returns the workflow identifier bound to a bot_pickup label.
func (r *Registry) Workflow(current string) (string, error) {
	i, ok := r.byName[current]
	if !ok || r.labels[i].Category != CategoryBotPickup {
		return "", fmt.Errorf("%w: %q", ErrUnknownTransition, current)
	}
	return r.labels[i].Workflow, nil
}

// Priority returns the dispatch ordering for a label. Higher values run
// first, so issues already past planning drain before new ones enter the
// pipeline. Unknown labels get -1.
func (r *Registry) Priority(name string) int {
	i, ok := r.byName[name]
	if !ok {
		return -1
	}
	return i
}

// IgnoreSet returns the set of label names that disqualify an issue from
// automation regardless of its other labels. The returned map is shared;
// callers must not mutate it.
func (r *Registry) IgnoreSet() map[string]struct{} {
	return r.ignore
}

// Recognized returns all workflow label names in schema order.
func (r *Registry) Recognized() []string {
	names := make([]string, len(r.labels))
	for i, l := range r.labels {
		names[i] = l.Name
	}
	return names
}
