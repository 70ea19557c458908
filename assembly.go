package beatflow

import (
	"fmt"
	"os"
	"sort"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Package-level validator for descriptor structs.
var validate = validator.New()

// Descriptor is the declarative form of a flow: an ordered list of registered
// beat names plus a failure strategy. Descriptors typically arrive from YAML
// files or from an LLM as a decoded JSON object.
type Descriptor struct {
	Name        string   `json:"name" yaml:"name" mapstructure:"name" validate:"required"`
	Description string   `json:"description" yaml:"description" mapstructure:"description"`
	Steps       []string `json:"steps" yaml:"steps" mapstructure:"steps" validate:"required,min=1,dive,required"`
	Strategy    string   `json:"strategy" yaml:"strategy" mapstructure:"strategy" default:"abort"`
}

// Registry holds the beats a descriptor is allowed to reference. Only
// pre-registered beats can ever be assembled into a flow; this is the
// security boundary for dynamically supplied descriptors.
type Registry[T any] struct {
	beats map[string]*Beat[T]
}

// NewRegistry creates an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{beats: make(map[string]*Beat[T])}
}

// Register adds a beat under its own name, replacing any previous entry.
// Chainable.
func (r *Registry[T]) Register(b *Beat[T]) *Registry[T] {
	if b == nil {
		contractViolation("registry cannot hold a nil beat")
	}
	r.beats[b.Name()] = b
	return r
}

// Get looks up a beat by name.
func (r *Registry[T]) Get(name string) (*Beat[T], bool) {
	b, ok := r.beats[name]
	return b, ok
}

// Names returns the registered beat names in sorted order.
func (r *Registry[T]) Names() []string {
	names := make([]string, 0, len(r.beats))
	for n := range r.beats {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Assemble constructs a runnable flow from a descriptor and a registry. It
// never executes user code: steps resolve strictly against the registry.
// Fails with unknown_step when a name is unregistered and invalid_strategy
// when the strategy tag is unrecognized.
func Assemble[T any](desc Descriptor, reg *Registry[T]) (*Flow[T], error) {
	if reg == nil {
		contractViolation("Assemble invoked with a nil registry")
	}
	if err := defaults.Set(&desc); err != nil {
		return nil, fmt.Errorf("failed to apply descriptor defaults: %w", err)
	}
	if err := validate.Struct(desc); err != nil {
		return nil, Errorf(ErrKindSerialization, "descriptor validation failed: %v", err)
	}

	strategy, err := ParseStrategy(desc.Strategy)
	if err != nil {
		return nil, err
	}

	steps := make([]Executable[T], 0, len(desc.Steps))
	for _, name := range desc.Steps {
		b, ok := reg.Get(name)
		if !ok {
			return nil, Errorf(ErrKindUnknownStep, "step %q is not registered", name).
				WithField("step", name).
				WithField("known_steps", reg.Names())
		}
		steps = append(steps, b)
	}

	flow := NewFlow(desc.Name, strategy, steps...)
	if desc.Description != "" {
		flow.WithDescription(desc.Description)
	}
	return flow, nil
}

// DecodeDescriptor converts a generic map (decoded JSON, an LLM tool call
// payload) into a Descriptor.
func DecodeDescriptor(m map[string]any) (Descriptor, error) {
	var desc Descriptor
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &desc,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Descriptor{}, fmt.Errorf("failed to create descriptor decoder: %w", err)
	}
	if err := decoder.Decode(m); err != nil {
		return Descriptor{}, Errorf(ErrKindSerialization, "descriptor does not decode: %v", err)
	}
	return desc, nil
}

// LoadDescriptor reads a descriptor from a YAML file.
func LoadDescriptor(path string) (Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("error reading descriptor file: %w", err)
	}
	var desc Descriptor
	if err := yaml.Unmarshal(raw, &desc); err != nil {
		return Descriptor{}, Errorf(ErrKindSerialization, "error unmarshalling descriptor YAML: %v", err)
	}
	return desc, nil
}
