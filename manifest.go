package beatflow

import "encoding/json"

const noDescription = "No description provided."

// StepManifest describes one direct step of a flow.
type StepManifest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsAsync     bool   `json:"is_async"`
}

// Manifest is the semantic, deterministic description of a flow. The same
// tree always yields the same manifest, which makes it suitable as tool
// context for LLM-driven planners.
type Manifest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Strategy    string         `json:"strategy"`
	Steps       []StepManifest `json:"steps"`
}

// Manifest builds the flow's manifest from its direct children.
func (f *Flow[T]) Manifest() Manifest {
	steps := make([]StepManifest, len(f.chain.steps))
	for i, s := range f.chain.steps {
		d := s.Description()
		if d == "" {
			d = noDescription
		}
		steps[i] = StepManifest{Name: s.Name(), Description: d, IsAsync: s.IsAsync()}
	}
	d := f.description
	if d == "" {
		d = noDescription
	}
	return Manifest{
		Name:        f.name,
		Description: d,
		Strategy:    string(f.strategy),
		Steps:       steps,
	}
}

// JSON renders the manifest as JSON.
func (m Manifest) JSON() ([]byte, error) {
	return json.Marshal(m)
}
