package beatflow

import (
	"encoding/json"
	"log/slog"
)

// contextJSON is the wire form of a Context. Data stays raw so typed
// reconstruction can defer to the caller-supplied type parameter.
type contextJSON struct {
	Data      json.RawMessage `json:"data"`
	Metadata  map[string]any  `json:"metadata"`
	Trace     []Event         `json:"trace"`
	Completed StringSet       `json:"completed_steps"`
}

var knownContextFields = map[string]bool{
	"data":            true,
	"metadata":        true,
	"trace":           true,
	"completed_steps": true,
}

// ToJSON serializes the context: payload, metadata, the full trace and the
// tagged completed-steps set.
func (c *Context[T]) ToJSON() ([]byte, error) {
	data, err := json.Marshal(c.Data)
	if err != nil {
		return nil, Errorf(ErrKindSerialization, "context data does not serialize: %v", err)
	}
	metadata := c.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	completed := c.Completed
	if completed == nil {
		completed = StringSet{}
	}
	trace := c.Trace
	if trace == nil {
		trace = []Event{}
	}
	return json.Marshal(contextJSON{
		Data:      data,
		Metadata:  metadata,
		Trace:     trace,
		Completed: completed,
	})
}

// FromJSON reconstructs a context, decoding the payload into T. Unknown or
// missing fields are tolerated with a warning; a malformed payload fails with
// a serialization_error FlowError.
func FromJSON[T any](raw []byte) (*Context[T], error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, Errorf(ErrKindSerialization, "context payload is not a JSON object: %v", err)
	}
	for name := range fields {
		if !knownContextFields[name] {
			slog.Warn("ignoring unknown context field", "field", name)
		}
	}
	for name := range knownContextFields {
		if _, ok := fields[name]; !ok {
			slog.Warn("context field missing, using zero value", "field", name)
		}
	}

	var cj contextJSON
	if err := json.Unmarshal(raw, &cj); err != nil {
		return nil, Errorf(ErrKindSerialization, "context payload is malformed: %v", err)
	}

	var data T
	if len(cj.Data) > 0 {
		if err := json.Unmarshal(cj.Data, &data); err != nil {
			return nil, Errorf(ErrKindSerialization, "context data does not decode into the requested type: %v", err)
		}
	}

	ctx := NewContext(data)
	if cj.Metadata != nil {
		ctx.Metadata = cj.Metadata
	}
	if cj.Trace != nil {
		ctx.Trace = cj.Trace
	}
	if cj.Completed != nil {
		ctx.Completed = cj.Completed
	}
	for _, ev := range ctx.Trace {
		if ev.Timestamp > ctx.lastTS {
			ctx.lastTS = ev.Timestamp
		}
	}
	return ctx, nil
}

// FromJSONMap reconstructs a context with a generic map payload, for callers
// without a typed schema.
func FromJSONMap(raw []byte) (*Context[map[string]any], error) {
	return FromJSON[map[string]any](raw)
}
