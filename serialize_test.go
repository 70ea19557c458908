package beatflow

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestContext_JSONRoundTrip(t *testing.T) {
	ec := NewContext(map[string]any{"customer": "c-7", "amount": 12.5})
	ec.Metadata["request_id"] = "r-1"
	ec.Emit(Event{Kind: EventStart, Node: "charge", Attempt: 1})
	ec.Emit(Event{Kind: EventError, Node: "charge", Attempt: 1, Err: &ErrorSummary{
		Kind:    "user_error",
		Message: "card declined",
		Fields:  map[string]any{"code": "do_not_honor"},
	}})
	ec.Emit(Event{Kind: EventRetry, Node: "charge", Attempt: 1, Detail: "retrying in 10ms"})
	ec.Emit(Event{Kind: EventStart, Node: "charge", Attempt: 2})
	ec.Emit(Event{Kind: EventEnd, Node: "charge", Attempt: 2})
	ec.MarkCompleted("charge")

	raw, err := ec.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}

	back, err := FromJSONMap(raw)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}

	if !reflect.DeepEqual(back.Data, ec.Data) {
		t.Errorf("data mismatch:\n got %#v\nwant %#v", back.Data, ec.Data)
	}
	if !reflect.DeepEqual(back.Metadata, ec.Metadata) {
		t.Errorf("metadata mismatch: %#v", back.Metadata)
	}
	if !reflect.DeepEqual(back.Trace, ec.Trace) {
		t.Errorf("trace mismatch:\n got %#v\nwant %#v", back.Trace, ec.Trace)
	}
	if !reflect.DeepEqual(back.Completed, ec.Completed) {
		t.Errorf("completed mismatch: %#v", back.Completed)
	}
}

// The completed set must carry its type tag on the wire.
func TestContext_SetTagOnWire(t *testing.T) {
	ec := NewContext(map[string]any{})
	ec.MarkCompleted("b")
	ec.MarkCompleted("a")

	raw, err := ec.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("invalid JSON produced: %v", err)
	}
	set, ok := decoded["completed_steps"].(map[string]any)
	if !ok {
		t.Fatalf("completed_steps is %T, want tagged object", decoded["completed_steps"])
	}
	members, ok := set["__set__"].([]any)
	if !ok {
		t.Fatalf("missing __set__ tag: %#v", set)
	}
	if len(members) != 2 || members[0] != "a" || members[1] != "b" {
		t.Errorf("set members = %v, want sorted [a b]", members)
	}
}

func TestFromJSON_TypedPayload(t *testing.T) {
	type payment struct {
		Customer string  `json:"customer"`
		Amount   float64 `json:"amount"`
	}
	ec := NewContext(payment{Customer: "c-7", Amount: 12.5})
	raw, err := ec.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}

	back, err := FromJSON[payment](raw)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if back.Data.Customer != "c-7" || back.Data.Amount != 12.5 {
		t.Errorf("typed payload not reconstructed: %+v", back.Data)
	}
}

func TestFromJSON_MalformedPayload(t *testing.T) {
	for _, raw := range []string{
		"not json at all",
		`[1, 2, 3]`,
		`{"trace": "not an array"}`,
		`{"trace": [{"node": "x", "ts": 1}]}`, // event missing its kind
	} {
		_, err := FromJSONMap([]byte(raw))
		if err == nil {
			t.Errorf("payload %q: expected an error", raw)
			continue
		}
		if Classify(err) != ErrKindSerialization {
			t.Errorf("payload %q: kind = %s, want serialization_error", raw, Classify(err))
		}
	}
}

// Unknown fields are tolerated; they warn instead of failing.
func TestFromJSON_UnknownFieldTolerated(t *testing.T) {
	raw := `{"data": {"a": 1}, "metadata": {}, "trace": [], "completed_steps": {"__set__": []}, "surprise": true}`

	back, err := FromJSONMap([]byte(raw))
	if err != nil {
		t.Fatalf("unknown field must not fail deserialization: %v", err)
	}
	if back.Data["a"] != float64(1) {
		t.Errorf("data lost: %#v", back.Data)
	}
}

func TestFromJSON_MissingOptionalFields(t *testing.T) {
	back, err := FromJSONMap([]byte(`{"data": {"a": 1}}`))
	if err != nil {
		t.Fatalf("missing optional fields must not fail: %v", err)
	}
	if back.Metadata == nil || back.Completed == nil {
		t.Error("missing fields must default to empty containers")
	}
	if len(back.Trace) != 0 {
		t.Errorf("trace should be empty, got %v", back.Trace)
	}
}

func TestEvent_DetailWireShape(t *testing.T) {
	plain := Event{Kind: EventRetry, Node: "n", Timestamp: 10, Attempt: 1, Detail: "retrying in 5ms"}
	raw, err := json.Marshal(plain)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"detail":"retrying in 5ms"`) {
		t.Errorf("plain detail must serialize as a string: %s", raw)
	}

	failed := Event{Kind: EventError, Node: "n", Timestamp: 11, Attempt: 2, Err: &ErrorSummary{Kind: "user_error", Message: "boom"}}
	raw, err = json.Marshal(failed)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"kind":"user_error"`) || !strings.Contains(string(raw), `"message":"boom"`) {
		t.Errorf("error detail must serialize structurally: %s", raw)
	}
}

func TestTrace_TimestampsNonDecreasing(t *testing.T) {
	ec := NewContext(map[string]any{})
	for i := 0; i < 50; i++ {
		ec.Emit(Event{Kind: EventStart, Node: "n", Attempt: 1})
	}
	for i := 1; i < len(ec.Trace); i++ {
		if ec.Trace[i].Timestamp < ec.Trace[i-1].Timestamp {
			t.Fatalf("timestamp decreased at index %d", i)
		}
	}
}
