package mqttcover

import (
	"context"
	"testing"

	"github.com/ember-home/ember-core/internal/flow"
)

func TestFlowCreatesEntry(t *testing.T) {
	handler := NewFlowHandler()()

	result, err := handler.Step(context.Background(), "user", nil)
	if err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if result.Kind != flow.ResultShowForm {
		t.Fatalf("Kind = %q, want %q", result.Kind, flow.ResultShowForm)
	}

	result, err = handler.Step(context.Background(), "user", map[string]any{
		"name":          "Bedroom Blind",
		"command_topic": "bedroom/blind/set",
		"state_topic":   "bedroom/blind/state",
	})
	if err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if result.Kind != flow.ResultCreateEntry {
		t.Fatalf("Kind = %q, want %q", result.Kind, flow.ResultCreateEntry)
	}
	if result.Data["state_topic"] != "bedroom/blind/state" {
		t.Errorf("state_topic = %v, want bedroom/blind/state", result.Data["state_topic"])
	}
	if _, ok := result.Data["availability_topic"]; ok {
		t.Error("empty optional fields should be omitted")
	}
	if result.UniqueID == nil || *result.UniqueID != "bedroom/blind/set" {
		t.Errorf("UniqueID = %v, want command topic", result.UniqueID)
	}
}

func TestFlowRejectsWildcardCommandTopic(t *testing.T) {
	handler := NewFlowHandler()()

	result, err := handler.Step(context.Background(), "user", map[string]any{
		"name":          "Bad",
		"command_topic": "blind/+/set",
	})
	if err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if result.Kind != flow.ResultShowForm {
		t.Fatalf("Kind = %q, want %q", result.Kind, flow.ResultShowForm)
	}
	if result.Errors["command_topic"] != "invalid_topic" {
		t.Errorf("command_topic error = %q, want invalid_topic", result.Errors["command_topic"])
	}
}
