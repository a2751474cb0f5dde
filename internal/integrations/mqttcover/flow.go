package mqttcover

import (
	"context"
	"fmt"
	"strings"

	"github.com/ember-home/ember-core/internal/flow"
)

var userSchema = flow.Schema{
	{Name: "name", Required: true, Label: "Name"},
	{Name: "command_topic", Required: true, Label: "Command topic"},
	{Name: "state_topic", Label: "State topic"},
	{Name: "availability_topic", Label: "Availability topic"},
	{Name: "set_position_topic", Label: "Set position topic"},
}

// FlowHandler drives the MQTT cover configuration wizard.
type FlowHandler struct{}

// NewFlowHandler returns the flow factory for this integration.
func NewFlowHandler() flow.HandlerFactory {
	return func() flow.Handler { return &FlowHandler{} }
}

// Step implements flow.Handler.
func (h *FlowHandler) Step(ctx context.Context, stepID string, input map[string]any) (*flow.Result, error) {
	if stepID != "user" {
		return nil, fmt.Errorf("%w: %q", flow.ErrInvalidStep, stepID)
	}
	if input == nil {
		return flow.ShowForm("user", userSchema), nil
	}

	name, _ := input["name"].(string)
	commandTopic, _ := input["command_topic"].(string)

	// Wildcards are only valid in subscriptions, never in a topic
	// commands are published to.
	if strings.ContainsAny(commandTopic, "+#") {
		return flow.ShowFormErrors("user", userSchema, map[string]string{
			"command_topic": "invalid_topic",
		}), nil
	}

	data := map[string]any{
		"name":          name,
		"command_topic": commandTopic,
	}
	for _, key := range []string{"state_topic", "availability_topic", "set_position_topic"} {
		if v, _ := input[key].(string); v != "" {
			data[key] = v
		}
	}

	return flow.CreateEntryWithUniqueID(name, data, commandTopic), nil
}
