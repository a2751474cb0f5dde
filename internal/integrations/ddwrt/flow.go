package ddwrt

import (
	"context"
	"errors"
	"fmt"

	"github.com/ember-home/ember-core/internal/flow"
)

// userSchema is the single configuration form for a router.
var userSchema = flow.Schema{
	{Name: "host", Required: true, Label: "Host"},
	{Name: "username", Required: true, Label: "Username", Default: "admin"},
	{Name: "password", Required: true, Secret: true, Label: "Password"},
}

// FlowHandler drives the DD-WRT configuration wizard.
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

	host, _ := input["host"].(string)
	username, _ := input["username"].(string)
	password, _ := input["password"].(string)

	// Verify the credentials work before committing the entry.
	client := NewClient(host, username, password)
	if _, err := client.WirelessMACs(ctx); err != nil {
		switch {
		case errors.Is(err, ErrInvalidAuth):
			return flow.ShowFormErrors("user", userSchema, map[string]string{
				"base": flow.ReasonInvalidAuth,
			}), nil
		default:
			return flow.ShowFormErrors("user", userSchema, map[string]string{
				"base": flow.ReasonCannotConnect,
			}), nil
		}
	}

	return flow.CreateEntryWithUniqueID(
		"DD-WRT "+host,
		map[string]any{
			"host":     host,
			"username": username,
			"password": password,
		},
		host,
	), nil
}
