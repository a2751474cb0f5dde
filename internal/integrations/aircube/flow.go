package aircube

import (
	"context"
	"errors"
	"fmt"

	"github.com/ember-home/ember-core/internal/flow"
)

// userSchema is the single configuration form for an access point.
var userSchema = flow.Schema{
	{Name: "host", Required: true, Label: "Host"},
	{Name: "username", Required: true, Label: "Username", Default: "ubnt"},
	{Name: "password", Required: true, Secret: true, Label: "Password"},
}

// FlowHandler drives the airCube configuration wizard.
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

	// A successful login proves both reachability and credentials.
	client := NewUbusClient(UbusEndpoint(host), username, password)
	if err := client.Login(ctx); err != nil {
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
		"airCube "+host,
		map[string]any{
			"host":     host,
			"username": username,
			"password": password,
		},
		host,
	), nil
}
