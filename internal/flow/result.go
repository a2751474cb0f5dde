package flow

// ResultKind discriminates what a flow step produced.
type ResultKind string

const (
	// ResultShowForm asks the user for input on a step.
	ResultShowForm ResultKind = "show_form"

	// ResultCreateEntry finishes the flow with a new config entry.
	ResultCreateEntry ResultKind = "create_entry"

	// ResultAbort ends the flow without creating anything.
	ResultAbort ResultKind = "abort"
)

// Field describes one input of a form step.
type Field struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
	// Secret marks credentials so clients can mask the input.
	Secret  bool   `json:"secret,omitempty"`
	Default any    `json:"default,omitempty"`
	Label   string `json:"label,omitempty"`
}

// Schema is the ordered field list of a form step.
type Schema []Field

// Result is the outcome of one flow step.
type Result struct {
	Kind ResultKind `json:"kind"`

	// Form results.
	StepID string            `json:"step_id,omitempty"`
	Schema Schema            `json:"schema,omitempty"`
	Errors map[string]string `json:"errors,omitempty"`

	// Entry results.
	Title    string         `json:"title,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	UniqueID *string        `json:"unique_id,omitempty"`

	// Abort results.
	Reason string `json:"reason,omitempty"`
}

// ShowForm builds a form result for a step.
func ShowForm(stepID string, schema Schema) *Result {
	return &Result{Kind: ResultShowForm, StepID: stepID, Schema: schema}
}

// ShowFormErrors builds a form result re-shown with per-field errors.
// The errors map uses field names as keys, or "base" for errors not
// tied to a single field.
func ShowFormErrors(stepID string, schema Schema, errs map[string]string) *Result {
	return &Result{Kind: ResultShowForm, StepID: stepID, Schema: schema, Errors: errs}
}

// CreateEntry builds a final result carrying the data for a new entry.
func CreateEntry(title string, data map[string]any) *Result {
	return &Result{Kind: ResultCreateEntry, Title: title, Data: data}
}

// CreateEntryWithUniqueID builds a final result with a unique ID used
// to reject duplicate configuration of the same device.
func CreateEntryWithUniqueID(title string, data map[string]any, uniqueID string) *Result {
	return &Result{Kind: ResultCreateEntry, Title: title, Data: data, UniqueID: &uniqueID}
}

// Abort builds an abort result with a machine-readable reason.
func Abort(reason string) *Result {
	return &Result{Kind: ResultAbort, Reason: reason}
}
