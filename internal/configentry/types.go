package configentry

import "time"

// Source records how a config entry came into existence.
type Source string

const (
	// SourceUser means the entry was created through an interactive flow.
	SourceUser Source = "user"

	// SourceImport means the entry was imported from YAML configuration.
	SourceImport Source = "import"

	// SourceDiscovery means the entry was created from a discovery hint.
	SourceDiscovery Source = "discovery"

	// SourceReauth means the entry was re-created after credential expiry.
	SourceReauth Source = "reauth"
)

// State is the lifecycle state of a config entry.
type State string

const (
	// StateNotLoaded: the entry is persisted but its integration has not
	// been set up in this process.
	StateNotLoaded State = "not_loaded"

	// StateInProgress: setup is currently running.
	StateInProgress State = "in_progress"

	// StateLoaded: setup succeeded and the integration is running.
	StateLoaded State = "loaded"

	// StateSetupError: setup failed with a non-recoverable error.
	StateSetupError State = "setup_error"

	// StateSetupRetry: setup failed with ErrNotReady and will be retried
	// with backoff.
	StateSetupRetry State = "setup_retry"

	// StateFailedUnload: unload failed; the entry is in an undefined
	// state until restart.
	StateFailedUnload State = "failed_unload"
)

// Entry is a single configured instance of an integration, for example
// one DD-WRT router or one MQTT cover. Data holds connection details
// captured at flow time; Options holds values the user may change later
// without re-running the flow.
type Entry struct {
	ID        string         `json:"id"`
	Domain    string         `json:"domain"`
	Title     string         `json:"title"`
	Source    Source         `json:"source"`
	UniqueID  *string        `json:"unique_id,omitempty"`
	Data      map[string]any `json:"data"`
	Options   map[string]any `json:"options"`
	State     State          `json:"state"`
	SetupErr  *string        `json:"setup_error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// DeepCopy creates a completely independent copy of the entry.
func (e *Entry) DeepCopy() *Entry {
	if e == nil {
		return nil
	}

	copy := *e

	if e.UniqueID != nil {
		uid := *e.UniqueID
		copy.UniqueID = &uid
	}
	if e.SetupErr != nil {
		msg := *e.SetupErr
		copy.SetupErr = &msg
	}
	copy.Data = deepCopyMap(e.Data)
	copy.Options = deepCopyMap(e.Options)

	return &copy
}

// deepCopyMap copies a string-keyed map one level deep, recursing into
// nested maps and slices.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

// DataString returns a string value from Data, or "" if absent or not a
// string.
func (e *Entry) DataString(key string) string {
	if e.Data == nil {
		return ""
	}
	s, _ := e.Data[key].(string)
	return s
}

// OptionFloat returns a numeric option, falling back to def when the
// option is absent or not a number. JSON decoding stores numbers as
// float64.
func (e *Entry) OptionFloat(key string, def float64) float64 {
	if e.Options == nil {
		return def
	}
	switch v := e.Options[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}
