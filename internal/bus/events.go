package bus

import "time"

// StateChangedEvent builds the canonical state_changed payload.
// oldState is "" for an entity's first state write.
func StateChangedEvent(entityID, platform, oldState, newState string, available bool, at time.Time) Event {
	return Event{
		Type: EventStateChanged,
		Time: at,
		Data: map[string]any{
			"entity_id": entityID,
			"platform":  platform,
			"old_state": oldState,
			"new_state": newState,
			"available": available,
		},
	}
}

// ConfigEntryChangedEvent builds the canonical config_entry_changed
// payload.
func ConfigEntryChangedEvent(entryID, domain, title, state string) Event {
	return Event{
		Type: EventConfigEntryChanged,
		Data: map[string]any{
			"entry_id": entryID,
			"domain":   domain,
			"title":    title,
			"state":    state,
		},
	}
}
