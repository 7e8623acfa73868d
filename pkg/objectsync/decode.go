package objectsync

import "encoding/json"

// IsRecord reports whether raw decodes as a JSON object, i.e. an opaque
// state record rather than null, an array, or a scalar. A state that
// fails this check is treated as absent for the inbound message that
// carried it and reported to telemetry, never panics the synchronizer.
func IsRecord(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	_, ok := v.(map[string]any)
	return ok
}
