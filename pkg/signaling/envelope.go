package signaling

import (
	"encoding/json"
	"fmt"
)

// Envelope is the wire envelope shared by every signal this module sends:
// {name, clientId, timestamp, ...payload}. name equals the signal type;
// clientId is set by the trusted inbound path to the carrier's identifier
// and is never trusted from a decoded payload; timestamp is a
// session-consistent int64-millis value, not necessarily wall-clock time.
type Envelope struct {
	Name      string          `json:"name"`
	ClientID  *ClientID       `json:"clientId"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"-"`
}

// MarshalJSON flattens Payload's object fields alongside the envelope's
// own fields, producing a flat "{name, clientId, timestamp, ...payload}"
// object rather than nesting payload under its own key.
func (e Envelope) MarshalJSON() ([]byte, error) {
	merged := map[string]json.RawMessage{}
	if len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, &merged); err != nil {
			return nil, fmt.Errorf("signaling: envelope payload is not a JSON object: %w", err)
		}
	}

	nameBytes, err := json.Marshal(e.Name)
	if err != nil {
		return nil, err
	}
	merged["name"] = nameBytes

	tsBytes, err := json.Marshal(e.Timestamp)
	if err != nil {
		return nil, err
	}
	merged["timestamp"] = tsBytes

	cidBytes, err := json.Marshal(e.ClientID)
	if err != nil {
		return nil, err
	}
	merged["clientId"] = cidBytes

	return json.Marshal(merged)
}

// UnmarshalJSON splits the flattened wire shape back into Name/ClientID/
// Timestamp plus a Payload holding everything else.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("signaling: envelope is not a JSON object: %w", err)
	}

	if v, ok := raw["name"]; ok {
		if err := json.Unmarshal(v, &e.Name); err != nil {
			return fmt.Errorf("signaling: invalid name field: %w", err)
		}
		delete(raw, "name")
	}
	if v, ok := raw["timestamp"]; ok {
		if err := json.Unmarshal(v, &e.Timestamp); err != nil {
			return fmt.Errorf("signaling: invalid timestamp field: %w", err)
		}
		delete(raw, "timestamp")
	}
	if v, ok := raw["clientId"]; ok {
		var cid *ClientID
		if err := json.Unmarshal(v, &cid); err != nil {
			return fmt.Errorf("signaling: invalid clientId field: %w", err)
		}
		e.ClientID = cid
		delete(raw, "clientId")
	}

	payload, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	e.Payload = payload
	return nil
}

// WithClientID returns a copy of the envelope with ClientID overwritten.
// This is the only way Envelope.ClientID should ever be set on the
// inbound path — it must always come from the carrier's message, never
// from a decoded payload field, to prevent sender-identity spoofing.
func (e Envelope) WithClientID(id ClientID) Envelope {
	e.ClientID = &id
	return e
}
