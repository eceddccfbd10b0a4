// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package controlplane

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope is one request on the wire.
type Envelope struct {
	// Session is the caller's session id; empty before authentication.
	Session string  `json:"session,omitempty"`
	Request Request `json:"-"`
}

type envelopeWire struct {
	Session string          `json:"session,omitempty"`
	Request json.RawMessage `json:"request"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	request, err := MarshalRequest(e.Request)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelopeWire{Session: e.Session, Request: request})
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var wire envelopeWire
	if err := strictUnmarshal(data, &wire); err != nil {
		return fmt.Errorf("decoding envelope: %w", err)
	}
	if len(wire.Request) == 0 {
		return fmt.Errorf("envelope has no request")
	}
	request, err := UnmarshalRequest(wire.Request)
	if err != nil {
		return err
	}
	e.Session = wire.Session
	e.Request = request
	return nil
}

// marshalTagged renders one externally tagged variant. Unit variants
// become a bare string.
func marshalTagged(name string, unit bool, payload any) ([]byte, error) {
	if unit {
		return json.Marshal(name)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", name, err)
	}
	return json.Marshal(map[string]json.RawMessage{name: body})
}

// splitTagged returns the variant name and payload of an externally
// tagged value. The payload of a bare-string variant is nil.
func splitTagged(data []byte) (string, json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		return name, nil, nil
	}
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return "", nil, fmt.Errorf("variant must be a string or single-key object")
	}
	if len(tagged) != 1 {
		return "", nil, fmt.Errorf("variant object must have exactly one key, got %d", len(tagged))
	}
	for name, payload := range tagged {
		return name, payload, nil
	}
	panic("unreachable")
}

// decodeVariant fills a zero T from payload. A missing or null payload
// leaves the zero value.
func decodeVariant[T any](payload json.RawMessage) (T, error) {
	var value T
	if len(payload) == 0 || string(bytes.TrimSpace(payload)) == "null" {
		return value, nil
	}
	if err := strictUnmarshal(payload, &value); err != nil {
		return value, err
	}
	return value, nil
}

func strictUnmarshal(data []byte, target any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}
