package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Markers carried by queue messages
const (
	MarkerDelete = "_delete"
	MarkerCreate = "_create"
)

// Message is a decoded queue message: a flat JSON object carrying a tenant id, a type,
// an optional id, optional markers and arbitrary domain fields.
type Message map[string]any

// ParseMessage decodes a raw queue message
func ParseMessage(raw string) (Message, error) {
	var msg Message
	dec := json.NewDecoder(strings.NewReader(raw))
	// numeric ids exceed the float64 mantissa
	dec.UseNumber()
	if err := dec.Decode(&msg); err != nil {
		return nil, fmt.Errorf("failed to decode queue message: %w", err)
	}
	if msg == nil {
		return nil, fmt.Errorf("queue message is not an object")
	}
	if dec.More() {
		return nil, fmt.Errorf("queue message has trailing data")
	}
	return msg, nil
}

// TenantID returns the tenant the message targets
func (m Message) TenantID() string { return m.str(FieldTenantID) }

// Type returns the object type carried by the message
func (m Message) Type() string { return m.str(FieldType) }

// ID returns the object id, empty if absent
func (m Message) ID() string { return m.str(FieldID) }

// IsDelete reports whether the message carries the delete marker
func (m Message) IsDelete() bool { return m.marker(MarkerDelete) }

// IsCreate reports whether the message carries the create marker
func (m Message) IsCreate() bool { return m.marker(MarkerCreate) }

// IsWebhook reports whether the message is a webhook payload
func (m Message) IsWebhook() bool { return m.Type() == TypeWebhookPayload }

// Fields returns the domain fields of the message without markers
func (m Message) Fields() map[string]any {
	fields := make(map[string]any, len(m))
	for k, v := range m {
		if k == MarkerDelete || k == MarkerCreate {
			continue
		}
		fields[k] = v
	}
	return fields
}

func (m Message) str(key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

func (m Message) marker(key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	default:
		return false
	}
}
