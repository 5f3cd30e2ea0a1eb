package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Component kinds
const (
	KindSensor   = "sensor"
	KindActuator = "actuator"
)

// Hidden reasons stored in meta.hidden_reason
const (
	HiddenReasonManifest = "manifest"
	HiddenReasonStale    = "stale"
)

// Meta free-form component metadata (name, visual, hidden, hidden_reason, ...)
type Meta map[string]any

func (m Meta) Hidden() bool {
	v, _ := m["hidden"].(bool)
	return v
}

func (m Meta) HiddenReason() string {
	v, _ := m["hidden_reason"].(string)
	return v
}

// Name returns meta.name when it is a non-blank string
func (m Meta) Name() string {
	v, _ := m["name"].(string)
	return trimSpace(v)
}

// Hide sets hidden=true with reason
func (m Meta) Hide(reason string) {
	m["hidden"] = true
	m["hidden_reason"] = reason
}

// Unhide sets hidden=false and drops the reason
func (m Meta) Unhide() {
	m["hidden"] = false
	delete(m, "hidden_reason")
}

// Clone copies the top level
func (m Meta) Clone() Meta {
	out := make(Meta, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Component a sensor or actuator of a device, unique by (device, key)
type Component struct {
	ID           string          `json:"id"`
	DeviceID     string          `json:"device_id"`
	ComponentKey string          `json:"component_key"`
	Kind         string          `json:"kind"`
	Capabilities json.RawMessage `json:"capabilities"`
	Meta         Meta            `json:"meta"`
	IsOnline     bool            `json:"is_online"`
	LastSeenAt   *time.Time      `json:"last_seen_at"`
	CreatedAt    time.Time       `json:"-"`
}

// Label meta name or key
func (c *Component) Label() string {
	if n := c.Meta.Name(); n != "" {
		return n
	}
	return c.ComponentKey
}

// ComponentLatest most recent telemetry of a component
type ComponentLatest struct {
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ManifestComponent one entry of a device manifest, already normalized
type ManifestComponent struct {
	Key          string
	Kind         string
	Capabilities json.RawMessage
	Meta         Meta
}

// ComponentPatch user edits of meta; nil fields are left as is
type ComponentPatch struct {
	Name   *string `json:"name"`
	Hidden *bool   `json:"hidden"`
	Visual *string `json:"visual"`
}

func trimSpace(s string) string {
	return strings.TrimSpace(s)
}
