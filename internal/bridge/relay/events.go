package relay

import "encoding/json"

// EventKind names one lifecycle or domain event kind emitted by the executor.
type EventKind string

const (
	// EventQRIssued carries a fresh pairing QR code. Ephemeral, never persisted.
	EventQRIssued EventKind = "qr-issued"
	// EventConnected reports that the channel's connection came up.
	EventConnected EventKind = "connected"
	// EventDisconnected reports that the channel's connection went down.
	EventDisconnected EventKind = "disconnected"
	// EventDomain wraps a protocol-level notification such as a new inbound
	// message. Forwarded to the owning organization only.
	EventDomain EventKind = "domain-event"
)

// ChannelEvent is the envelope the executor publishes on the shared events
// topic. All routing happens on this envelope, so the relay needs exactly one
// subscription regardless of how many channels exist.
type ChannelEvent struct {
	Kind      EventKind `json:"kind"`
	ChannelID string    `json:"channel_id"`
	OrgID     string    `json:"org_id,omitempty"`

	// AccountHandle is set on connected events.
	AccountHandle string `json:"account_handle,omitempty"`
	// Reason is set on disconnected events.
	Reason string `json:"reason,omitempty"`
	// Payload carries kind-specific data, e.g. the QR code or a domain event
	// body. Opaque to the relay.
	Payload json.RawMessage `json:"payload,omitempty"`
}
