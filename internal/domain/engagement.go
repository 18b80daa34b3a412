package domain

import "time"

// EngagementKind enumerates recipient interactions we track after a send.
type EngagementKind string

const (
	EngagementOpen   EngagementKind = "open"
	EngagementClick  EngagementKind = "click"
	EngagementReply  EngagementKind = "reply"
	EngagementBounce EngagementKind = "bounce"
)

// Valid reports whether k is a known engagement kind.
func (k EngagementKind) Valid() bool {
	switch k {
	case EngagementOpen, EngagementClick, EngagementReply, EngagementBounce:
		return true
	}
	return false
}

// EngagementEvent is one recipient interaction reported by the email
// provider, via webhook or polling. SourceEventID is the provider's event
// id and is the deduplication key; redelivered events are dropped.
type EngagementEvent struct {
	SourceEventID string            `json:"source_event_id"`
	ItemID        string            `json:"item_id"`
	Kind          EngagementKind    `json:"kind"`
	Timestamp     time.Time         `json:"timestamp"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}
