// Package types defines the shared types used across all FrontDesk packages.
//
// These types form the lingua franca between the LLM providers, the routing
// tiers, the knowledge sources, and the dialogue turn processor. They are
// intentionally minimal: each package defines its own domain types, but
// cross-cutting data structures live here to avoid circular imports.
package types

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name (caller name, agent name).
	Name string
}

// Channel identifies the medium the caller is using. The response engine
// adjusts reply-strategy resolution per channel (voice is strictest).
type Channel string

const (
	ChannelVoice Channel = "voice"
	ChannelSMS   Channel = "sms"
	ChannelChat  Channel = "chat"
)

// IsValid reports whether c is a recognised channel.
func (c Channel) IsValid() bool {
	switch c {
	case ChannelVoice, ChannelSMS, ChannelChat:
		return true
	}
	return false
}

// Urgency grades how pressing a caller's issue is. Derived from triage cards
// and utterance keywords; consumed by the dialogue turn processor only.
type Urgency string

const (
	UrgencyRoutine   Urgency = "routine"
	UrgencyNormal    Urgency = "normal"
	UrgencyUrgent    Urgency = "urgent"
	UrgencyEmergency Urgency = "emergency"
)

// IsValid reports whether u is a recognised urgency grade.
func (u Urgency) IsValid() bool {
	switch u {
	case UrgencyRoutine, UrgencyNormal, UrgencyUrgent, UrgencyEmergency:
		return true
	}
	return false
}
