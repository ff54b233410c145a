package core

import "time"

// EventKind categorizes events arriving on the external feed.
type EventKind string

const (
	// EventObservation is a generic experienced event.
	EventObservation EventKind = "observation"
	// EventConversation is a conversation-derived event; the counterpart goes
	// into the related sets.
	EventConversation EventKind = "conversation"
	// EventMovement is a positional observation about a moving entity.
	// Movement events are aggregated, not stored one-per-move.
	EventMovement EventKind = "movement"
	// EventUrgency is an external conversational-urgency signal feeding the
	// metacognition trigger.
	EventUrgency EventKind = "urgency"
	// EventReport is an explicit player report of a social event. This is the
	// one mechanism by which player-to-player influence reaches an agent.
	EventReport EventKind = "report"
)

// SimEvent is one unit pushed into the core by the external event feed.
// Fields beyond AgentID/Kind/Payload/Timestamp are kind-specific.
type SimEvent struct {
	AgentID        string    `json:"agent_id"`
	Kind           EventKind `json:"kind"`
	Payload        string    `json:"payload"`
	Importance     int       `json:"importance,omitempty"` // 1-10
	Emotional      int       `json:"emotional,omitempty"`  // 1-10
	Urgency        int       `json:"urgency,omitempty"`    // 1-10, urgency events
	Location       string    `json:"location,omitempty"`
	Position       Point     `json:"position,omitempty"` // movement events
	Subject        string    `json:"subject,omitempty"`  // moving entity / counterpart
	RelatedAgents  []string  `json:"related_agents,omitempty"`
	RelatedPlayers []string  `json:"related_players,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
