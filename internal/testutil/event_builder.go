package testutil

import (
	"time"

	"github.com/ashwick/townmind/core"
)

// EventBuilder provides a fluent helper for constructing simulation events
// in tests. Example:
//
//	ev := NewEventBuilder("alice").Observation("saw a fire", 9, 8).Build()
//
// Chain only the parts you need; sensible defaults are applied.
type EventBuilder struct {
	ev core.SimEvent
}

// NewEventBuilder creates a builder for an observation event targeting the
// given agent.
func NewEventBuilder(agentID string) *EventBuilder {
	return &EventBuilder{ev: core.SimEvent{
		AgentID: agentID,
		Kind:    core.EventObservation,
	}}
}

// Observation sets payload and scores and marks the event an observation (chainable).
func (b *EventBuilder) Observation(payload string, importance, emotional int) *EventBuilder {
	b.ev.Kind = core.EventObservation
	b.ev.Payload = payload
	b.ev.Importance = importance
	b.ev.Emotional = emotional
	return b
}

// Conversation marks the event conversation-derived with the counterpart (chainable).
func (b *EventBuilder) Conversation(counterpart, payload string, importance, emotional int) *EventBuilder {
	b.ev.Kind = core.EventConversation
	b.ev.Subject = counterpart
	b.ev.Payload = payload
	b.ev.Importance = importance
	b.ev.Emotional = emotional
	return b
}

// Movement marks the event as a positional observation of subject (chainable).
func (b *EventBuilder) Movement(subject string, pos core.Point, importance int) *EventBuilder {
	b.ev.Kind = core.EventMovement
	b.ev.Subject = subject
	b.ev.Position = pos
	b.ev.Importance = importance
	b.ev.Payload = subject + " is on the move"
	return b
}

// Urgency marks the event as an urgency signal (chainable).
func (b *EventBuilder) Urgency(level int, payload string) *EventBuilder {
	b.ev.Kind = core.EventUrgency
	b.ev.Urgency = level
	b.ev.Payload = payload
	return b
}

// Report marks the event as a player report from reporter (chainable).
func (b *EventBuilder) Report(reporter, payload string, importance, emotional int) *EventBuilder {
	b.ev.Kind = core.EventReport
	b.ev.Payload = payload
	b.ev.Importance = importance
	b.ev.Emotional = emotional
	b.ev.RelatedPlayers = append(b.ev.RelatedPlayers, reporter)
	return b
}

// At sets the event timestamp (chainable).
func (b *EventBuilder) At(t time.Time) *EventBuilder { b.ev.Timestamp = t; return b }

// Location sets the location label (chainable).
func (b *EventBuilder) Location(loc string) *EventBuilder { b.ev.Location = loc; return b }

// Related appends related agent ids (chainable).
func (b *EventBuilder) Related(ids ...string) *EventBuilder {
	b.ev.RelatedAgents = append(b.ev.RelatedAgents, ids...)
	return b
}

// Build returns the assembled event.
func (b *EventBuilder) Build() core.SimEvent { return b.ev }
