// Package chat owns kaigo's live conversation state: the message sequence,
// the named session collection, and the request lifecycle around the Kai
// backend. It is consumed as a library by UI surfaces; rendering, auth and
// journal features live elsewhere.
package chat

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	// RoleUser marks a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant marks a message produced by the backend (or synthesized
	// locally on transport failure).
	RoleAssistant Role = "assistant"
)

// WellnessInsight is a mental-wellness observation attached to a reply.
type WellnessInsight struct {
	// Category groups the insight (e.g. "sleep", "stress").
	Category string `json:"category"`
	// Insight is the human-readable observation.
	Insight string `json:"insight"`
	// Severity is one of "low", "medium", "high".
	Severity string `json:"severity"`
	// Recommendations are optional follow-up suggestions.
	Recommendations []string `json:"recommendations,omitempty"`
}

// UserTrait is a personality/behavioral trait observation.
type UserTrait struct {
	// Name identifies the trait.
	Name string `json:"name"`
	// Value is the trait strength in [0,1].
	Value float64 `json:"value"`
	// Confidence is the confidence in the assessment in [0,1].
	Confidence float64 `json:"confidence"`
}

// Metadata carries the agent annotations on an assistant message.
// Fields are optional and vary by which agent produced the reply.
type Metadata struct {
	// AgentRole names the agent that produced the reply
	// (kai, guardrail, genetic, wellness, or system for local synthetics).
	AgentRole string `json:"agent_role,omitempty"`
	// Confidence is the agent's confidence in [0,1].
	Confidence float64 `json:"confidence,omitempty"`
	// SafetyWarning is set when the guardrail agent flagged the exchange.
	SafetyWarning bool `json:"safety_warning,omitempty"`
	// Insights are wellness observations, if any.
	Insights []WellnessInsight `json:"insights,omitempty"`
	// Traits are user-trait observations, if any.
	Traits []UserTrait `json:"traits,omitempty"`
}

// Message is a single conversation turn. Messages are immutable once
// created; retry cleanup may remove them but never edits them.
type Message struct {
	// ID is unique within a session.
	ID string `json:"id"`
	// Role is who authored the message.
	Role Role `json:"role"`
	// Content is the message text.
	Content string `json:"content"`
	// Timestamp is when the message was created.
	Timestamp time.Time `json:"timestamp"`
	// Metadata carries agent annotations (assistant messages only).
	Metadata *Metadata `json:"metadata,omitempty"`
}

// NewUserMessage creates a user message with a fresh id and timestamp.
func NewUserMessage(content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      RoleUser,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// NewAssistantMessage creates an assistant message with a fresh id and timestamp.
func NewAssistantMessage(content string, meta *Metadata) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      RoleAssistant,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Metadata:  meta,
	}
}

// Session is a named, ordered, persisted conversation between one user and
// the assistant.
type Session struct {
	// ID is the unique session identifier.
	ID string `json:"id"`
	// UserID identifies the owning user.
	UserID string `json:"userId"`
	// Messages is the ordered conversation log.
	Messages []Message `json:"messages"`
	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt is when the session was last modified.
	UpdatedAt time.Time `json:"updatedAt"`
}

// cloneMessages copies a message slice so callers can't mutate controller state.
func cloneMessages(messages []Message) []Message {
	if len(messages) == 0 {
		return nil
	}
	out := make([]Message, len(messages))
	copy(out, messages)
	return out
}
