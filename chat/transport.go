package chat

import "context"

// Turn is one prior conversation turn sent to the backend for context.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the payload for a chat call.
type ChatRequest struct {
	// UserID identifies the user.
	UserID string `json:"user_id"`
	// Message is the trimmed user message.
	Message string `json:"message"`
	// ConversationHistory holds the prior turns in original order,
	// as the sequence stood before the optimistic append.
	ConversationHistory []Turn `json:"conversation_history,omitempty"`
}

// ChatResponse is a reply from the Kai backend.
type ChatResponse struct {
	// Response is the reply text.
	Response string `json:"response"`
	// Metadata carries the agent annotations, passed through verbatim.
	Metadata Metadata `json:"metadata"`
}

// Transport sends chat traffic to the Kai backend.
//
// Implementations must honor context cancellation promptly and surface it
// as an error satisfying errors.Is(err, context.Canceled), distinguishably
// from other failures. The Controller relies on this to discard superseded
// requests silently.
type Transport interface {
	// SendChat sends one user message plus prior turns and returns the reply.
	SendChat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// ClearSession clears the server-side conversation buffer for a user.
	ClearSession(ctx context.Context, userID string) error

	// ProactiveCheckIn asks the backend for an unprompted check-in message.
	// A nil response with nil error means the backend has nothing to offer.
	ProactiveCheckIn(ctx context.Context, userID string) (*ChatResponse, error)
}

// Persister mirrors the session collection into durable storage.
// A nil Persister on the Controller disables persistence entirely.
type Persister interface {
	// Load rehydrates the session collection and the remembered current
	// session id. An empty id means no session was remembered.
	Load(ctx context.Context) (map[string]*Session, string, error)

	// Persist writes the full session collection and the current session id.
	Persist(ctx context.Context, sessions map[string]*Session, currentID string) error
}
