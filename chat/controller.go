package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kaigo-dev/kaigo/pkg/observability"
)

// Controller owns the active session's message sequence, the in-flight
// request state machine, cancellation policy and retry policy.
//
// All state is guarded by a single mutex, so the Controller is safe for
// concurrent use. At most one chat request is in flight at a time: a new
// Send cancels any older pending request, and the older request's eventual
// completion is discarded by generation check rather than arrival order.
type Controller struct {
	transport Transport
	persister Persister
	log       zerolog.Logger
	userID    string

	mu        sync.Mutex
	sessions  map[string]*Session
	currentID string
	messages  []Message
	loading   bool
	lastErr   string

	// Retry bookkeeping: the most recently attempted content, and the ids
	// of the failed user/synthetic-reply pair when the last send failed.
	lastAttempt  string
	failedUserID string
	failedRespID string

	// In-flight request tracking. gen increments on every send and on
	// anything that invalidates a pending request; a completion whose
	// generation no longer matches is stale and must not mutate state.
	gen    uint64
	cancel context.CancelFunc
}

// Option configures a Controller.
type Option func(*Controller)

// WithPersister enables session persistence through p.
func WithPersister(p Persister) Option {
	return func(c *Controller) { c.persister = p }
}

// WithLogger sets the controller's logger. Defaults to a no-op logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// NewController creates a controller for one user and rehydrates persisted
// sessions when a persister is configured. If the remembered current session
// is absent or unknown, a fresh session id is minted; the session itself is
// only materialized once it holds a message.
func NewController(ctx context.Context, transport Transport, userID string, opts ...Option) (*Controller, error) {
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	if userID == "" {
		return nil, errors.New("user id is required")
	}

	c := &Controller{
		transport: transport,
		log:       zerolog.Nop(),
		userID:    userID,
		sessions:  make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.persister != nil {
		sessions, currentID, err := c.persister.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load sessions: %w", err)
		}
		if sessions != nil {
			c.sessions = sessions
		}
		if sess, ok := c.sessions[currentID]; ok {
			c.currentID = currentID
			c.messages = cloneMessages(sess.Messages)
		}
	}

	if c.currentID == "" {
		c.currentID = uuid.New().String()
	}

	observability.SetActiveSessions(len(c.sessions))
	return c, nil
}

// Messages returns a copy of the active session's message sequence.
func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneMessages(c.messages)
}

// IsLoading reports whether a chat request is in flight.
func (c *Controller) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// LastError returns the last surfaced failure description, or "" if none.
func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// CurrentSessionID returns the active session id. The session may not be
// materialized in the collection yet if it has no messages.
func (c *Controller) CurrentSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentID
}

// CurrentSession returns a copy of the active session, or nil if it has no
// messages yet.
func (c *Controller) CurrentSession() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[c.currentID]
	if !ok {
		return nil
	}
	return c.copySessionLocked(sess)
}

// Sessions returns copies of all known sessions, most recently updated first.
func (c *Controller) Sessions() []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*Session, 0, len(c.sessions))
	for _, sess := range c.sessions {
		out = append(out, c.copySessionLocked(sess))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Send sends one user message to the backend and appends the reply.
//
// Empty or whitespace-only content is a silent no-op. The user message is
// appended optimistically before the network call; on failure a synthetic
// assistant message explaining the connectivity problem is appended and the
// transport error is returned. Any older pending Send is cancelled first,
// and a Send that loses the race to a newer one returns nil without
// touching state.
func (c *Controller) Send(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	c.mu.Lock()

	// Cancel any in-flight request; the newest send wins.
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
	gen := c.gen
	reqCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	// Prior turns as the sequence stood before the optimistic append.
	history := make([]Turn, 0, len(c.messages))
	for _, m := range c.messages {
		history = append(history, Turn{Role: string(m.Role), Content: m.Content})
	}

	user := NewUserMessage(content)
	c.messages = append(c.messages, user)
	c.loading = true
	c.lastErr = ""
	c.lastAttempt = content
	c.persistLocked(ctx)
	c.mu.Unlock()

	start := time.Now()
	resp, err := c.transport.SendChat(reqCtx, &ChatRequest{
		UserID:              c.userID,
		Message:             content,
		ConversationHistory: history,
	})
	duration := time.Since(start)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		// Superseded by a newer send; discard silently.
		observability.RecordChatRequest("superseded", duration)
		return nil
	}
	cancel()
	c.cancel = nil
	c.loading = false

	if err != nil {
		if errors.Is(err, context.Canceled) {
			observability.RecordChatRequest("cancelled", duration)
			return nil
		}

		c.log.Warn().Err(err).Str("user_id", c.userID).Msg("chat request failed")
		c.lastErr = err.Error()
		reply := NewAssistantMessage(
			fmt.Sprintf("I'm having trouble connecting right now. Please try again in a moment. (%s)", err),
			&Metadata{AgentRole: "system"},
		)
		c.failedUserID = user.ID
		c.failedRespID = reply.ID
		c.messages = append(c.messages, reply)
		c.persistLocked(ctx)
		observability.RecordChatRequest("error", duration)
		return fmt.Errorf("send chat: %w", err)
	}

	c.failedUserID = ""
	c.failedRespID = ""
	meta := resp.Metadata
	c.messages = append(c.messages, NewAssistantMessage(resp.Response, &meta))
	c.persistLocked(ctx)
	observability.RecordChatRequest("ok", duration)
	return nil
}

// RetryLastMessage removes the failed turn pair and re-sends the most
// recently attempted content. A no-op when nothing has been attempted.
//
// The failed pair is located by the ids recorded at failure time; when no
// pair is recorded the last two messages are removed instead, bounded to
// what exists.
func (c *Controller) RetryLastMessage(ctx context.Context) error {
	c.mu.Lock()
	if c.lastAttempt == "" {
		c.mu.Unlock()
		return nil
	}
	content := c.lastAttempt

	if c.failedUserID != "" || c.failedRespID != "" {
		kept := c.messages[:0]
		for _, m := range c.messages {
			if m.ID == c.failedUserID || m.ID == c.failedRespID {
				continue
			}
			kept = append(kept, m)
		}
		c.messages = kept
		c.failedUserID = ""
		c.failedRespID = ""
	} else if n := len(c.messages); n > 2 {
		c.messages = c.messages[:n-2]
	} else {
		c.messages = nil
	}

	c.lastErr = ""
	c.persistLocked(ctx)
	c.mu.Unlock()

	observability.RecordRetry()
	return c.Send(ctx, content)
}

// ClearConversation clears the server-side buffer for the user and empties
// local conversation state. Local state is cleared even when the remote
// call fails; the failure is logged and returned.
func (c *Controller) ClearConversation(ctx context.Context) error {
	remoteErr := c.transport.ClearSession(ctx, c.userID)

	c.mu.Lock()
	c.invalidatePendingLocked()
	c.messages = nil
	c.loading = false
	c.lastErr = ""
	c.lastAttempt = ""
	c.failedUserID = ""
	c.failedRespID = ""
	c.persistLocked(ctx)
	c.mu.Unlock()

	if remoteErr != nil {
		c.log.Warn().Err(remoteErr).Str("user_id", c.userID).Msg("remote session clear failed")
		return fmt.Errorf("clear remote session: %w", remoteErr)
	}
	return nil
}

// ProactiveCheckIn asks the backend for an unprompted check-in message and
// appends it as an assistant turn. A silent no-op when the backend has
// nothing to offer.
func (c *Controller) ProactiveCheckIn(ctx context.Context) error {
	resp, err := c.transport.ProactiveCheckIn(ctx, c.userID)
	if err != nil {
		return fmt.Errorf("proactive check-in: %w", err)
	}
	if resp == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	meta := resp.Metadata
	c.messages = append(c.messages, NewAssistantMessage(resp.Response, &meta))
	c.persistLocked(ctx)
	return nil
}

// NewSession mints a fresh session, makes it current and empties the view.
// The session is not written to storage until it holds a message.
func (c *Controller) NewSession(ctx context.Context) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetForSwitchLocked()
	c.currentID = uuid.New().String()
	c.messages = nil
	c.persistLocked(ctx)
	return c.currentID
}

// LoadSession makes an existing session current and replaces the live view
// with its stored messages. Unknown ids are a no-op; returns whether the
// session was found.
func (c *Controller) LoadSession(ctx context.Context, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[id]
	if !ok {
		return false
	}

	c.resetForSwitchLocked()
	c.currentID = id
	c.messages = cloneMessages(sess.Messages)
	c.persistLocked(ctx)
	return true
}

// DeleteSession removes a session and persists the removal. Deleting the
// current session immediately creates a fresh one, so the controller is
// never left pointing at a non-existent session.
func (c *Controller) DeleteSession(ctx context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.sessions[id]; !ok {
		return
	}
	delete(c.sessions, id)

	if id == c.currentID {
		c.resetForSwitchLocked()
		c.currentID = uuid.New().String()
		c.messages = nil
	}
	c.persistLocked(ctx)
}

// invalidatePendingLocked cancels any in-flight request and bumps the
// generation so its eventual completion is discarded.
func (c *Controller) invalidatePendingLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
		observability.RecordCancellation()
	}
	c.gen++
}

// resetForSwitchLocked returns the controller to a clean, non-loading,
// non-error view. Session switches always pass through here.
func (c *Controller) resetForSwitchLocked() {
	c.invalidatePendingLocked()
	c.loading = false
	c.lastErr = ""
	c.lastAttempt = ""
	c.failedUserID = ""
	c.failedRespID = ""
}

// persistLocked mirrors the live message sequence into the session
// collection and writes the whole collection through the persister.
// Persist failures are logged, never fatal.
func (c *Controller) persistLocked(ctx context.Context) {
	now := time.Now().UTC()

	sess, ok := c.sessions[c.currentID]
	if !ok {
		if len(c.messages) == 0 {
			// An empty just-created session is not materialized.
			sess = nil
		} else {
			sess = &Session{
				ID:        c.currentID,
				UserID:    c.userID,
				CreatedAt: now,
			}
			c.sessions[c.currentID] = sess
		}
	}
	if sess != nil {
		sess.Messages = cloneMessages(c.messages)
		sess.UpdatedAt = now
	}

	observability.SetActiveSessions(len(c.sessions))

	if c.persister == nil {
		return
	}
	if err := c.persister.Persist(ctx, c.sessions, c.currentID); err != nil {
		c.log.Warn().Err(err).Msg("persist sessions failed")
		observability.RecordPersist("error")
		return
	}
	observability.RecordPersist("ok")
}

// copySessionLocked returns a defensive copy of a session.
func (c *Controller) copySessionLocked(sess *Session) *Session {
	out := *sess
	out.Messages = cloneMessages(sess.Messages)
	return &out
}
