package session

import (
	"context"
	"testing"
	"time"

	"github.com/kaigo-dev/kaigo/chat"
	"github.com/kaigo-dev/kaigo/pkg/kvstore"
)

func testSessions() map[string]*chat.Session {
	return map[string]*chat.Session{
		"sess-1": {
			ID:        "sess-1",
			UserID:    "user-1",
			CreatedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
			UpdatedAt: time.Date(2026, 8, 1, 10, 5, 0, 0, time.UTC),
			Messages: []chat.Message{
				{
					ID:        "m1",
					Role:      chat.RoleUser,
					Content:   "I slept badly",
					Timestamp: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
				},
				{
					ID:        "m2",
					Role:      chat.RoleAssistant,
					Content:   "Sorry to hear that",
					Timestamp: time.Date(2026, 8, 1, 10, 0, 5, 0, time.UTC),
					Metadata: &chat.Metadata{
						AgentRole:  "kai",
						Confidence: 0.9,
						Insights: []chat.WellnessInsight{
							{Category: "sleep", Insight: "poor sleep reported", Severity: "medium", Recommendations: []string{"wind down earlier"}},
						},
						Traits: []chat.UserTrait{{Name: "conscientiousness", Value: 0.7, Confidence: 0.6}},
					},
				},
			},
		},
		"sess-2": {
			ID:        "sess-2",
			UserID:    "user-1",
			CreatedAt: time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC),
			UpdatedAt: time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC),
			Messages: []chat.Message{
				{ID: "m3", Role: chat.RoleUser, Content: "hello", Timestamp: time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC)},
			},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	store := NewStore(kv, true)
	ctx := context.Background()

	want := testSessions()
	if err := store.Persist(ctx, want, "sess-1"); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	got, currentID, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if currentID != "sess-1" {
		t.Errorf("Load() currentID = %q, want %q", currentID, "sess-1")
	}
	if len(got) != len(want) {
		t.Fatalf("Load() returned %d sessions, want %d", len(got), len(want))
	}

	for id, wantSess := range want {
		gotSess, ok := got[id]
		if !ok {
			t.Fatalf("Load() missing session %q", id)
		}
		if gotSess.UserID != wantSess.UserID {
			t.Errorf("session %q UserID = %q, want %q", id, gotSess.UserID, wantSess.UserID)
		}
		if !gotSess.CreatedAt.Equal(wantSess.CreatedAt) || !gotSess.UpdatedAt.Equal(wantSess.UpdatedAt) {
			t.Errorf("session %q timestamps not preserved", id)
		}
		if len(gotSess.Messages) != len(wantSess.Messages) {
			t.Fatalf("session %q has %d messages, want %d", id, len(gotSess.Messages), len(wantSess.Messages))
		}
		for i, wantMsg := range wantSess.Messages {
			gotMsg := gotSess.Messages[i]
			if gotMsg.ID != wantMsg.ID || gotMsg.Role != wantMsg.Role || gotMsg.Content != wantMsg.Content {
				t.Errorf("session %q message %d = %+v, want %+v", id, i, gotMsg, wantMsg)
			}
			if !gotMsg.Timestamp.Equal(wantMsg.Timestamp) {
				t.Errorf("session %q message %d timestamp not preserved", id, i)
			}
		}
	}

	// Metadata survives the round trip
	meta := got["sess-1"].Messages[1].Metadata
	if meta == nil {
		t.Fatal("assistant message metadata missing after round trip")
	}
	if meta.AgentRole != "kai" || meta.Confidence != 0.9 {
		t.Errorf("metadata = %+v, want agent kai with confidence 0.9", meta)
	}
	if len(meta.Insights) != 1 || meta.Insights[0].Category != "sleep" {
		t.Errorf("insights not preserved: %+v", meta.Insights)
	}
	if len(meta.Traits) != 1 || meta.Traits[0].Name != "conscientiousness" {
		t.Errorf("traits not preserved: %+v", meta.Traits)
	}
}

func TestLoadEmpty(t *testing.T) {
	store := NewStore(kvstore.NewMemoryStore(), true)

	sessions, currentID, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("Load() on empty store returned %d sessions, want 0", len(sessions))
	}
	if currentID != "" {
		t.Errorf("Load() on empty store currentID = %q, want empty", currentID)
	}
}

func TestDisabledStoreIsNoOp(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	store := NewStore(kv, false)
	ctx := context.Background()

	if err := store.Persist(ctx, testSessions(), "sess-1"); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	// Nothing was written to the underlying store
	if _, err := kv.Get(ctx, sessionsKey); err != kvstore.ErrKeyNotFound {
		t.Errorf("disabled Persist() wrote sessions key, Get error = %v", err)
	}

	sessions, currentID, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(sessions) != 0 || currentID != "" {
		t.Error("disabled Load() should return an empty collection")
	}
}

func TestClear(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	store := NewStore(kv, true)
	ctx := context.Background()

	if err := store.Persist(ctx, testSessions(), "sess-1"); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	sessions, currentID, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() after Clear() error = %v", err)
	}
	if len(sessions) != 0 || currentID != "" {
		t.Error("Clear() should remove both persisted keys")
	}
}

// fakeBackend implements chat.Transport for the integration test.
type fakeBackend struct{}

func (fakeBackend) SendChat(ctx context.Context, req *chat.ChatRequest) (*chat.ChatResponse, error) {
	return &chat.ChatResponse{Response: "echo: " + req.Message, Metadata: chat.Metadata{AgentRole: "kai"}}, nil
}

func (fakeBackend) ClearSession(ctx context.Context, userID string) error { return nil }

func (fakeBackend) ProactiveCheckIn(ctx context.Context, userID string) (*chat.ChatResponse, error) {
	return nil, nil
}

func TestControllerRoundTripThroughStore(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	ctx := context.Background()

	// First controller: chat, then go away.
	ctrl, err := chat.NewController(ctx, fakeBackend{}, "user-1",
		chat.WithPersister(NewStore(kv, true)))
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	if err := ctrl.Send(ctx, "hello"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	sessionID := ctrl.CurrentSessionID()
	want := ctrl.Messages()

	// Second controller over the same store rehydrates the same view.
	rehydrated, err := chat.NewController(ctx, fakeBackend{}, "user-1",
		chat.WithPersister(NewStore(kv, true)))
	if err != nil {
		t.Fatalf("NewController() rehydrate error = %v", err)
	}

	if rehydrated.CurrentSessionID() != sessionID {
		t.Errorf("rehydrated current session = %q, want %q", rehydrated.CurrentSessionID(), sessionID)
	}
	got := rehydrated.Messages()
	if len(got) != len(want) {
		t.Fatalf("rehydrated %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i].ID || got[i].Content != want[i].Content || got[i].Role != want[i].Role {
			t.Errorf("message %d = %+v, want %+v", i, got[i], want[i])
		}
		if !got[i].Timestamp.Equal(want[i].Timestamp) {
			t.Errorf("message %d timestamp drifted across the round trip", i)
		}
	}
}
