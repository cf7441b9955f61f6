package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaigo-dev/kaigo/chat"
)

func newTestClient(t *testing.T, handler http.Handler) (*HTTPClient, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewHTTPClient(srv.URL, Options{Timeout: 5 * time.Second})
	require.NoError(t, err)
	return client, srv
}

func TestNewHTTPClientRequiresBaseURL(t *testing.T) {
	_, err := NewHTTPClient("", Options{})
	assert.Error(t, err)
}

func TestSendChat(t *testing.T) {
	var gotReq chat.ChatRequest
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		_ = json.NewEncoder(w).Encode(chat.ChatResponse{
			Response: "hello there",
			Metadata: chat.Metadata{
				AgentRole:  "kai",
				Confidence: 0.92,
				Insights:   []chat.WellnessInsight{{Category: "mood", Insight: "upbeat", Severity: "low"}},
			},
		})
	}))

	resp, err := client.SendChat(context.Background(), &chat.ChatRequest{
		UserID:  "user-1",
		Message: "hi",
		ConversationHistory: []chat.Turn{
			{Role: "user", Content: "earlier"},
			{Role: "assistant", Content: "noted"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "hello there", resp.Response)
	assert.Equal(t, "kai", resp.Metadata.AgentRole)
	assert.InDelta(t, 0.92, resp.Metadata.Confidence, 1e-9)
	require.Len(t, resp.Metadata.Insights, 1)

	// The wire shape matches the backend contract
	assert.Equal(t, "user-1", gotReq.UserID)
	assert.Equal(t, "hi", gotReq.Message)
	require.Len(t, gotReq.ConversationHistory, 2)
	assert.Equal(t, "earlier", gotReq.ConversationHistory[0].Content)
}

func TestSendChatBackendError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": "Error processing message: model unavailable"})
	}))

	_, err := client.SendChat(context.Background(), &chat.ChatRequest{UserID: "u", Message: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model unavailable")
	assert.False(t, errors.Is(err, context.Canceled), "backend failure must not look like cancellation")
}

func TestSendChatCancellation(t *testing.T) {
	started := make(chan struct{})
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := client.SendChat(ctx, &chat.ChatRequest{UserID: "u", Message: "hi"})
		done <- err
	}()

	<-started
	cancel()

	err := <-done
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), "cancellation must stay distinguishable, got %v", err)
}

func TestClearSession(t *testing.T) {
	var gotPath string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.Equal(t, http.MethodDelete, r.Method)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "session cleared"})
	}))

	require.NoError(t, client.ClearSession(context.Background(), "user-1"))
	assert.Equal(t, "/api/chat/session/user-1", gotPath)
}

func TestClearSessionFailure(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	err := client.ClearSession(context.Background(), "user-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestProactiveCheckIn(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantResp bool
		wantErr  bool
	}{
		{
			name: "check-in offered",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(chat.ChatResponse{
					Response: "how was your week?",
					Metadata: chat.Metadata{AgentRole: "kai"},
				})
			},
			wantResp: true,
		},
		{
			name: "nothing offered (null body)",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte("null"))
			},
		},
		{
			name: "nothing offered (204)",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			},
		},
		{
			name: "backend failure",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, tt.handler)

			resp, err := client.ProactiveCheckIn(context.Background(), "user-1")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantResp {
				require.NotNil(t, resp)
				assert.Equal(t, "how was your week?", resp.Response)
			} else {
				assert.Nil(t, resp)
			}
		})
	}
}

func TestRateLimiterDelaysSecondRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chat.ChatResponse{Response: "ok"})
	}))
	t.Cleanup(srv.Close)

	client, err := NewHTTPClient(srv.URL, Options{RateLimit: 20}) // 50ms between requests
	require.NoError(t, err)

	ctx := context.Background()
	req := &chat.ChatRequest{UserID: "u", Message: "hi"}

	start := time.Now()
	_, err = client.SendChat(ctx, req)
	require.NoError(t, err)
	_, err = client.SendChat(ctx, req)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}
