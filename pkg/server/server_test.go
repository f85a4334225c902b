package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/verinews/pkg/chat"
	"github.com/go-go-golems/verinews/pkg/conversation"
	"github.com/go-go-golems/verinews/pkg/events"
	"github.com/go-go-golems/verinews/pkg/store"
	"github.com/go-go-golems/verinews/pkg/verify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoVerifier() verify.Verifier {
	return verify.VerifierFunc(func(ctx context.Context, claim string) (*verify.Result, error) {
		return &verify.Result{
			Verdict:    verify.VerdictTrue,
			Confidence: 90,
			Conclusion: "checked: " + claim,
			Sources:    []verify.Source{},
		}, nil
	})
}

type blockingVerifier struct {
	release chan struct{}
}

func (b *blockingVerifier) Verify(ctx context.Context, claim string) (*verify.Result, error) {
	select {
	case <-b.release:
		return &verify.Result{Verdict: verify.VerdictFalse, Conclusion: claim, Sources: []verify.Source{}}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, ChatView) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var view ChatView
	if w.Code < 300 && strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	}
	return w, view
}

func newTestServer(t *testing.T, verifier verify.Verifier, options ...Option) (*Server, *store.MemoryStore) {
	st := store.NewMemoryStore()
	registry := NewRegistry(verifier, st)
	return NewServer(registry, options...), st
}

func TestCreateSubmitAndGet(t *testing.T) {
	s, st := newTestServer(t, echoVerifier())
	h := s.Handler()

	w, created := do(t, h, http.MethodPost, "/api/chats", "")
	require.Equal(t, http.StatusCreated, w.Code)
	require.NotEmpty(t, created.ChatID)
	assert.Empty(t, created.Messages)
	assert.Equal(t, chat.DefaultMaxClaimLength, created.MaxClaimLength)

	w, view := do(t, h, http.MethodPost, "/api/chats/"+created.ChatID+"/messages?wait=true", `{"text":"The moon is made of rock"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, view.Messages, 2)
	assert.Equal(t, conversation.StatusSent, view.Messages[0].Status)
	assert.Equal(t, "checked: The moon is made of rock", view.Messages[1].Result.Conclusion)
	assert.Equal(t, chat.StateIdle, view.State)

	w, got := do(t, h, http.MethodGet, "/api/chats/"+created.ChatID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, view.Version, got.Version)

	stored, err := st.Get(context.Background(), created.ChatID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Len())
}

func TestErrorStatusCodes(t *testing.T) {
	b := &blockingVerifier{release: make(chan struct{})}
	defer close(b.release)
	s, _ := newTestServer(t, b)
	h := s.Handler()

	w, _ := do(t, h, http.MethodGet, "/api/chats/unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	_, created := do(t, h, http.MethodPost, "/api/chats", "")
	base := "/api/chats/" + created.ChatID

	w, _ = do(t, h, http.MethodPost, base+"/messages", `{"text":"   "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, h, http.MethodPost, base+"/messages", `{"text":"`+strings.Repeat("x", 251)+`"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, h, http.MethodPost, base+"/retry", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, h, http.MethodPost, base+"/restore", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w, view := do(t, h, http.MethodPost, base+"/messages", `{"text":"first"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.NotEmpty(t, view.RequestID)
	assert.Equal(t, conversation.StatusPending, view.Messages[0].Status)

	w, _ = do(t, h, http.MethodPost, base+"/messages", `{"text":"second"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = do(t, h, http.MethodPost, base+"/messages/not-an-id/edit", `{"text":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, view = do(t, h, http.MethodDelete, base+"/pending", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, view.Messages, 2)
	assert.Equal(t, conversation.StatusError, view.Messages[0].Status)
	assert.True(t, view.Messages[1].Result.IsError())

	w, _ = do(t, h, http.MethodDelete, base+"/pending", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = do(t, h, http.MethodPost, base+"/messages/"+conversation.NewNodeID().String()+"/branches/0", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(t, h, http.MethodPost, base+"/messages/"+view.Messages[0].ID.String()+"/branches/5", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEditNavigateRestore(t *testing.T) {
	s, _ := newTestServer(t, echoVerifier())
	h := s.Handler()

	_, created := do(t, h, http.MethodPost, "/api/chats", "")
	base := "/api/chats/" + created.ChatID

	_, view := do(t, h, http.MethodPost, base+"/messages?wait=true", `{"text":"original claim"}`)
	require.Len(t, view.Messages, 2)
	userID := view.Messages[0].ID.String()

	w, view := do(t, h, http.MethodPost, base+"/messages/"+userID+"/edit?wait=true", `{"text":"edited claim","submit":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, view.Messages, 3)
	assert.Equal(t, "original claim", view.Messages[0].Text)
	assert.Equal(t, "edited claim", view.Messages[1].Text)
	assert.Equal(t, "checked: edited claim", view.Messages[2].Result.Conclusion)
	assert.Equal(t, 1, view.Messages[1].BranchIndex)
	assert.Equal(t, 2, view.Messages[1].BranchCount)

	w, view = do(t, h, http.MethodPost, base+"/messages/"+userID+"/branches/0", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, view.Messages, 2)
	assert.Equal(t, "checked: original claim", view.Messages[1].Result.Conclusion)
	assert.True(t, view.CanRestore)

	w, view = do(t, h, http.MethodPost, base+"/restore", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, view.Messages, 3)
	assert.Equal(t, "edited claim", view.Messages[1].Text)
	assert.False(t, view.CanRestore)
}

func TestEditDraftThenSubmit(t *testing.T) {
	s, _ := newTestServer(t, echoVerifier())
	h := s.Handler()

	_, created := do(t, h, http.MethodPost, "/api/chats", "")
	base := "/api/chats/" + created.ChatID
	_, view := do(t, h, http.MethodPost, base+"/messages?wait=true", `{"text":"claim"}`)
	userID := view.Messages[0].ID.String()

	w, view := do(t, h, http.MethodPost, base+"/messages/"+userID+"/edit", `{"text":"draft claim"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, view.Messages, 2)
	draft := view.Messages[1]
	assert.Equal(t, conversation.StatusDraft, draft.Status)

	w, view = do(t, h, http.MethodPost, base+"/messages/"+draft.ID.String()+"/submit?wait=true", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, view.Messages, 3)
	assert.Equal(t, conversation.StatusSent, view.Messages[1].Status)

	w, _ = do(t, h, http.MethodPost, base+"/messages/"+draft.ID.String()+"/submit", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRegistryRehydratesAndRecovers(t *testing.T) {
	st := store.NewMemoryStore()
	tree, _ := conversation.NewConversationTree().AddUserMessage("interrupted claim")
	require.NoError(t, st.Put(context.Background(), "chat-1", tree))

	registry := NewRegistry(echoVerifier(), st)
	h := NewServer(registry).Handler()

	w, view := do(t, h, http.MethodGet, "/api/chats/chat-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, view.Messages, 2)
	assert.Equal(t, conversation.StatusError, view.Messages[0].Status)
	assert.True(t, view.Messages[1].Result.IsError())

	stored, err := st.Get(context.Background(), "chat-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Len())
	assert.Empty(t, stored.PendingMessages())

	w, _ = do(t, h, http.MethodDelete, "/api/chats/chat-1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	_, err = st.Get(context.Background(), "chat-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 0, registry.Len())
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := verify.NewMetrics(reg)
	s, _ := newTestServer(t, verify.NewInstrumentedVerifier(echoVerifier(), metrics), WithGatherer(reg))
	h := s.Handler()

	w, _ := do(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	_, created := do(t, h, http.MethodPost, "/api/chats", "")
	do(t, h, http.MethodPost, "/api/chats/"+created.ChatID+"/messages?wait=true", `{"text":"claim"}`)

	w, _ = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "verinews_verify_requests_total")
}

func TestEventStream(t *testing.T) {
	router, err := events.NewEventRouter()
	require.NoError(t, err)
	defer func() { _ = router.Close() }()

	registry := NewRegistry(echoVerifier(), store.NewMemoryStore(), WithRegistrySinks(router.Sink()))
	srv := httptest.NewServer(NewServer(registry, WithEventRouter(router)).Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resp, err := http.Post(srv.URL+"/api/chats", "application/json", nil)
	require.NoError(t, err)
	var created ChatView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	_ = resp.Body.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/chats/"+created.ChatID+"/events", nil)
	require.NoError(t, err)
	stream, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = stream.Body.Close() }()
	require.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	lines := make(chan string, 100)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stream.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	resp, err = http.Post(srv.URL+"/api/chats/"+created.ChatID+"/messages", "application/json", strings.NewReader(`{"text":"streamed claim"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	timeout := time.After(5 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed before the verdict arrived")
			if line != "event: "+string(events.EventTypeVerificationFinished) {
				continue
			}
			data := <-lines
			require.True(t, strings.HasPrefix(data, "data: "))
			ev, err := events.NewEventFromJSON([]byte(strings.TrimPrefix(data, "data: ")))
			require.NoError(t, err)
			finished, ok := ev.(*events.EventVerificationFinished)
			require.True(t, ok)
			assert.Equal(t, "checked: streamed claim", finished.Result.Conclusion)
			assert.Equal(t, created.ChatID, finished.Metadata().ChatID)
			return
		case <-timeout:
			t.Fatal("no verification-finished event received")
		}
	}
}
