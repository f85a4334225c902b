package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-go-golems/verinews/pkg/conversation"
	"github.com/go-go-golems/verinews/pkg/verify"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventFromJSON_VerificationFinished(t *testing.T) {
	msgID := conversation.NewNodeID()
	verdictID := conversation.NewNodeID()
	requestID := uuid.New()
	ev := NewVerificationFinishedEvent(
		EventMetadata{ChatID: "chat-1", RequestID: requestID, Version: 3},
		msgID, verdictID,
		&verify.Result{Verdict: verify.VerdictFalse, Confidence: 12, Sources: []verify.Source{}},
	)

	b, err := json.Marshal(ev)
	require.NoError(t, err)

	decoded, err := NewEventFromJSON(b)
	require.NoError(t, err)
	finished, ok := decoded.(*EventVerificationFinished)
	require.True(t, ok)
	assert.Equal(t, EventTypeVerificationFinished, finished.Type())
	assert.Equal(t, "chat-1", finished.Metadata().ChatID)
	assert.Equal(t, requestID, finished.Metadata().RequestID)
	assert.Equal(t, int64(3), finished.Metadata().Version)
	assert.Equal(t, msgID, finished.MessageID)
	assert.Equal(t, verdictID, finished.VerdictID)
	assert.Equal(t, verify.VerdictFalse, finished.Result.Verdict)
	assert.Equal(t, b, finished.Payload())
}

func TestNewEventFromJSON_Errors(t *testing.T) {
	_, err := NewEventFromJSON([]byte(`{"type": "nope"}`))
	assert.Error(t, err)
	_, err = NewEventFromJSON([]byte(`not json`))
	assert.Error(t, err)
}

func TestPublishEventToContext(t *testing.T) {
	var got []EventType
	collect := SinkFunc(func(e Event) error {
		got = append(got, e.Type())
		return nil
	})

	ctx := WithEventSinks(context.Background(), collect)
	ctx = WithEventSinks(ctx, NewNullSink(), collect)
	assert.Len(t, GetEventSinks(ctx), 3)

	PublishEventToContext(ctx, NewChatResetEvent(EventMetadata{ChatID: "c"}))
	assert.Equal(t, []EventType{EventTypeChatReset, EventTypeChatReset}, got)

	// no sinks is a no-op
	PublishEventToContext(context.Background(), NewChatResetEvent(EventMetadata{}))
}

func TestEventRouter_SubscribeChatFiltersByChat(t *testing.T) {
	router, err := NewEventRouter()
	require.NoError(t, err)
	defer func() { _ = router.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := router.SubscribeChat(ctx, "mine")
	require.NoError(t, err)

	sink := router.Sink()
	id := conversation.NewNodeID()
	require.NoError(t, sink.PublishEvent(NewUserMessageEvent(EventMetadata{ChatID: "other"}, id, "ignored")))
	require.NoError(t, sink.PublishEvent(NewUserMessageEvent(EventMetadata{ChatID: "mine"}, id, "Is the sky blue?")))

	select {
	case ev := <-stream:
		um, ok := ev.(*EventUserMessage)
		require.True(t, ok)
		assert.Equal(t, "Is the sky blue?", um.Text)
		assert.Equal(t, id, um.MessageID)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestEventRouter_SubscribeChatKeepsPublishOrder(t *testing.T) {
	router, err := NewEventRouter()
	require.NoError(t, err)
	defer func() { _ = router.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := router.SubscribeChat(ctx, "chat")
	require.NoError(t, err)

	const n = 200
	sink := router.Sink()
	go func() {
		for i := 1; i <= n; i++ {
			ev := NewVerificationStartedEvent(EventMetadata{ChatID: "chat", Version: int64(i)}, conversation.NewNodeID(), "claim")
			if err := sink.PublishEvent(ev); err != nil {
				return
			}
		}
	}()

	timeout := time.After(5 * time.Second)
	for i := 1; i <= n; i++ {
		select {
		case ev := <-stream:
			require.Equal(t, int64(i), ev.Metadata().Version)
		case <-timeout:
			t.Fatalf("received %d of %d events", i-1, n)
		}
	}
}
