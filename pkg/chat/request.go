package chat

import (
	"context"
	"sync"

	"github.com/go-go-golems/verinews/pkg/conversation"
	"github.com/go-go-golems/verinews/pkg/verify"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var ErrRequestNil = errors.New("request is nil")

// Request is a single in-flight verification. It can be canceled and waited
// on. The verification is driven by context cancellation.
type Request struct {
	ID        uuid.UUID
	ChatID    string
	MessageID conversation.NodeID
	Claim     string

	// ctx carries the caller's event sinks, runCtx bounds the verifier call
	ctx         context.Context
	runCtx      context.Context
	done        chan struct{}
	once        sync.Once
	started     chan struct{}
	startedOnce sync.Once

	mu        sync.Mutex
	cancel    context.CancelFunc
	verdictID conversation.NodeID
	result    *verify.Result
	err       error
}

func newRequest(ctx context.Context, chatID string, messageID conversation.NodeID, claim string, cancel context.CancelFunc) *Request {
	return &Request{
		ID:        uuid.New(),
		ChatID:    chatID,
		MessageID: messageID,
		Claim:     claim,
		ctx:       ctx,
		done:      make(chan struct{}),
		started:   make(chan struct{}),
		cancel:    cancel,
	}
}

// finish records the outcome. Only the first call has an effect.
func (r *Request) finish(verdictID conversation.NodeID, result *verify.Result, err error) {
	r.once.Do(func() {
		r.mu.Lock()
		r.verdictID = verdictID
		r.result = result
		r.err = err
		cancel := r.cancel
		r.cancel = nil
		r.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		close(r.done)
	})
}

// markStarted records that the started event went out.
func (r *Request) markStarted() {
	r.startedOnce.Do(func() {
		close(r.started)
	})
}

// Cancel aborts the verification call. Use Session.Cancel to also settle
// the pending message.
func (r *Request) Cancel() {
	if r == nil {
		return
	}
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the request is settled and returns the verdict shown in
// the chat. err is the verification failure, if any; the result is then an
// error verdict.
func (r *Request) Wait() (*verify.Result, error) {
	if r == nil {
		return nil, ErrRequestNil
	}
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.err
}

func (r *Request) Done() <-chan struct{} {
	return r.done
}

// VerdictID is the node holding the verdict once the request is settled, or
// NullNode if the result was dropped.
func (r *Request) VerdictID() conversation.NodeID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.verdictID
}

func (r *Request) IsRunning() bool {
	if r == nil {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}
