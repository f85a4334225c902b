package chat

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-go-golems/verinews/pkg/conversation"
	"github.com/go-go-golems/verinews/pkg/events"
	"github.com/go-go-golems/verinews/pkg/verify"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrEmptyClaim         = errors.New("claim is empty")
	ErrClaimTooLong       = errors.New("claim is too long")
	ErrSubmissionInFlight = errors.New("a verification is already in flight")
	ErrNoActiveRequest    = errors.New("no verification in flight")
	ErrNothingToRetry     = errors.New("no previous claim to retry")
	ErrNotDraft           = errors.New("message is not an unsubmitted draft at the end of the conversation")
)

const (
	DefaultTimeout        = verify.DefaultTimeout
	DefaultMaxClaimLength = 250
)

type State string

const (
	StateIdle             State = "idle"
	StateSending          State = "sending"
	StateAwaitingResponse State = "awaiting-response"
)

// Session drives the verification of claims for one chat.
//
// It owns:
// - the chat's conversation manager (current tree snapshot and branch history)
// - the invariant that at most one verification is in flight
// - the event sinks that observe every change
//
// Verdicts are applied only if their request is still the outstanding one, so
// a canceled or reset request never touches a newer snapshot.
type Session struct {
	ChatID string

	verifier       verify.Verifier
	manager        *conversation.ManagerImpl
	sinks          []events.EventSink
	timeout        time.Duration
	maxClaimLength int
	followBranches bool

	mu     sync.Mutex
	state  State
	active *Request
}

type Option func(*Session)

func WithChatID(chatID string) Option {
	return func(s *Session) {
		s.ChatID = chatID
	}
}

// WithManager lets the session continue an existing conversation.
func WithManager(manager *conversation.ManagerImpl) Option {
	return func(s *Session) {
		s.manager = manager
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(s *Session) {
		s.timeout = timeout
	}
}

// WithMaxClaimLength bounds claims in characters. Zero disables the check.
func WithMaxClaimLength(n int) Option {
	return func(s *Session) {
		s.maxClaimLength = n
	}
}

func WithEventSinks(sinks ...events.EventSink) Option {
	return func(s *Session) {
		s.sinks = append(s.sinks, sinks...)
	}
}

// WithFollowBranches controls whether switching branches also reveals the
// answers below the selected message.
func WithFollowBranches(follow bool) Option {
	return func(s *Session) {
		s.followBranches = follow
	}
}

func NewSession(verifier verify.Verifier, options ...Option) *Session {
	ret := &Session{
		verifier:       verifier,
		timeout:        DefaultTimeout,
		maxClaimLength: DefaultMaxClaimLength,
		followBranches: true,
		state:          StateIdle,
	}
	for _, o := range options {
		o(ret)
	}
	if ret.manager == nil {
		ret.manager = conversation.NewManager()
	}
	if ret.ChatID == "" {
		ret.ChatID = ret.manager.ConversationID.String()
	}

	if n := ret.manager.RecoverPending("Verification was interrupted. Please try again."); n > 0 {
		log.Info().Str("chat_id", ret.ChatID).Int("count", n).Msg("settled interrupted verifications")
	}

	return ret
}

// Snapshot returns the current tree. Snapshots are immutable.
func (s *Session) Snapshot() *conversation.ConversationTree {
	return s.manager.Tree()
}

// Messages returns the projection of the current path.
func (s *Session) Messages() conversation.Conversation {
	return conversation.Project(s.manager.Tree())
}

func (s *Session) Manager() *conversation.ManagerImpl {
	return s.manager
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active returns the in-flight request, or nil.
func (s *Session) Active() *Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Session) HasBranchHistory() bool {
	return s.manager.HasBranchHistory()
}

func (s *Session) Timeout() time.Duration {
	return s.timeout
}

func (s *Session) MaxClaimLength() int {
	return s.maxClaimLength
}

// ValidateClaim trims claim and checks it against the session's limits.
func (s *Session) ValidateClaim(claim string) (string, error) {
	claim = strings.TrimSpace(claim)
	if claim == "" {
		return "", ErrEmptyClaim
	}
	if s.maxClaimLength > 0 {
		if n := utf8.RuneCountInString(claim); n > s.maxClaimLength {
			return "", errors.Wrapf(ErrClaimTooLong, "%d characters, at most %d allowed", n, s.maxClaimLength)
		}
	}
	return claim, nil
}

func (s *Session) metadata(requestID uuid.UUID) events.EventMetadata {
	return events.EventMetadata{
		ChatID:    s.ChatID,
		RequestID: requestID,
		Version:   s.manager.Tree().Version,
		Time:      time.Now(),
	}
}

func (s *Session) publish(ctx context.Context, ev events.Event) {
	events.Publish(ev, s.sinks...)
	if ctx != nil {
		events.PublishEventToContext(ctx, ev)
	}
}

// Submit appends claim as a new user message, verifies it and appends the
// verdict. It blocks until the message is settled. Verification failures are
// not returned: they end up as an error verdict in the tree. The returned
// error is only set when the claim was rejected, in which case the tree is
// unchanged.
func (s *Session) Submit(ctx context.Context, claim string) (*conversation.ConversationTree, error) {
	req, err := s.Start(ctx, claim)
	if err != nil {
		return s.Snapshot(), err
	}
	_, _ = req.Wait()
	return s.Snapshot(), nil
}

// Start is the asynchronous form of Submit. It returns once the pending user
// message is in the tree.
func (s *Session) Start(ctx context.Context, claim string) (*Request, error) {
	claim, err := s.ValidateClaim(claim)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if err := s.checkIdleLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.state = StateSending
	msgID := s.manager.AddUserMessage(claim)
	req := s.launchLocked(ctx, msgID, claim)
	s.mu.Unlock()

	s.publish(ctx, events.NewUserMessageEvent(s.metadata(uuid.Nil), msgID, claim))
	s.run(req)
	return req, nil
}

// Retry submits the text of the last user message on the current path again,
// as a new message.
func (s *Session) Retry(ctx context.Context) (*conversation.ConversationTree, error) {
	req, err := s.StartRetry(ctx)
	if err != nil {
		return s.Snapshot(), err
	}
	_, _ = req.Wait()
	return s.Snapshot(), nil
}

func (s *Session) StartRetry(ctx context.Context) (*Request, error) {
	last := s.Messages().LastUserMessage()
	if last == nil {
		return nil, ErrNothingToRetry
	}
	return s.Start(ctx, last.Text)
}

// Edit forks the conversation at msgID with text without submitting it. The
// new message is a draft at the end of the current path.
func (s *Session) Edit(ctx context.Context, msgID conversation.NodeID, text string) (conversation.NodeID, error) {
	text, err := s.ValidateClaim(text)
	if err != nil {
		return conversation.NullNode, err
	}

	s.mu.Lock()
	if err := s.checkIdleLocked(); err != nil {
		s.mu.Unlock()
		return conversation.NullNode, err
	}
	newID, err := s.manager.EditMessage(msgID, text)
	s.mu.Unlock()
	if err != nil {
		return conversation.NullNode, err
	}

	s.publish(ctx, events.NewMessageEditedEvent(s.metadata(uuid.Nil), msgID, newID, text))
	return newID, nil
}

// SubmitEdit forks the conversation at msgID and verifies the new text.
func (s *Session) SubmitEdit(ctx context.Context, msgID conversation.NodeID, text string) (*conversation.ConversationTree, error) {
	req, err := s.StartEdit(ctx, msgID, text)
	if err != nil {
		return s.Snapshot(), err
	}
	_, _ = req.Wait()
	return s.Snapshot(), nil
}

func (s *Session) StartEdit(ctx context.Context, msgID conversation.NodeID, text string) (*Request, error) {
	text, err := s.ValidateClaim(text)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if err := s.checkIdleLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	newID, err := s.manager.EditMessage(msgID, text)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if err := s.manager.MarkPending(newID); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.state = StateSending
	req := s.launchLocked(ctx, newID, text)
	s.mu.Unlock()

	s.publish(ctx, events.NewMessageEditedEvent(s.metadata(uuid.Nil), msgID, newID, text))
	s.run(req)
	return req, nil
}

// SubmitDraft verifies a draft created by Edit. The draft must still end the
// current path.
func (s *Session) SubmitDraft(ctx context.Context, msgID conversation.NodeID) (*Request, error) {
	s.mu.Lock()
	if err := s.checkIdleLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	tree := s.manager.Tree()
	msg, ok := tree.GetMessageByID(msgID)
	if !ok {
		s.mu.Unlock()
		return nil, errors.Wrapf(conversation.ErrMessageNotFound, "submit %s", msgID)
	}
	if !msg.IsUser() || msg.Status != conversation.StatusDraft || tree.LastID() != msgID {
		s.mu.Unlock()
		return nil, ErrNotDraft
	}
	claim, err := s.ValidateClaim(msg.Text)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if err := s.manager.MarkPending(msgID); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.state = StateSending
	req := s.launchLocked(ctx, msgID, claim)
	s.mu.Unlock()

	s.run(req)
	return req, nil
}

// NavigateBranch shows the childIndex-th child of msgID. The previous path
// can be brought back with RestoreBranch.
func (s *Session) NavigateBranch(msgID conversation.NodeID, childIndex int) error {
	s.mu.Lock()
	if err := s.checkIdleLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.manager.NavigateBranch(msgID, childIndex); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.followBranches {
		if err := s.manager.FollowBranch(s.manager.Tree().LastID()); err != nil {
			log.Warn().Err(err).Str("chat_id", s.ChatID).Msg("could not follow branch")
		}
	}
	path := append([]conversation.NodeID(nil), s.manager.Tree().CurrentPath...)
	s.mu.Unlock()

	s.publish(nil, events.NewBranchSwitchedEvent(s.metadata(uuid.Nil), msgID, childIndex, path))
	return nil
}

// RestoreBranch brings back the path shown before the last branch switch.
func (s *Session) RestoreBranch() error {
	s.mu.Lock()
	if err := s.checkIdleLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.manager.RestoreBranch(); err != nil {
		s.mu.Unlock()
		return err
	}
	path := append([]conversation.NodeID(nil), s.manager.Tree().CurrentPath...)
	s.mu.Unlock()

	s.publish(nil, events.NewBranchRestoredEvent(s.metadata(uuid.Nil), path))
	return nil
}

// Cancel abandons the in-flight verification. Its message is settled with an
// error verdict right away and the late result, if any, is dropped.
func (s *Session) Cancel() error {
	s.mu.Lock()
	req := s.active
	if req == nil {
		s.mu.Unlock()
		return ErrNoActiveRequest
	}
	err := errors.Wrap(verify.ErrCanceled, "verification abandoned")
	verdictID, result := s.settleLocked(req, nil, err)
	s.mu.Unlock()

	// the starter may still be publishing; the failure must follow the start
	<-req.started
	s.publishSettled(req, verdictID, result, err)
	req.finish(verdictID, result, err)
	return nil
}

// Reset drops the conversation and any in-flight verification and starts a
// new, empty tree.
func (s *Session) Reset() {
	s.mu.Lock()
	req := s.active
	s.active = nil
	s.state = StateIdle
	s.manager.Reset()
	s.mu.Unlock()

	if req != nil {
		req.finish(conversation.NullNode, nil, errors.Wrap(verify.ErrCanceled, "chat was reset"))
	}
	s.publish(nil, events.NewChatResetEvent(s.metadata(uuid.Nil)))
}

func (s *Session) checkIdleLocked() error {
	if s.active != nil {
		return ErrSubmissionInFlight
	}
	if last, ok := s.manager.Tree().GetMessageByID(s.manager.Tree().LastID()); ok && last.IsUser() && last.Status == conversation.StatusPending {
		return ErrSubmissionInFlight
	}
	return nil
}

func (s *Session) launchLocked(ctx context.Context, msgID conversation.NodeID, claim string) *Request {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	req := newRequest(ctx, s.ChatID, msgID, claim, cancel)
	req.runCtx = runCtx
	s.active = req
	s.state = StateAwaitingResponse
	return req
}

func (s *Session) run(req *Request) {
	s.publish(req.ctx, events.NewVerificationStartedEvent(s.metadata(req.ID), req.MessageID, req.Claim))
	log.Debug().
		Str("chat_id", s.ChatID).
		Str("request_id", req.ID.String()).
		Str("message_id", req.MessageID.String()).
		Msg("verification started")

	req.markStarted()

	go func() {
		start := time.Now()
		result, err := s.verify(req)
		if err == nil && result == nil {
			err = errors.Wrap(verify.ErrProtocol, "verifier returned no result")
		}
		if err != nil && !errors.Is(err, verify.ErrTimeout) && errors.Is(req.runCtx.Err(), context.DeadlineExceeded) {
			err = errors.Wrap(verify.ErrTimeout, err.Error())
		}

		s.mu.Lock()
		if s.active != req {
			s.mu.Unlock()
			log.Debug().
				Str("chat_id", s.ChatID).
				Str("request_id", req.ID.String()).
				Msg("dropping result of abandoned verification")
			req.finish(conversation.NullNode, nil, errors.Wrap(verify.ErrCanceled, "verification abandoned"))
			return
		}
		verdictID, shown := s.settleLocked(req, result, err)
		s.mu.Unlock()

		log.Debug().
			Str("chat_id", s.ChatID).
			Str("request_id", req.ID.String()).
			Str("outcome", verify.Outcome(err)).
			Dur("duration", time.Since(start)).
			Msg("verification settled")

		s.publishSettled(req, verdictID, shown, err)
		req.finish(verdictID, shown, err)
	}()
}

type verifyOutcome struct {
	result *verify.Result
	err    error
}

// verify calls the verifier and returns no later than the end of
// req.runCtx, whether or not the verifier watches its context. A verifier
// that overruns is left to finish in the background and its answer is
// discarded.
func (s *Session) verify(req *Request) (*verify.Result, error) {
	done := make(chan verifyOutcome, 1)
	go func() {
		result, err := s.verifier.Verify(req.runCtx, req.Claim)
		done <- verifyOutcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-req.runCtx.Done():
	}

	// an answer that arrived together with the deadline still counts
	select {
	case o := <-done:
		return o.result, o.err
	default:
	}
	if errors.Is(req.runCtx.Err(), context.DeadlineExceeded) {
		return nil, errors.Wrap(verify.ErrTimeout, "verifier did not return in time")
	}
	return nil, errors.Wrap(verify.ErrCanceled, "verification abandoned")
}

// settleLocked appends the verdict for req and marks its message. The verdict
// lands under the message because structural changes are refused while the
// request is outstanding.
func (s *Session) settleLocked(req *Request, result *verify.Result, err error) (conversation.NodeID, *verify.Result) {
	isError := err != nil
	if isError {
		result = verify.NewErrorResult(verify.Describe(err, s.timeout))
	} else if result.IsError() {
		isError = true
	}
	verdictID := s.manager.AddVerdict(result, req.MessageID, isError)
	s.active = nil
	s.state = StateIdle
	return verdictID, result
}

func (s *Session) publishSettled(req *Request, verdictID conversation.NodeID, result *verify.Result, err error) {
	md := s.metadata(req.ID)
	if err != nil {
		s.publish(req.ctx, events.NewVerificationFailedEvent(md, req.MessageID, verdictID, verify.Outcome(err), result.Conclusion))
		return
	}
	s.publish(req.ctx, events.NewVerificationFinishedEvent(md, req.MessageID, verdictID, result))
}
