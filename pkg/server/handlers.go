package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-go-golems/verinews/pkg/chat"
	"github.com/go-go-golems/verinews/pkg/conversation"
	"github.com/go-go-golems/verinews/pkg/store"
	"github.com/go-go-golems/verinews/pkg/verify"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type MessageView struct {
	ID       conversation.NodeID `json:"id"`
	ParentID conversation.NodeID `json:"parentId"`
	Role     conversation.Role   `json:"role"`
	Text     string              `json:"text,omitempty"`
	Status   conversation.Status `json:"status,omitempty"`
	Result   *verify.Result      `json:"result,omitempty"`
	Time     time.Time           `json:"time"`

	// BranchIndex and BranchCount place the message among its siblings.
	BranchIndex int `json:"branchIndex"`
	BranchCount int `json:"branchCount"`
}

type ChatView struct {
	ChatID         string        `json:"chatId"`
	Version        int64         `json:"version"`
	State          chat.State    `json:"state"`
	CanRestore     bool          `json:"canRestore"`
	MaxClaimLength int           `json:"maxClaimLength"`
	RequestID      string        `json:"requestId,omitempty"`
	Messages       []MessageView `json:"messages"`
}

func newChatView(s *chat.Session, req *chat.Request) ChatView {
	tree := s.Snapshot()
	branches := conversation.ProjectBranches(tree)

	ret := ChatView{
		ChatID:         s.ChatID,
		Version:        tree.Version,
		State:          s.State(),
		CanRestore:     s.HasBranchHistory(),
		MaxClaimLength: s.MaxClaimLength(),
		Messages:       make([]MessageView, 0, len(branches)),
	}
	if req != nil && req.IsRunning() {
		ret.RequestID = req.ID.String()
	}
	for _, b := range branches {
		ret.Messages = append(ret.Messages, MessageView{
			ID:          b.Message.ID,
			ParentID:    b.Message.ParentID,
			Role:        b.Message.Role,
			Text:        b.Message.Text,
			Status:      b.Message.Status,
			Result:      b.Message.Result,
			Time:        b.Message.Time,
			BranchIndex: b.Index,
			BranchCount: b.Count,
		})
	}
	return ret
}

type submitRequest struct {
	Text string `json:"text"`
}

type editRequest struct {
	Text   string `json:"text"`
	Submit bool   `json:"submit"`
}

// httpError maps domain errors to HTTP status codes.
func httpError(err error) error {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, conversation.ErrMessageNotFound):
		code = http.StatusNotFound
	case errors.Is(err, chat.ErrSubmissionInFlight),
		errors.Is(err, chat.ErrNoActiveRequest),
		errors.Is(err, chat.ErrNotDraft),
		errors.Is(err, conversation.ErrNoBranchHistory):
		code = http.StatusConflict
	case errors.Is(err, chat.ErrEmptyClaim),
		errors.Is(err, chat.ErrClaimTooLong),
		errors.Is(err, chat.ErrNothingToRetry),
		errors.Is(err, conversation.ErrNotUserMessage),
		errors.Is(err, conversation.ErrBranchOutOfRange):
		code = http.StatusBadRequest
	}
	return echo.NewHTTPError(code, err.Error()).SetInternal(err)
}

func (s *Server) session(c echo.Context) (*chat.Session, error) {
	sess, err := s.registry.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return nil, httpError(err)
	}
	return sess, nil
}

func messageID(c echo.Context) (conversation.NodeID, error) {
	id, err := conversation.ParseNodeID(c.Param("msgId"))
	if err != nil {
		return conversation.NullNode, echo.NewHTTPError(http.StatusBadRequest, "invalid message id").SetInternal(err)
	}
	return id, nil
}

// verificationContext detaches a verification from the HTTP request that
// started it, so that it outlives the response.
func verificationContext(c echo.Context) context.Context {
	return context.WithoutCancel(c.Request().Context())
}

// respondStarted answers 202 right away, or waits for the verdict when the
// client asked for ?wait=true.
func respondStarted(c echo.Context, sess *chat.Session, req *chat.Request) error {
	if wait, _ := strconv.ParseBool(c.QueryParam("wait")); wait {
		select {
		case <-req.Done():
		case <-c.Request().Context().Done():
			return c.Request().Context().Err()
		}
		return c.JSON(http.StatusOK, newChatView(sess, req))
	}
	return c.JSON(http.StatusAccepted, newChatView(sess, req))
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.registry.Ping(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "store unavailable").SetInternal(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": "ok",
		"chats":  s.registry.Len(),
	})
}

func (s *Server) handleCreateChat(c echo.Context) error {
	sess, err := s.registry.Create(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, newChatView(sess, nil))
}

func (s *Server) handleGetChat(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newChatView(sess, sess.Active()))
}

func (s *Server) handleDeleteChat(c echo.Context) error {
	if err := s.registry.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSubmit(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	var body submitRequest
	if err := c.Bind(&body); err != nil {
		return err
	}
	req, err := sess.Start(verificationContext(c), body.Text)
	if err != nil {
		return httpError(err)
	}
	return respondStarted(c, sess, req)
}

func (s *Server) handleRetry(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	req, err := sess.StartRetry(verificationContext(c))
	if err != nil {
		return httpError(err)
	}
	return respondStarted(c, sess, req)
}

func (s *Server) handleEdit(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	msgID, err := messageID(c)
	if err != nil {
		return err
	}
	var body editRequest
	if err := c.Bind(&body); err != nil {
		return err
	}

	if body.Submit {
		req, err := sess.StartEdit(verificationContext(c), msgID, body.Text)
		if err != nil {
			return httpError(err)
		}
		return respondStarted(c, sess, req)
	}

	if _, err := sess.Edit(c.Request().Context(), msgID, body.Text); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, newChatView(sess, nil))
}

func (s *Server) handleSubmitDraft(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	msgID, err := messageID(c)
	if err != nil {
		return err
	}
	req, err := sess.SubmitDraft(verificationContext(c), msgID)
	if err != nil {
		return httpError(err)
	}
	return respondStarted(c, sess, req)
}

func (s *Server) handleNavigate(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	msgID, err := messageID(c)
	if err != nil {
		return err
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid branch index").SetInternal(err)
	}
	if err := sess.NavigateBranch(msgID, index); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, newChatView(sess, nil))
}

func (s *Server) handleRestore(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	if err := sess.RestoreBranch(); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, newChatView(sess, nil))
}

func (s *Server) handleCancel(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	if err := sess.Cancel(); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, newChatView(sess, nil))
}

func (s *Server) handleReset(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	sess.Reset()
	return c.JSON(http.StatusOK, newChatView(sess, nil))
}
