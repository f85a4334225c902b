package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// handleEvents streams the events of one chat as server-sent events until the
// client goes away.
func (s *Server) handleEvents(c echo.Context) error {
	if s.router == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "event streaming is disabled")
	}
	sess, err := s.session(c)
	if err != nil {
		return err
	}

	// the subscription ends with the handler so it never holds up publishers
	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	evs, err := s.router.SubscribeChat(ctx, sess.ChatID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "subscribing to chat events").SetInternal(err)
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	log.Debug().Str("chat_id", sess.ChatID).Msg("event stream opened")
	defer log.Debug().Str("chat_id", sess.ChatID).Msg("event stream closed")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return nil
			}
			w.Flush()
		case ev, ok := <-evs:
			if !ok {
				return nil
			}
			payload := ev.Payload()
			if len(payload) == 0 {
				payload, err = json.Marshal(ev)
				if err != nil {
					log.Warn().Err(err).Msg("could not encode chat event")
					continue
				}
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type(), payload); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}
