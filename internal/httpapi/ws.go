package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tmarchini/personaforge/internal/inference"
	"github.com/tmarchini/personaforge/internal/protocol"
	"github.com/tmarchini/personaforge/internal/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
)

// handleChatWS upgrades one websocket connection and runs the chat loop for
// an existing session. Assistant replies stream out as assistant_delta
// fragments followed by a closing assistant_turn_end.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if _, err := s.sessions.Get(sessionID); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 64)
	outbound := make(chan any, 64)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		s.runChat(ctx, sessionID, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Retryable: false,
				Detail:    err.Error(),
			}
			select {
			case outbound <- errEvent:
			default:
				// Writes stay single-threaded; drop when the queue is full.
			}
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

// runChat consumes parsed client messages and executes turns sequentially.
// One message at a time keeps transcript order stable for the connection.
func (s *Server) runChat(ctx context.Context, sessionID string, inbound <-chan any, outbound chan<- any) {
	defer close(outbound)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			switch m := msg.(type) {
			case protocol.UserMessage:
				s.runWSTurn(ctx, sessionID, m.Text, outbound)
			case protocol.ClientControl:
				if m.Action == "end_session" {
					if _, err := s.sessions.End(sessionID); err == nil {
						s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
						s.metrics.SessionEvents.WithLabelValues("ended").Inc()
					}
					send(ctx, outbound, protocol.SystemEvent{
						Type:      protocol.TypeSystemEvent,
						SessionID: sessionID,
						Code:      "session_ended",
					})
					return
				}
			}
		}
	}
}

func (s *Server) runWSTurn(ctx context.Context, sessionID, text string, outbound chan<- any) {
	turnID := uuid.NewString()
	streamed := false

	onDelta := func(delta string) error {
		streamed = true
		send(ctx, outbound, protocol.AssistantDelta{
			Type:      protocol.TypeAssistantDelta,
			SessionID: sessionID,
			TurnID:    turnID,
			TextDelta: delta,
		})
		return ctx.Err()
	}

	reply, err := s.runner.RunTurn(ctx, sessionID, text, onDelta)
	if err != nil {
		kind := inference.KindOf(err)
		code := string(kind)
		retryable := false
		if kind != "" {
			s.metrics.InferenceErrors.WithLabelValues(code).Inc()
			var infErr *inference.Error
			if errors.As(err, &infErr) {
				retryable = infErr.Retryable()
			}
		} else {
			code = "turn_failed"
			if errors.Is(err, session.ErrEnded) {
				code = "session_ended"
			}
		}
		send(ctx, outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      code,
			Retryable: retryable,
			Detail:    err.Error(),
		})
		return
	}

	reason := "complete"
	if !streamed {
		reason = "unstreamed"
	}
	send(ctx, outbound, protocol.AssistantTurnEnd{
		Type:      protocol.TypeAssistantTurnEnd,
		SessionID: sessionID,
		TurnID:    turnID,
		Text:      reply,
		Reason:    reason,
	})
}

func send(ctx context.Context, outbound chan<- any, msg any) {
	select {
	case <-ctx.Done():
	case outbound <- msg:
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.UserMessage:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.AssistantDelta:
		return m.Type, true
	case protocol.AssistantTurnEnd:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
