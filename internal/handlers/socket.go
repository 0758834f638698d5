package handlers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/fitpulse/pulse/internal/access"
	"github.com/fitpulse/pulse/internal/api/middleware"
)

const (
	socketWriteWait  = 10 * time.Second
	socketPongWait   = 60 * time.Second
	socketPingPeriod = socketPongWait * 9 / 10
	socketReadLimit  = 1024

	// Inbound frames per second per connection, with a small burst for
	// start/stop pairs.
	socketFrameRate  = 5
	socketFrameBurst = 5
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Callers are identified by header, not cookies
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SocketFrame is the envelope for frames in both directions. Server frames
// carry Data; client frames carry IsTyping.
type SocketFrame struct {
	Type     string      `json:"type"`
	Data     interface{} `json:"data,omitempty"`
	IsTyping *bool       `json:"is_typing,omitempty"`
}

// ConversationSocket pushes new messages and the counterpart's typing
// transitions over one WebSocket, and accepts typing frames from the caller.
// Typing frames are dropped when the relationship is not active or the
// caller exceeds the frame rate.
func (h *Handler) ConversationSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callerID := middleware.CallerID(ctx)
	conversationID := chi.URLParam(r, "id")

	if !h.gate.Authorize(ctx, callerID, conversationID, access.Read) {
		h.Error(w, http.StatusForbidden, "not allowed to read this conversation")
		return
	}
	canWrite := h.gate.Authorize(ctx, callerID, conversationID, access.Write)

	// Hijacked connections are not cancelled with the request
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	messages, err := h.messages.Watch(ctx, conversationID, h.streamInterval)
	if err != nil {
		h.StoreError(w, err, "failed to open message stream")
		return
	}
	typing, err := h.typing.Watch(ctx, conversationID, h.streamInterval)
	if err != nil {
		h.StoreError(w, err, "failed to open typing stream")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := h.logger.With().
		Str("conversation_id", conversationID).
		Str("caller_id", callerID).
		Logger()
	log.Debug().Msg("websocket connected")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		limiter := rate.NewLimiter(rate.Limit(socketFrameRate), socketFrameBurst)

		conn.SetReadLimit(socketReadLimit)
		_ = conn.SetReadDeadline(time.Now().Add(socketPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(socketPongWait))
		})

		for {
			var frame SocketFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return err
			}
			if frame.Type != "typing" || frame.IsTyping == nil {
				continue
			}
			if !canWrite || !limiter.Allow() {
				continue
			}
			if err := h.typing.SetTyping(gctx, conversationID, callerID, *frame.IsTyping); err != nil {
				log.Warn().Err(err).Msg("websocket typing update failed")
			}
		}
	})

	g.Go(func() error {
		// Unblocks the reader once the writer is done
		defer conn.Close()

		ping := time.NewTicker(socketPingPeriod)
		defer ping.Stop()

		for {
			var frame SocketFrame
			select {
			case <-gctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(socketWriteWait))
				return nil
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(socketWriteWait)); err != nil {
					return err
				}
				continue
			case ev, ok := <-messages:
				if !ok {
					return nil
				}
				frame = SocketFrame{Type: "message", Data: ev}
			case ev, ok := <-typing:
				if !ok {
					return nil
				}
				if ev.ActorID == callerID {
					continue
				}
				frame = SocketFrame{Type: "typing", Data: ev}
			}

			_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := conn.WriteJSON(frame); err != nil {
				return err
			}
		}
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, net.ErrClosed) &&
		!websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		log.Debug().Err(err).Msg("websocket closed with error")
		return
	}
	log.Debug().Msg("websocket disconnected")
}
