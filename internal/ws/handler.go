package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gwentcup/draft-backend/internal/hub"
	"github.com/gwentcup/draft-backend/internal/lobby"
	"github.com/gwentcup/draft-backend/internal/store"
	"github.com/gwentcup/draft-backend/internal/types"
)

const writeTimeout = 3 * time.Second

// Handler upgrades /ws?code=XXXXXX, parks the connection in that session's
// room, and shuttles wire messages both ways. Per-connection ordering is the
// read loop's; cross-player ordering is the room actor's.
func Handler(h *hub.Hub, sessions store.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := store.NormalizeCode(r.URL.Query().Get("code"))
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}

		// Rooms only exist for sessions the store knows about.
		if _, err := sessions.Get(r.Context(), code); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				http.Error(w, "lobby not found", http.StatusNotFound)
				return
			}
			http.Error(w, "session lookup failed", http.StatusInternalServerError)
			return
		}

		reply := make(chan *lobby.Lobby, 1)
		h.Inbox() <- hub.EnsureRoom{Code: code, Reply: reply}
		room := <-reply

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			log.Warn("websocket accept failed", zap.String("code", code), zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		connID := uuid.NewString()
		out := make(chan types.ServerMessage, 16)

		room.Inbox() <- lobby.Join{ConnID: connID, Outbox: out}
		defer func() { room.Inbox() <- lobby.Leave{ConnID: connID} }()

		// Writer goroutine: drains the room's outbox until it closes.
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for msg := range out {
				payload, err := json.Marshal(msg)
				if err != nil {
					log.Error("encode server message", zap.Error(err))
					continue
				}
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				_ = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
			}
		}()

		// Reader loop: per-connection ordering guarantee lives here.
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				return
			}

			var msg types.ClientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				writeError(r.Context(), conn, "bad json")
				continue
			}
			if msg.Type == "" {
				writeError(r.Context(), conn, "missing action type")
				continue
			}

			room.Inbox() <- lobby.FromClient{ConnID: connID, Msg: msg}
		}
	}
}

func writeError(ctx context.Context, conn *websocket.Conn, message string) {
	payload, _ := json.Marshal(types.ServerMessage{Type: types.EventError, Message: message})
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, payload)
}
