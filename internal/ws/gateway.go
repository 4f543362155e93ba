package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shared-terminal/backend/internal/model"
	"github.com/shared-terminal/backend/internal/registry"
	"github.com/shared-terminal/backend/internal/router"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Extension surfaces connect from extension origins; tighten
		// per deployment.
		return true
	},
}

// Gateway accepts client connections and maps wire messages onto the
// registry and router.
type Gateway struct {
	reg *registry.Registry
	rtr *router.Router
}

// NewGateway creates a gateway over the given registry and router.
func NewGateway(reg *registry.Registry, rtr *router.Router) *Gateway {
	return &Gateway{reg: reg, rtr: rtr}
}

// HandleConnection upgrades the HTTP request and serves the connection
// until the peer goes away. Every terminal the connection owns is released
// on disconnect, which detaches persistent terminals and closes ephemeral
// ones left with no viewers.
func (g *Gateway) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(conn)
	go g.writePump(client)
	g.readPump(client)
	return nil
}

func (g *Gateway) readPump(client *Client) {
	defer func() {
		g.rtr.ReleaseAll(client)
		client.Close()
		client.Conn().Close()
	}()

	client.Conn().SetReadLimit(maxMessageSize)
	client.Conn().SetReadDeadline(time.Now().Add(pongWait))
	client.Conn().SetPongHandler(func(string) error {
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket error: %v", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			client.SendError("", "malformed message")
			continue
		}

		g.dispatch(client, &msg)
	}
}

func (g *Gateway) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	for {
		select {
		case message, ok := <-client.SendChan():
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One message per frame so the client can JSON-parse
			// each frame independently.
			if err := client.Conn().WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch routes one inbound message. The switch covers the full
// client-to-server message set; anything else is rejected.
func (g *Gateway) dispatch(client *Client, msg *Message) {
	switch msg.Type {
	case MessageTypeSpawn:
		// Spawn is the one slow operation; keep the read loop free.
		go g.handleSpawn(client, msg)
	case MessageTypeAttach:
		if err := g.rtr.Attach(msg.TerminalID, client, msg.SinceOffset); err != nil {
			client.SendError(msg.RequestID, reason(err))
		}
	case MessageTypeRelease:
		if err := g.rtr.Release(msg.TerminalID, client); err != nil {
			client.SendError(msg.RequestID, reason(err))
		}
	case MessageTypeClose:
		if err := g.rtr.ForceClose(msg.TerminalID); err != nil {
			client.SendError(msg.RequestID, reason(err))
		}
	case MessageTypeInput:
		if err := g.rtr.Input(msg.TerminalID, client, []byte(msg.Data)); err != nil {
			client.SendError(msg.RequestID, reason(err))
		}
	case MessageTypeResize:
		if err := g.rtr.Resize(msg.TerminalID, client, msg.Cols, msg.Rows); err != nil {
			client.SendError(msg.RequestID, reason(err))
		}
	case MessageTypeList:
		client.SendMessage(&Message{
			Type:      MessageTypeList,
			Terminals: g.reg.List(),
		})
	default:
		client.SendError(msg.RequestID, "unknown message type")
	}
}

func (g *Gateway) handleSpawn(client *Client, msg *Message) {
	if msg.Config == nil {
		client.SendError(msg.RequestID, "spawn requires a config")
		return
	}

	t, err := g.reg.Spawn(context.Background(), *msg.Config, msg.RequestID)
	if err != nil {
		client.SendError(msg.RequestID, reason(err))
		return
	}

	// Start the single output pump for the new terminal so output emitted
	// before the first attach lands in the resume buffer.
	if ad, err := g.reg.Adapter(t.ID); err == nil {
		g.rtr.StartPump(t.ID, ad)
	}

	client.SendMessage(&Message{
		Type:      MessageTypeSpawned,
		RequestID: msg.RequestID,
		Terminal:  t,
	})
}

// reason maps registry/router errors to wire error strings.
func reason(err error) string {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return "terminal not found"
	case errors.Is(err, model.ErrUnauthorized):
		return "not attached to terminal"
	case errors.Is(err, model.ErrLaunchFailure):
		return err.Error()
	case errors.Is(err, model.ErrProcessClosed):
		return "terminal process is closed"
	default:
		return err.Error()
	}
}
