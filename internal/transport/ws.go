// ABOUTME: WebSocket transport for agent connections — upgrade, handshake, pumps.
// ABOUTME: Presents each socket to the dispatch core as a plain duplex channel.

package transport

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/warden-hq/warden-gateway/internal/agent"
	"github.com/warden-hq/warden-gateway/internal/dispatch"
	"github.com/warden-hq/warden-gateway/internal/protocol"
)

const (
	maxMessageSize = 256 * 1024
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	writeWait      = 10 * time.Second
	registerWait   = 10 * time.Second
	sendQueueDepth = 64
)

// WSServer accepts agent WebSocket attachments and bridges them to the
// orchestrator. Protocol flow:
//
//  1. Agent connects and sends a register frame
//  2. Server replies with a welcome frame and installs the connection
//  3. Inbound frames feed Orchestrator.OnInboundFrame
//  4. Read loop exit triggers Orchestrator.OnDisconnect
type WSServer struct {
	orch     *dispatch.Orchestrator
	serverID string
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewWSServer creates the agent attach endpoint handler.
func NewWSServer(orch *dispatch.Orchestrator, serverID string, logger *slog.Logger) *WSServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSServer{
		orch:     orch,
		serverID: serverID,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Agents authenticate out of band; the gateway is not a
			// browser-facing endpoint.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and runs the connection to completion.
func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	reg, err := s.awaitRegister(ws)
	if err != nil {
		s.logger.Warn("agent handshake failed", "remote", r.RemoteAddr, "error", err)
		ws.Close()
		return
	}

	ch := newWSChannel(ws)
	conn := agent.NewConnection(agent.ConnectionParams{
		ID:       reg.AgentID,
		Hostname: reg.Hostname,
		OS:       reg.OS,
		Version:  reg.Version,
		Channel:  ch,
		Logger:   s.logger.With("agent_id", reg.AgentID),
	})

	s.orch.Attach(conn)

	welcome, err := protocol.EncodeWelcome(&protocol.WelcomeFrame{
		ServerID: s.serverID,
		AgentID:  reg.AgentID,
	})
	if err == nil {
		err = ch.Send(welcome)
	}
	if err != nil {
		s.logger.Error("sending welcome", "agent_id", reg.AgentID, "error", err)
		s.orch.OnDisconnect(reg.AgentID, conn)
		ch.Close()
		return
	}

	go ch.writePump(s.logger)
	s.readPump(ws, ch, conn)
}

// awaitRegister reads and validates the mandatory first frame.
func (s *WSServer) awaitRegister(ws *websocket.Conn) (*protocol.RegisterFrame, error) {
	ws.SetReadLimit(maxMessageSize)
	if err := ws.SetReadDeadline(time.Now().Add(registerWait)); err != nil {
		return nil, fmt.Errorf("setting handshake deadline: %w", err)
	}

	_, raw, err := ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading register frame: %w", err)
	}

	frame, err := protocol.DecodeFrame(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding register frame: %w", err)
	}
	if frame.Kind != protocol.KindRegister {
		return nil, fmt.Errorf("first frame must be register, got %s", frame.Kind)
	}
	if frame.Register.AgentID == "" {
		return nil, fmt.Errorf("register frame missing agent_id")
	}
	return frame.Register, nil
}

// readPump feeds inbound frames to the orchestrator until the socket
// drops, then reports the disconnect.
func (s *WSServer) readPump(ws *websocket.Conn, ch *wsChannel, conn *agent.Connection) {
	defer func() {
		s.orch.OnDisconnect(conn.ID, conn)
		ch.Close()
	}()

	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		conn.Touch()
		return nil
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read error", "agent_id", conn.ID, "error", err)
			} else {
				s.logger.Info("agent socket closed", "agent_id", conn.ID)
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))
		s.orch.OnInboundFrame(conn.ID, raw)
	}
}

// wsChannel adapts a gorilla socket to the agent.Channel contract. All
// writes funnel through the send queue so a single writer owns the socket.
type wsChannel struct {
	ws     *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

func newWSChannel(ws *websocket.Conn) *wsChannel {
	return &wsChannel{
		ws:     ws,
		sendCh: make(chan []byte, sendQueueDepth),
		done:   make(chan struct{}),
	}
}

// Send queues one frame for the write pump. A closed or saturated channel
// reports an error so the dispatcher can fail fast.
func (c *wsChannel) Send(raw []byte) error {
	select {
	case <-c.done:
		return fmt.Errorf("connection closed")
	default:
	}

	select {
	case c.sendCh <- raw:
		return nil
	case <-c.done:
		return fmt.Errorf("connection closed")
	default:
		return fmt.Errorf("send queue full")
	}
}

// Close is idempotent; it stops the write pump and closes the socket.
func (c *wsChannel) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
	return nil
}

// writePump owns all socket writes: queued frames plus keepalive pings.
func (c *wsChannel) writePump(logger *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case raw := <-c.sendCh:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
				logger.Warn("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
