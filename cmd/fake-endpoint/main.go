// ABOUTME: Minimal fake endpoint agent for E2E testing — connects via WebSocket and answers commands.
// ABOUTME: Usage: fake-endpoint [-addr localhost:8080] [-id e2e-endpoint] [-hostname WIN-E2E]

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/warden-hq/warden-gateway/internal/protocol"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "gateway HTTP address")
	agentID := flag.String("id", "e2e-endpoint", "agent id")
	hostname := flag.String("hostname", "WIN-E2E", "reported hostname")
	flag.Parse()

	if err := run(*addr, *agentID, *hostname); err != nil {
		log.Fatal(err)
	}
}

func run(addr, agentID, hostname string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	url := fmt.Sprintf("ws://%s/ws/agent", addr)
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer ws.Close()

	// Writes come from the command loop and the heartbeat ticker.
	var writeMu sync.Mutex
	send := func(raw []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return ws.WriteMessage(websocket.TextMessage, raw)
	}

	reg, err := protocol.EncodeRegister(&protocol.RegisterFrame{
		AgentID:  agentID,
		Hostname: hostname,
		OS:       "windows",
		Version:  "fake-0.1",
	})
	if err != nil {
		return fmt.Errorf("encoding register: %w", err)
	}
	if err := send(reg); err != nil {
		return fmt.Errorf("failed to register: %w", err)
	}

	// Receive welcome
	_, raw, err := ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to receive welcome: %w", err)
	}
	frame, err := protocol.DecodeFrame(raw)
	if err != nil || frame.Kind != protocol.KindWelcome {
		return fmt.Errorf("expected welcome, got: %s", raw)
	}
	fmt.Fprintf(os.Stderr, "registered as %s (server: %s)\n", agentID, frame.Welcome.ServerID)

	// Heartbeat loop
	go func() {
		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				hb, err := protocol.EncodeHeartbeat(&protocol.HeartbeatFrame{})
				if err != nil {
					continue
				}
				if err := send(hb); err != nil {
					return
				}
			}
		}
	}()

	// Drop the socket when the signal context fires so ReadMessage unblocks.
	go func() {
		<-ctx.Done()
		ws.Close()
	}()

	// Command loop
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil // graceful shutdown
			}
			return fmt.Errorf("recv error: %w", err)
		}

		frame, err := protocol.DecodeFrame(raw)
		if err != nil {
			log.Printf("decode error: %v", err)
			continue
		}
		if frame.Kind != protocol.KindCommand {
			continue
		}
		cmd := frame.Command

		log.Printf("received command [%s]: %s", cmd.CommandID, cmd.Command)

		// Small delay to simulate execution
		started := time.Now()
		time.Sleep(50 * time.Millisecond)

		output, errMsg := fakeExecute(cmd.Command)
		reply, err := protocol.EncodeResult(&protocol.ResultFrame{
			CommandID:  cmd.CommandID,
			Success:    errMsg == "",
			Output:     output,
			Error:      errMsg,
			DurationMS: time.Since(started).Milliseconds(),
		})
		if err != nil {
			log.Printf("encode error: %v", err)
			continue
		}
		if err := send(reply); err != nil {
			log.Printf("send result error: %v", err)
		}
	}
}

func fakeExecute(command string) (output, errMsg string) {
	lower := strings.ToLower(command)
	switch {
	case strings.Contains(lower, "fail"):
		return "", "The term '" + command + "' is not recognized as the name of a cmdlet."
	case strings.Contains(lower, "get-date"):
		return time.Now().Format("Monday, January 2, 2006 3:04:05 PM"), ""
	case strings.Contains(lower, "hostname"):
		return "WIN-E2E", ""
	default:
		return fmt.Sprintf("Echo: %s", command), ""
	}
}
