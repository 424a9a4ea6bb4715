// ABOUTME: Wire frame definitions and JSON codec for gateway<->agent traffic.
// ABOUTME: Frames are type-tagged JSON objects so new fields never break older peers.

package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// FrameKind identifies the type of a wire frame.
type FrameKind string

const (
	KindRegister     FrameKind = "register"
	KindWelcome      FrameKind = "welcome"
	KindCommand      FrameKind = "command"
	KindResult       FrameKind = "result"
	KindHeartbeat    FrameKind = "heartbeat"
	KindStatusUpdate FrameKind = "status_update"

	// KindUnhandled is never sent on the wire. Decode assigns it to frames
	// whose type field names a kind this gateway does not know, so newer
	// agents can speak to older gateways without the connection being torn
	// down.
	KindUnhandled FrameKind = "unhandled"
)

// CommandFrame instructs an agent to run a command.
// Timeouts are expressed in whole seconds.
type CommandFrame struct {
	Type           string `json:"type"`
	CommandID      string `json:"command_id"`
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	RunAsAdmin     bool   `json:"run_as_admin"`
	CreatedAt      int64  `json:"created_at_ms"`
}

// ResultFrame reports the outcome of a previously dispatched command.
// Durations are expressed in milliseconds.
type ResultFrame struct {
	Type       string `json:"type"`
	CommandID  string `json:"command_id"`
	Success    bool   `json:"success"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	FinishedAt int64  `json:"finished_at_ms"`
}

// RegisterFrame is the first frame an agent must send after connecting.
type RegisterFrame struct {
	Type     string `json:"type"`
	AgentID  string `json:"agent_id"`
	Hostname string `json:"hostname,omitempty"`
	OS       string `json:"os,omitempty"`
	Version  string `json:"version,omitempty"`
}

// WelcomeFrame acknowledges a successful registration.
type WelcomeFrame struct {
	Type     string `json:"type"`
	ServerID string `json:"server_id"`
	AgentID  string `json:"agent_id"`
}

// HeartbeatFrame keeps the connection's last-activity timestamp fresh.
type HeartbeatFrame struct {
	Type        string `json:"type"`
	TimestampMS int64  `json:"timestamp_ms"`
}

// StatusUpdateFrame carries refreshed agent metadata for dashboards.
type StatusUpdateFrame struct {
	Type     string `json:"type"`
	Hostname string `json:"hostname,omitempty"`
	OS       string `json:"os,omitempty"`
	Version  string `json:"version,omitempty"`
}

// Frame is the decoded form of an inbound wire frame. Exactly one of the
// payload pointers is non-nil for known kinds; Unhandled frames keep the raw
// bytes and the unrecognized type string.
type Frame struct {
	Kind FrameKind

	Register     *RegisterFrame
	Welcome      *WelcomeFrame
	Command      *CommandFrame
	Result       *ResultFrame
	Heartbeat    *HeartbeatFrame
	StatusUpdate *StatusUpdateFrame

	// Raw holds the original bytes for unhandled kinds.
	Raw     json.RawMessage
	RawType string
}

// ParseError indicates an inbound frame could not be decoded. Callers log
// and drop the frame; a parse failure never tears down the connection.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("protocol: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// typeProbe extracts only the type tag so the full payload can be decoded
// into the right struct afterwards.
type typeProbe struct {
	Type string `json:"type"`
}

// EncodeCommand serializes a CommandFrame for transmission.
func EncodeCommand(f *CommandFrame) ([]byte, error) {
	f.Type = string(KindCommand)
	if f.CreatedAt == 0 {
		f.CreatedAt = time.Now().UnixMilli()
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encoding command frame: %w", err)
	}
	return data, nil
}

// EncodeResult serializes a ResultFrame. Used by agent-side implementations
// such as cmd/fake-endpoint.
func EncodeResult(f *ResultFrame) ([]byte, error) {
	f.Type = string(KindResult)
	if f.FinishedAt == 0 {
		f.FinishedAt = time.Now().UnixMilli()
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encoding result frame: %w", err)
	}
	return data, nil
}

// EncodeRegister serializes a RegisterFrame.
func EncodeRegister(f *RegisterFrame) ([]byte, error) {
	f.Type = string(KindRegister)
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encoding register frame: %w", err)
	}
	return data, nil
}

// EncodeWelcome serializes a WelcomeFrame.
func EncodeWelcome(f *WelcomeFrame) ([]byte, error) {
	f.Type = string(KindWelcome)
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encoding welcome frame: %w", err)
	}
	return data, nil
}

// EncodeHeartbeat serializes a HeartbeatFrame.
func EncodeHeartbeat(f *HeartbeatFrame) ([]byte, error) {
	f.Type = string(KindHeartbeat)
	if f.TimestampMS == 0 {
		f.TimestampMS = time.Now().UnixMilli()
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encoding heartbeat frame: %w", err)
	}
	return data, nil
}

// DecodeFrame parses raw bytes into a typed Frame. Unknown type tags are
// preserved as KindUnhandled rather than rejected. A missing or empty type
// tag, or malformed JSON, returns a *ParseError.
func DecodeFrame(raw []byte) (*Frame, error) {
	var probe typeProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, &ParseError{Reason: "malformed frame", Err: err}
	}
	if probe.Type == "" {
		return nil, &ParseError{Reason: "frame missing type field"}
	}

	frame := &Frame{Kind: FrameKind(probe.Type)}

	switch frame.Kind {
	case KindRegister:
		frame.Register = &RegisterFrame{}
		if err := json.Unmarshal(raw, frame.Register); err != nil {
			return nil, &ParseError{Reason: "malformed register frame", Err: err}
		}
	case KindCommand:
		frame.Command = &CommandFrame{}
		if err := json.Unmarshal(raw, frame.Command); err != nil {
			return nil, &ParseError{Reason: "malformed command frame", Err: err}
		}
	case KindResult:
		frame.Result = &ResultFrame{}
		if err := json.Unmarshal(raw, frame.Result); err != nil {
			return nil, &ParseError{Reason: "malformed result frame", Err: err}
		}
		if frame.Result.CommandID == "" {
			return nil, &ParseError{Reason: "result frame missing command_id"}
		}
	case KindHeartbeat:
		frame.Heartbeat = &HeartbeatFrame{}
		if err := json.Unmarshal(raw, frame.Heartbeat); err != nil {
			return nil, &ParseError{Reason: "malformed heartbeat frame", Err: err}
		}
	case KindStatusUpdate:
		frame.StatusUpdate = &StatusUpdateFrame{}
		if err := json.Unmarshal(raw, frame.StatusUpdate); err != nil {
			return nil, &ParseError{Reason: "malformed status_update frame", Err: err}
		}
	case KindWelcome:
		frame.Welcome = &WelcomeFrame{}
		if err := json.Unmarshal(raw, frame.Welcome); err != nil {
			return nil, &ParseError{Reason: "malformed welcome frame", Err: err}
		}
	default:
		frame.RawType = probe.Type
		frame.Kind = KindUnhandled
		frame.Raw = append(json.RawMessage(nil), raw...)
	}

	return frame, nil
}
