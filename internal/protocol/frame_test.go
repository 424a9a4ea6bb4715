// ABOUTME: Tests for the wire frame codec.
// ABOUTME: Covers encode/decode symmetry, unknown-kind tolerance, and parse failures.

package protocol

import (
	"errors"
	"testing"
)

func TestEncodeCommand(t *testing.T) {
	t.Run("produces a type-tagged frame", func(t *testing.T) {
		raw, err := EncodeCommand(&CommandFrame{
			CommandID:      "cmd-1",
			Command:        "Get-Process",
			TimeoutSeconds: 30,
			RunAsAdmin:     true,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		frame, err := DecodeFrame(raw)
		if err != nil {
			t.Fatalf("decoding own output: %v", err)
		}
		if frame.Kind != KindCommand {
			t.Fatalf("expected command kind, got %s", frame.Kind)
		}
		if frame.Command.CommandID != "cmd-1" {
			t.Errorf("expected cmd-1, got %s", frame.Command.CommandID)
		}
		if frame.Command.TimeoutSeconds != 30 {
			t.Errorf("expected timeout 30s, got %d", frame.Command.TimeoutSeconds)
		}
		if !frame.Command.RunAsAdmin {
			t.Error("expected run_as_admin to survive the round trip")
		}
		if frame.Command.CreatedAt == 0 {
			t.Error("expected created_at_ms to be stamped")
		}
	})
}

func TestDecodeFrame(t *testing.T) {
	t.Run("decodes result frames", func(t *testing.T) {
		raw := []byte(`{"type":"result","command_id":"cmd-7","success":true,"output":"proc-list","duration_ms":412}`)

		frame, err := DecodeFrame(raw)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if frame.Kind != KindResult {
			t.Fatalf("expected result kind, got %s", frame.Kind)
		}
		if frame.Result.CommandID != "cmd-7" {
			t.Errorf("expected cmd-7, got %s", frame.Result.CommandID)
		}
		if !frame.Result.Success {
			t.Error("expected success flag")
		}
		if frame.Result.Output != "proc-list" {
			t.Errorf("expected proc-list, got %q", frame.Result.Output)
		}
		if frame.Result.DurationMS != 412 {
			t.Errorf("expected 412ms, got %d", frame.Result.DurationMS)
		}
	})

	t.Run("decodes heartbeat frames", func(t *testing.T) {
		frame, err := DecodeFrame([]byte(`{"type":"heartbeat","timestamp_ms":1700000000000}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if frame.Kind != KindHeartbeat {
			t.Fatalf("expected heartbeat kind, got %s", frame.Kind)
		}
		if frame.Heartbeat.TimestampMS != 1700000000000 {
			t.Errorf("unexpected timestamp: %d", frame.Heartbeat.TimestampMS)
		}
	})

	t.Run("decodes status_update frames", func(t *testing.T) {
		frame, err := DecodeFrame([]byte(`{"type":"status_update","hostname":"WIN-DC01","os":"windows"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if frame.Kind != KindStatusUpdate {
			t.Fatalf("expected status_update kind, got %s", frame.Kind)
		}
		if frame.StatusUpdate.Hostname != "WIN-DC01" {
			t.Errorf("unexpected hostname: %s", frame.StatusUpdate.Hostname)
		}
	})

	t.Run("preserves unknown kinds as unhandled", func(t *testing.T) {
		raw := []byte(`{"type":"telemetry_v2","cpu":42}`)

		frame, err := DecodeFrame(raw)
		if err != nil {
			t.Fatalf("unknown kinds must not error: %v", err)
		}
		if frame.Kind != KindUnhandled {
			t.Fatalf("expected unhandled kind, got %s", frame.Kind)
		}
		if frame.RawType != "telemetry_v2" {
			t.Errorf("expected original type tag, got %s", frame.RawType)
		}
		if len(frame.Raw) == 0 {
			t.Error("expected raw bytes to be preserved")
		}
	})

	t.Run("extra fields on known kinds are ignored", func(t *testing.T) {
		raw := []byte(`{"type":"result","command_id":"cmd-9","success":false,"error":"boom","duration_ms":5,"future_field":"x"}`)

		frame, err := DecodeFrame(raw)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if frame.Result.Error != "boom" {
			t.Errorf("expected error text, got %q", frame.Result.Error)
		}
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		_, err := DecodeFrame([]byte(`{"type":`))
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("expected ParseError, got %v", err)
		}
	})

	t.Run("rejects frames without a type tag", func(t *testing.T) {
		_, err := DecodeFrame([]byte(`{"command_id":"cmd-1"}`))
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("expected ParseError, got %v", err)
		}
	})

	t.Run("rejects result frames without a command id", func(t *testing.T) {
		_, err := DecodeFrame([]byte(`{"type":"result","success":true}`))
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("expected ParseError, got %v", err)
		}
	})
}

func TestRegisterRoundTrip(t *testing.T) {
	raw, err := EncodeRegister(&RegisterFrame{AgentID: "host-1", Hostname: "WIN-SRV01", OS: "windows"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	frame, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.Kind != KindRegister {
		t.Fatalf("expected register kind, got %s", frame.Kind)
	}
	if frame.Register.AgentID != "host-1" {
		t.Errorf("expected host-1, got %s", frame.Register.AgentID)
	}
}
