// ABOUTME: Tests for the connection registry.
// ABOUTME: Validates replace semantics, compare-and-delete removal, and snapshots.

package agent

import (
	"fmt"
	"log/slog"
	"sync"
	"testing"
)

// fakeChannel implements Channel for tests, recording sent frames.
type fakeChannel struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
	err    error
}

func (f *fakeChannel) Send(raw []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, append([]byte(nil), raw...))
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

func newTestConn(id string) (*Connection, *fakeChannel) {
	ch := &fakeChannel{}
	conn := NewConnection(ConnectionParams{
		ID:       id,
		Hostname: "WIN-" + id,
		OS:       "windows",
		Channel:  ch,
		Logger:   slog.Default(),
	})
	return conn, ch
}

func TestRegistryRegister(t *testing.T) {
	t.Run("registers and activates a connection", func(t *testing.T) {
		reg := NewRegistry(slog.Default())
		conn, _ := newTestConn("host-1")

		prev := reg.Register(conn)
		if prev != nil {
			t.Fatalf("expected no previous connection, got %v", prev.ID)
		}
		if conn.Status() != StatusActive {
			t.Errorf("expected active status, got %s", conn.Status())
		}

		got, ok := reg.Lookup("host-1")
		if !ok || got != conn {
			t.Error("expected lookup to return the registered connection")
		}
	})

	t.Run("duplicate id displaces the previous connection", func(t *testing.T) {
		reg := NewRegistry(slog.Default())
		old, _ := newTestConn("host-1")
		fresh, _ := newTestConn("host-1")

		reg.Register(old)
		prev := reg.Register(fresh)

		if prev != old {
			t.Fatal("expected the old connection to be returned")
		}
		if prev.Status() != StatusClosing {
			t.Errorf("expected displaced connection to be closing, got %s", prev.Status())
		}

		got, _ := reg.Lookup("host-1")
		if got != fresh {
			t.Error("expected lookup to return the new connection")
		}
		if reg.Len() != 1 {
			t.Errorf("expected 1 connection, got %d", reg.Len())
		}
	})
}

func TestRegistryRemove(t *testing.T) {
	t.Run("removes matching connection", func(t *testing.T) {
		reg := NewRegistry(slog.Default())
		conn, _ := newTestConn("host-1")
		reg.Register(conn)

		if !reg.Remove("host-1", conn) {
			t.Fatal("expected removal to succeed")
		}
		if _, ok := reg.Lookup("host-1"); ok {
			t.Error("expected connection to be gone")
		}
		if conn.Status() != StatusClosed {
			t.Errorf("expected closed status, got %s", conn.Status())
		}
	})

	t.Run("stale close does not remove a fresh reconnect", func(t *testing.T) {
		reg := NewRegistry(slog.Default())
		old, _ := newTestConn("host-1")
		fresh, _ := newTestConn("host-1")

		reg.Register(old)
		reg.Register(fresh)

		// The old connection's teardown races in after the reconnect.
		if reg.Remove("host-1", old) {
			t.Fatal("stale removal must be rejected")
		}

		got, ok := reg.Lookup("host-1")
		if !ok || got != fresh {
			t.Error("fresh connection must survive the stale close")
		}
	})

	t.Run("removing unknown agent is a no-op", func(t *testing.T) {
		reg := NewRegistry(slog.Default())
		conn, _ := newTestConn("host-1")
		if reg.Remove("host-1", conn) {
			t.Error("expected no-op removal to return false")
		}
	})
}

func TestRegistryListConnected(t *testing.T) {
	reg := NewRegistry(slog.Default())
	for _, id := range []string{"host-3", "host-1", "host-2"} {
		conn, _ := newTestConn(id)
		reg.Register(conn)
	}

	ids := reg.ListConnected()
	want := []string{"host-1", "host-2", "host-3"}
	if len(ids) != len(want) {
		t.Fatalf("expected %d ids, got %d", len(want), len(ids))
	}
	for i, id := range want {
		if ids[i] != id {
			t.Errorf("expected %s at %d, got %s", id, i, ids[i])
		}
	}
}

func TestRegistrySnapshot(t *testing.T) {
	reg := NewRegistry(slog.Default())
	conn, _ := newTestConn("host-1")
	reg.Register(conn)
	conn.UpdateInfo("WIN-RENAMED", "", "1.2.0")

	infos := reg.Snapshot()
	if len(infos) != 1 {
		t.Fatalf("expected 1 info, got %d", len(infos))
	}
	if infos[0].Hostname != "WIN-RENAMED" {
		t.Errorf("expected updated hostname, got %s", infos[0].Hostname)
	}
	if infos[0].OS != "windows" {
		t.Errorf("expected os to be preserved, got %s", infos[0].OS)
	}
	if infos[0].Version != "1.2.0" {
		t.Errorf("expected version 1.2.0, got %s", infos[0].Version)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := NewRegistry(slog.Default())
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			conn, _ := newTestConn(fmt.Sprintf("host-%d", n))
			reg.Register(conn)
		}(i)
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.ListConnected()
			reg.Snapshot()
		}()
	}

	wg.Wait()
	if reg.Len() != 10 {
		t.Errorf("expected 10 connections, got %d", reg.Len())
	}
}
