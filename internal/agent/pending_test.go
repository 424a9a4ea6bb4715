// ABOUTME: Tests for the pending-request table.
// ABOUTME: Validates exactly-once settlement, deadline sweeps, and per-agent cleanup.

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/warden-hq/warden-gateway/internal/protocol"
)

func TestPendingResolveSuccess(t *testing.T) {
	t.Run("settles the waiter with the arrived result", func(t *testing.T) {
		table := NewPendingTable(slog.Default())
		p := table.Create("cmd-1", "host-1", time.Now().Add(time.Minute))

		result := &protocol.ResultFrame{CommandID: "cmd-1", Success: true, Output: "proc-list"}
		if !table.ResolveSuccess("cmd-1", result) {
			t.Fatal("expected resolution to be consumed")
		}

		select {
		case <-p.Done():
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for settlement")
		}

		got, reason := p.Outcome()
		if got == nil || got.Output != "proc-list" {
			t.Errorf("expected the arrived result, got %+v", got)
		}
		if reason != "" {
			t.Errorf("expected no failure reason, got %s", reason)
		}
		if table.Len() != 0 {
			t.Errorf("expected entry removed, %d left", table.Len())
		}
	})

	t.Run("unknown command id is a counted no-op", func(t *testing.T) {
		table := NewPendingTable(slog.Default())
		if table.ResolveSuccess("ghost", &protocol.ResultFrame{CommandID: "ghost"}) {
			t.Error("expected orphan result to be discarded")
		}
	})

	t.Run("second settlement is a no-op", func(t *testing.T) {
		table := NewPendingTable(slog.Default())
		table.Create("cmd-1", "host-1", time.Now().Add(time.Minute))

		if !table.ResolveSuccess("cmd-1", &protocol.ResultFrame{CommandID: "cmd-1"}) {
			t.Fatal("first settlement must succeed")
		}
		if table.ResolveSuccess("cmd-1", &protocol.ResultFrame{CommandID: "cmd-1"}) {
			t.Error("duplicate settlement must be discarded")
		}
		if table.ResolveFailure("cmd-1", FailTimeout) {
			t.Error("failure after success must be discarded")
		}
	})
}

func TestPendingResolveFailure(t *testing.T) {
	table := NewPendingTable(slog.Default())
	p := table.Create("cmd-1", "host-1", time.Now().Add(time.Minute))

	if !table.ResolveFailure("cmd-1", FailCanceled) {
		t.Fatal("expected failure to be consumed")
	}

	<-p.Done()
	result, reason := p.Outcome()
	if result != nil {
		t.Error("expected no result on failure")
	}
	if reason != FailCanceled {
		t.Errorf("expected canceled, got %s", reason)
	}
}

func TestPendingExpireDue(t *testing.T) {
	t.Run("expires only entries past their deadline", func(t *testing.T) {
		table := NewPendingTable(slog.Default())
		now := time.Now()

		due := table.Create("cmd-due", "host-1", now.Add(-time.Second))
		live := table.Create("cmd-live", "host-1", now.Add(time.Minute))

		expired := table.ExpireDue(now)
		if len(expired) != 1 || expired[0] != "cmd-due" {
			t.Fatalf("expected only cmd-due to expire, got %v", expired)
		}

		<-due.Done()
		if _, reason := due.Outcome(); reason != FailTimeout {
			t.Errorf("expected timeout reason, got %s", reason)
		}

		select {
		case <-live.Done():
			t.Error("live entry must not settle")
		default:
		}
		if table.Len() != 1 {
			t.Errorf("expected 1 entry left, got %d", table.Len())
		}
	})

	t.Run("sweeper settles entries within a cycle", func(t *testing.T) {
		table := NewPendingTable(slog.Default())
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go table.RunSweeper(ctx, 10*time.Millisecond)

		p := table.Create("cmd-1", "host-1", time.Now().Add(25*time.Millisecond))

		select {
		case <-p.Done():
		case <-time.After(time.Second):
			t.Fatal("sweeper did not expire the entry")
		}
		if _, reason := p.Outcome(); reason != FailTimeout {
			t.Errorf("expected timeout, got %s", reason)
		}
		if table.Len() != 0 {
			t.Errorf("expected empty table, got %d", table.Len())
		}
	})
}

func TestPendingRemoveAllForAgent(t *testing.T) {
	table := NewPendingTable(slog.Default())
	deadline := time.Now().Add(time.Minute)

	var mine []*Pending
	for i := 0; i < 3; i++ {
		mine = append(mine, table.Create(fmt.Sprintf("cmd-%d", i), "host-1", deadline))
	}
	other := table.Create("cmd-other", "host-2", deadline)

	if n := table.RemoveAllForAgent("host-1", FailDisconnected); n != 3 {
		t.Fatalf("expected 3 settled, got %d", n)
	}

	for _, p := range mine {
		<-p.Done()
		if _, reason := p.Outcome(); reason != FailDisconnected {
			t.Errorf("expected disconnected, got %s", reason)
		}
	}

	// Unrelated agent's command is untouched.
	select {
	case <-other.Done():
		t.Error("other agent's entry must not settle")
	default:
	}
	if table.Len() != 1 {
		t.Errorf("expected 1 entry left, got %d", table.Len())
	}
}

func TestPendingExactlyOnceUnderContention(t *testing.T) {
	// Timeout sweep, disconnect cleanup, and a result frame race for the
	// same entry; exactly one may win.
	table := NewPendingTable(slog.Default())

	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("cmd-%d", i)
		table.Create(id, "host-1", time.Now().Add(time.Millisecond))

		var wins int32
		var mu sync.Mutex
		record := func(ok bool) {
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}

		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			record(table.ResolveSuccess(id, &protocol.ResultFrame{CommandID: id, Success: true}))
		}()
		go func() {
			defer wg.Done()
			record(len(table.ExpireDue(time.Now().Add(time.Second))) > 0)
		}()
		go func() {
			defer wg.Done()
			record(table.RemoveAllForAgent("host-1", FailDisconnected) > 0)
		}()
		wg.Wait()

		if wins != 1 {
			t.Fatalf("iteration %d: expected exactly one settlement, got %d", i, wins)
		}
	}
}
