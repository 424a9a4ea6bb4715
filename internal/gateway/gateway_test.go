// ABOUTME: Tests for gateway wiring, startup seeding, and graceful shutdown
// ABOUTME: Exercises New and Run with a throwaway database

package gateway

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-hq/warden-gateway/internal/config"
	"github.com/warden-hq/warden-gateway/internal/mock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewSeedsMockAgentsFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.HTTPAddr = ":0"
	cfg.Database.Path = filepath.Join(t.TempDir(), "warden.db")
	cfg.Mock.Agents = []mock.Profile{
		{AgentID: "mock-1", Online: true},
		{AgentID: "mock-2", Hostname: "CUSTOM", Online: false},
	}

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	defer gw.store.Close()

	assert.Equal(t, []string{"mock-1", "mock-2"}, gw.mocks.ListIDs())

	profile, ok := gw.mocks.Lookup("mock-2")
	require.True(t, ok)
	assert.Equal(t, "CUSTOM", profile.Hostname)
	assert.False(t, profile.Online)
}

func TestNewReloadsPersistedMockAgents(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "warden.db")
	cfg := &config.Config{}
	cfg.Server.HTTPAddr = ":0"
	cfg.Database.Path = dbPath

	first, err := New(cfg, testLogger())
	require.NoError(t, err)
	require.NoError(t, first.store.SaveMockAgent(context.Background(), &mock.Profile{
		AgentID: "mock-saved", Hostname: "SAVED", Platform: "windows", Online: true,
	}))
	require.NoError(t, first.store.Close())

	second, err := New(cfg, testLogger())
	require.NoError(t, err)
	defer second.store.Close()

	assert.True(t, second.mocks.IsMockTarget("mock-saved"))
}

func TestConfigMockAgentWinsOverSaved(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "warden.db")
	cfg := &config.Config{}
	cfg.Server.HTTPAddr = ":0"
	cfg.Database.Path = dbPath

	first, err := New(cfg, testLogger())
	require.NoError(t, err)
	require.NoError(t, first.store.SaveMockAgent(context.Background(), &mock.Profile{
		AgentID: "mock-1", Hostname: "FROM-DB", Platform: "windows", Online: true,
	}))
	require.NoError(t, first.store.Close())

	cfg.Mock.Agents = []mock.Profile{{AgentID: "mock-1", Hostname: "FROM-CONFIG", Online: true}}
	second, err := New(cfg, testLogger())
	require.NoError(t, err)
	defer second.store.Close()

	profile, ok := second.mocks.Lookup("mock-1")
	require.True(t, ok)
	assert.Equal(t, "FROM-CONFIG", profile.Hostname)
}

func TestRunShutsDownOnCancel(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Database.Path = filepath.Join(t.TempDir(), "warden.db")

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- gw.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not shut down")
	}
}

func TestRunFailsOnBadAddress(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "256.256.256.256:99999"
	cfg.Database.Path = filepath.Join(t.TempDir(), "warden.db")

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	defer gw.store.Close()

	assert.Error(t, gw.Run(context.Background()))
}
