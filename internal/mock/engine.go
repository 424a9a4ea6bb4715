// ABOUTME: Mock execution engine that answers commands for agents with no live connection.
// ABOUTME: Pattern-matches command text and synthesizes realistic PowerShell-style results.

package mock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/warden-hq/warden-gateway/internal/protocol"
)

// ErrUnknownProfile indicates the agent id has no mock profile.
var ErrUnknownProfile = errors.New("no mock profile for agent")

// ErrProfileOffline indicates the mock profile exists but is flagged
// offline. Callers surface this exactly like a real disconnected agent.
var ErrProfileOffline = errors.New("mock agent is offline")

// Profile describes one configured mock agent. Mock profiles share the
// agent-id namespace with real connections but never a live channel.
type Profile struct {
	AgentID   string `yaml:"agent_id"`
	Hostname  string `yaml:"hostname"`
	Platform  string `yaml:"platform"`
	Online    bool   `yaml:"online"`
	CreatedAt time.Time

	// Canned maps a case-insensitive command substring to a fixed reply,
	// checked before the built-in rule table.
	Canned map[string]string `yaml:"canned,omitempty"`
}

// Engine holds mock profiles and synthesizes command results for them.
type Engine struct {
	mu       sync.RWMutex
	profiles map[string]*Profile

	minLatency time.Duration
	maxLatency time.Duration
	logger     *slog.Logger
}

// Options tunes the engine's simulated latency bounds.
type Options struct {
	MinLatency time.Duration
	MaxLatency time.Duration
}

// NewEngine creates an engine with no profiles. Latency bounds default to
// 50ms-400ms when unset.
func NewEngine(opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MinLatency <= 0 {
		opts.MinLatency = 50 * time.Millisecond
	}
	if opts.MaxLatency < opts.MinLatency {
		opts.MaxLatency = 400 * time.Millisecond
	}
	return &Engine{
		profiles:   make(map[string]*Profile),
		minLatency: opts.MinLatency,
		maxLatency: opts.MaxLatency,
		logger:     logger,
	}
}

// RegisterProfile adds or replaces a mock profile.
func (e *Engine) RegisterProfile(p *Profile) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.Platform == "" {
		p.Platform = "windows"
	}
	if p.Hostname == "" {
		p.Hostname = strings.ToUpper(p.AgentID)
	}

	e.mu.Lock()
	e.profiles[p.AgentID] = p
	e.mu.Unlock()

	e.logger.Info("mock agent registered",
		"agent_id", p.AgentID,
		"hostname", p.Hostname,
		"online", p.Online,
	)
}

// RemoveProfile deletes a mock profile. Returns false if it did not exist.
func (e *Engine) RemoveProfile(agentID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.profiles[agentID]; !ok {
		return false
	}
	delete(e.profiles, agentID)
	return true
}

// IsMockTarget reports whether agentID belongs to the mock namespace.
func (e *Engine) IsMockTarget(agentID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.profiles[agentID]
	return ok
}

// Lookup returns a copy of the profile for agentID.
func (e *Engine) Lookup(agentID string) (Profile, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.profiles[agentID]
	if !ok {
		return Profile{}, false
	}
	return *p, true
}

// List returns all profiles sorted by agent id.
func (e *Engine) List() []Profile {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Profile, 0, len(e.profiles))
	for _, p := range e.profiles {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// ListIDs returns the agent ids of all profiles, sorted.
func (e *Engine) ListIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]string, 0, len(e.profiles))
	for id := range e.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Execute synthesizes a result for commandText against agentID's profile.
// The simulated latency is bounded and respects ctx cancellation, so this
// never blocks indefinitely. Offline profiles return ErrProfileOffline so
// callers take the same not-connected path a real dead agent would.
func (e *Engine) Execute(ctx context.Context, agentID, commandText string) (*protocol.ResultFrame, error) {
	e.mu.RLock()
	p, ok := e.profiles[agentID]
	e.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownProfile
	}
	if !p.Online {
		return nil, ErrProfileOffline
	}

	delay := e.minLatency
	if span := e.maxLatency - e.minLatency; span > 0 {
		delay += time.Duration(rand.Int63n(int64(span)))
	}

	started := time.Now()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	output, errText := e.evaluate(p, commandText)
	elapsed := time.Since(started)

	e.logger.Debug("mock command executed",
		"agent_id", agentID,
		"duration_ms", elapsed.Milliseconds(),
		"failed", errText != "",
	)

	duration := elapsed.Milliseconds()
	if duration < 1 {
		duration = 1
	}

	return &protocol.ResultFrame{
		Type:       string(protocol.KindResult),
		Success:    errText == "",
		Output:     output,
		Error:      errText,
		DurationMS: duration,
		FinishedAt: time.Now().UnixMilli(),
	}, nil
}

// evaluate applies the canned-response table, then the built-in rules.
func (e *Engine) evaluate(p *Profile, commandText string) (output, errText string) {
	trimmed := strings.TrimSpace(commandText)
	lower := strings.ToLower(trimmed)

	for pattern, reply := range p.Canned {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return reply, ""
		}
	}

	switch {
	case strings.Contains(lower, "will-fail") || strings.Contains(lower, "throw"):
		return "", fmt.Sprintf("The term '%s' is not recognized as the name of a cmdlet, function, script file, or operable program.", firstToken(trimmed))
	case strings.Contains(lower, "get-process"):
		return processListing(p.Hostname), ""
	case strings.Contains(lower, "get-service"):
		return serviceListing(), ""
	case strings.Contains(lower, "get-computerinfo") || strings.Contains(lower, "systeminfo"):
		return computerInfo(p), ""
	default:
		return fmt.Sprintf("[%s] %s", p.Hostname, trimmed), ""
	}
}

func firstToken(s string) string {
	if i := strings.IndexAny(s, " \t"); i > 0 {
		return s[:i]
	}
	return s
}

// processListing renders a Get-Process style table. The local host's
// process table seeds the rows so output looks alive; a fixed fallback
// covers environments where gopsutil has nothing to report.
func processListing(hostname string) string {
	var b strings.Builder
	b.WriteString("Handles  NPM(K)    PM(K)      WS(K)     CPU(s)     Id  SI ProcessName\n")
	b.WriteString("-------  ------    -----      -----     ------     --  -- -----------\n")

	procs, err := process.Processes()
	rows := 0
	if err == nil {
		for _, pr := range procs {
			name, err := pr.Name()
			if err != nil || name == "" {
				continue
			}
			fmt.Fprintf(&b, "%7d  %6d  %7d  %9d  %9.2f  %5d   1 %s\n",
				200+rows*17, 12+rows, 4096+rows*512, 10240+rows*256, float64(rows)*0.42, pr.Pid, name)
			rows++
			if rows >= 12 {
				break
			}
		}
	}
	if rows == 0 {
		for i, name := range []string{"System", "svchost", "lsass", "explorer", "powershell"} {
			fmt.Fprintf(&b, "%7d  %6d  %7d  %9d  %9.2f  %5d   1 %s\n",
				200+i*17, 12+i, 4096+i*512, 10240+i*256, float64(i)*0.42, 4+i*320, name)
		}
	}
	return b.String()
}

func serviceListing() string {
	services := []struct{ status, name, display string }{
		{"Running", "Dhcp", "DHCP Client"},
		{"Running", "Dnscache", "DNS Client"},
		{"Running", "EventLog", "Windows Event Log"},
		{"Stopped", "Fax", "Fax"},
		{"Running", "LanmanServer", "Server"},
		{"Running", "Schedule", "Task Scheduler"},
		{"Stopped", "WSearch", "Windows Search"},
		{"Running", "WinRM", "Windows Remote Management (WS-Management)"},
	}

	var b strings.Builder
	b.WriteString("Status   Name               DisplayName\n")
	b.WriteString("------   ----               -----------\n")
	for _, s := range services {
		fmt.Fprintf(&b, "%-8s %-18s %s\n", s.status, s.name, s.display)
	}
	return b.String()
}

// computerInfo renders a Get-ComputerInfo style summary, borrowing uptime
// and core counts from the local host where available.
func computerInfo(p *Profile) string {
	uptime := "14.06:42:13"
	if info, err := host.Info(); err == nil && info.Uptime > 0 {
		d := time.Duration(info.Uptime) * time.Second
		uptime = fmt.Sprintf("%d.%02d:%02d:%02d",
			int(d.Hours())/24, int(d.Hours())%24, int(d.Minutes())%60, int(d.Seconds())%60)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CsName              : %s\n", p.Hostname)
	fmt.Fprintf(&b, "WindowsProductName  : Windows Server 2022 Standard\n")
	fmt.Fprintf(&b, "OsName              : Microsoft Windows Server 2022 Standard\n")
	fmt.Fprintf(&b, "OsArchitecture      : 64-bit\n")
	fmt.Fprintf(&b, "OsUptime            : %s\n", uptime)
	fmt.Fprintf(&b, "CsNumberOfProcessors: 1\n")
	fmt.Fprintf(&b, "OsTotalVisibleMemorySize: 16777216\n")
	fmt.Fprintf(&b, "Platform            : %s\n", p.Platform)
	return b.String()
}
