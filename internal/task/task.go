// Package task runs the periodic client and server cycles. A Manager owns at
// most one running task per role.
package task

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/semihalev/zlog/v2"

	"github.com/fetch-github-hosts/fgh/internal/artifact"
	"github.com/fetch-github-hosts/fgh/internal/event"
	"github.com/fetch-github-hosts/fgh/internal/failure"
	"github.com/fetch-github-hosts/fgh/internal/hosts"
	"github.com/fetch-github-hosts/fgh/internal/metrics"
)

// State of a role.
type State string

const (
	StateIdle     State = "Idle"
	StateRunning  State = "Running"
	StateStopping State = "Stopping"
)

// DefaultStopTimeout bounds how long a start or stop waits for the previous
// task of the same role.
const DefaultStopTimeout = 3 * time.Second

// Fetcher performs the client cycle.
type Fetcher interface {
	FetchAndInstall(ctx context.Context, url string) ([]hosts.Entry, error)
}

// Publisher performs the server cycle.
type Publisher interface {
	Publish(ctx context.Context) (artifact.Artifacts, error)
}

// HTTPServer is the artifact server started alongside the server role.
type HTTPServer interface {
	Start() error
	Shutdown(timeout time.Duration) bool
}

// ServerFactory creates an HTTP server for port.
type ServerFactory func(port int) HTTPServer

// Config wires a Manager.
type Config struct {
	Fetcher       Fetcher
	Publisher     Publisher
	NewHTTPServer ServerFactory
	Sink          event.Sink
	Metrics       *metrics.Metrics
	Clock         clockwork.Clock
	// Unit is the length of one interval step, a minute unless debugging.
	Unit        time.Duration
	StopTimeout time.Duration
}

// ClientOptions configures the client role.
type ClientOptions struct {
	URL      string
	Interval int
}

// ServerOptions configures the server role.
type ServerOptions struct {
	Port     int
	Interval int
}

// Status describes one role.
type Status struct {
	Role      event.Role `json:"role"`
	State     State      `json:"state"`
	Interval  string     `json:"interval,omitempty"`
	Target    string     `json:"target,omitempty"`
	LastRun   time.Time  `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

type handle struct {
	role     event.Role
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	interval time.Duration
	target   string
	cycle    func(ctx context.Context) error
	http     HTTPServer

	// guarded by Manager.mu
	state   State
	lastRun time.Time
	lastErr string
}

// Manager is the per-process registry of running tasks.
type Manager struct {
	cfg Config

	mu    sync.Mutex
	slots map[event.Role]*handle
}

// NewManager creates a manager.
func NewManager(cfg Config) *Manager {
	if cfg.Sink == nil {
		cfg.Sink = event.Discard
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Unit <= 0 {
		cfg.Unit = time.Minute
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	return &Manager{
		cfg:   cfg,
		slots: make(map[event.Role]*handle),
	}
}

// Interval converts a configured interval to a duration. Values below one
// are raised to one.
func (m *Manager) Interval(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return time.Duration(n) * m.cfg.Unit
}

// StartClient stops any running client task, runs one fetch synchronously
// and keeps fetching every interval. The initial fetch error is returned,
// but the task is Running either way so a later cycle can recover.
func (m *Manager) StartClient(ctx context.Context, opts ClientOptions) error {
	url := opts.URL
	h := m.newHandle(ctx, event.RoleClient, opts.Interval, url)
	h.cycle = func(ctx context.Context) error {
		entries, err := m.cfg.Fetcher.FetchAndInstall(ctx, url)
		if err != nil {
			m.emit(event.RoleClient, event.KeyClientFetchFail, event.LevelError, errParams(err))
		} else {
			m.cfg.Metrics.SetEntries(string(event.RoleClient), len(entries))
			m.emit(event.RoleClient, event.KeyClientFetchSuccess, event.LevelSuccess,
				map[string]any{"url": url, "count": len(entries)})
		}
		return err
	}

	m.replace(h)

	err := m.runCycle(ctx, h)
	m.launch(h)
	return err
}

// StartServer stops any running server task, binds the HTTP server, runs
// one resolve cycle synchronously and then repeats it every interval.
// A bind failure is returned as is and the task does not start. An initial
// publish error is returned with the server and its loop left running.
func (m *Manager) StartServer(ctx context.Context, opts ServerOptions) error {
	h := m.newHandle(ctx, event.RoleServer, opts.Interval, ":"+strconv.Itoa(opts.Port))
	h.cycle = func(ctx context.Context) error {
		a, err := m.cfg.Publisher.Publish(ctx)
		if err != nil {
			m.emit(event.RoleServer, event.KeyServerFetchFail, event.LevelError, errParams(err))
		} else {
			m.cfg.Metrics.SetEntries(string(event.RoleServer), len(a.Entries))
			m.emit(event.RoleServer, event.KeyServerFetchSuccess, event.LevelSuccess,
				map[string]any{"count": len(a.Entries)})
		}
		return err
	}

	// Waits for the previous server, so its port is released before binding.
	m.replace(h)

	srv := m.cfg.NewHTTPServer(opts.Port)
	if err := srv.Start(); err != nil {
		params := errParams(err)
		params["port"] = opts.Port
		m.emit(event.RoleServer, event.KeyServerStartFail, event.LevelError, params)
		m.cfg.Metrics.ObserveCycle(string(event.RoleServer), err)
		m.abort(h)
		return err
	}
	h.http = srv
	m.emit(event.RoleServer, event.KeyServerHTTPStarted, event.LevelSuccess, map[string]any{"port": opts.Port})

	err := m.runCycle(ctx, h)
	m.launch(h)
	return err
}

// Stop cancels the task of role and waits, bounded, for it to finish.
// It reports whether the task finished in time; stopping an idle role is a
// no-op returning true.
func (m *Manager) Stop(role event.Role) bool {
	m.mu.Lock()
	h := m.slots[role]
	if h != nil {
		h.state = StateStopping
	}
	m.mu.Unlock()

	if h == nil {
		return true
	}
	h.cancel()
	return m.wait(h)
}

// StopAll stops every role.
func (m *Manager) StopAll() {
	for _, role := range []event.Role{event.RoleClient, event.RoleServer} {
		m.Stop(role)
	}
}

// State returns the state of role.
func (m *Manager) State(role event.Role) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h := m.slots[role]; h != nil {
		return h.state
	}
	return StateIdle
}

// Status returns a snapshot of both roles.
func (m *Manager) Status() []Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Status, 0, 2)
	for _, role := range []event.Role{event.RoleClient, event.RoleServer} {
		s := Status{Role: role, State: StateIdle}
		if h := m.slots[role]; h != nil {
			s.State = h.state
			s.Interval = h.interval.String()
			s.Target = h.target
			s.LastRun = h.lastRun
			s.LastError = h.lastErr
		}
		out = append(out, s)
	}
	return out
}

// Done returns a channel closed when the current task of role ends, or nil
// when the role is idle.
func (m *Manager) Done(role event.Role) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h := m.slots[role]; h != nil {
		return h.done
	}
	return nil
}

func (m *Manager) newHandle(parent context.Context, role event.Role, interval int, target string) *handle {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	return &handle{
		role:     role,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		interval: m.Interval(interval),
		target:   target,
		state:    StateIdle,
	}
}

// replace installs h as the current task of its role, cancelling and
// waiting for the previous one.
func (m *Manager) replace(h *handle) {
	m.mu.Lock()
	old := m.slots[h.role]
	m.slots[h.role] = h
	if old != nil {
		old.state = StateStopping
	}
	m.mu.Unlock()

	if old != nil {
		old.cancel()
		m.wait(old)
	}
}

func (m *Manager) wait(h *handle) bool {
	select {
	case <-h.done:
		return true
	case <-time.After(m.cfg.StopTimeout):
		zlog.Warn("Task did not stop in time", "role", string(h.role), "timeout", m.cfg.StopTimeout.String())
		return false
	}
}

// abort releases a handle whose server could not bind.
func (m *Manager) abort(h *handle) {
	m.mu.Lock()
	if m.slots[h.role] == h {
		delete(m.slots, h.role)
	}
	m.mu.Unlock()
	h.cancel()
	close(h.done)
}

func (m *Manager) launch(h *handle) {
	m.mu.Lock()
	if m.slots[h.role] == h && h.state == StateIdle {
		h.state = StateRunning
	}
	m.mu.Unlock()

	go m.loop(h)
}

func (m *Manager) loop(h *handle) {
	ticker := m.cfg.Clock.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			m.finish(h)
			return
		case <-ticker.Chan():
			if h.ctx.Err() != nil {
				continue
			}
			// Cycles are not preempted by Stop; it takes effect at the next wake.
			_ = m.runCycle(context.WithoutCancel(h.ctx), h)
		}
	}
}

func (m *Manager) finish(h *handle) {
	switch h.role {
	case event.RoleClient:
		m.emit(h.role, event.KeyClientFetchStop, event.LevelInfo, nil)
	case event.RoleServer:
		m.emit(h.role, event.KeyServerStopSuccess, event.LevelInfo, nil)
		if h.http != nil {
			h.http.Shutdown(m.cfg.StopTimeout)
		}
	}

	m.mu.Lock()
	if m.slots[h.role] == h {
		delete(m.slots, h.role)
	}
	m.mu.Unlock()

	close(h.done)
}

func (m *Manager) runCycle(ctx context.Context, h *handle) error {
	err := h.cycle(ctx)
	m.cfg.Metrics.ObserveCycle(string(h.role), err)

	m.mu.Lock()
	h.lastRun = m.cfg.Clock.Now()
	h.lastErr = ""
	if err != nil {
		h.lastErr = err.Error()
	}
	m.mu.Unlock()
	return err
}

func (m *Manager) emit(role event.Role, key string, level event.Level, params map[string]any) {
	m.cfg.Sink.Emit(event.Event{
		Role:   role,
		Key:    key,
		Level:  level,
		Params: params,
		Time:   m.cfg.Clock.Now(),
	})
}

func errParams(err error) map[string]any {
	params := map[string]any{"error": err.Error()}
	if kind := failure.KindOf(err); kind != "" {
		params["kind"] = string(kind)
	}
	return params
}
