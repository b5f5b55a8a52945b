package mcplink

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// ManagerOption is a function that configures a manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger for the manager and every connection it creates.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// Manager owns a set of server connections and is the surface the orchestration
// layer talks to: it connects servers in bulk, aggregates their tool catalogs,
// routes tool calls by name, and translates catalogs into downstream
// tool-calling formats.
//
// One server's failure never affects the others: batch operations collect
// per-server errors instead of aborting, and each connection runs its own
// process and transport with no shared state beyond the manager's server map.
type Manager struct {
	info   ClientInfo
	logger *slog.Logger

	mu    sync.RWMutex
	order []string
	conns map[string]*Conn
}

// NewManager creates a manager that presents the given client identity to every
// server it connects.
func NewManager(info ClientInfo, opts ...ManagerOption) *Manager {
	m := &Manager{
		info:   info,
		logger: slog.Default(),
		conns:  make(map[string]*Conn),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ConnectAll connects every descriptor independently and concurrently. It
// returns the names of the servers that reached Ready, in descriptor order,
// plus a map of per-server failures. A failure connecting one server never
// prevents the others from connecting. A descriptor whose name collides with
// a registered connection, or with an earlier descriptor in the same batch,
// is rejected before any process is spawned.
func (m *Manager) ConnectAll(ctx context.Context, cfgs []ServerConfig) ([]string, map[string]error) {
	errs := make(map[string]error)
	conns := make([]*Conn, len(cfgs))

	var wg sync.WaitGroup
	var errMu sync.Mutex
	seen := make(map[string]struct{}, len(cfgs))
	for i, cfg := range cfgs {
		m.mu.RLock()
		_, dup := m.conns[cfg.Name]
		m.mu.RUnlock()
		if _, inBatch := seen[cfg.Name]; dup || inBatch {
			errMu.Lock()
			errs[cfg.Name] = &ConnectionError{Server: cfg.Name, Err: errDuplicateServer}
			errMu.Unlock()
			continue
		}
		seen[cfg.Name] = struct{}{}

		conn := NewConn(m.info, cfg, WithConnLogger(m.logger))
		wg.Add(1)
		go func(i int, conn *Conn) {
			defer wg.Done()
			if err := conn.Connect(ctx); err != nil {
				errMu.Lock()
				errs[conn.Name()] = err
				errMu.Unlock()
				return
			}
			conns[i] = conn
		}(i, conn)
	}
	wg.Wait()

	var succeeded []string
	m.mu.Lock()
	for _, conn := range conns {
		if conn == nil {
			continue
		}
		m.conns[conn.Name()] = conn
		m.order = append(m.order, conn.Name())
		succeeded = append(succeeded, conn.Name())
	}
	m.mu.Unlock()

	for name, err := range errs {
		m.logger.Warn("failed to connect server", slog.String("server", name), slog.String("err", err.Error()))
	}
	return succeeded, errs
}

// ListTools returns the tool catalog. With a server name it returns that
// server's catalog, failing with NotConnectedError when the server is unknown
// or not Ready. With an empty name it returns the union across all Ready
// servers in registration order.
func (m *Manager) ListTools(server string) ([]Tool, error) {
	if server != "" {
		conn, err := m.conn(server)
		if err != nil {
			return nil, err
		}
		return conn.Tools(), nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Tool
	for _, name := range m.order {
		conn := m.conns[name]
		if conn.State() != StateReady {
			continue
		}
		out = append(out, conn.Tools()...)
	}
	return out, nil
}

// CallTool invokes a tool. With a server name it delegates directly to that
// connection. With an empty name it searches connected servers in registration
// order for the first one exposing the tool; if none does, it returns a
// ToolNotFoundError listing every known tool name.
func (m *Manager) CallTool(ctx context.Context, name string, arguments map[string]any, server string) (ToolResult, error) {
	if server != "" {
		conn, err := m.conn(server)
		if err != nil {
			return ToolResult{}, err
		}
		return conn.ExecuteTool(ctx, name, arguments)
	}

	m.mu.RLock()
	var target *Conn
	var known []string
	for _, sn := range m.order {
		conn := m.conns[sn]
		if conn.State() != StateReady {
			continue
		}
		for _, t := range conn.Tools() {
			known = append(known, t.Name)
			if t.Name == name && target == nil {
				target = conn
			}
		}
	}
	m.mu.RUnlock()

	if target == nil {
		return ToolResult{}, &ToolNotFoundError{Tool: name, Known: known}
	}
	return target.ExecuteTool(ctx, name, arguments)
}

// ToolDefinitions converts the union catalog into the requested downstream
// tool-calling format, one schema document per tool.
func (m *Manager) ToolDefinitions(format Format) ([]json.RawMessage, error) {
	tools, err := m.ListTools("")
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(tools))
	for _, t := range tools {
		def, err := ToolDefinition(format, t)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, nil
}

// DisconnectAll disconnects every owned connection. Failures are collected per
// server name and reported, never raised mid-batch, so one stubborn process
// cannot keep the others alive.
func (m *Manager) DisconnectAll() map[string]error {
	m.mu.Lock()
	order := m.order
	conns := m.conns
	m.order = nil
	m.conns = make(map[string]*Conn)
	m.mu.Unlock()

	errs := make(map[string]error)
	for _, name := range order {
		if err := conns[name].Disconnect(); err != nil {
			errs[name] = err
			m.logger.Warn("failed to disconnect server", slog.String("server", name), slog.String("err", err.Error()))
		}
	}
	return errs
}

// conn looks up a Ready connection by name.
func (m *Manager) conn(server string) (*Conn, error) {
	m.mu.RLock()
	conn, ok := m.conns[server]
	m.mu.RUnlock()
	if !ok {
		return nil, &NotConnectedError{Server: server, State: StateDisconnected}
	}
	if st := conn.State(); st != StateReady {
		return nil, &NotConnectedError{Server: server, State: st}
	}
	return conn, nil
}
