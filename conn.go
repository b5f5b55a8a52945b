package mcplink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// TransportStdio is the only transport kind this package implements. Other
// values are accepted in a ServerConfig but rejected at connect time with a
// TransportNotSupportedError.
const TransportStdio = "stdio"

// ConnState enumerates the lifecycle states of a server connection.
type ConnState int32

// Connection lifecycle states. Calls and tool execution are permitted only in
// StateReady.
const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateInitializing
	StateReady
	StateDisconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDisconnecting:
		return "disconnecting"
	}
	return fmt.Sprintf("unknown(%d)", int32(s))
}

var (
	defaultRequestTimeout = 30 * time.Second
	defaultShutdownGrace  = 3 * time.Second
)

// ConnOption is a function that configures a connection.
type ConnOption func(*Conn)

// WithConnLogger sets the logger the connection emits structured logs through.
func WithConnLogger(logger *slog.Logger) ConnOption {
	return func(c *Conn) {
		c.logger = logger
	}
}

// WithShutdownGrace sets how long Disconnect waits for the child process to
// exit after its stdin is closed before escalating to a kill.
func WithShutdownGrace(d time.Duration) ConnOption {
	return func(c *Conn) {
		c.shutdownGrace = d
	}
}

// readEvent is what the read loop delivers for each frame: either a decoded
// response or the reason decoding/reading failed.
type readEvent struct {
	msg JSONRPCMessage
	err error
}

// Conn owns one child tool-server process and its stdio transport. It
// implements the request/response/handshake state machine for that server:
// Connect spawns the process and runs the initialize handshake plus tool
// discovery, ExecuteTool performs tools/call round-trips, and Disconnect
// terminates the process.
//
// The transport is a single bidirectional stream, so a mutex is held across
// every write-then-read cycle; at most one call is in flight at any instant.
// The child's stdin/stdout are exclusively owned by the Conn and never shared.
type Conn struct {
	cfg           ServerConfig
	info          ClientInfo
	logger        *slog.Logger
	shutdownGrace time.Duration

	// callMu serializes the full write+read cycle of one request. It enforces
	// the one-in-flight-call invariant.
	callMu sync.Mutex

	nextID atomic.Int64

	// mu guards everything below.
	mu           sync.Mutex
	state        ConnState
	cmd          *exec.Cmd
	stdin        io.WriteCloser
	events       chan readEvent
	stop         chan struct{}
	abandoned    map[int64]struct{}
	tools        []Tool
	serverInfo   Info
	protoVersion string
}

// NewConn creates a connection for one server descriptor. The descriptor is
// copied and immutable afterwards; an empty transport is treated as stdio and
// a zero timeout falls back to 30 seconds. The connection is not established
// until Connect is called.
func NewConn(info ClientInfo, cfg ServerConfig, opts ...ConnOption) *Conn {
	if cfg.Transport == "" {
		cfg.Transport = TransportStdio
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRequestTimeout
	}
	c := &Conn{
		cfg:           cfg,
		info:          info,
		logger:        slog.Default(),
		shutdownGrace: defaultShutdownGrace,
		abandoned:     make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(
		slog.String("server", cfg.Name),
		slog.String("session", uuid.New().String()),
	)
	return c
}

// Name returns the server name from the descriptor.
func (c *Conn) Name() string { return c.cfg.Name }

// State returns the current lifecycle state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ServerInfo returns the identity the server reported during the handshake.
// It is the zero value until Connect succeeds.
func (c *Conn) ServerInfo() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// NegotiatedProtocolVersion returns the protocol version the server reported
// during the handshake.
func (c *Conn) NegotiatedProtocolVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.protoVersion
}

// Tools returns the catalog discovered during Connect. The returned slice is a
// copy; it is empty unless the connection is Ready.
func (c *Conn) Tools() []Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

// Connect spawns the server process, performs the initialize handshake and
// discovers the tool catalog. Any failure at any step terminates the spawned
// process and resets the state to Disconnected before the error is returned,
// so no process outlives a failed connect.
func (c *Conn) Connect(ctx context.Context) error {
	if c.cfg.Transport != TransportStdio {
		return &TransportNotSupportedError{Server: c.cfg.Name, Transport: c.cfg.Transport}
	}

	c.mu.Lock()
	if c.state != StateDisconnected {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("server %s: connect in state %s", c.cfg.Name, st)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	if err := c.spawn(); err != nil {
		c.teardown()
		return &ConnectionError{Server: c.cfg.Name, Err: err}
	}

	c.mu.Lock()
	c.state = StateInitializing
	c.mu.Unlock()

	if err := c.initialize(ctx); err != nil {
		c.teardown()
		return fmt.Errorf("initialize handshake: %w", err)
	}
	if err := c.discoverTools(ctx); err != nil {
		c.teardown()
		return fmt.Errorf("tool discovery: %w", err)
	}

	c.mu.Lock()
	c.state = StateReady
	tools := len(c.tools)
	c.mu.Unlock()

	c.logger.Info("connected to tool server",
		slog.String("command", c.cfg.Command),
		slog.Int("tools", tools),
	)
	return nil
}

// spawn starts the child process and the goroutines draining its stdout and
// stderr.
func (c *Conn) spawn() error {
	cmd := exec.Command(c.cfg.Command, c.cfg.Args...)
	cmd.Env = mergedEnv(c.cfg.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start server process: %w", err)
	}

	events := make(chan readEvent, 4)
	stop := make(chan struct{})

	c.mu.Lock()
	c.cmd = cmd
	c.stdin = stdin
	c.events = events
	c.stop = stop
	c.mu.Unlock()

	go c.readLoop(stdout, events, stop)
	go c.drainStderr(stderr)
	return nil
}

// readLoop reads newline-delimited frames from the server's stdout and
// delivers decoded responses (or the decode failure) to the pending call.
// Notifications and other id-less messages are dropped here; this client does
// not consume them.
func (c *Conn) readLoop(r io.Reader, events chan<- readEvent, stop <-chan struct{}) {
	defer close(events)

	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				c.logger.Debug("read loop finished", slog.String("err", err.Error()))
			}
			return
		}
		if len(trimFrame(line)) == 0 {
			continue
		}

		msg, derr := DecodeMessage(trimFrame(line))
		if derr != nil {
			select {
			case events <- readEvent{err: derr}:
			case <-stop:
				return
			}
			continue
		}
		if msg.ID == nil {
			c.logger.Debug("dropping server message without id", slog.String("method", msg.Method))
			continue
		}
		select {
		case events <- readEvent{msg: msg}:
		case <-stop:
			return
		}
	}
}

func trimFrame(line []byte) []byte {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}

// drainStderr keeps the child's stderr pipe from filling up, which would
// block the child and stall its replies. A plain reader loop rather than a
// Scanner so an over-long line cannot end the drain early.
func (c *Conn) drainStderr(r io.Reader) {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			c.logger.Debug("server stderr", slog.String("line", string(trimFrame(line))))
		}
		if err != nil {
			return
		}
	}
}

// initialize runs the handshake call and the initialized notification. The
// protocol version and client identity come from the embedding application.
func (c *Conn) initialize(ctx context.Context) error {
	params := initializeParams{
		ProtocolVersion: c.info.ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      Info{Name: c.info.Name, Version: c.info.Version},
	}
	msg, err := c.call(ctx, methodInitialize, params)
	if err != nil {
		return err
	}
	if msg.Error != nil {
		return &ConnectionError{
			Server: c.cfg.Name,
			Err:    fmt.Errorf("server rejected initialize: %s", errorMessage(msg.Error)),
		}
	}

	var result initializeResult
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		return &ConnectionError{Server: c.cfg.Name, Kind: ErrMalformedResponse, Err: fmt.Errorf("initialize result: %w", err)}
	}

	c.mu.Lock()
	c.serverInfo = result.ServerInfo
	c.protoVersion = result.ProtocolVersion
	c.mu.Unlock()

	return c.notify(methodInitialized, nil)
}

// discoverTools populates the tool catalog via tools/list. Each descriptor is
// stamped with the server name so the manager can route calls and drop entries
// when this connection disconnects.
func (c *Conn) discoverTools(ctx context.Context) error {
	msg, err := c.call(ctx, methodToolsList, nil)
	if err != nil {
		return err
	}
	if msg.Error != nil {
		return &ConnectionError{
			Server: c.cfg.Name,
			Err:    fmt.Errorf("server rejected tools/list: %s", errorMessage(msg.Error)),
		}
	}

	var result listToolsResult
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		return &ConnectionError{Server: c.cfg.Name, Kind: ErrMalformedResponse, Err: fmt.Errorf("tools/list result: %w", err)}
	}
	for i := range result.Tools {
		result.Tools[i].Server = c.cfg.Name
	}

	c.mu.Lock()
	c.tools = result.Tools
	c.mu.Unlock()
	return nil
}

// ExecuteTool invokes a named tool on this server. The connection must be
// Ready. An error envelope from the server surfaces as a ToolExecutionError.
func (c *Conn) ExecuteTool(ctx context.Context, name string, arguments map[string]any) (ToolResult, error) {
	c.mu.Lock()
	st := c.state
	c.mu.Unlock()
	if st != StateReady {
		return ToolResult{}, &NotConnectedError{Server: c.cfg.Name, State: st}
	}

	msg, err := c.call(ctx, methodToolsCall, callToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return ToolResult{}, err
	}
	if msg.Error != nil {
		return ToolResult{}, &ToolExecutionError{
			Tool:    name,
			Server:  c.cfg.Name,
			Message: errorMessage(msg.Error),
		}
	}

	var result ToolResult
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		return ToolResult{}, &ConnectionError{Server: c.cfg.Name, Kind: ErrMalformedResponse, Err: fmt.Errorf("tools/call result: %w", err)}
	}
	return result, nil
}

// call performs one request/response round-trip. The request id comes from a
// strictly increasing connection-local counter, and the whole cycle runs under
// callMu so concurrent callers never interleave frames on the stream.
//
// On timeout the id is recorded as abandoned and the lock is released; a late
// response for it is discarded by a later call instead of being mistaken for
// an id mismatch. A response whose id matches neither the pending id nor an
// abandoned one corrupts the connection, which is torn down.
func (c *Conn) call(ctx context.Context, method string, params any) (JSONRPCMessage, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	c.mu.Lock()
	stdin := c.stdin
	events := c.events
	c.mu.Unlock()
	if stdin == nil || events == nil {
		return JSONRPCMessage{}, &NotConnectedError{Server: c.cfg.Name, State: c.State()}
	}

	id := c.nextID.Add(1)
	frame, err := EncodeRequest(id, method, params)
	if err != nil {
		return JSONRPCMessage{}, err
	}
	if _, err := stdin.Write(frame); err != nil {
		c.teardown()
		return JSONRPCMessage{}, &ConnectionError{Server: c.cfg.Name, Err: fmt.Errorf("write %s request: %w", method, err)}
	}

	timer := time.NewTimer(c.cfg.Timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.abandon(id)
			return JSONRPCMessage{}, &ConnectionError{Server: c.cfg.Name, Kind: ErrCallTimeout, Err: ctx.Err()}

		case <-timer.C:
			c.abandon(id)
			return JSONRPCMessage{}, &ConnectionError{
				Server: c.cfg.Name,
				Kind:   ErrCallTimeout,
				Err:    fmt.Errorf("no response to %s within %s", method, c.cfg.Timeout),
			}

		case ev, ok := <-events:
			if !ok {
				c.teardown()
				return JSONRPCMessage{}, &ConnectionError{Server: c.cfg.Name, Kind: ErrStreamClosed}
			}
			if ev.err != nil {
				c.teardown()
				return JSONRPCMessage{}, &ConnectionError{Server: c.cfg.Name, Kind: kindOf(ev.err), Err: ev.err}
			}

			got := *ev.msg.ID
			if got != id {
				if c.wasAbandoned(got) {
					c.logger.Debug("discarding late response for abandoned request", slog.Int64("id", got))
					continue
				}
				c.teardown()
				return JSONRPCMessage{}, &ConnectionError{Server: c.cfg.Name, Kind: ErrIDMismatch, WantID: id, GotID: got}
			}

			if ev.msg.Result == nil && ev.msg.Error == nil {
				c.teardown()
				return JSONRPCMessage{}, &ConnectionError{Server: c.cfg.Name, Kind: ErrMissingResult, WantID: id}
			}
			return ev.msg, nil
		}
	}
}

// kindOf maps a decode failure onto its sentinel so errors.Is keeps working
// through the ConnectionError wrapper.
func kindOf(err error) error {
	switch {
	case errors.Is(err, ErrNonObjectResponse):
		return ErrNonObjectResponse
	default:
		return ErrMalformedResponse
	}
}

func (c *Conn) abandon(id int64) {
	c.mu.Lock()
	c.abandoned[id] = struct{}{}
	c.mu.Unlock()
}

func (c *Conn) wasAbandoned(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.abandoned[id]; ok {
		delete(c.abandoned, id)
		return true
	}
	return false
}

// notify writes a notification frame. No response is expected, so the call
// lock is held only for the write.
func (c *Conn) notify(method string, params any) error {
	frame, err := EncodeNotification(method, params)
	if err != nil {
		return err
	}

	c.callMu.Lock()
	defer c.callMu.Unlock()

	c.mu.Lock()
	stdin := c.stdin
	c.mu.Unlock()
	if stdin == nil {
		return &NotConnectedError{Server: c.cfg.Name, State: c.State()}
	}
	if _, err := stdin.Write(frame); err != nil {
		return &ConnectionError{Server: c.cfg.Name, Err: fmt.Errorf("write %s notification: %w", method, err)}
	}
	return nil
}

// Disconnect terminates the server process: it signals graceful shutdown by
// closing the child's stdin, waits for the shutdown grace period, and kills the
// process if it has not exited. It is idempotent and unconditionally leaves the
// connection Disconnected.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateDisconnecting
	stdin := c.stdin
	cmd := c.cmd
	stop := c.stop
	c.stdin = nil
	c.cmd = nil
	c.stop = nil
	c.events = nil
	c.tools = nil
	c.abandoned = make(map[int64]struct{})
	c.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()

		select {
		case <-done:
		case <-time.After(c.shutdownGrace):
			c.logger.Warn("server did not exit in time, killing process")
			_ = cmd.Process.Kill()
			<-done
		}
	}

	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()

	c.logger.Info("disconnected from tool server")
	return nil
}

// teardown forcefully resets the connection after a failure: the process is
// killed, the catalog dropped, and the state returns to Disconnected. Used on
// every failed connect path and on protocol corruption.
func (c *Conn) teardown() {
	c.mu.Lock()
	stdin := c.stdin
	cmd := c.cmd
	stop := c.stop
	c.stdin = nil
	c.cmd = nil
	c.stop = nil
	c.events = nil
	c.tools = nil
	c.abandoned = make(map[int64]struct{})
	c.state = StateDisconnected
	c.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
}

// mergedEnv layers the descriptor's overrides on top of the inherited process
// environment. Keys are sorted so the merge is deterministic.
func mergedEnv(overrides map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}
