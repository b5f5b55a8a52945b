package mcplink_test

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/draywick/mcplink"
)

func connectManager(t *testing.T, modes ...string) *mcplink.Manager {
	t.Helper()
	cfgs := make([]mcplink.ServerConfig, 0, len(modes))
	for _, mode := range modes {
		cfgs = append(cfgs, fakeConfig(mode, 5*time.Second))
	}

	m := mcplink.NewManager(testClientInfo())
	succeeded, errs := m.ConnectAll(context.Background(), cfgs)
	if len(errs) != 0 {
		t.Fatalf("ConnectAll errors: %v", errs)
	}
	if len(succeeded) != len(modes) {
		t.Fatalf("ConnectAll succeeded = %v, want %v", succeeded, modes)
	}
	t.Cleanup(func() { m.DisconnectAll() })
	return m
}

func TestManagerRoutesCallByToolName(t *testing.T) {
	m := connectManager(t, "echo", "reverse")

	result, err := m.CallTool(context.Background(), "echo", map[string]any{"text": "hi"}, "")
	if err != nil {
		t.Fatalf("CallTool(echo) failed: %v", err)
	}
	if got := result.TextContent(); got != "hi" {
		t.Errorf("echo result = %q, want %q", got, "hi")
	}

	result, err = m.CallTool(context.Background(), "reverse", map[string]any{"text": "abc"}, "")
	if err != nil {
		t.Fatalf("CallTool(reverse) failed: %v", err)
	}
	if got := result.TextContent(); got != "cba" {
		t.Errorf("reverse result = %q, want %q", got, "cba")
	}
}

func TestManagerToolNotFoundListsAllKnownTools(t *testing.T) {
	m := connectManager(t, "echo", "reverse")

	_, err := m.CallTool(context.Background(), "missing", map[string]any{}, "")
	var nfErr *mcplink.ToolNotFoundError
	if !errors.As(err, &nfErr) {
		t.Fatalf("CallTool error = %v, want ToolNotFoundError", err)
	}

	want := []string{"echo", "reverse"}
	got := slices.Clone(nfErr.Known)
	slices.Sort(got)
	if !slices.Equal(got, want) {
		t.Errorf("known tools = %v, want %v", nfErr.Known, want)
	}
}

func TestManagerCallToolWithExplicitServer(t *testing.T) {
	m := connectManager(t, "echo", "reverse")

	result, err := m.CallTool(context.Background(), "echo", map[string]any{"text": "direct"}, "echo")
	if err != nil {
		t.Fatalf("CallTool with server name failed: %v", err)
	}
	if got := result.TextContent(); got != "direct" {
		t.Errorf("result = %q, want %q", got, "direct")
	}

	_, err = m.CallTool(context.Background(), "echo", nil, "unknown")
	var ncErr *mcplink.NotConnectedError
	if !errors.As(err, &ncErr) {
		t.Fatalf("CallTool on unknown server error = %v, want NotConnectedError", err)
	}
}

func TestManagerListTools(t *testing.T) {
	m := connectManager(t, "echo", "reverse")

	all, err := m.ListTools("")
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("union catalog has %d tools, want 2", len(all))
	}
	for _, tool := range all {
		if tool.Server == "" {
			t.Errorf("tool %q has no owning server name", tool.Name)
		}
	}

	echoOnly, err := m.ListTools("echo")
	if err != nil {
		t.Fatalf("ListTools(echo) failed: %v", err)
	}
	if len(echoOnly) != 1 || echoOnly[0].Name != "echo" {
		t.Errorf("ListTools(echo) = %v, want the single echo tool", echoOnly)
	}

	_, err = m.ListTools("unknown")
	var ncErr *mcplink.NotConnectedError
	if !errors.As(err, &ncErr) {
		t.Fatalf("ListTools(unknown) error = %v, want NotConnectedError", err)
	}
}

func TestConnectAllIsolatesFailures(t *testing.T) {
	good := fakeConfig("echo", 5*time.Second)
	bad := fakeConfig("broken", 5*time.Second)
	bad.Command = "/nonexistent/binary"

	m := mcplink.NewManager(testClientInfo())
	t.Cleanup(func() { m.DisconnectAll() })

	succeeded, errs := m.ConnectAll(context.Background(), []mcplink.ServerConfig{bad, good})
	if len(succeeded) != 1 || succeeded[0] != "echo" {
		t.Fatalf("succeeded = %v, want [echo]", succeeded)
	}
	if len(errs) != 1 {
		t.Fatalf("errs = %v, want one entry", errs)
	}
	var cErr *mcplink.ConnectionError
	if !errors.As(errs["broken"], &cErr) {
		t.Fatalf("errs[broken] = %v, want ConnectionError", errs["broken"])
	}

	// The surviving server stays fully usable.
	result, err := m.CallTool(context.Background(), "echo", map[string]any{"text": "still here"}, "")
	if err != nil {
		t.Fatalf("CallTool on surviving server failed: %v", err)
	}
	if got := result.TextContent(); got != "still here" {
		t.Errorf("result = %q, want %q", got, "still here")
	}
}

func TestConnectAllRejectsDuplicateNamesInBatch(t *testing.T) {
	// Two descriptors sharing a name: the second must be rejected before any
	// process is spawned, not silently overwrite the first connection.
	m := mcplink.NewManager(testClientInfo())
	t.Cleanup(func() { m.DisconnectAll() })

	cfgs := []mcplink.ServerConfig{
		fakeConfig("echo", 5*time.Second),
		fakeConfig("echo", 5*time.Second),
	}
	succeeded, errs := m.ConnectAll(context.Background(), cfgs)
	if len(succeeded) != 1 || succeeded[0] != "echo" {
		t.Fatalf("succeeded = %v, want [echo]", succeeded)
	}
	var cErr *mcplink.ConnectionError
	if !errors.As(errs["echo"], &cErr) {
		t.Fatalf("errs[echo] = %v, want ConnectionError for the duplicate", errs["echo"])
	}

	tools, err := m.ListTools("")
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(tools) != 1 {
		t.Errorf("union catalog has %d tools, want 1", len(tools))
	}

	// The already-registered name is also rejected on a later batch.
	succeeded, errs = m.ConnectAll(context.Background(), cfgs[:1])
	if len(succeeded) != 0 {
		t.Errorf("reconnect succeeded = %v, want none", succeeded)
	}
	if !errors.As(errs["echo"], &cErr) {
		t.Errorf("reconnect errs[echo] = %v, want ConnectionError", errs["echo"])
	}
}

func TestManagerListToolsExcludesCorruptedServer(t *testing.T) {
	m := connectManager(t, "echo", "badid")

	// Corrupt the badid connection: the mismatched response id tears it down,
	// but the manager still has it registered.
	_, err := m.CallTool(context.Background(), "badid", map[string]any{"text": "x"}, "badid")
	if !errors.Is(err, mcplink.ErrIDMismatch) {
		t.Fatalf("CallTool error = %v, want ErrIDMismatch", err)
	}

	tools, err := m.ListTools("")
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "echo" {
		t.Fatalf("union catalog = %v, want only the echo tool", tools)
	}

	_, err = m.ListTools("badid")
	var ncErr *mcplink.NotConnectedError
	if !errors.As(err, &ncErr) {
		t.Errorf("ListTools(badid) error = %v, want NotConnectedError", err)
	}
}

func TestManagerToolDefinitions(t *testing.T) {
	m := connectManager(t, "echo")

	for _, format := range []mcplink.Format{mcplink.FormatAnthropic, mcplink.FormatOpenAI} {
		defs, err := m.ToolDefinitions(format)
		if err != nil {
			t.Fatalf("ToolDefinitions(%s) failed: %v", format, err)
		}
		if len(defs) != 1 {
			t.Fatalf("ToolDefinitions(%s) returned %d schemas, want 1", format, len(defs))
		}
		var decoded map[string]any
		if err := json.Unmarshal(defs[0], &decoded); err != nil {
			t.Fatalf("ToolDefinitions(%s) produced invalid JSON: %v", format, err)
		}
	}

	_, err := m.ToolDefinitions(mcplink.Format("vendor-x"))
	if err == nil {
		t.Fatal("ToolDefinitions with unknown format did not fail")
	}
}

func TestDisconnectAll(t *testing.T) {
	m := connectManager(t, "echo", "reverse")

	if errs := m.DisconnectAll(); len(errs) != 0 {
		t.Fatalf("DisconnectAll errors: %v", errs)
	}

	tools, err := m.ListTools("")
	if err != nil {
		t.Fatalf("ListTools after DisconnectAll failed: %v", err)
	}
	if len(tools) != 0 {
		t.Errorf("tools after DisconnectAll = %v, want none", tools)
	}

	// A second pass over an empty manager is a no-op.
	if errs := m.DisconnectAll(); len(errs) != 0 {
		t.Fatalf("second DisconnectAll errors: %v", errs)
	}
}
