package mcplink_test

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/draywick/mcplink"
)

// The test binary doubles as a fake tool server: when MCPLINK_TEST_SERVER is
// set, it speaks the wire protocol on stdin/stdout instead of running tests.
// Connection tests spawn os.Args[0] with that variable set, so no external
// binary is needed.
func TestMain(m *testing.M) {
	if mode := os.Getenv("MCPLINK_TEST_SERVER"); mode != "" {
		runFakeServer(mode)
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// fakeConfig builds a descriptor that launches this test binary as a fake
// server in the given mode.
func fakeConfig(mode string, timeout time.Duration) mcplink.ServerConfig {
	return mcplink.ServerConfig{
		Name:      mode,
		Command:   os.Args[0],
		Env:       map[string]string{"MCPLINK_TEST_SERVER": mode},
		Transport: "stdio",
		Timeout:   timeout,
	}
}

func testClientInfo() mcplink.ClientInfo {
	return mcplink.ClientInfo{
		Name:            "mcplink-tests",
		Version:         "0.0.1",
		ProtocolVersion: "2024-11-05",
	}
}

func writeMsg(msg mcplink.JSONRPCMessage) {
	bs, _ := json.Marshal(msg)
	fmt.Println(string(bs))
}

func reply(id int64, result any) {
	bs, _ := json.Marshal(result)
	writeMsg(mcplink.JSONRPCMessage{JSONRPC: mcplink.JSONRPCVersion, ID: &id, Result: bs})
}

func replyError(id int64, payload string) {
	writeMsg(mcplink.JSONRPCMessage{JSONRPC: mcplink.JSONRPCVersion, ID: &id, Error: json.RawMessage(payload)})
}

func fakeTool(name, description string) mcplink.Tool {
	return mcplink.Tool{
		Name:        name,
		Description: description,
		InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
	}
}

func runFakeServer(mode string) {
	// A stderr line far beyond bufio.Scanner's default token limit, written
	// before any request is served.
	if mode == "stderrflood" {
		fmt.Fprintln(os.Stderr, strings.Repeat("x", 256*1024))
	}

	scanner := bufio.NewScanner(os.Stdin)
	calls := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg mcplink.JSONRPCMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}

		switch msg.Method {
		case "initialize":
			var params struct {
				ProtocolVersion string `json:"protocolVersion"`
			}
			_ = json.Unmarshal(msg.Params, &params)
			reply(*msg.ID, map[string]any{
				"protocolVersion": params.ProtocolVersion,
				"capabilities":    map[string]any{},
				"serverInfo":      mcplink.Info{Name: "fake-" + mode, Version: "0.1.0"},
			})

		case "notifications/initialized":
			// no reply

		case "tools/list":
			var tools []mcplink.Tool
			switch mode {
			case "empty":
				tools = []mcplink.Tool{}
			case "echo", "garbage", "silent", "badid", "noresult",
				"toolerror", "toolerror-string", "slowthenfast", "echoid",
				"stderrflood":
				tools = []mcplink.Tool{fakeTool(mode, "fake "+mode+" tool")}
			case "reverse":
				tools = []mcplink.Tool{fakeTool("reverse", "reverse text")}
			}
			if tools == nil {
				tools = []mcplink.Tool{}
			}
			reply(*msg.ID, map[string]any{"tools": tools})

		case "tools/call":
			calls++
			var params struct {
				Name      string         `json:"name"`
				Arguments map[string]any `json:"arguments"`
			}
			_ = json.Unmarshal(msg.Params, &params)
			handleFakeCall(mode, *msg.ID, calls, params.Name, params.Arguments)
		}
	}
}

func handleFakeCall(mode string, id int64, calls int, name string, arguments map[string]any) {
	text, _ := arguments["text"].(string)
	textResult := func(s string) map[string]any {
		return map[string]any{
			"content": []mcplink.Content{{Type: mcplink.ContentTypeText, Text: s}},
			"isError": false,
		}
	}

	switch mode {
	case "echo", "stderrflood":
		reply(id, textResult(text))
	case "reverse":
		runes := []rune(text)
		for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
			runes[i], runes[j] = runes[j], runes[i]
		}
		reply(id, textResult(string(runes)))
	case "garbage":
		fmt.Println("this is not json")
	case "silent":
		// never reply
	case "badid":
		reply(id+1000, textResult("wrong id"))
	case "noresult":
		writeMsg(mcplink.JSONRPCMessage{JSONRPC: mcplink.JSONRPCVersion, ID: &id})
	case "toolerror":
		replyError(id, `{"code":-32000,"message":"boom"}`)
	case "toolerror-string":
		replyError(id, `"bare failure"`)
	case "slowthenfast":
		if calls == 1 {
			time.Sleep(500 * time.Millisecond)
		}
		reply(id, textResult("call "+strconv.Itoa(calls)))
	case "echoid":
		reply(id, textResult(strconv.FormatInt(id, 10)))
	default:
		replyError(id, `{"code":-32601,"message":"unknown tool `+name+`"}`)
	}
}
