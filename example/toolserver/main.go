// toolserver is a small stdio tool server for exercising mcplink end to end.
// It exposes two tools: glob_match filters candidate names against a glob
// pattern, and text_diff produces a patch between two texts.
//
// Run it through a server descriptor:
//
//	servers:
//	  - name: textkit
//	    command: toolserver
//	    transport: stdio
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/gobwas/glob"
	"github.com/invopop/jsonschema"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/draywick/mcplink"
)

type globMatchInput struct {
	Pattern string   `json:"pattern" jsonschema_description:"Glob pattern, e.g. *.go or src/**"`
	Names   []string `json:"names" jsonschema_description:"Candidate names to match against the pattern"`
}

type textDiffInput struct {
	Old string `json:"old" jsonschema_description:"Original text"`
	New string `json:"new" jsonschema_description:"Modified text"`
}

func generateSchema[T any]() json.RawMessage {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	bs, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		panic(err)
	}
	return bs
}

func tools() []mcplink.Tool {
	return []mcplink.Tool{
		{
			Name:        "glob_match",
			Description: "Filter a list of names, keeping those matching a glob pattern.",
			InputSchema: generateSchema[globMatchInput](),
		},
		{
			Name:        "text_diff",
			Description: "Produce a patch describing how to turn one text into another.",
			InputSchema: generateSchema[textDiffInput](),
		},
	}
}

func main() {
	in := bufio.NewScanner(os.Stdin)
	in.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	out := bufio.NewWriter(os.Stdout)

	for in.Scan() {
		line := in.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg mcplink.JSONRPCMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			fmt.Fprintf(os.Stderr, "bad frame: %v\n", err)
			continue
		}
		if resp, ok := handle(msg); ok {
			bs, err := json.Marshal(resp)
			if err != nil {
				fmt.Fprintf(os.Stderr, "marshal response: %v\n", err)
				continue
			}
			out.Write(bs)
			out.WriteByte('\n')
			out.Flush()
		}
	}
}

func handle(msg mcplink.JSONRPCMessage) (mcplink.JSONRPCMessage, bool) {
	switch msg.Method {
	case "initialize":
		var params struct {
			ProtocolVersion string `json:"protocolVersion"`
		}
		_ = json.Unmarshal(msg.Params, &params)
		return respond(msg, map[string]any{
			"protocolVersion": params.ProtocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      mcplink.Info{Name: "toolserver", Version: "0.2.0"},
		})

	case "notifications/initialized":
		return mcplink.JSONRPCMessage{}, false

	case "tools/list":
		return respond(msg, map[string]any{"tools": tools()})

	case "tools/call":
		var params struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return respondError(msg, -32602, fmt.Sprintf("bad params: %v", err))
		}
		text, err := callTool(params.Name, params.Arguments)
		if err != nil {
			return respondError(msg, -32000, err.Error())
		}
		return respond(msg, mcplink.ToolResult{
			Content: []mcplink.Content{{Type: mcplink.ContentTypeText, Text: text}},
		})
	}

	if msg.ID == nil {
		// Unknown notification, nothing to answer.
		return mcplink.JSONRPCMessage{}, false
	}
	return respondError(msg, -32601, fmt.Sprintf("method %q not found", msg.Method))
}

func callTool(name string, arguments json.RawMessage) (string, error) {
	switch name {
	case "glob_match":
		var in globMatchInput
		if err := json.Unmarshal(arguments, &in); err != nil {
			return "", err
		}
		g, err := glob.Compile(in.Pattern)
		if err != nil {
			return "", fmt.Errorf("bad pattern %q: %w", in.Pattern, err)
		}
		var matched []string
		for _, name := range in.Names {
			if g.Match(name) {
				matched = append(matched, name)
			}
		}
		return strings.Join(matched, "\n"), nil

	case "text_diff":
		var in textDiffInput
		if err := json.Unmarshal(arguments, &in); err != nil {
			return "", err
		}
		dmp := diffmatchpatch.New()
		patches := dmp.PatchMake(in.Old, in.New)
		return dmp.PatchToText(patches), nil
	}
	return "", fmt.Errorf("tool %q not found", name)
}

func respond(req mcplink.JSONRPCMessage, result any) (mcplink.JSONRPCMessage, bool) {
	bs, err := json.Marshal(result)
	if err != nil {
		return respondError(req, -32603, err.Error())
	}
	return mcplink.JSONRPCMessage{JSONRPC: mcplink.JSONRPCVersion, ID: req.ID, Result: bs}, true
}

func respondError(req mcplink.JSONRPCMessage, code int, message string) (mcplink.JSONRPCMessage, bool) {
	bs, _ := json.Marshal(mcplink.JSONRPCError{Code: code, Message: message})
	return mcplink.JSONRPCMessage{JSONRPC: mcplink.JSONRPCVersion, ID: req.ID, Error: bs}, true
}
