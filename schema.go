package mcplink

import (
	"encoding/json"
)

// JSONRPCVersion specifies the JSON-RPC protocol version used for all messages.
const JSONRPCVersion = "2.0"

// JSONRPCMessage represents a JSON-RPC 2.0 message exchanged with a tool server.
// It can represent either a request, response, or notification depending on which
// fields are populated:
//   - Request: JSONRPC, ID, Method, and Params are set
//   - Response: JSONRPC, ID, and either Result or Error are set
//   - Notification: JSONRPC and Method are set (no ID)
type JSONRPCMessage struct {
	// JSONRPC must always be "2.0" per the JSON-RPC specification
	JSONRPC string `json:"jsonrpc"`
	// ID uniquely identifies request-response pairs. Requests issued by this
	// package always use integer ids drawn from a connection-local counter.
	ID *int64 `json:"id,omitempty"`
	// Method contains the RPC method name for requests and notifications
	Method string `json:"method,omitempty"`
	// Params contains the parameters for the method call as a raw JSON message
	Params json.RawMessage `json:"params,omitempty"`
	// Result contains the successful response data as a raw JSON message
	Result json.RawMessage `json:"result,omitempty"`
	// Error contains the error payload if the request failed. It is kept raw
	// because some servers report a bare string where JSON-RPC asks for an
	// object.
	Error json.RawMessage `json:"error,omitempty"`
}

// JSONRPCError represents the object form of an error payload in a JSON-RPC 2.0
// response.
type JSONRPCError struct {
	// Code indicates the error type that occurred.
	Code int `json:"code"`

	// Message provides a short description of the error.
	Message string `json:"message"`

	// Data contains additional information about the error.
	// The value is unstructured and may be omitted.
	Data map[string]any `json:"data,omitempty"`
}

// Info holds a name/version pair identifying one party of the handshake. The
// same shape is used for the client identity sent in initialize and the server
// identity returned by it.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientInfo carries the identity the embedding application presents during the
// initialize handshake. All fields are caller-supplied; this package never
// substitutes defaults for them.
type ClientInfo struct {
	Name            string
	Version         string
	ProtocolVersion string
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      Info           `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
	ServerInfo      Info            `json:"serverInfo"`
}

// Tool describes one callable operation discovered on a tool server.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`

	// Server names the connection the tool was discovered on. It is a lookup
	// key rather than a reference so a descriptor stays inspectable after its
	// connection has been torn down.
	Server string `json:"-"`
}

type listToolsResult struct {
	Tools []Tool `json:"tools"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult represents the outcome of a tool invocation. IsError indicates
// whether the tool itself reported failure, with details in Content.
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}

// Content is a single piece of structured content in a tool result.
type Content struct {
	Type ContentType `json:"type"`

	// For ContentTypeText
	Text string `json:"text,omitempty"`

	// For ContentTypeImage or ContentTypeAudio
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// ContentType represents the type of content in tool results.
type ContentType string

// Supported content types.
const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image"
	ContentTypeAudio ContentType = "audio"
)

// TextContent concatenates the text parts of a tool result, one per line.
// Non-text content is skipped.
func (r ToolResult) TextContent() string {
	var out string
	for _, c := range r.Content {
		if c.Type != ContentTypeText {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += c.Text
	}
	return out
}

const (
	methodInitialize  = "initialize"
	methodInitialized = "notifications/initialized"
	methodToolsList   = "tools/list"
	methodToolsCall   = "tools/call"
)
