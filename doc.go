// Package mcplink is a client for subprocess-hosted tool servers speaking the
// Model Context Protocol. It spawns servers over a stdio transport, discovers
// the tools they expose, invokes them on behalf of a caller, and translates
// discovered tool signatures into the calling conventions of downstream LLM
// APIs.
//
// The Manager is the entry point for applications: it owns any number of
// server connections, routes tool calls by name, and aggregates catalogs and
// failures across servers. A single Conn can also be used directly when only
// one server is involved.
package mcplink
