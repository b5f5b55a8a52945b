package mcplink

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/tidwall/gjson"
)

// Format enumerates the downstream tool-calling conventions the adapter can
// translate to. The set is fixed; there is no runtime registry of formats.
type Format string

// Supported tool-calling formats.
const (
	// FormatAnthropic is the Anthropic Messages API tool convention: tool
	// definitions as ToolParam values, invocations as tool_use content blocks.
	FormatAnthropic Format = "anthropic"

	// FormatOpenAI is the OpenAI-style function-calling convention:
	// {type:"function", function:{...}} definitions, invocations carrying the
	// arguments as a JSON-encoded string.
	FormatOpenAI Format = "openai"
)

// FunctionTool is a tool definition in the OpenAI-style function-calling
// convention.
type FunctionTool struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef describes one callable function within a FunctionTool.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// AnthropicTool converts a discovered tool descriptor into the Anthropic
// Messages API shape. Unknown fields in the descriptor's input schema are
// ignored; a descriptor without a name is rejected.
func AnthropicTool(t Tool) (anthropic.ToolUnionParam, error) {
	if t.Name == "" {
		return anthropic.ToolUnionParam{}, &InvalidToolError{Field: "name"}
	}
	var schema struct {
		Properties any      `json:"properties"`
		Required   []string `json:"required"`
	}
	if len(t.InputSchema) > 0 {
		// Best effort: a malformed schema degrades to an empty one rather than
		// failing the whole catalog conversion.
		_ = json.Unmarshal(t.InputSchema, &schema)
	}
	return anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
		Name:        t.Name,
		Description: anthropic.String(t.Description),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: schema.Properties,
			Required:   schema.Required,
		},
	}}, nil
}

// OpenAITool converts a discovered tool descriptor into the OpenAI-style
// function-calling shape. The input schema passes through verbatim as the
// function parameters.
func OpenAITool(t Tool) (FunctionTool, error) {
	if t.Name == "" {
		return FunctionTool{}, &InvalidToolError{Field: "name"}
	}
	return FunctionTool{
		Type: "function",
		Function: FunctionDef{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		},
	}, nil
}

// ToolDefinition converts a descriptor to the requested format and returns it
// as a marshaled schema document.
func ToolDefinition(format Format, t Tool) (json.RawMessage, error) {
	switch format {
	case FormatAnthropic:
		def, err := AnthropicTool(t)
		if err != nil {
			return nil, err
		}
		return json.Marshal(def)
	case FormatOpenAI:
		def, err := OpenAITool(t)
		if err != nil {
			return nil, err
		}
		return json.Marshal(def)
	}
	return nil, fmt.Errorf("unsupported tool definition format %q", format)
}

// ParseInvocation extracts the tool name and arguments from a downstream
// consumer's invocation payload in the given format:
//
//   - FormatAnthropic: a tool_use content block, {"type":"tool_use","id":...,
//     "name":..., "input":{...}}.
//   - FormatOpenAI: a tool call, {"id":..., "type":"function",
//     "function":{"name":..., "arguments":"<json string>"}}.
//
// Unknown or extra fields are ignored. A payload without a tool name is
// rejected.
func ParseInvocation(format Format, payload []byte) (string, map[string]any, error) {
	switch format {
	case FormatAnthropic:
		name := gjson.GetBytes(payload, "name")
		if !name.Exists() || name.String() == "" {
			return "", nil, &InvalidToolError{Field: "name"}
		}
		arguments := map[string]any{}
		if input := gjson.GetBytes(payload, "input"); input.Exists() {
			if err := json.Unmarshal([]byte(input.Raw), &arguments); err != nil {
				return "", nil, fmt.Errorf("tool_use input is not an object: %w", err)
			}
		}
		return name.String(), arguments, nil

	case FormatOpenAI:
		name := gjson.GetBytes(payload, "function.name")
		if !name.Exists() || name.String() == "" {
			return "", nil, &InvalidToolError{Field: "function.name"}
		}
		arguments := map[string]any{}
		if args := gjson.GetBytes(payload, "function.arguments"); args.Exists() && args.String() != "" {
			if err := json.Unmarshal([]byte(args.String()), &arguments); err != nil {
				return "", nil, fmt.Errorf("function arguments are not valid JSON: %w", err)
			}
		}
		return name.String(), arguments, nil
	}
	return "", nil, fmt.Errorf("unsupported invocation format %q", format)
}
