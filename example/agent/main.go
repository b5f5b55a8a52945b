// agent is a minimal chat loop wiring mcplink-discovered tools into the
// Anthropic Messages API. It connects every server from a descriptor file,
// presents their tools to the model, and executes tool_use blocks through the
// connection manager.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/draywick/mcplink"
)

func main() {
	configPath := flag.String("config", "servers.yaml", "server descriptor file")
	flag.Parse()

	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		fmt.Fprintln(os.Stderr, "missing ANTHROPIC_API_KEY; export it before running")
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := mcplink.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	manager := mcplink.NewManager(mcplink.ClientInfo{
		Name:            "mcplink-agent",
		Version:         "0.1.0",
		ProtocolVersion: "2024-11-05",
	}, mcplink.WithLogger(logger))

	ctx := context.Background()
	succeeded, errs := manager.ConnectAll(ctx, cfg.Servers)
	defer manager.DisconnectAll()
	for name, err := range errs {
		fmt.Fprintf(os.Stderr, "server %s unavailable: %v\n", name, err)
	}
	if len(succeeded) == 0 {
		fmt.Fprintln(os.Stderr, "no tool servers available")
		os.Exit(1)
	}

	tools, err := manager.ListTools("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list tools: %v\n", err)
		os.Exit(1)
	}
	modelTools := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		def, err := mcplink.AnthropicTool(t)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipping tool %q: %v\n", t.Name, err)
			continue
		}
		modelTools = append(modelTools, def)
	}
	fmt.Printf("connected servers: %v, tools: %d\n", succeeded, len(modelTools))

	client := anthropic.NewClient()
	var conv []anthropic.MessageParam

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you: ")
		if !scanner.Scan() {
			return
		}
		conv = append(conv, anthropic.NewUserMessage(anthropic.NewTextBlock(scanner.Text())))

		for {
			msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
				Model:     anthropic.ModelClaude3_7SonnetLatest,
				MaxTokens: 1024,
				Messages:  conv,
				Tools:     modelTools,
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "model error: %v\n", err)
				break
			}
			conv = append(conv, msg.ToParam())

			var toolResults []anthropic.ContentBlockParamUnion
			for _, block := range msg.Content {
				switch v := block.AsAny().(type) {
				case anthropic.TextBlock:
					fmt.Printf("assistant: %s\n", v.Text)
				case anthropic.ToolUseBlock:
					toolResults = append(toolResults, runTool(ctx, manager, v))
				}
			}
			if len(toolResults) == 0 {
				break
			}
			conv = append(conv, anthropic.NewUserMessage(toolResults...))
		}
	}
}

func runTool(ctx context.Context, manager *mcplink.Manager, block anthropic.ToolUseBlock) anthropic.ContentBlockParamUnion {
	var arguments map[string]any
	if err := json.Unmarshal([]byte(block.JSON.Input.Raw()), &arguments); err != nil {
		return anthropic.NewToolResultBlock(block.ID, fmt.Sprintf("bad tool input: %v", err), true)
	}

	result, err := manager.CallTool(ctx, block.Name, arguments, "")
	if err != nil {
		return anthropic.NewToolResultBlock(block.ID, err.Error(), true)
	}
	return anthropic.NewToolResultBlock(block.ID, result.TextContent(), result.IsError)
}
