package fakeserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"
)

// Serve runs the fake MCP server, reading requests from in and writing responses to out.
// It handles initialize, tools/list and tools/call, with configurable delays, errors, and crashes.
// It returns nil when the input stream ends or notifications/shutdown arrives.
func Serve(ctx context.Context, in io.Reader, out io.Writer, cfg Config) error {
	reader := bufio.NewReader(in)
	requestCount := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Read JSON-RPC request (NDJSON framing - read until newline)
		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var req rpcRequest
		if err := json.Unmarshal(line, &req); err != nil {
			return err
		}

		// Replies to our own server requests.
		if req.Method == "" {
			continue
		}

		// Notifications carry no id and never get a response.
		if len(req.ID) == 0 {
			switch req.Method {
			case "notifications/initialized":
				for _, method := range cfg.NotifyAfterInitialized {
					writeLine(out, rpcNotification{JSONRPC: "2.0", Method: method})
				}
			case "notifications/shutdown":
				return nil
			}
			continue
		}

		requestCount++

		// Check crash conditions
		if cfg.CrashOnNthRequest > 0 && requestCount >= cfg.CrashOnNthRequest {
			os.Exit(cfg.CrashExitCode)
		}
		if cfg.CrashOnMethod != "" && req.Method == cfg.CrashOnMethod {
			os.Exit(cfg.CrashExitCode)
		}

		if slices.Contains(cfg.IgnoreMethods, req.Method) {
			continue
		}

		// Apply delay if configured
		if delay, ok := cfg.Delays[req.Method]; ok {
			time.Sleep(delay)
		}

		// Check for Malformed response mode
		if cfg.Malformed {
			out.Write([]byte("this is not valid json\n"))
			continue
		}

		// Check for forced error
		if rpcErr, ok := cfg.Errors[req.Method]; ok {
			writeErrorResponse(out, req.ID, rpcErr, cfg)
			continue
		}

		// Handle methods
		switch req.Method {
		case "initialize":
			writeResponse(out, req.ID, InitializeResult{
				ProtocolVersion: "2024-11-05",
				ServerInfo:      ServerInfo{Name: "fake-server", Version: "1.0.0"},
				Capabilities:    Capabilities{Tools: &ToolsCapability{}},
			}, cfg)

		case "tools/list":
			tools := cfg.Tools
			if tools == nil {
				tools = []Tool{}
			}
			writeResponse(out, req.ID, ToolsListResult{Tools: tools}, cfg)

		case "tools/call":
			var params ToolCallParams
			if err := json.Unmarshal(req.Params, &params); err != nil {
				writeErrorResponse(out, req.ID, JSONRPCError{Code: -32602, Message: "Invalid params"}, cfg)
				continue
			}
			content, isError, err := callTool(cfg, params)
			if err != nil {
				writeErrorResponse(out, req.ID, JSONRPCError{Code: -32602, Message: err.Error()}, cfg)
				continue
			}
			writeResponse(out, req.ID, ToolCallResult{Content: content, IsError: isError}, cfg)

		default:
			writeErrorResponse(out, req.ID, JSONRPCError{
				Code: -32601, Message: "Method not found",
			}, cfg)
		}
	}
}

func callTool(cfg Config, params ToolCallParams) ([]ContentBlock, bool, error) {
	if cfg.ToolHandler != nil {
		return cfg.ToolHandler(params.Name, params.Arguments)
	}
	if msg, ok := cfg.ToolErrors[params.Name]; ok {
		return []ContentBlock{{Type: "text", Text: msg}}, true, nil
	}
	if text, ok := cfg.ToolResults[params.Name]; ok {
		return []ContentBlock{{Type: "text", Text: text}}, false, nil
	}
	if content, ok := cfg.ToolContent[params.Name]; ok {
		if content == nil {
			content = []ContentBlock{}
		}
		return content, false, nil
	}
	if cfg.Calculator && (params.Name == "add" || params.Name == "multiply") {
		var args struct {
			A float64 `json:"a"`
			B float64 `json:"b"`
		}
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return nil, false, fmt.Errorf("bad arguments: %w", err)
		}
		v := args.A + args.B
		if params.Name == "multiply" {
			v = args.A * args.B
		}
		return []ContentBlock{{Type: "text", Text: strconv.FormatFloat(v, 'f', -1, 64)}}, false, nil
	}
	if cfg.EchoToolCalls {
		args := string(params.Arguments)
		if args == "" {
			args = "{}"
		}
		return []ContentBlock{{Type: "text", Text: params.Name + " " + args}}, false, nil
	}
	return nil, false, fmt.Errorf("unknown tool: %s", params.Name)
}
