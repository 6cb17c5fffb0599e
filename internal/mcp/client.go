package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// DefaultCallTimeout bounds a single tool call unless the server config
// overrides it.
const DefaultCallTimeout = 60 * time.Second

// HTTPServer talks JSON-RPC 2.0 over HTTP to a remote MCP server.
type HTTPServer struct {
	id      string
	url     string
	headers map[string]string
	client  *http.Client
	logger  *slog.Logger
}

// HTTPServerConfig configures an HTTPServer.
type HTTPServerConfig struct {
	ID      string
	URL     string
	Headers map[string]string
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewHTTPServer creates a JSON-RPC HTTP server client.
func NewHTTPServer(cfg HTTPServerConfig) *HTTPServer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{
		id:      cfg.ID,
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("mcp_server", cfg.ID),
	}
}

// ID returns the server identifier.
func (s *HTTPServer) ID() string { return s.id }

// ListTools calls tools/list.
func (s *HTTPServer) ListTools(ctx context.Context) ([]ToolInfo, error) {
	raw, err := s.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode tools/list result: %w", err)
	}
	return result.Tools, nil
}

// ExecuteTool calls tools/call and flattens the MCP content blocks into
// a single JSON payload.
func (s *HTTPServer) ExecuteTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	params := struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments,omitempty"`
	}{Name: name, Arguments: args}

	raw, err := s.call(ctx, "tools/call", params)
	if err != nil {
		return nil, err
	}
	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content"`
		IsError bool `json:"isError,omitempty"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		// Non-standard servers may return the payload directly.
		return raw, nil
	}
	var text string
	for _, block := range result.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if result.IsError {
		return nil, fmt.Errorf("tool %s: %s", name, text)
	}
	if json.Valid([]byte(text)) {
		return json.RawMessage(text), nil
	}
	encoded, _ := json.Marshal(text)
	return encoded, nil
}

// FetchResource calls resources/read.
func (s *HTTPServer) FetchResource(ctx context.Context, uri string) (json.RawMessage, error) {
	params := struct {
		URI string `json:"uri"`
	}{URI: uri}
	return s.call(ctx, "resources/read", params)
}

// RenderPrompt calls prompts/get and concatenates the returned messages.
func (s *HTTPServer) RenderPrompt(ctx context.Context, name string, vars map[string]string) (string, error) {
	params := struct {
		Name      string            `json:"name"`
		Arguments map[string]string `json:"arguments,omitempty"`
	}{Name: name, Arguments: vars}

	raw, err := s.call(ctx, "prompts/get", params)
	if err != nil {
		return "", err
	}
	var result struct {
		Messages []struct {
			Content struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("decode prompts/get result: %w", err)
	}
	var text string
	for _, msg := range result.Messages {
		text += msg.Content.Text
	}
	return text, nil
}

type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *HTTPServer) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	req := jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
	}
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = encoded
	}
	body, _ := json.Marshal(req)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("mcp %s %s: %w", s.id, method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("mcp %s %s: HTTP %d: %s", s.id, method, resp.StatusCode, payload)
	}

	var rpcResp jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("mcp %s %s: rpc %d: %s", s.id, method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}
