package datasource

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC envelope used by the provider's /mcp/stream endpoint.

type RPCRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      int64     `json:"id"`
	Method  string    `json:"method"`
	Params  RPCParams `json:"params"`
}

type RPCParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type RPCResponse struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      any        `json:"id"`
	Result  *RPCResult `json:"result,omitempty"`
	Error   *RPCError  `json:"error,omitempty"`
}

type RPCResult struct {
	Content []RPCContent `json:"content"`
}

type RPCContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Header carrying the provider session id.
const SessionHeader = "Mcp-Session-Id"

// StatusLoginRequired is the status a provider reports for unauthenticated sessions.
const StatusLoginRequired = "login_required"

func newToolCall(id int64, name string, args map[string]any) RPCRequest {
	if args == nil {
		args = map[string]any{}
	}
	return RPCRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "tools/call",
		Params:  RPCParams{Name: name, Arguments: args},
	}
}

// embeddedPayload returns result.content[0].text validated as JSON.
func embeddedPayload(resp RPCResponse) (json.RawMessage, error) {
	if resp.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	if resp.Result == nil || len(resp.Result.Content) == 0 {
		return nil, fmt.Errorf("response has no content")
	}
	text := resp.Result.Content[0].Text
	if text == "" {
		text = "{}"
	}
	if !json.Valid([]byte(text)) {
		return nil, fmt.Errorf("content is not valid JSON")
	}
	return json.RawMessage(text), nil
}

// payloadStatus extracts a top-level "status" string, if any.
func payloadStatus(raw json.RawMessage) string {
	var probe struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.Status
}

// canonicalArgs serializes args with sorted keys so equal maps share a cache key.
func canonicalArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(b)
}
