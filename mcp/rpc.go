package mcp

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shale-yeah/kernel/shape"
)

type (
	rpcRequest struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
		ID      uint64 `json:"id"`
		Params  any    `json:"params"`
	}

	rpcResponse struct {
		JSONRPC string          `json:"jsonrpc"`
		Result  json.RawMessage `json:"result"`
		Error   *rpcError       `json:"error"`
		ID      uint64          `json:"id"`
	}

	rpcError struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}

	toolsCallResult struct {
		Content []contentItem `json:"content"`
		IsError bool          `json:"isError"`
	}

	contentItem struct {
		Type string  `json:"type"`
		Text *string `json:"text"`
	}
)

func (e *rpcError) callerError() *Error {
	if e == nil {
		return nil
	}
	return &Error{Code: e.Code, Message: e.Message}
}

func (c contentItem) text() string {
	if c.Text == nil {
		return ""
	}
	return *c.Text
}

// normalizeToolResult converts MCP content into the executor's wire result.
// Error content becomes a worker-reported failure so classification applies
// to the message; success content must be a JSON object with a success field.
func normalizeToolResult(result toolsCallResult) (shape.WireResult, error) {
	if len(result.Content) == 0 {
		return shape.WireResult{}, errors.New("empty worker reply")
	}
	text := result.Content[0].text()
	if result.IsError {
		return shape.WireResult{
			Success: false,
			Error:   &shape.WireError{Message: text},
		}, nil
	}
	raw := []byte(text)
	var probe struct {
		Success *bool `json:"success"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return shape.WireResult{}, fmt.Errorf("malformed worker reply: %w", err)
	}
	if probe.Success == nil {
		return shape.WireResult{}, errors.New("malformed worker reply: missing success field")
	}
	var wire shape.WireResult
	if err := json.Unmarshal(raw, &wire); err != nil {
		return shape.WireResult{}, fmt.Errorf("malformed worker reply: %w", err)
	}
	return wire, nil
}

// readFrame reads one Content-Length framed JSON-RPC message.
func readFrame(reader *bufio.Reader) ([]byte, error) {
	length := -1
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if length < 0 {
				continue
			}
			break
		}
		if after, ok := strings.CutPrefix(strings.ToLower(line), "content-length:"); ok {
			n, err := strconv.Atoi(strings.TrimSpace(after))
			if err != nil {
				return nil, err
			}
			length = n
		}
	}
	if length < 0 {
		return nil, errors.New("content-length header missing")
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
