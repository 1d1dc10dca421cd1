package mcp

import (
	"bufio"
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFrame(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Content-Length: 5\r\n\r\nhello")
	fmt.Fprintf(&buf, "CONTENT-LENGTH: 5\r\nX-Extra: ignored\r\n\r\nworld")

	reader := bufio.NewReader(&buf)

	frame, err := readFrame(reader)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(frame))

	frame, err = readFrame(reader)
	require.NoError(t, err)
	assert.Equal(t, "world", string(frame))
}

func TestReadFrameTruncatedBody(t *testing.T) {
	t.Parallel()

	reader := bufio.NewReader(bytes.NewBufferString("Content-Length: 10\r\n\r\nshort"))
	_, err := readFrame(reader)
	require.Error(t, err)
}

func TestReadFrameBadLength(t *testing.T) {
	t.Parallel()

	reader := bufio.NewReader(bytes.NewBufferString("Content-Length: nope\r\n\r\n"))
	_, err := readFrame(reader)
	require.Error(t, err)
}

func TestNormalizeToolResult(t *testing.T) {
	t.Parallel()

	text := `{"success":true,"data":{"summary":"done"},"confidence":75.5}`
	wire, err := normalizeToolResult(toolsCallResult{
		Content: []contentItem{{Type: "text", Text: &text}},
	})
	require.NoError(t, err)
	assert.True(t, wire.Success)
	require.NotNil(t, wire.Confidence)
	assert.Equal(t, 75.5, *wire.Confidence)

	data, ok := wire.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "done", data["summary"])
}

func TestNormalizeToolResultErrorContent(t *testing.T) {
	t.Parallel()

	text := "ETIMEDOUT: worker unreachable"
	wire, err := normalizeToolResult(toolsCallResult{
		Content: []contentItem{{Type: "text", Text: &text}},
		IsError: true,
	})
	require.NoError(t, err)
	assert.False(t, wire.Success)
	require.NotNil(t, wire.Error)
	assert.Equal(t, text, wire.Error.Message)
}

func TestNormalizeToolResultEmpty(t *testing.T) {
	t.Parallel()

	_, err := normalizeToolResult(toolsCallResult{})
	require.Error(t, err)
	assert.ErrorContains(t, err, "empty worker reply")
}

func TestNormalizeToolResultMissingSuccess(t *testing.T) {
	t.Parallel()

	text := `{"data":{"summary":"no verdict"}}`
	_, err := normalizeToolResult(toolsCallResult{
		Content: []contentItem{{Type: "text", Text: &text}},
	})
	require.Error(t, err)
	assert.ErrorContains(t, err, "missing success field")
}

func TestNormalizeToolResultWorkerFailure(t *testing.T) {
	t.Parallel()

	text := `{"success":false,"error":{"type":"auth_required","message":"401 unauthorized"}}`
	wire, err := normalizeToolResult(toolsCallResult{
		Content: []contentItem{{Type: "text", Text: &text}},
	})
	require.NoError(t, err)
	assert.False(t, wire.Success)
	require.NotNil(t, wire.Error)
	assert.Equal(t, "auth_required", wire.Error.Type)
	assert.Equal(t, "401 unauthorized", wire.Error.Message)
}
