package main

import (
	"bytes"
	"encoding/json"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wslogin/internal/config"
)

func TestNewLogger_Formats(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &config.Config{LogLevel: "info", LogFormat: "json"})
	logger.Debug("hidden")
	logger.Info("websocket_server_started", "addr", "127.0.0.1:1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "websocket_server_started", entry["msg"])
	assert.Equal(t, "127.0.0.1:1", entry["addr"])

	buf.Reset()
	logger = newLogger(&buf, &config.Config{LogLevel: "debug", LogFormat: "text"})
	logger.Debug("client_added", "client_id", "abc")
	assert.Contains(t, buf.String(), "msg=client_added")
	assert.Contains(t, buf.String(), "client_id=abc")
}

func TestRun_BindFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	port := taken.Addr().(*net.TCPAddr).Port
	cfg := &config.Config{WSHost: "127.0.0.1", WSPort: port, LogLevel: "error", LogFormat: "text"}

	var buf bytes.Buffer
	err = run(cfg, newLogger(&buf, cfg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start websocket server")
}
