package client

import (
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"wslogin/internal/shared"
)

// ws_client.go = websocket client for the wsloginCLI application.

type WSClient struct {
	conn    *websocket.Conn
	timeout time.Duration
}

// Dial opens a websocket connection to serverURL.
func Dial(serverURL string, timeout time.Duration) (*WSClient, error) {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.Dial(serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	return &WSClient{conn: conn, timeout: timeout}, nil
}

// Login sends one LoginRequest and waits for the matching LoginResponse.
func (c *WSClient) Login(username string) (*shared.LoginResponse, error) {
	if err := c.Send(&shared.LoginRequest{Username: username}); err != nil {
		return nil, err
	}

	msg, err := c.Receive()
	if err != nil {
		return nil, err
	}
	resp, ok := msg.(*shared.LoginResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected %s in reply to login", msg.MessageType())
	}
	return resp, nil
}

// Send writes msg as a binary frame.
func (c *WSClient) Send(msg shared.Message) error {
	data, err := shared.Encode(msg)
	if err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.MessageType(), err)
	}
	return nil
}

// Receive reads the next binary frame and decodes it.
func (c *WSClient) Receive() (shared.Message, error) {
	if c.timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	kind, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if kind != websocket.BinaryMessage {
		return nil, fmt.Errorf("expected binary frame, got type %d", kind)
	}
	return shared.Decode(data)
}

// Close sends a close frame and closes the connection.
func (c *WSClient) Close() error {
	deadline := time.Now().Add(time.Second)
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.conn.Close()
}
