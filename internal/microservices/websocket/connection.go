package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"wslogin/internal/shared"
)

// ClientConnection handles the lifetime of one upgraded connection.
// Messages are processed strictly one at a time in arrival order.
type ClientConnection struct {
	ID       string // unique identifier = key in manager map
	channel  *Channel
	Manager  *ConnectionManager
	Verifier Verifier
	Limiter  *rate.Limiter // nil = no rate limit
	logger   *slog.Logger
}

// constructor for ClientConnection
func NewClientConnection(channel *Channel, manager *ConnectionManager, verifier Verifier, limiter *rate.Limiter, logger *slog.Logger) *ClientConnection {
	if logger == nil {
		logger = slog.Default()
	}
	if verifier == nil {
		verifier = AllowAll{}
	}
	id := uuid.NewString()
	c := &ClientConnection{
		ID:       id,
		channel:  channel,
		Manager:  manager,
		Verifier: verifier,
		Limiter:  limiter,
		logger:   logger.With("client_id", id),
	}
	// control frames are answered by the channel but never dispatched
	channel.OnControl = func(hdr ws.Header) {
		c.logger.Warn("unsupported_frame_type",
			"opcode", opName(hdr.OpCode),
		)
	}
	return c
}

// Listen runs the read loop until the transport fails or the peer closes.
// Bad messages are logged and skipped; only read errors end the loop.
func (c *ClientConnection) Listen() {
	defer c.channel.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.logger.Info("client_started_listening",
		"remote_addr", c.channel.RemoteAddr().String(),
	)

	for {
		payload, op, err := c.channel.ReadFrame()
		if err != nil {
			c.logReadError(err)
			return
		}
		c.HandleFrame(ctx, op, payload)
	}
}

func (c *ClientConnection) logReadError(err error) {
	var closed wsutil.ClosedError
	if errors.As(err, &closed) || errors.Is(err, io.EOF) {
		c.logger.Info("client_disconnected",
			"error", err.Error(),
		)
		return
	}
	if errors.Is(err, net.ErrClosed) {
		// closed locally during process shutdown
		return
	}
	c.logger.Error("client_read_error",
		"error", err.Error(),
	)
}

// HandleFrame filters, decodes and dispatches one frame, writing the reply if any.
func (c *ClientConnection) HandleFrame(ctx context.Context, op ws.OpCode, payload []byte) {
	if op != ws.OpBinary {
		c.logger.Warn("unsupported_frame_type",
			"opcode", opName(op),
		)
		c.drop()
		return
	}

	// check rate limit
	if c.Limiter != nil && !c.Limiter.Allow() {
		c.logger.Warn("rate_limit_exceeded")
		c.drop()
		return
	}

	msg, err := shared.Decode(payload)
	if err != nil {
		if errors.Is(err, shared.ErrUnknownMessageType) {
			c.logger.Warn("unsupported_message_type",
				"error", err.Error(),
			)
		} else {
			c.logger.Error("invalid_message_received",
				"error", err.Error(),
				"size", len(payload),
			)
		}
		c.drop()
		return
	}

	c.logger.Debug("message_received",
		"message_type", msg.MessageType(),
	)

	response := c.dispatch(ctx, msg)
	if response == nil {
		c.drop()
		return
	}
	if err := c.Send(response); err != nil {
		// the next read usually fails too and ends the loop
		c.logger.Error("client_write_error",
			"error", err.Error(),
		)
	}
}

// dispatch maps a request onto its response; nil means no reply.
func (c *ClientConnection) dispatch(ctx context.Context, msg shared.Message) shared.Message {
	switch m := msg.(type) {
	case *shared.LoginRequest:
		return c.HandleLoginRequest(ctx, m)
	default:
		c.logger.Warn("unsupported_message_type",
			"message_type", msg.MessageType(),
		)
		return nil
	}
}

func (c *ClientConnection) HandleLoginRequest(ctx context.Context, req *shared.LoginRequest) *shared.LoginResponse {
	c.logger.Debug("login_attempt",
		"username", req.Username,
	)

	ok, err := c.Verifier.Verify(ctx, req.Username)
	if err != nil {
		c.logger.Error("login_verification_failed",
			"username", req.Username,
			"error", err.Error(),
		)
		ok = false
	}
	if c.Manager != nil {
		c.Manager.recordLogin(ok)
	}
	return &shared.LoginResponse{Success: ok}
}

// Send encodes msg and writes it as one binary frame.
func (c *ClientConnection) Send(msg shared.Message) error {
	data, err := shared.Encode(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize response: %w", err)
	}
	if err := c.channel.WriteBinary(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// method to close the connection
func (c *ClientConnection) Close() {
	c.channel.Close()
}

func (c *ClientConnection) drop() {
	if c.Manager != nil {
		c.Manager.recordDropped()
	}
}

func opName(op ws.OpCode) string {
	switch op {
	case ws.OpText:
		return "text"
	case ws.OpBinary:
		return "binary"
	case ws.OpContinuation:
		return "continuation"
	case ws.OpPing:
		return "ping"
	case ws.OpPong:
		return "pong"
	case ws.OpClose:
		return "close"
	default:
		return fmt.Sprintf("0x%x", byte(op))
	}
}
