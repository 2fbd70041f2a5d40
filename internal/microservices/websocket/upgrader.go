package websocket

import (
	"fmt"
	"io"
	"net"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// handshake straight on the accepted TCP stream, no net/http in between
var upgrader = ws.Upgrader{}

// Channel is a raw stream that completed the websocket handshake.
// It is owned by exactly one goroutine; reads and writes are not synchronised.
type Channel struct {
	conn net.Conn

	// OnControl, if set, sees every ping, pong and close frame before it is answered.
	OnControl func(ws.Header)
}

// Upgrade performs the server side of the websocket handshake on conn.
// On failure the peer has already been sent an HTTP error response when possible,
// and the caller is responsible for closing conn.
func Upgrade(conn net.Conn) (*Channel, error) {
	if _, err := upgrader.Upgrade(conn); err != nil {
		return nil, fmt.Errorf("websocket handshake failed: %w", err)
	}
	return &Channel{conn: conn}, nil
}

// ReadFrame blocks until the next data message arrives.
// Control frames are answered here and never returned; a close frame from
// the peer surfaces as a wsutil.ClosedError.
func (c *Channel) ReadFrame() ([]byte, ws.OpCode, error) {
	reply := wsutil.ControlFrameHandler(c.conn, ws.StateServerSide)
	control := func(hdr ws.Header, r io.Reader) error {
		if c.OnControl != nil {
			c.OnControl(hdr)
		}
		return reply(hdr, r)
	}

	rd := wsutil.Reader{
		Source:         c.conn,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: control,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return nil, 0, err
		}
		if hdr.OpCode.IsControl() {
			if err := control(hdr, &rd); err != nil {
				return nil, 0, err
			}
			continue
		}
		payload, err := io.ReadAll(&rd)
		if err != nil {
			return nil, 0, err
		}
		return payload, hdr.OpCode, nil
	}
}

// WriteBinary sends payload as a single binary frame.
func (c *Channel) WriteBinary(payload []byte) error {
	return wsutil.WriteServerMessage(c.conn, ws.OpBinary, payload)
}

func (c *Channel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Channel) Close() error {
	return c.conn.Close()
}
