package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"wslogin/internal/shared"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ServerTestSuite runs a real listener on a random port for every test
type ServerTestSuite struct {
	suite.Suite
	server   *Server
	listener net.Listener
	addr     string
}

func (s *ServerTestSuite) SetupTest() {
	s.startServer()
}

func (s *ServerTestSuite) TearDownTest() {
	s.stopServer()
}

func (s *ServerTestSuite) startServer(opts ...Option) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err)

	s.listener = listener
	s.addr = listener.Addr().String()
	s.server = NewServer(s.addr, append([]Option{WithLogger(discardLogger())}, opts...)...)
	go s.server.Serve(listener)
}

func (s *ServerTestSuite) stopServer() {
	if s.server != nil {
		s.server.Close()
	}
	if s.listener != nil {
		s.listener.Close()
	}
}

// restart replaces the default server with one built from opts
func (s *ServerTestSuite) restart(opts ...Option) {
	s.stopServer()
	s.startServer(opts...)
}

func (s *ServerTestSuite) dial() *gws.Conn {
	conn, _, err := gws.DefaultDialer.Dial("ws://"+s.addr+"/", nil)
	s.Require().NoError(err, "should complete websocket handshake")
	s.T().Cleanup(func() { conn.Close() })
	return conn
}

func sendLogin(t *testing.T, conn *gws.Conn, username string) {
	data, err := shared.Encode(&shared.LoginRequest{Username: username})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(gws.BinaryMessage, data))
}

func readMessage(t *testing.T, conn *gws.Conn) shared.Message {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err, "should receive a response")
	require.Equal(t, gws.BinaryMessage, kind, "responses are binary frames")
	msg, err := shared.Decode(data)
	require.NoError(t, err)
	return msg
}

// assertSilent checks nothing else arrives; the conn is unusable afterwards
func assertSilent(t *testing.T, conn *gws.Conn) {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected message: %s", data)
	var netErr net.Error
	assert.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected read timeout, got %v", err)
}

// Test 1: every username gets exactly one successful response
func (s *ServerTestSuite) TestLoginRequest_AlwaysSucceeds() {
	t := s.T()
	conn := s.dial()

	for _, username := range []string{"alice", "", "bob smith", "<admin>", "用户"} {
		sendLogin(t, conn, username)
		assert.Equal(t, &shared.LoginResponse{Success: true}, readMessage(t, conn), username)
	}
	assertSilent(t, conn)
}

// Test 2: exact bytes on the wire
func (s *ServerTestSuite) TestLoginRequest_WireBytes() {
	t := s.T()
	conn := s.dial()

	require.NoError(t, conn.WriteMessage(gws.BinaryMessage, []byte(`{"type":"LoginRequest","username":"alice"}`)))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, gws.BinaryMessage, kind)
	assert.Equal(t, `{"type":"LoginResponse","success":true}`, string(data))
}

// Test 3: ignored inputs produce no reply and leave the connection usable
func (s *ServerTestSuite) TestIgnoredInput_ConnectionSurvives() {
	login := `{"type":"LoginRequest","username":"alice"}`
	cases := []struct {
		name    string
		kind    int
		payload string
	}{
		{"text frame", gws.TextMessage, login},
		{"malformed json", gws.BinaryMessage, `{"type":`},
		{"not an object", gws.BinaryMessage, `"LoginRequest"`},
		{"missing field", gws.BinaryMessage, `{"type":"LoginRequest"}`},
		{"unknown variant", gws.BinaryMessage, `{"type":"LogoutRequest","username":"alice"}`},
		{"response variant", gws.BinaryMessage, `{"type":"LoginResponse","success":true}`},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			t := s.T()
			conn := s.dial()

			require.NoError(t, conn.WriteMessage(tc.kind, []byte(tc.payload)))
			sendLogin(t, conn, "after")

			assert.Equal(t, &shared.LoginResponse{Success: true}, readMessage(t, conn))
			assertSilent(t, conn)
		})
	}
}

// Test 4: ping control frames are answered by the transport and never dispatched
func (s *ServerTestSuite) TestPing_AnsweredWithPong() {
	t := s.T()
	conn := s.dial()

	pong := make(chan string, 1)
	conn.SetPongHandler(func(data string) error {
		pong <- data
		return nil
	})
	require.NoError(t, conn.WriteControl(gws.PingMessage, []byte("hb"), time.Now().Add(time.Second)))
	sendLogin(t, conn, "alice")

	// pong is delivered through the handler while reading the response
	assert.Equal(t, &shared.LoginResponse{Success: true}, readMessage(t, conn))
	select {
	case data := <-pong:
		assert.Equal(t, "hb", data)
	case <-time.After(time.Second):
		t.Fatal("no pong received")
	}
}

// Test 5: concurrent clients are independent
func (s *ServerTestSuite) TestConcurrentClients_Independent() {
	t := s.T()
	const numClients = 20

	var wg sync.WaitGroup
	errs := make(chan error, numClients)
	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			conn, _, err := gws.DefaultDialer.Dial("ws://"+s.addr+"/", nil)
			if err != nil {
				errs <- err
				return
			}
			defer conn.Close()

			// odd clients misbehave first
			if id%2 == 1 {
				conn.WriteMessage(gws.BinaryMessage, []byte("garbage"))
			}
			data, _ := shared.Encode(&shared.LoginRequest{Username: fmt.Sprintf("user_%d", id)})
			if err := conn.WriteMessage(gws.BinaryMessage, data); err != nil {
				errs <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(3 * time.Second))
			_, resp, err := conn.ReadMessage()
			if err != nil {
				errs <- fmt.Errorf("client %d: %w", id, err)
				return
			}
			if string(resp) != `{"type":"LoginResponse","success":true}` {
				errs <- fmt.Errorf("client %d: unexpected response %s", id, resp)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, uint64(numClients), s.server.Manager.Stats().LoginRequests)
}

// Test 6: disconnects only tear down their own connection
func (s *ServerTestSuite) TestDisconnect_OtherConnectionsUnaffected() {
	t := s.T()
	leaving := s.dial()
	staying := s.dial()

	require.Eventually(t, func() bool {
		return s.server.Manager.ConnectionCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, leaving.WriteControl(gws.CloseMessage,
		gws.FormatCloseMessage(gws.CloseNormalClosure, "bye"), time.Now().Add(time.Second)))
	leaving.Close()

	require.Eventually(t, func() bool {
		return s.server.Manager.ConnectionCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	sendLogin(t, staying, "still-here")
	assert.Equal(t, &shared.LoginResponse{Success: true}, readMessage(t, staying))
}

// Test 7: a failed handshake drops the raw stream and nothing else
func (s *ServerTestSuite) TestUpgradeFailure_DropsStream() {
	t := s.T()

	raw, err := net.Dial("tcp", s.addr)
	require.NoError(t, err)
	defer raw.Close()

	_, err = raw.Write([]byte("GET / HTTP/1.1\r\nHost: localhost\r\n\r\n"))
	require.NoError(t, err)

	require.NoError(t, raw.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = io.ReadAll(raw)
	require.NoError(t, err, "server should close the stream")

	assert.Eventually(t, func() bool {
		return s.server.Manager.Stats().UpgradeFailures == 1
	}, 2*time.Second, 10*time.Millisecond)

	conn := s.dial()
	sendLogin(t, conn, "alice")
	assert.Equal(t, &shared.LoginResponse{Success: true}, readMessage(t, conn))
}

// Test 8: the verifier decides the result
func (s *ServerTestSuite) TestVerifier_ControlsResult() {
	t := s.T()
	s.restart(WithVerifier(VerifierFunc(func(_ context.Context, username string) (bool, error) {
		switch username {
		case "admin":
			return true, nil
		case "broken":
			return true, errors.New("backend unavailable")
		default:
			return false, nil
		}
	})))

	conn := s.dial()
	expected := map[string]bool{"admin": true, "alice": false, "broken": false}
	for _, username := range []string{"admin", "alice", "broken"} {
		sendLogin(t, conn, username)
		assert.Equal(t, &shared.LoginResponse{Success: expected[username]}, readMessage(t, conn), username)
	}

	stats := s.server.Manager.Stats()
	assert.Equal(t, uint64(3), stats.LoginRequests)
	assert.Equal(t, uint64(2), stats.LoginsRejected)
}

// Test 9: rate limited messages are dropped, not answered
func (s *ServerTestSuite) TestRateLimit_DropsExcess() {
	t := s.T()
	s.restart(WithRateLimit(1, 1))

	conn := s.dial()
	for i := 0; i < 3; i++ {
		sendLogin(t, conn, "alice")
	}
	assert.Equal(t, &shared.LoginResponse{Success: true}, readMessage(t, conn))
	assert.Eventually(t, func() bool {
		return s.server.Manager.Stats().DroppedMessages == 2
	}, 2*time.Second, 10*time.Millisecond)
}

// Test 10: admission bound holds back extra connections until a slot frees up
func (s *ServerTestSuite) TestMaxConnections_Backpressure() {
	t := s.T()
	s.restart(WithMaxConnections(1))

	first := s.dial()
	sendLogin(t, first, "first")
	assert.Equal(t, &shared.LoginResponse{Success: true}, readMessage(t, first))

	dialer := &gws.Dialer{HandshakeTimeout: 300 * time.Millisecond}
	_, _, err := dialer.Dial("ws://"+s.addr+"/", nil)
	require.Error(t, err, "second handshake should stall while the slot is taken")

	first.Close()

	var second *gws.Conn
	require.Eventually(t, func() bool {
		conn, _, err := dialer.Dial("ws://"+s.addr+"/", nil)
		if err != nil {
			return false
		}
		second = conn
		return true
	}, 5*time.Second, 50*time.Millisecond)
	defer second.Close()

	sendLogin(t, second, "second")
	assert.Equal(t, &shared.LoginResponse{Success: true}, readMessage(t, second))
}

func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

func TestStart_BindFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	server := NewServer(taken.Addr().String(), WithLogger(discardLogger()))
	err = server.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start websocket server")
	assert.Nil(t, server.ListenAddr())
}

func TestServe_ReturnsWhenListenerClosed(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := NewServer(listener.Addr().String(), WithLogger(discardLogger()))
	done := make(chan error, 1)
	go func() { done <- server.Serve(listener) }()

	require.Eventually(t, func() bool { return server.ListenAddr() != nil }, time.Second, 10*time.Millisecond)
	require.NoError(t, server.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, net.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}

func TestNextAcceptDelay(t *testing.T) {
	assert.Equal(t, 5*time.Millisecond, nextAcceptDelay(0))
	assert.Equal(t, 10*time.Millisecond, nextAcceptDelay(5*time.Millisecond))
	assert.Equal(t, maxAcceptDelay, nextAcceptDelay(800*time.Millisecond))
}

func TestServe_AfterClose(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := NewServer(listener.Addr().String(), WithLogger(discardLogger()))
	require.NoError(t, server.Close())

	assert.ErrorIs(t, server.Serve(listener), net.ErrClosed)
	_, err = net.DialTimeout("tcp", listener.Addr().String(), 200*time.Millisecond)
	assert.Error(t, err, "listener should be closed")
}

func TestClose_ClosesStreamsInHandshake(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := NewServer(listener.Addr().String(), WithLogger(discardLogger()))
	go server.Serve(listener)

	// connect but never send the upgrade request
	raw, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	defer raw.Close()

	require.Eventually(t, func() bool {
		return server.Manager.Stats().AcceptedTotal == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, server.Close())

	require.NoError(t, raw.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = raw.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF, "server should close the half-open stream")
}
