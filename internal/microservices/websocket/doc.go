// Package websocket serves the login protocol over RFC 6455 websockets.
//
// A Server owns the listening socket and spawns one goroutine per accepted
// TCP stream. That goroutine upgrades the stream to a Channel and runs a
// ClientConnection read loop until the peer goes away. Connections share no
// state except the counters kept by the ConnectionManager.
package websocket
