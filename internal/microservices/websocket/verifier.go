package websocket

import "context"

// Verifier decides whether a login attempt for username succeeds.
// It is consulted once per LoginRequest, on the connection's goroutine.
type Verifier interface {
	Verify(ctx context.Context, username string) (bool, error)
}

// VerifierFunc adapts a plain function to the Verifier interface.
type VerifierFunc func(ctx context.Context, username string) (bool, error)

func (f VerifierFunc) Verify(ctx context.Context, username string) (bool, error) {
	return f(ctx, username)
}

// AllowAll accepts every username. It is the default verifier: no credentials
// are checked by this server.
type AllowAll struct{}

func (AllowAll) Verify(context.Context, string) (bool, error) {
	return true, nil
}
