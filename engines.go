package scserver

import "time"

// AuthToken is the plain claim mapping carried by an authenticated
// socket. The plain form and its signed wire form are always replaced
// together and never mutated independently.
type AuthToken map[string]any

// VerifyOptions configure a token verification.
type VerifyOptions struct {
	// Algorithms restricts the accepted signing algorithms. Empty means
	// engine default.
	Algorithms []string
}

// SignOptions configure a token signing.
type SignOptions struct {
	// ExpiresIn adds an exp claim that far from now. It is ignored when
	// the token already carries an exp claim.
	ExpiresIn time.Duration
	// Algorithm names the signing algorithm. Empty means engine default.
	Algorithm string
}

// AuthEngine signs and verifies auth tokens. Implementations may block;
// every call site runs on a goroutine that tolerates deferred
// completion. SignToken may add claims (exp, iat) to the token it is
// given so that the socket's plain token stays consistent with the
// signed form.
type AuthEngine interface {
	VerifyToken(signedToken string, key []byte, opts *VerifyOptions) (AuthToken, error)
	SignToken(token AuthToken, key []byte, opts *SignOptions) (string, error)
}

// CodecEngine encodes structured frame values to transport bytes and
// back. Decode produces the JSON-like value model: map[string]any for
// objects, []any for batches, string for sentinel frames.
type CodecEngine interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte) (any, error)
}

// BrokerEngine maintains channel membership and message fan-out. It is
// an external collaborator; calls may complete slowly and the local
// membership view is allowed to lead the broker's own bookkeeping.
type BrokerEngine interface {
	SubscribeSocket(socket *Socket, channel string) error
	UnsubscribeSocket(socket *Socket, channel string) error
	Publish(channel string, data any) error
}

// Transport is one established bidirectional connection as seen by the
// core. A front-end delivers inbound frames by calling
// Socket.HandleMessage and reports transport-level closure via
// Socket.HandleTransportClose; the core sends frames and closes through
// this interface.
type Transport interface {
	Send(data []byte) error
	Close(code int, reason string) error
	RemoteAddr() string
}
