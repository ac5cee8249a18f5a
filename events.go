package scserver

import "time"

// Reserved wire events. Events prefixed with "#" are owned by the
// protocol itself; they are routed to internal handlers and, apart from
// #subscribe and #publish, are not interceptable by middleware.
const (
	EventHandshake       = "#handshake"
	EventAuthenticate    = "#authenticate"
	EventRemoveAuthToken = "#removeAuthToken"
	EventSubscribe       = "#subscribe"
	EventUnsubscribe     = "#unsubscribe"
	EventPublish         = "#publish"
	EventSetAuthToken    = "#setAuthToken"
	EventKickOut         = "#kickOut"
)

// Close codes with fixed protocol meaning. Codes at or above
// CloseCodeNoReconnectMin tell a compliant client not to reconnect
// automatically.
const (
	CloseCodeNormal            = 1000
	CloseCodePingTimeout       = 4000
	CloseCodePongTimeout       = 4001
	CloseCodeAuthTokenSignFail = 4002
	CloseCodeHandshakeTimeout  = 4005
	CloseCodeHandshakeRejected = 4008
	CloseCodeNoReconnectMin    = 4500
)

// Server listener topics.
const (
	EventConnection                = "connection"
	EventHandshakeStart            = "handshake"
	EventDisconnection             = "disconnection"
	EventConnectionAbort           = "connectionAbort"
	EventClosure                   = "closure"
	EventSubscription              = "subscription"
	EventUnsubscription            = "unsubscription"
	EventAuthentication            = "authentication"
	EventAuthenticationStateChange = "authenticationStateChange"
	EventDeauthentication          = "deauthentication"
	EventBadSocketAuthToken        = "badSocketAuthToken"
	EventWarning                   = "warning"
	EventError                     = "error"
	EventReady                     = "ready"
)

// Listener stream payloads. Server streams carry the Socket they
// concern; the same types are reused on socket streams with Socket set
// to the emitting socket.

// HandshakeEvent signals that a socket handshake has been initiated.
type HandshakeEvent struct {
	Socket *Socket
}

// ConnectEvent reports a completed handshake. It is delivered on the
// socket's "connect" stream and, with Socket set, on the server's
// "connection" stream.
type ConnectEvent struct {
	Socket          *Socket
	ID              string
	PingTimeout     time.Duration
	IsAuthenticated bool
	AuthError       error
}

// CloseEvent reports a socket closure on the connectAbort, disconnect
// and close streams, and with Socket set on the server's disconnection,
// connectionAbort and closure streams.
type CloseEvent struct {
	Socket *Socket
	Code   int
	Reason string
}

// MessageEvent carries one raw inbound transport frame.
type MessageEvent struct {
	Message []byte
}

// RawEvent carries an inbound frame that matched no structured shape.
type RawEvent struct {
	Message []byte
}

// SubscribeEvent reports an established channel membership.
type SubscribeEvent struct {
	Socket           *Socket
	Channel          string
	SubscribeOptions map[string]any
}

// UnsubscribeEvent reports a removed channel membership.
type UnsubscribeEvent struct {
	Socket  *Socket
	Channel string
}

// AuthenticateEvent reports a token becoming the socket's active token.
type AuthenticateEvent struct {
	Socket    *Socket
	AuthToken AuthToken
}

// AuthStateChangeEvent reports an auth state transition.
type AuthStateChangeEvent struct {
	Socket       *Socket
	OldAuthState AuthState
	NewAuthState AuthState
	AuthToken    AuthToken
}

// DeauthenticateEvent reports a cleared token.
type DeauthenticateEvent struct {
	Socket       *Socket
	OldAuthToken AuthToken
}

// AuthTokenSignedEvent reports a successfully signed token.
type AuthTokenSignedEvent struct {
	SignedAuthToken string
}

// BadAuthTokenEvent tells listeners a supplied token must be discarded.
type BadAuthTokenEvent struct {
	Socket          *Socket
	AuthError       error
	SignedAuthToken string
}

// WarningEvent carries a server warning.
type WarningEvent struct {
	Warning error
}

// ErrorEvent carries a server or socket error.
type ErrorEvent struct {
	Error error
}

// Socket listener topics.
const (
	SocketEventConnect         = "connect"
	SocketEventConnectAbort    = "connectAbort"
	SocketEventDisconnect      = "disconnect"
	SocketEventClose           = "close"
	SocketEventError           = "error"
	SocketEventMessage         = "message"
	SocketEventRaw             = "raw"
	SocketEventSubscribe       = "subscribe"
	SocketEventUnsubscribe     = "unsubscribe"
	SocketEventAuthenticate    = "authenticate"
	SocketEventAuthStateChange = "authStateChange"
	SocketEventDeauthenticate  = "deauthenticate"
	SocketEventAuthTokenSigned = "authTokenSigned"
	SocketEventBadAuthToken    = "badAuthToken"
)
