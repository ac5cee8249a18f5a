package scserver

import (
	"net/http"
	"sync"
)

// MiddlewareKind names one of the eight interception points.
type MiddlewareKind string

const (
	// MiddlewareHandshakeWS runs against the transport-level upgrade
	// request, before the protocol handshake. Used for connection
	// admission.
	MiddlewareHandshakeWS MiddlewareKind = "handshakeWS"
	// MiddlewareHandshakeSC runs once per connection when the #handshake
	// request arrives, before authentication.
	MiddlewareHandshakeSC MiddlewareKind = "handshakeSC"
	// MiddlewareTransmit runs for inbound one-way events.
	MiddlewareTransmit MiddlewareKind = "transmit"
	// MiddlewareInvoke runs for inbound non-reserved RPC events.
	MiddlewareInvoke MiddlewareKind = "invoke"
	// MiddlewareSubscribe runs for inbound subscribe attempts.
	MiddlewareSubscribe MiddlewareKind = "subscribe"
	// MiddlewarePublishIn runs for inbound publish attempts.
	MiddlewarePublishIn MiddlewareKind = "publishIn"
	// MiddlewarePublishOut runs for outbound publish delivery to one
	// specific socket.
	MiddlewarePublishOut MiddlewareKind = "publishOut"
	// MiddlewareAuthenticate runs whenever a verified token becomes the
	// socket's active token.
	MiddlewareAuthenticate MiddlewareKind = "authenticate"
)

// MiddlewareFunc inspects one action. Returning nil allows the action
// and passes it to the next function in the chain. Returning an error
// blocks the action, ends the chain and surfaces the error as both a
// server warning and the rejection reason. Returning ErrSilentBlock (or
// an error wrapping it) blocks without the warning.
//
// The request is mutable: rewriting req.Data rewrites the payload the
// rest of the pipeline observes. A request value is never shared
// between concurrent chain runs.
type MiddlewareFunc func(req *MiddlewareRequest) error

// MiddlewareRequest is the mutable context threaded through one chain
// run. Which fields are populated depends on the middleware kind.
type MiddlewareRequest struct {
	Socket *Socket
	// HTTPRequest is set for handshakeWS only.
	HTTPRequest *http.Request
	// Event is set for transmit and invoke.
	Event string
	// Channel is set for subscribe, publishIn and publishOut.
	Channel string
	// Data is the payload. Middleware may rewrite it.
	Data any
	// WaitForAuth reflects the subscribe option of the same name.
	WaitForAuth bool
	// AuthToken and SignedAuthToken are set for authenticate.
	AuthToken       AuthToken
	SignedAuthToken string
	// AuthTokenExpiredError is populated when the socket's token was
	// detected as expired on event arrival; by then the socket has
	// already been deauthenticated.
	AuthTokenExpiredError error
	// AckData is delivered with the automatic acknowledgment of a
	// publish. PublishIn middleware may set it.
	AckData any
	// StatusCode may be set by handshakeSC middleware alongside a block
	// to choose the connection close code. Defaults to 4008.
	StatusCode int
	// BadToken may be set by authenticate middleware alongside a block
	// to force the token to be stripped and reported to the client.
	BadToken bool
}

// MiddlewareID identifies an installed middleware function for removal.
type MiddlewareID uint64

type middlewareEntry struct {
	id MiddlewareID
	fn MiddlewareFunc
}

// middlewareRegistry keeps one ordered chain per kind. Insertion order
// is execution order.
type middlewareRegistry struct {
	mu     sync.Mutex
	nextID MiddlewareID
	chains map[MiddlewareKind][]middlewareEntry
}

func newMiddlewareRegistry() *middlewareRegistry {
	return &middlewareRegistry{
		chains: map[MiddlewareKind][]middlewareEntry{
			MiddlewareHandshakeWS:  nil,
			MiddlewareHandshakeSC:  nil,
			MiddlewareTransmit:     nil,
			MiddlewareInvoke:       nil,
			MiddlewareSubscribe:    nil,
			MiddlewarePublishIn:    nil,
			MiddlewarePublishOut:   nil,
			MiddlewareAuthenticate: nil,
		},
	}
}

func (r *middlewareRegistry) add(kind MiddlewareKind, fn MiddlewareFunc) (MiddlewareID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.chains[kind]; !ok {
		return 0, &InvalidArgumentsError{Message: "Middleware kind \"" + string(kind) + "\" is not supported"}
	}
	r.nextID++
	id := r.nextID
	r.chains[kind] = append(r.chains[kind], middlewareEntry{id: id, fn: fn})
	return id, nil
}

func (r *middlewareRegistry) remove(kind MiddlewareKind, id MiddlewareID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chain := r.chains[kind]
	for i, entry := range chain {
		if entry.id == id {
			r.chains[kind] = append(chain[:i:i], chain[i+1:]...)
			return
		}
	}
}

// chain returns a snapshot so a running pipeline is unaffected by
// concurrent add/remove.
func (r *middlewareRegistry) chain(kind MiddlewareKind) []MiddlewareFunc {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.chains[kind]
	if len(entries) == 0 {
		return nil
	}
	fns := make([]MiddlewareFunc, len(entries))
	for i, entry := range entries {
		fns[i] = entry.fn
	}
	return fns
}
