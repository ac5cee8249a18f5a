package scserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/frank-dspeed/socketcluster-server/internal/demux"
)

// Server is the transport-agnostic core. A front-end (see the ws
// package) accepts connections and hands each one to HandleConnection;
// the server then owns the protocol handshake, authentication,
// middleware and pub/sub for that connection.
type Server struct {
	opts *ServerConfig

	signatureKey    []byte
	verificationKey []byte

	middleware    *middlewareRegistry
	listenerDemux *demux.Demux[any]
	log           *slog.Logger

	engineMu sync.RWMutex
	auth     AuthEngine
	codec    CodecEngine
	broker   BrokerEngine

	mu             sync.Mutex
	clients        map[string]*Socket
	pendingClients map[string]*Socket
	ready          bool

	allowAllOrigins bool
	origins         []string
}

// New builds a server from the config, applying defaults for every
// unset field.
func New(config *ServerConfig) *Server {
	opts := config.withDefaults()

	s := &Server{
		opts:            opts,
		signatureKey:    opts.AuthKey,
		verificationKey: opts.AuthKey,
		middleware:      newMiddlewareRegistry(),
		listenerDemux:   demux.New[any](),
		log:             opts.Logger,
		auth:            opts.AuthEngine,
		codec:           opts.CodecEngine,
		broker:          opts.BrokerEngine,
		clients:         make(map[string]*Socket),
		pendingClients:  make(map[string]*Socket),
	}

	for _, entry := range strings.Split(opts.Origins, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*:*" {
			s.allowAllOrigins = true
		}
		s.origins = append(s.origins, entry)
	}

	return s
}

// Options returns the effective configuration after defaults.
func (s *Server) Options() ServerConfig { return *s.opts }

// AppName returns the configured application name.
func (s *Server) AppName() string { return s.opts.AppName }

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger { return s.log }

func (s *Server) authEngine() AuthEngine {
	s.engineMu.RLock()
	defer s.engineMu.RUnlock()
	return s.auth
}

func (s *Server) codecEngine() CodecEngine {
	s.engineMu.RLock()
	defer s.engineMu.RUnlock()
	return s.codec
}

func (s *Server) brokerEngine() BrokerEngine {
	s.engineMu.RLock()
	defer s.engineMu.RUnlock()
	return s.broker
}

// SetAuthEngine swaps the auth engine. In-flight verifications finish
// on the engine they started with.
func (s *Server) SetAuthEngine(engine AuthEngine) {
	s.engineMu.Lock()
	s.auth = engine
	s.engineMu.Unlock()
}

// SetCodecEngine swaps the codec engine.
func (s *Server) SetCodecEngine(engine CodecEngine) {
	s.engineMu.Lock()
	s.codec = engine
	s.engineMu.Unlock()
}

// Clients returns a snapshot of all fully connected sockets keyed by id.
func (s *Server) Clients() map[string]*Socket {
	s.mu.Lock()
	defer s.mu.Unlock()
	clients := make(map[string]*Socket, len(s.clients))
	for id, socket := range s.clients {
		clients[id] = socket
	}
	return clients
}

// ClientsCount returns the number of fully connected sockets.
func (s *Server) ClientsCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// PendingClientsCount returns the number of sockets still handshaking.
func (s *Server) PendingClientsCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingClients)
}

// Listener opens a stream of the named server event. Each call opens an
// independent stream.
func (s *Server) Listener(eventName string) <-chan any {
	return s.listenerDemux.Stream(eventName)
}

// CloseListener ends all open streams for the named server event.
func (s *Server) CloseListener(eventName string) {
	s.listenerDemux.Close(eventName)
}

func (s *Server) emit(eventName string, data any) {
	s.listenerDemux.Write(eventName, data)
}

// EmitReady announces that the server's front-end is accepting
// connections. Emitted at most once.
func (s *Server) EmitReady() {
	s.mu.Lock()
	if s.ready {
		s.mu.Unlock()
		return
	}
	s.ready = true
	s.mu.Unlock()
	s.emit(EventReady, struct{}{})
}

// EmitError surfaces a fatal-severity condition on the error stream.
func (s *Server) EmitError(err error) {
	s.log.Error("server error", "error", err)
	s.emit(EventError, ErrorEvent{Error: err})
}

// EmitWarning surfaces a recoverable condition on the warning stream.
func (s *Server) EmitWarning(err error) {
	s.log.Warn("server warning", "warning", err)
	s.emit(EventWarning, WarningEvent{Warning: err})
}

// AddMiddleware installs fn at the end of the chain for the given kind
// and returns an id usable with RemoveMiddleware.
func (s *Server) AddMiddleware(kind MiddlewareKind, fn MiddlewareFunc) (MiddlewareID, error) {
	return s.middleware.add(kind, fn)
}

// RemoveMiddleware uninstalls a middleware function. Chain runs already
// in flight are unaffected.
func (s *Server) RemoveMiddleware(kind MiddlewareKind, id MiddlewareID) {
	s.middleware.remove(kind, id)
}

// runMiddleware executes the chain for kind against req. The first
// error ends the run; ErrSilentBlock is converted to a typed rejection
// without a warning, any other block is also surfaced as a warning
// unless warnings are disabled.
func (s *Server) runMiddleware(kind MiddlewareKind, req *MiddlewareRequest) error {
	for _, fn := range s.middleware.chain(kind) {
		err := fn(req)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrSilentBlock) {
			return &SilentMiddlewareBlockedError{
				Message: fmt.Sprintf("Action was silently blocked by %s middleware", kind),
				Kind:    kind,
			}
		}
		if *s.opts.MiddlewareEmitWarnings {
			s.EmitWarning(err)
		}
		return err
	}
	return nil
}

// Publish sends data to all current subscribers of the channel through
// the broker engine.
func (s *Server) Publish(channel string, data any) error {
	if channel == "" {
		return &InvalidArgumentsError{Message: "Cannot publish to an empty channel name"}
	}
	if err := s.brokerEngine().Publish(channel, data); err != nil {
		return &BrokerError{Message: fmt.Sprintf("Failed to publish to the %s channel - %s", channel, err)}
	}
	return nil
}

// VerifyHandshake admits or refuses a transport-level connection
// attempt before any upgrade happens: first the origin allow-list, then
// the handshakeWS middleware chain. A refused request must not be
// upgraded.
func (s *Server) VerifyHandshake(r *http.Request) error {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		origin = "*"
	}
	if !s.isOriginAllowed(origin) {
		err := &ServerProtocolError{
			Message: fmt.Sprintf("Failed to authorize socket handshake - Invalid origin: %s", origin),
		}
		s.EmitWarning(err)
		return err
	}
	req := &MiddlewareRequest{HTTPRequest: r}
	return s.runMiddleware(MiddlewareHandshakeWS, req)
}

func (s *Server) isOriginAllowed(origin string) bool {
	if s.allowAllOrigins || origin == "*" {
		return s.allowAllOrigins
	}
	u, err := url.Parse(origin)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https", "wss":
			port = "443"
		default:
			port = "80"
		}
	}
	for _, entry := range s.origins {
		entryHost, entryPort, found := strings.Cut(entry, ":")
		if !found {
			continue
		}
		if (entryHost == "*" || entryHost == host) && (entryPort == "*" || entryPort == port) {
			return true
		}
	}
	return false
}

// HandleConnection adopts an established transport connection. The
// returned socket is in the CONNECTING state; it becomes OPEN once the
// client completes the #handshake request.
func (s *Server) HandleConnection(transport Transport, request *http.Request) *Socket {
	socket := newSocket(uuid.NewString(), s, transport, request)

	s.mu.Lock()
	s.pendingClients[socket.id] = socket
	s.mu.Unlock()

	// Streams deliver only writes that happen after they are opened, so
	// every reserved-event stream must exist before this call returns
	// and the front-end feeds the first frame or close.
	errorStream := socket.Listener(SocketEventError)
	handshakeStream := socket.Procedure(EventHandshake)
	authenticateStream := socket.Procedure(EventAuthenticate)
	removeAuthTokenStream := socket.Receiver(EventRemoveAuthToken)
	subscribeStream := socket.Procedure(EventSubscribe)
	unsubscribeStream := socket.Procedure(EventUnsubscribe)
	abortStream := socket.Listener(SocketEventConnectAbort)
	disconnectStream := socket.Listener(SocketEventDisconnect)

	go s.forwardSocketErrors(errorStream)
	go s.handleSocketHandshake(socket, handshakeStream)
	go s.handleSocketAuthenticate(socket, authenticateStream)
	go s.handleSocketRemoveAuthToken(socket, removeAuthTokenStream)
	go s.handleSocketSubscribe(socket, subscribeStream)
	go s.handleSocketUnsubscribe(socket, unsubscribeStream)
	go s.watchSocketClosure(socket, abortStream, disconnectStream)

	s.emit(EventHandshakeStart, HandshakeEvent{Socket: socket})
	return socket
}

// forwardSocketErrors re-emits socket errors as server warnings, the
// same stream an operator watches for middleware blocks.
func (s *Server) forwardSocketErrors(errorStream <-chan any) {
	for event := range errorStream {
		if ev, ok := event.(ErrorEvent); ok {
			s.EmitWarning(ev.Error)
		}
	}
}

func (s *Server) handleSocketHandshake(socket *Socket, rpcs <-chan *RPC) {
	for rpc := range rpcs {
		s.handleHandshakeRequest(socket, rpc)
	}
}

func (s *Server) handleHandshakeRequest(socket *Socket, rpc *RPC) {
	var signedToken string
	if data, ok := rpc.Data.(map[string]any); ok {
		signedToken, _ = data["authToken"].(string)
	}
	socket.cancelHandshakeTimeout()

	req := &MiddlewareRequest{Socket: socket, StatusCode: CloseCodeHandshakeRejected}
	if err := s.runMiddleware(MiddlewareHandshakeSC, req); err != nil {
		statusCode := req.StatusCode
		if statusCode == 0 {
			statusCode = CloseCodeHandshakeRejected
		}
		rpc.Error(err)
		socket.Disconnect(statusCode, err.Error())
		return
	}

	var authErr error
	var isBadToken bool
	oldAuthState := socket.AuthState()
	if signedToken != "" {
		authErr, isBadToken, oldAuthState = s.processAuthToken(socket, signedToken)
	}

	if isBadToken {
		socket.Deauthenticate()
	}

	isAuthenticated := socket.AuthState() == Authenticated
	status := connectStatus{
		ID:              socket.id,
		PingTimeout:     s.opts.PingTimeout.Milliseconds(),
		IsAuthenticated: isAuthenticated,
	}
	if signedToken != "" && authErr != nil {
		status.AuthError = dehydrateError(authErr)
	}

	// The registration and the OPEN transition must commit atomically
	// against a concurrent close: a socket that closed during the
	// middleware or token work stays CLOSED and stays out of the client
	// registry.
	socket.mu.Lock()
	if socket.state == StateClosed {
		socket.mu.Unlock()
		return
	}
	s.mu.Lock()
	delete(s.pendingClients, socket.id)
	s.clients[socket.id] = socket
	s.mu.Unlock()
	socket.state = StateOpen
	socket.mu.Unlock()

	connectEvent := ConnectEvent{
		Socket:          socket,
		ID:              socket.id,
		PingTimeout:     s.opts.PingTimeout,
		IsAuthenticated: isAuthenticated,
		AuthError:       authErr,
	}
	socket.emit(SocketEventConnect, connectEvent)
	s.emit(EventConnection, connectEvent)

	if isAuthenticated {
		socket.triggerAuthenticationEvents(oldAuthState)
	}
	rpc.End(status)
}

// connectStatus is the wire payload of a successful handshake response.
type connectStatus struct {
	ID              string `json:"id"`
	PingTimeout     int64  `json:"pingTimeout"`
	IsAuthenticated bool   `json:"isAuthenticated"`
	AuthError       any    `json:"authError,omitempty"`
}

// processAuthToken verifies a supplied signed token and, when the token
// is usable, makes it the socket's active token after the authenticate
// middleware admits it. The returned isBadToken reports whether the
// client must be told to discard its stored token; a not-yet-valid
// token is kept assigned and reported without being treated as bad.
func (s *Server) processAuthToken(socket *Socket, signedToken string) (authErr error, isBadToken bool, oldAuthState AuthState) {
	oldAuthState = socket.AuthState()

	token, verifyErr := s.authEngine().VerifyToken(signedToken, s.verificationKey, &VerifyOptions{
		Algorithms: s.opts.AuthVerifyAlgorithms,
	})

	if token != nil {
		socket.setToken(token, signedToken)
		req := &MiddlewareRequest{
			Socket:          socket,
			AuthToken:       token,
			SignedAuthToken: signedToken,
		}
		if mwErr := s.runMiddleware(MiddlewareAuthenticate, req); mwErr != nil {
			socket.clearTokenQuiet()
			if req.BadToken {
				s.emitBadAuthTokenError(socket, mwErr, signedToken)
			}
			return mwErr, req.BadToken, oldAuthState
		}
		// verifyErr can still carry a quiet not-before condition here.
		return verifyErr, false, oldAuthState
	}

	socket.clearTokenQuiet()
	authErr, isBadToken = classifyTokenError(verifyErr)
	if authErr != nil {
		socket.EmitError(authErr)
		if isBadToken {
			s.emitBadAuthTokenError(socket, authErr, signedToken)
		}
	}
	return authErr, isBadToken, oldAuthState
}

// classifyTokenError decides whether a verification failure means the
// client's stored token is bad and must be discarded.
func classifyTokenError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}
	var expired *AuthTokenExpiredError
	if errors.As(err, &expired) {
		return err, true
	}
	var invalid *AuthTokenInvalidError
	if errors.As(err, &invalid) {
		return err, true
	}
	var notBefore *AuthTokenNotBeforeError
	if errors.As(err, &notBefore) {
		return err, false
	}
	var tokenErr *AuthTokenError
	if errors.As(err, &tokenErr) {
		return err, true
	}
	return &AuthTokenError{Message: err.Error()}, true
}

func (s *Server) emitBadAuthTokenError(socket *Socket, err error, signedToken string) {
	badToken := BadAuthTokenEvent{
		Socket:          socket,
		AuthError:       err,
		SignedAuthToken: signedToken,
	}
	socket.emit(SocketEventBadAuthToken, badToken)
	s.emit(EventBadSocketAuthToken, badToken)
}

func (s *Server) handleSocketAuthenticate(socket *Socket, rpcs <-chan *RPC) {
	for rpc := range rpcs {
		signedToken, _ := rpc.Data.(string)
		authErr, isBadToken, oldAuthState := s.processAuthToken(socket, signedToken)

		if authErr != nil && isBadToken {
			socket.Deauthenticate()
			rpc.Error(authErr)
			continue
		}
		if authErr == nil && socket.AuthState() == Authenticated {
			socket.triggerAuthenticationEvents(oldAuthState)
		}
		rpc.End(map[string]any{
			"isAuthenticated": socket.AuthState() == Authenticated,
			"authError":       dehydrateError(authErr),
		})
	}
}

func (s *Server) handleSocketRemoveAuthToken(socket *Socket, removals <-chan any) {
	for range removals {
		socket.DeauthenticateSelf()
	}
}

func (s *Server) handleSocketSubscribe(socket *Socket, rpcs <-chan *RPC) {
	for rpc := range rpcs {
		opts, _ := rpc.Data.(map[string]any)
		channel, _ := opts["channel"].(string)

		if socket.State() != StateOpen {
			// The handshake response has not been sent yet, so the client
			// has no way to know whether it was accepted.
			err := &InvalidActionError{
				Message: fmt.Sprintf("Cannot subscribe socket to the %s channel before the handshake has completed", channel),
			}
			rpc.Error(err)
			s.EmitWarning(err)
			continue
		}

		if err := s.subscribeSocket(socket, channel, opts); err != nil {
			wrapped := &BrokerError{
				Message: fmt.Sprintf("Failed to subscribe socket to the %s channel - %s", channel, err),
			}
			rpc.Error(wrapped)
			socket.EmitError(wrapped)
			continue
		}

		if batch, _ := opts["batch"].(bool); batch {
			rpc.response.endBatched(nil)
			continue
		}
		rpc.End(nil)
	}
}

// subscribeSocket establishes one channel membership. The local
// membership is recorded before the broker call and rolled back when
// the broker refuses, so a slow broker never observes a socket it
// cannot look up.
func (s *Server) subscribeSocket(socket *Socket, channel string, opts map[string]any) error {
	if opts == nil {
		return &InvalidOptionsError{
			Message: fmt.Sprintf("Socket %s provided a malformed channel payload", socket.id),
		}
	}
	if limit := s.opts.SocketChannelLimit; limit > 0 && socket.ChannelSubscriptionsCount() >= limit {
		return &InvalidActionError{
			Message: fmt.Sprintf("Socket %s tried to exceed the channel subscription limit of %d", socket.id, limit),
		}
	}
	if channel == "" {
		return &InvalidOptionsError{
			Message: fmt.Sprintf("Socket %s provided an invalid channel name", socket.id),
		}
	}

	added := socket.addSubscription(channel)
	if err := s.brokerEngine().SubscribeSocket(socket, channel); err != nil {
		if added {
			socket.removeSubscription(channel)
		}
		return err
	}

	event := SubscribeEvent{Socket: socket, Channel: channel, SubscribeOptions: opts}
	socket.emit(SocketEventSubscribe, event)
	s.emit(EventSubscription, event)
	return nil
}

func (s *Server) handleSocketUnsubscribe(socket *Socket, rpcs <-chan *RPC) {
	for rpc := range rpcs {
		channel, _ := rpc.Data.(string)
		if err := s.unsubscribeSocket(socket, channel); err != nil {
			wrapped := &BrokerError{
				Message: fmt.Sprintf("Failed to unsubscribe socket from the %s channel - %s", channel, err),
			}
			rpc.Error(wrapped)
			socket.EmitError(wrapped)
			continue
		}
		rpc.End(nil)
	}
}

// unsubscribeSocket removes one channel membership. The local removal
// and the notifications happen immediately; the broker is told on a
// separate goroutine because membership correctness does not depend on
// its acknowledgment.
func (s *Server) unsubscribeSocket(socket *Socket, channel string) error {
	if channel == "" {
		return &InvalidActionError{
			Message: fmt.Sprintf("Socket %s tried to unsubscribe without naming a channel", socket.id),
		}
	}
	if !socket.removeSubscription(channel) {
		return &InvalidActionError{
			Message: fmt.Sprintf("Socket %s tried to unsubscribe from the %s channel which it is not subscribed to", socket.id, channel),
		}
	}

	go func() {
		if err := s.brokerEngine().UnsubscribeSocket(socket, channel); err != nil {
			s.EmitWarning(&BrokerError{
				Message: fmt.Sprintf("Failed to unsubscribe socket %s from the %s channel - %s", socket.id, channel, err),
			})
		}
	}()

	event := UnsubscribeEvent{Socket: socket, Channel: channel}
	socket.emit(SocketEventUnsubscribe, event)
	s.emit(EventUnsubscription, event)
	return nil
}

// watchSocketClosure waits for the socket's CLOSED transition and
// unwinds it on the server side. Ordering is fixed: the
// disconnection/connectionAbort notification, then closure, then one
// unsubscription per held channel.
func (s *Server) watchSocketClosure(socket *Socket, abortStream, disconnectStream <-chan any) {
	var closeEvent CloseEvent
	var aborted bool
	select {
	case event, ok := <-abortStream:
		if !ok {
			return
		}
		closeEvent = event.(CloseEvent)
		aborted = true
	case event, ok := <-disconnectStream:
		if !ok {
			return
		}
		closeEvent = event.(CloseEvent)
	}

	s.mu.Lock()
	delete(s.clients, socket.id)
	delete(s.pendingClients, socket.id)
	s.mu.Unlock()

	if aborted {
		s.emit(EventConnectionAbort, closeEvent)
	} else {
		s.emit(EventDisconnection, closeEvent)
	}
	s.emit(EventClosure, closeEvent)

	s.unsubscribeSocketFromAllChannels(socket)
	socket.closeAllStreams()
}

func (s *Server) unsubscribeSocketFromAllChannels(socket *Socket) {
	for _, channel := range socket.Subscriptions() {
		if !socket.removeSubscription(channel) {
			continue
		}
		if err := s.brokerEngine().UnsubscribeSocket(socket, channel); err != nil {
			s.EmitWarning(&BrokerError{
				Message: fmt.Sprintf("Failed to unsubscribe socket %s from the %s channel - %s", socket.id, channel, err),
			})
		}
		event := UnsubscribeEvent{Socket: socket, Channel: channel}
		socket.emit(SocketEventUnsubscribe, event)
		s.emit(EventUnsubscription, event)
	}
}

// verifyInboundEvent runs the inbound middleware pipeline for one
// event. It returns the possibly rewritten payload and, for publishes,
// the acknowledgment data. A token that expired since the last check is
// dropped here, before any middleware runs, and the expiry is exposed
// to the chain via the request.
func (s *Server) verifyInboundEvent(socket *Socket, event string, data any, isRPC bool) (any, any, error) {
	var expiredErr error
	if token := socket.GetAuthToken(); isAuthTokenExpired(token) {
		exp, _ := tokenExpiry(token)
		expiredErr = &AuthTokenExpiredError{
			Message:   "The socket auth token has expired",
			ExpiredAt: exp,
		}
		socket.Deauthenticate()
	}

	if !isRPC {
		if isReservedEvent(event) {
			if event == EventRemoveAuthToken {
				return data, nil, nil
			}
			return nil, nil, &InvalidActionError{
				Message: fmt.Sprintf("The %s event is reserved and cannot be transmitted by clients", event),
			}
		}
		req := &MiddlewareRequest{
			Socket:                socket,
			Event:                 event,
			Data:                  data,
			AuthTokenExpiredError: expiredErr,
		}
		if err := s.runMiddleware(MiddlewareTransmit, req); err != nil {
			return nil, nil, err
		}
		return req.Data, nil, nil
	}

	switch event {
	case EventSubscribe:
		return s.verifyInboundSubscribe(socket, data, expiredErr)
	case EventPublish:
		return s.verifyInboundPublish(socket, data, expiredErr)
	case EventHandshake, EventAuthenticate, EventUnsubscribe:
		return data, nil, nil
	}

	if isReservedEvent(event) {
		return nil, nil, &InvalidActionError{
			Message: fmt.Sprintf("The %s event is reserved and cannot be invoked by clients", event),
		}
	}

	req := &MiddlewareRequest{
		Socket:                socket,
		Event:                 event,
		Data:                  data,
		AuthTokenExpiredError: expiredErr,
	}
	if err := s.runMiddleware(MiddlewareInvoke, req); err != nil {
		return nil, nil, err
	}
	return req.Data, nil, nil
}

func (s *Server) verifyInboundSubscribe(socket *Socket, data any, expiredErr error) (any, any, error) {
	opts := normalizeChannelOptions(data)
	if opts == nil {
		return nil, nil, &InvalidOptionsError{
			Message: fmt.Sprintf("Socket %s provided a malformed channel payload", socket.id),
		}
	}
	waitForAuth, _ := opts["waitForAuth"].(bool)
	if waitForAuth && expiredErr != nil {
		// The client asked for an authenticated subscription with a token
		// that just expired. Rejecting with the expiry is expected client
		// flow, not a policy block, so the middleware never sees it.
		return nil, nil, expiredErr
	}

	channel, _ := opts["channel"].(string)
	req := &MiddlewareRequest{
		Socket:                socket,
		Channel:               channel,
		Data:                  opts["data"],
		WaitForAuth:           waitForAuth,
		AuthTokenExpiredError: expiredErr,
	}
	if err := s.runMiddleware(MiddlewareSubscribe, req); err != nil {
		return nil, nil, err
	}
	if req.Data != nil {
		opts["data"] = req.Data
	}
	return opts, nil, nil
}

// verifyInboundPublish runs the publish-in chain and, when admitted,
// hands the message to the broker. The automatic acknowledgment data
// set by middleware is returned for the auto-ack response.
func (s *Server) verifyInboundPublish(socket *Socket, data any, expiredErr error) (any, any, error) {
	if !*s.opts.AllowClientPublish {
		err := &InvalidActionError{Message: "Client publish feature is disabled"}
		s.EmitWarning(err)
		return nil, nil, err
	}

	obj, _ := data.(map[string]any)
	channel, _ := obj["channel"].(string)
	if channel == "" {
		return nil, nil, &InvalidMessageError{Message: "Publish request did not carry a valid channel name"}
	}

	req := &MiddlewareRequest{
		Socket:                socket,
		Channel:               channel,
		Data:                  obj["data"],
		AuthTokenExpiredError: expiredErr,
	}
	if err := s.runMiddleware(MiddlewarePublishIn, req); err != nil {
		return nil, nil, err
	}
	obj["data"] = req.Data

	if err := s.brokerEngine().Publish(channel, req.Data); err != nil {
		wrapped := &BrokerError{
			Message: fmt.Sprintf("Failed to publish message published by socket %s to the %s channel - %s", socket.id, channel, err),
		}
		s.EmitWarning(wrapped)
		return nil, nil, wrapped
	}
	return obj, req.AckData, nil
}

// verifyOutboundEvent runs the publish-out chain for per-socket publish
// delivery. All other outbound events pass through untouched. The
// returned payload is a fresh map because the inbound payload is shared
// across every subscriber's delivery.
func (s *Server) verifyOutboundEvent(socket *Socket, event string, data any) (any, error) {
	if event != EventPublish {
		return data, nil
	}
	obj, _ := data.(map[string]any)
	channel, _ := obj["channel"].(string)

	req := &MiddlewareRequest{
		Socket:  socket,
		Channel: channel,
		Data:    obj["data"],
	}
	if err := s.runMiddleware(MiddlewarePublishOut, req); err != nil {
		return nil, err
	}
	return map[string]any{
		"channel": channel,
		"data":    req.Data,
	}, nil
}

// normalizeChannelOptions accepts the two wire shapes of a subscribe
// payload: a bare channel name or an options object.
func normalizeChannelOptions(data any) map[string]any {
	switch v := data.(type) {
	case string:
		return map[string]any{"channel": v}
	case map[string]any:
		return v
	}
	return nil
}
