package scserver

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/frank-dspeed/socketcluster-server/internal/demux"
	"github.com/frank-dspeed/socketcluster-server/internal/protocol"
)

// SocketState is the connection lifecycle state. Transitions are
// CONNECTING→OPEN→CLOSED or CONNECTING→CLOSED; CLOSED is terminal.
type SocketState int32

const (
	StateConnecting SocketState = iota
	StateOpen
	StateClosed
)

func (s SocketState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	}
	return "closed"
}

// AuthState tracks authentication independently of the connection state.
type AuthState int32

const (
	Unauthenticated AuthState = iota
	Authenticated
)

func (s AuthState) String() string {
	if s == Authenticated {
		return "authenticated"
	}
	return "unauthenticated"
}

// AuthTokenOptions configure SetAuthToken.
type AuthTokenOptions struct {
	// ExpiresIn overrides the server default expiry. It is dropped when
	// the token already carries an exp claim; an explicit exp always
	// wins.
	ExpiresIn time.Duration
	// Algorithm cannot be changed at runtime. A non-empty value is
	// reported as a socket error and ignored; the call proceeds with
	// the configured algorithm.
	Algorithm string
	// RejectOnFailedDelivery propagates a failed #setAuthToken delivery
	// as the call's error instead of only surfacing it as a socket
	// error.
	RejectOnFailedDelivery bool
}

// autoAckRPCs lists reserved requests acknowledged by the correlation
// layer itself because their result is side-effect-only.
var autoAckRPCs = map[string]bool{
	EventPublish: true,
}

type invokeResult struct {
	data any
	err  error
}

type pendingCall struct {
	ch    chan invokeResult
	timer *time.Timer
}

// Socket owns one connection: its lifecycle, auth state, keepalive
// timers, outbound batching and event routing. A socket is created by
// the server when a transport connection is accepted and is destroyed
// exactly once, on the CLOSED transition.
type Socket struct {
	id        string
	server    *Server
	transport Transport
	request   *http.Request

	listenerDemux  *demux.Demux[any]
	receiverDemux  *demux.Demux[any]
	procedureDemux *demux.Demux[*RPC]

	mu               sync.Mutex
	state            SocketState
	authState        AuthState
	active           bool
	authToken        AuthToken
	signedAuthToken  string
	authTokenVersion uint64

	cid         uint64
	callbackMap map[uint64]*pendingCall

	channelSubscriptions map[string]bool

	batchList  []any
	batchTimer *time.Timer

	pongTimer      *time.Timer
	handshakeTimer *time.Timer
	pingStop       chan struct{}
}

func newSocket(id string, server *Server, transport Transport, request *http.Request) *Socket {
	s := &Socket{
		id:                   id,
		server:               server,
		transport:            transport,
		request:              request,
		listenerDemux:        demux.New[any](),
		receiverDemux:        demux.New[any](),
		procedureDemux:       demux.New[*RPC](),
		state:                StateConnecting,
		authState:            Unauthenticated,
		active:               true,
		callbackMap:          make(map[uint64]*pendingCall),
		channelSubscriptions: make(map[string]bool),
	}

	s.handshakeTimer = time.AfterFunc(server.opts.HandshakeTimeout, func() {
		s.Disconnect(CloseCodeHandshakeTimeout, "")
	})

	if !server.opts.PingTimeoutDisabled {
		s.pingStop = make(chan struct{})
		go s.pingLoop()
		s.resetPongTimeout()
	}

	return s
}

// ID returns the socket's opaque identifier.
func (s *Socket) ID() string { return s.id }

// State returns the connection state.
func (s *Socket) State() SocketState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AuthState returns the authentication state.
func (s *Socket) AuthState() AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authState
}

// GetAuthToken returns the current plain token, or nil.
func (s *Socket) GetAuthToken() AuthToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authToken
}

// SignedAuthToken returns the signed form of the current token.
func (s *Socket) SignedAuthToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signedAuthToken
}

// Request returns the transport upgrade request, if the front-end
// provided one.
func (s *Socket) Request() *http.Request { return s.request }

// RemoteAddr returns the peer address reported by the transport.
func (s *Socket) RemoteAddr() string { return s.transport.RemoteAddr() }

// IsActive reports whether the socket has not been destroyed.
func (s *Socket) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Listener opens a stream of the named socket event. Each call opens an
// independent stream; the channel closes when the topic or socket is
// closed.
func (s *Socket) Listener(eventName string) <-chan any {
	return s.listenerDemux.Stream(eventName)
}

// CloseListener ends all open streams for the named socket event.
func (s *Socket) CloseListener(eventName string) {
	s.listenerDemux.Close(eventName)
}

// Receiver opens a stream of inbound one-way events with the given
// name, delivering the event payloads after middleware rewrites.
func (s *Socket) Receiver(receiverName string) <-chan any {
	return s.receiverDemux.Stream(receiverName)
}

// CloseReceiver ends all open streams for the named receiver.
func (s *Socket) CloseReceiver(receiverName string) {
	s.receiverDemux.Close(receiverName)
}

// Procedure opens a stream of inbound requests with the given name.
// Each RPC must be settled exactly once via End or Error.
func (s *Socket) Procedure(procedureName string) <-chan *RPC {
	return s.procedureDemux.Stream(procedureName)
}

// CloseProcedure ends all open streams for the named procedure.
func (s *Socket) CloseProcedure(procedureName string) {
	s.procedureDemux.Close(procedureName)
}

func (s *Socket) emit(eventName string, data any) {
	s.listenerDemux.Write(eventName, data)
}

// EmitError surfaces an error on the socket's error stream. The server
// re-emits socket errors as server warnings.
func (s *Socket) EmitError(err error) {
	s.emit(SocketEventError, ErrorEvent{Error: err})
}

// Subscriptions returns the names of all channels the socket holds.
func (s *Socket) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	channels := make([]string, 0, len(s.channelSubscriptions))
	for channel := range s.channelSubscriptions {
		channels = append(channels, channel)
	}
	return channels
}

// IsSubscribed reports whether the socket holds the channel.
func (s *Socket) IsSubscribed(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelSubscriptions[channel]
}

// ChannelSubscriptionsCount returns the number of held channels.
func (s *Socket) ChannelSubscriptionsCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channelSubscriptions)
}

// addSubscription records membership speculatively and idempotently.
func (s *Socket) addSubscription(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channelSubscriptions[channel] {
		return false
	}
	s.channelSubscriptions[channel] = true
	return true
}

func (s *Socket) removeSubscription(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.channelSubscriptions[channel] {
		return false
	}
	delete(s.channelSubscriptions, channel)
	return true
}

// HandleMessage feeds one inbound transport frame into the socket. It
// is called by the transport front-end, in arrival order.
func (s *Socket) HandleMessage(message []byte) {
	s.resetPongTimeout()
	s.emit(SocketEventMessage, MessageEvent{Message: message})

	obj, err := s.server.codecEngine().Decode(message)
	if err != nil {
		s.EmitError(&InvalidMessageError{Message: "Failed to decode message: " + err.Error()})
		return
	}

	if protocol.IsPong(obj) {
		// The pong itself is a chance to notice a token that expired
		// while the connection sat idle.
		if isAuthTokenExpired(s.GetAuthToken()) {
			s.Deauthenticate()
		}
		return
	}

	if batch := protocol.Batch(obj); batch != nil {
		for _, element := range batch {
			s.handlePacket(protocol.Parse(element), message)
		}
		return
	}
	s.handlePacket(protocol.Parse(obj), message)
}

// HandleTransportClose reports that the underlying transport closed.
// Called by the transport front-end.
func (s *Socket) HandleTransportClose(code int, reason string) {
	if code == 0 {
		code = 1005
	}
	s.onClose(code, reason)
}

func (s *Socket) handlePacket(pkt *protocol.Packet, message []byte) {
	switch {
	case pkt.IsEvent():
		if pkt.CID == 0 {
			newData, _, err := s.server.verifyInboundEvent(s, pkt.Event, pkt.Data, false)
			if err == nil {
				s.receiverDemux.Write(pkt.Event, newData)
			}
			return
		}
		response := newResponse(s, pkt.CID)
		newData, ackData, err := s.server.verifyInboundEvent(s, pkt.Event, pkt.Data, true)
		if err != nil {
			response.Error(err)
			return
		}
		if autoAckRPCs[pkt.Event] {
			response.End(ackData)
			return
		}
		s.procedureDemux.Write(pkt.Event, &RPC{Data: newData, response: response})
	case pkt.IsResponse():
		s.settlePendingCall(pkt.RID, hydrateError(pkt.Error), pkt.Data)
	default:
		s.emit(SocketEventRaw, RawEvent{Message: message})
	}
}

// Transmit sends a fire-and-forget event. Publish events still pass
// through the publish-out middleware; a block is returned as the error
// and nothing is sent.
func (s *Socket) Transmit(event string, data any) error {
	return s.transmit(event, data, false)
}

func (s *Socket) transmit(event string, data any, batch bool) error {
	newData, err := s.server.verifyOutboundEvent(s, event, data)
	if err != nil {
		return err
	}
	s.sendObject(protocol.Event{Event: event, Data: newData}, batch)
	return nil
}

// Invoke sends a request and waits for its response or the ack
// timeout. The call id is monotonic per socket and never reused while a
// response is outstanding; a response arriving after the timeout is
// silently ignored.
func (s *Socket) Invoke(event string, data any) (any, error) {
	newData, err := s.server.verifyOutboundEvent(s, event, data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil, &BadConnectionError{
			Message: fmt.Sprintf("Event '%s' was aborted due to a bad connection", event),
		}
	}
	s.cid++
	cid := s.cid
	call := &pendingCall{ch: make(chan invokeResult, 1)}
	call.timer = time.AfterFunc(s.server.opts.AckTimeout, func() {
		s.expirePendingCall(cid, event)
	})
	s.callbackMap[cid] = call
	s.mu.Unlock()

	s.sendObject(protocol.Event{Event: event, Data: newData, CID: cid}, false)

	result := <-call.ch
	return result.data, result.err
}

func (s *Socket) expirePendingCall(cid uint64, event string) {
	s.mu.Lock()
	call, ok := s.callbackMap[cid]
	if ok {
		delete(s.callbackMap, cid)
	}
	s.mu.Unlock()
	if ok {
		call.ch <- invokeResult{err: &TimeoutError{
			Message: fmt.Sprintf("Event response for '%s' timed out", event),
		}}
	}
}

func (s *Socket) settlePendingCall(rid uint64, err error, data any) {
	s.mu.Lock()
	call, ok := s.callbackMap[rid]
	if ok {
		delete(s.callbackMap, rid)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	call.timer.Stop()
	call.ch <- invokeResult{data: data, err: err}
}

func (s *Socket) sendObject(obj any, batch bool) {
	if batch {
		s.sendObjectBatch(obj)
		return
	}
	s.sendObjectSingle(obj)
}

func (s *Socket) sendObjectSingle(obj any) {
	data, err := s.server.codecEngine().Encode(obj)
	if err != nil {
		s.EmitError(err)
		return
	}
	s.send(data)
}

// sendObjectBatch queues the object and arms the flush timer for the
// configured quiescence window. Queued objects are sent as one framed
// array, preserving queue order.
func (s *Socket) sendObjectBatch(obj any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.batchList = append(s.batchList, obj)
	if s.batchTimer != nil {
		return
	}
	s.batchTimer = time.AfterFunc(s.server.opts.PubSubBatchDuration, s.flushBatch)
}

func (s *Socket) flushBatch() {
	s.mu.Lock()
	batch := s.batchList
	s.batchList = nil
	s.batchTimer = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	s.sendObjectSingle(batch)
}

func (s *Socket) send(data []byte) {
	if err := s.transport.Send(data); err != nil {
		s.onClose(1006, err.Error())
	}
}

func (s *Socket) pingLoop() {
	ticker := time.NewTicker(s.server.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if s.State() == StateClosed {
				return
			}
			s.sendObjectSingle(protocol.Ping)
		case <-s.pingStop:
			return
		}
	}
}

// resetPongTimeout re-arms the liveness deadline. Any inbound frame
// counts, not only pong frames.
func (s *Socket) resetPongTimeout() {
	if s.server.opts.PingTimeoutDisabled {
		return
	}
	s.mu.Lock()
	if s.pongTimer != nil {
		s.pongTimer.Stop()
	}
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.pongTimer = time.AfterFunc(s.server.opts.PingTimeout, func() {
		s.onClose(CloseCodePongTimeout, "")
		s.transport.Close(CloseCodePongTimeout, socketProtocolErrorStatuses[CloseCodePongTimeout])
	})
	s.mu.Unlock()
}

func (s *Socket) cancelHandshakeTimeout() {
	s.mu.Lock()
	if s.handshakeTimer != nil {
		s.handshakeTimer.Stop()
	}
	s.mu.Unlock()
}

// Disconnect closes the connection with the given code, 1000 when zero.
// Safe to call repeatedly; only the first call has any effect.
func (s *Socket) Disconnect(code int, reason string) {
	if code == 0 {
		code = CloseCodeNormal
	}
	if s.State() != StateClosed {
		s.onClose(code, reason)
		s.transport.Close(code, reason)
	}
}

// Destroy marks the socket inactive and disconnects it.
func (s *Socket) Destroy(code int, reason string) {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
	s.Disconnect(code, reason)
}

// onClose runs the CLOSED transition exactly once: timers are
// cancelled, pending calls are rejected, and the close notifications
// are emitted. An abnormal close code additionally synthesizes a
// protocol error for observability.
func (s *Socket) onClose(code int, reason string) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	prevState := s.state
	s.state = StateClosed

	if s.pongTimer != nil {
		s.pongTimer.Stop()
	}
	if s.handshakeTimer != nil {
		s.handshakeTimer.Stop()
	}
	if s.batchTimer != nil {
		s.batchTimer.Stop()
		s.batchTimer = nil
		s.batchList = nil
	}
	if s.pingStop != nil {
		close(s.pingStop)
		s.pingStop = nil
	}
	calls := s.callbackMap
	s.callbackMap = make(map[uint64]*pendingCall)
	s.mu.Unlock()

	for _, call := range calls {
		call.timer.Stop()
		call.ch <- invokeResult{err: &BadConnectionError{
			Message: "Event was aborted due to a bad connection",
		}}
	}

	closeEvent := CloseEvent{Socket: s, Code: code, Reason: reason}
	if prevState == StateConnecting {
		s.emit(SocketEventConnectAbort, closeEvent)
	} else {
		s.emit(SocketEventDisconnect, closeEvent)
	}
	s.emit(SocketEventClose, closeEvent)

	if _, ignore := socketProtocolIgnoreStatuses[code]; !ignore {
		message := socketProtocolErrorStatuses[code]
		if message == "" {
			message = fmt.Sprintf("Socket connection closed with status code %d", code)
			if reason != "" {
				message += " and reason: " + reason
			}
		}
		s.EmitError(&SocketProtocolError{Message: message, Code: code})
	}
}

// closeAllStreams ends every listener, receiver and procedure stream.
// Called by the server once socket cleanup has fully unwound.
func (s *Socket) closeAllStreams() {
	s.receiverDemux.CloseAll()
	s.procedureDemux.CloseAll()
	s.listenerDemux.CloseAll()
}

// setToken installs a verified token. No notifications are fired here;
// callers decide between the quiet and event-firing paths.
func (s *Socket) setToken(token AuthToken, signedToken string) {
	s.mu.Lock()
	s.authToken = token
	s.signedAuthToken = signedToken
	s.authTokenVersion++
	s.authState = Authenticated
	s.mu.Unlock()
}

// clearTokenQuiet drops the token without firing deauthentication
// notifications.
func (s *Socket) clearTokenQuiet() {
	s.mu.Lock()
	s.authToken = nil
	s.signedAuthToken = ""
	s.authTokenVersion++
	s.authState = Unauthenticated
	s.mu.Unlock()
}

// SetAuthToken makes the token the socket's active token, signs it and
// delivers the signed form to the client as a request needing
// acknowledgment. A signing failure is fatal: the connection is closed
// with code 4002 because an assigned-but-unsigned token leaves the
// socket inconsistent.
func (s *Socket) SetAuthToken(data AuthToken, opts *AuthTokenOptions) error {
	token := cloneAuthToken(data)

	s.mu.Lock()
	oldAuthState := s.authState
	s.authState = Authenticated
	s.authToken = token
	s.signedAuthToken = ""
	s.authTokenVersion++
	version := s.authTokenVersion
	s.mu.Unlock()

	expiresIn := s.server.opts.AuthDefaultExpiry
	rejectOnFailedDelivery := false
	if opts != nil {
		if opts.Algorithm != "" {
			s.EmitError(&InvalidArgumentsError{
				Message: "Cannot change auth token algorithm at runtime - It must be specified as a config option on launch",
			})
		}
		if opts.ExpiresIn != 0 {
			expiresIn = opts.ExpiresIn
		}
		rejectOnFailedDelivery = opts.RejectOnFailedDelivery
	}

	signOpts := &SignOptions{Algorithm: s.server.opts.AuthAlgorithm}
	if _, hasExp := token["exp"]; !hasExp {
		// An explicit exp claim always wins over the expiry option.
		signOpts.ExpiresIn = expiresIn
	}

	signedToken, err := s.server.authEngine().SignToken(token, s.server.signatureKey, signOpts)
	if err != nil {
		s.EmitError(err)
		s.onClose(CloseCodeAuthTokenSignFail, err.Error())
		s.transport.Close(CloseCodeAuthTokenSignFail, socketProtocolErrorStatuses[CloseCodeAuthTokenSignFail])
		return err
	}

	s.mu.Lock()
	if s.authTokenVersion == version {
		s.signedAuthToken = signedToken
		s.mu.Unlock()
		s.emit(SocketEventAuthTokenSigned, AuthTokenSignedEvent{SignedAuthToken: signedToken})
	} else {
		s.mu.Unlock()
	}

	s.triggerAuthenticationEvents(oldAuthState)

	if _, err := s.Invoke(EventSetAuthToken, map[string]any{"token": signedToken}); err != nil {
		deliveryErr := &AuthError{Message: "Failed to deliver auth token to client - " + err.Error()}
		s.EmitError(deliveryErr)
		if rejectOnFailedDelivery {
			return deliveryErr
		}
	}
	return nil
}

// triggerAuthenticationEvents fires the state-change and authenticate
// notifications on the socket and the server.
func (s *Socket) triggerAuthenticationEvents(oldAuthState AuthState) {
	token := s.GetAuthToken()
	if oldAuthState != Authenticated {
		stateChange := AuthStateChangeEvent{
			Socket:       s,
			OldAuthState: oldAuthState,
			NewAuthState: s.AuthState(),
			AuthToken:    token,
		}
		s.emit(SocketEventAuthStateChange, stateChange)
		s.server.emit(EventAuthenticationStateChange, stateChange)
	}
	authEvent := AuthenticateEvent{Socket: s, AuthToken: token}
	s.emit(SocketEventAuthenticate, authEvent)
	s.server.emit(EventAuthentication, authEvent)
}

// DeauthenticateSelf clears the token locally. The notifications are
// skipped when the socket is already unauthenticated.
func (s *Socket) DeauthenticateSelf() {
	s.mu.Lock()
	oldAuthState := s.authState
	oldAuthToken := s.authToken
	s.authToken = nil
	s.signedAuthToken = ""
	s.authTokenVersion++
	s.authState = Unauthenticated
	s.mu.Unlock()

	if oldAuthState != Unauthenticated {
		stateChange := AuthStateChangeEvent{
			Socket:       s,
			OldAuthState: oldAuthState,
			NewAuthState: Unauthenticated,
		}
		s.emit(SocketEventAuthStateChange, stateChange)
		s.server.emit(EventAuthenticationStateChange, stateChange)
	}
	deauthEvent := DeauthenticateEvent{Socket: s, OldAuthToken: oldAuthToken}
	s.emit(SocketEventDeauthenticate, deauthEvent)
	s.server.emit(EventDeauthentication, deauthEvent)
}

// Deauthenticate clears the token locally and additionally asks the
// client to drop its stored token. The client request is
// fire-and-forget; its acknowledgment is not awaited by the caller.
func (s *Socket) Deauthenticate() {
	s.DeauthenticateSelf()
	go func() {
		_, _ = s.Invoke(EventRemoveAuthToken, nil)
	}()
}

// KickOut forcibly removes the socket from one channel, or from all of
// them when channel is empty. The client is notified with a #kickOut
// push per removed channel and the broker is told to drop the
// membership. Used by server-side policy, not by the client protocol.
func (s *Socket) KickOut(channel string, message string) {
	var channels []string
	if channel == "" {
		channels = s.Subscriptions()
	} else {
		channels = []string{channel}
	}

	for _, name := range channels {
		if !s.removeSubscription(name) {
			continue
		}
		_ = s.Transmit(EventKickOut, map[string]any{
			"channel": name,
			"message": message,
		})
		if err := s.server.brokerEngine().UnsubscribeSocket(s, name); err != nil {
			s.server.EmitWarning(&BrokerError{
				Message: fmt.Sprintf("Failed to unsubscribe socket %s from the %s channel - %s", s.id, name, err),
			})
		}
	}
}

func cloneAuthToken(token AuthToken) AuthToken {
	clone := make(AuthToken, len(token))
	for k, v := range token {
		clone[k] = v
	}
	return clone
}

// isAuthTokenExpired checks the exp claim against the current time.
func isAuthTokenExpired(token AuthToken) bool {
	exp, ok := tokenExpiry(token)
	if !ok {
		return false
	}
	return time.Now().After(exp)
}

func tokenExpiry(token AuthToken) (time.Time, bool) {
	if token == nil {
		return time.Time{}, false
	}
	switch exp := token["exp"].(type) {
	case float64:
		return time.Unix(int64(exp), 0), true
	case int64:
		return time.Unix(exp, 0), true
	case int:
		return time.Unix(int64(exp), 0), true
	}
	return time.Time{}, false
}

func isReservedEvent(event string) bool {
	return strings.HasPrefix(event, "#")
}
