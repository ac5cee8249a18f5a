// Package scserver implements a real-time pub/sub and RPC server
// speaking the SocketCluster protocol.
//
// The core server is transport-agnostic: a front-end (see the ws
// subpackage) accepts connections and hands each one to the server,
// which then owns the protocol handshake, JWT authentication, the
// middleware pipeline, channel subscriptions and message fan-out.
//
// # Architecture
//
// Every connection is represented by a Socket with a small state
// machine: CONNECTING until the client completes its #handshake
// request, then OPEN, then CLOSED. Inbound frames are either one-way
// events, requests awaiting a response, responses to server-initiated
// requests, or raw data. Consumers receive events through streams
// rather than callbacks:
//
//	for event := range server.Listener(scserver.EventConnection) {
//	    conn := event.(scserver.ConnectEvent)
//	    go handleSocket(conn.Socket)
//	}
//
// Each Listener, Receiver or Procedure call opens an independent
// ordered stream; writes never block the producer. Streams end when
// their topic or socket is closed, so consumers simply range until the
// channel closes.
//
// # Quick Start
//
//	server := ws.New(&ws.ServerConfig{
//	    Addr: ":8000",
//	    Options: &scserver.ServerConfig{
//	        AuthKey: []byte("secret"),
//	    },
//	})
//
//	go func() {
//	    for event := range server.Core().Listener(scserver.EventConnection) {
//	        conn := event.(scserver.ConnectEvent)
//	        go func(socket *scserver.Socket) {
//	            for rpc := range socket.Procedure("customProc") {
//	                rpc.End(map[string]any{"ok": true})
//	            }
//	        }(conn.Socket)
//	    }
//	}()
//
//	server.Start(context.Background())
//
// # Middleware
//
// Eight interception points cover the full action surface: connection
// admission, protocol handshake, inbound transmits and invokes,
// subscribe attempts, inbound and per-socket outbound publishes, and
// token authentication. A middleware function may rewrite the payload,
// block with an error, or block silently:
//
//	server.Core().AddMiddleware(scserver.MiddlewareSubscribe, func(req *scserver.MiddlewareRequest) error {
//	    if strings.HasPrefix(req.Channel, "admin.") && req.Socket.AuthState() != scserver.Authenticated {
//	        return scserver.ErrSilentBlock
//	    }
//	    return nil
//	})
//
// # Authentication
//
// Tokens are JWTs signed with the server's AuthKey. A token supplied
// during the handshake or via #authenticate becomes the socket's
// active token once it verifies and the authenticate middleware admits
// it; SetAuthToken issues a new token from server code and delivers it
// to the client. Expired tokens are dropped the moment any inbound
// event observes them.
//
// # Keepalive
//
// The server pings every PingInterval and closes connections that stay
// silent for PingTimeout with close code 4001. Any inbound frame counts
// as liveness, not only pong frames.
package scserver
