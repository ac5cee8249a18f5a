package scserver

import (
	"errors"
	"fmt"
	"time"
)

// ErrSilentBlock is returned (or wrapped) by a middleware function to
// block an action without a server warning being emitted. The chain
// converts it into a SilentMiddlewareBlockedError carrying the kind of
// the blocking middleware.
var ErrSilentBlock = errors.New("silent middleware block")

// AuthTokenExpiredError indicates a token whose expiry lies in the past.
// The socket holding it is told to drop the token.
type AuthTokenExpiredError struct {
	Message   string
	ExpiredAt time.Time
}

func (e *AuthTokenExpiredError) Error() string { return e.Message }
func (e *AuthTokenExpiredError) name() string  { return "AuthTokenExpiredError" }

// AuthTokenInvalidError indicates a malformed token or a bad signature.
type AuthTokenInvalidError struct {
	Message string
}

func (e *AuthTokenInvalidError) Error() string { return e.Message }
func (e *AuthTokenInvalidError) name() string  { return "AuthTokenInvalidError" }

// AuthTokenNotBeforeError indicates a well-formed token that is not yet
// valid. The token is kept; this is a quiet condition.
type AuthTokenNotBeforeError struct {
	Message string
	Date    time.Time
}

func (e *AuthTokenNotBeforeError) Error() string { return e.Message }
func (e *AuthTokenNotBeforeError) name() string  { return "AuthTokenNotBeforeError" }

// AuthTokenError is the classification for any other token verification
// failure.
type AuthTokenError struct {
	Message string
}

func (e *AuthTokenError) Error() string { return e.Message }
func (e *AuthTokenError) name() string  { return "AuthTokenError" }

// AuthError indicates a failure in the authentication flow itself, such
// as failing to deliver a newly signed token to the client.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return e.Message }
func (e *AuthError) name() string  { return "AuthError" }

// SilentMiddlewareBlockedError is the rejection reason for an action
// silently blocked by a middleware function.
type SilentMiddlewareBlockedError struct {
	Message string
	Kind    MiddlewareKind
}

func (e *SilentMiddlewareBlockedError) Error() string { return e.Message }
func (e *SilentMiddlewareBlockedError) name() string  { return "SilentMiddlewareBlockedError" }

// InvalidMessageError indicates an inbound frame that could not be
// decoded.
type InvalidMessageError struct {
	Message string
}

func (e *InvalidMessageError) Error() string { return e.Message }
func (e *InvalidMessageError) name() string  { return "InvalidMessageError" }

// InvalidActionError indicates an operation attempted in a state that
// does not permit it.
type InvalidActionError struct {
	Message string
}

func (e *InvalidActionError) Error() string { return e.Message }
func (e *InvalidActionError) name() string  { return "InvalidActionError" }

// InvalidArgumentsError indicates bad arguments to a public API call.
type InvalidArgumentsError struct {
	Message string
}

func (e *InvalidArgumentsError) Error() string { return e.Message }
func (e *InvalidArgumentsError) name() string  { return "InvalidArgumentsError" }

// InvalidOptionsError indicates an unusable server configuration.
type InvalidOptionsError struct {
	Message string
}

func (e *InvalidOptionsError) Error() string { return e.Message }
func (e *InvalidOptionsError) name() string  { return "InvalidOptionsError" }

// BrokerError wraps failures reported by the broker engine.
type BrokerError struct {
	Message string
}

func (e *BrokerError) Error() string { return e.Message }
func (e *BrokerError) name() string  { return "BrokerError" }

// TimeoutError is the rejection for an invoke that received no response
// within the ack timeout.
type TimeoutError struct {
	Message string
}

func (e *TimeoutError) Error() string { return e.Message }
func (e *TimeoutError) name() string  { return "TimeoutError" }

// BadConnectionError is the rejection for an invoke that was pending
// when its socket closed.
type BadConnectionError struct {
	Message string
}

func (e *BadConnectionError) Error() string { return e.Message }
func (e *BadConnectionError) name() string  { return "BadConnectionError" }

// SocketProtocolError describes an abnormal socket closure.
type SocketProtocolError struct {
	Message string
	Code    int
}

func (e *SocketProtocolError) Error() string { return e.Message }
func (e *SocketProtocolError) name() string  { return "SocketProtocolError" }

// ServerProtocolError describes a protocol failure at the server level.
type ServerProtocolError struct {
	Message string
}

func (e *ServerProtocolError) Error() string { return e.Message }
func (e *ServerProtocolError) name() string  { return "ServerProtocolError" }

// namedError is implemented by every error in the taxonomy so it can be
// dehydrated to its wire shape.
type namedError interface {
	error
	name() string
}

// dehydrateError converts an error to the wire shape {name, message}.
func dehydrateError(err error) any {
	if err == nil {
		return nil
	}
	var named namedError
	if errors.As(err, &named) {
		return map[string]any{
			"name":    named.name(),
			"message": named.Error(),
		}
	}
	return map[string]any{
		"name":    "Error",
		"message": err.Error(),
	}
}

// hydrateError reconstructs an error from its wire shape. Unknown names
// come back as a plain error carrying the remote name and message.
func hydrateError(v any) error {
	if v == nil {
		return nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("%v", v)
	}
	name, _ := obj["name"].(string)
	message, _ := obj["message"].(string)

	switch name {
	case "AuthTokenExpiredError":
		return &AuthTokenExpiredError{Message: message}
	case "AuthTokenInvalidError":
		return &AuthTokenInvalidError{Message: message}
	case "AuthTokenNotBeforeError":
		return &AuthTokenNotBeforeError{Message: message}
	case "AuthTokenError":
		return &AuthTokenError{Message: message}
	case "AuthError":
		return &AuthError{Message: message}
	case "InvalidActionError":
		return &InvalidActionError{Message: message}
	case "BrokerError":
		return &BrokerError{Message: message}
	case "TimeoutError":
		return &TimeoutError{Message: message}
	case "SocketProtocolError":
		return &SocketProtocolError{Message: message}
	case "":
		return errors.New(message)
	}
	return fmt.Errorf("%s: %s", name, message)
}

// socketProtocolIgnoreStatuses lists close codes that describe a normal
// closure; no protocol error is synthesized for them.
var socketProtocolIgnoreStatuses = map[int]string{
	1000: "Socket closed normally",
	1001: "Socket hung up",
}

// socketProtocolErrorStatuses maps abnormal close codes to their
// descriptions. Codes must be preserved for client compatibility.
var socketProtocolErrorStatuses = map[int]string{
	1001: "Socket was disconnected",
	1002: "A WebSocket protocol error was encountered",
	1003: "Server terminated socket because it received invalid data",
	1005: "Socket closed without status code",
	1006: "Socket hung up",
	1007: "Message format was incorrect",
	1008: "Encountered unexpected failure",
	1009: "Message was too big to process",
	1011: "Server encountered an unexpected fatal condition",
	4000: "Server ping timed out",
	4001: "Client pong timed out",
	4002: "Server failed to sign auth token",
	4003: "Failed to complete handshake",
	4004: "Client failed to save auth token",
	4005: "Did not receive #handshake from client before timeout",
	4006: "Failed to bind socket to message queue",
	4007: "Client connection establishment timed out",
	4008: "Server rejected handshake from client",
}
