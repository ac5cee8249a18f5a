package scserver

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestTransmitMiddlewareRewritesPayload(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, nil)
	server.AddMiddleware(MiddlewareTransmit, func(req *MiddlewareRequest) error {
		req.Data = req.Data.(string) + " [redacted]"
		return nil
	})

	socket, transport := connectSocket(t, server)
	completeHandshake(t, socket, transport)

	messages := socket.Receiver("chat")
	socket.HandleMessage([]byte(`{"event":"chat","data":"hello"}`))

	if got := waitEvent(t, messages); got != "hello [redacted]" {
		t.Errorf("receiver got %v, want rewritten payload", got)
	}
}

func TestTransmitMiddlewareBlockEmitsWarning(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, nil)
	warnings := server.Listener(EventWarning)
	blockErr := errors.New("blocked by policy")
	server.AddMiddleware(MiddlewareTransmit, func(req *MiddlewareRequest) error {
		return blockErr
	})

	socket, transport := connectSocket(t, server)
	completeHandshake(t, socket, transport)

	messages := socket.Receiver("chat")
	socket.HandleMessage([]byte(`{"event":"chat","data":"hello"}`))

	event := waitEvent(t, warnings).(WarningEvent)
	if !errors.Is(event.Warning, blockErr) {
		t.Errorf("warning = %v, want the middleware error", event.Warning)
	}
	select {
	case got := <-messages:
		t.Errorf("blocked event was delivered: %v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSilentBlockEmitsNoWarning(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, nil)
	warnings := server.Listener(EventWarning)
	server.AddMiddleware(MiddlewareInvoke, func(req *MiddlewareRequest) error {
		return ErrSilentBlock
	})

	socket, transport := connectSocket(t, server)
	completeHandshake(t, socket, transport)

	socket.HandleMessage([]byte(`{"event":"secret","cid":3}`))
	resp := nextResponseFrame(t, transport, 3)
	respErr := resp["error"].(map[string]any)
	if respErr["name"] != "SilentMiddlewareBlockedError" {
		t.Errorf("error name = %v, want SilentMiddlewareBlockedError", respErr["name"])
	}

	select {
	case event := <-warnings:
		t.Errorf("unexpected warning for silent block: %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWrappedSilentBlock(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, nil)
	server.AddMiddleware(MiddlewareInvoke, func(req *MiddlewareRequest) error {
		return fmt.Errorf("quota reached: %w", ErrSilentBlock)
	})

	socket, transport := connectSocket(t, server)
	completeHandshake(t, socket, transport)

	socket.HandleMessage([]byte(`{"event":"secret","cid":3}`))
	resp := nextResponseFrame(t, transport, 3)
	respErr := resp["error"].(map[string]any)
	if respErr["name"] != "SilentMiddlewareBlockedError" {
		t.Errorf("error name = %v, want SilentMiddlewareBlockedError", respErr["name"])
	}
}

func TestMiddlewareChainRunsInInstallationOrder(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, nil)
	server.AddMiddleware(MiddlewareTransmit, func(req *MiddlewareRequest) error {
		req.Data = req.Data.(string) + "-first"
		return nil
	})
	server.AddMiddleware(MiddlewareTransmit, func(req *MiddlewareRequest) error {
		req.Data = req.Data.(string) + "-second"
		return nil
	})

	socket, transport := connectSocket(t, server)
	completeHandshake(t, socket, transport)

	messages := socket.Receiver("chat")
	socket.HandleMessage([]byte(`{"event":"chat","data":"x"}`))

	if got := waitEvent(t, messages); got != "x-first-second" {
		t.Errorf("got %v, want x-first-second", got)
	}
}

func TestRemoveMiddleware(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &ServerConfig{MiddlewareEmitWarnings: boolPtr(false)})
	id, err := server.AddMiddleware(MiddlewareTransmit, func(req *MiddlewareRequest) error {
		return errors.New("block everything")
	})
	if err != nil {
		t.Fatalf("AddMiddleware() error = %v", err)
	}
	server.RemoveMiddleware(MiddlewareTransmit, id)

	socket, transport := connectSocket(t, server)
	completeHandshake(t, socket, transport)

	messages := socket.Receiver("chat")
	socket.HandleMessage([]byte(`{"event":"chat","data":"hello"}`))
	if got := waitEvent(t, messages); got != "hello" {
		t.Errorf("got %v, want hello after middleware removal", got)
	}
}

func TestAddMiddlewareUnknownKind(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, nil)
	_, err := server.AddMiddleware(MiddlewareKind("bogus"), func(req *MiddlewareRequest) error {
		return nil
	})
	var invalid *InvalidArgumentsError
	if !errors.As(err, &invalid) {
		t.Errorf("AddMiddleware() error = %v, want InvalidArgumentsError", err)
	}
}

func TestAuthenticateMiddlewareBadToken(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &ServerConfig{MiddlewareEmitWarnings: boolPtr(false)})
	badTokens := server.Listener(EventBadSocketAuthToken)
	server.AddMiddleware(MiddlewareAuthenticate, func(req *MiddlewareRequest) error {
		if req.AuthToken["username"] == "banned" {
			req.BadToken = true
			return errors.New("user is banned")
		}
		return nil
	})

	socket, _ := connectSocket(t, server)
	signed := signTestToken(t, AuthToken{"username": "banned"}, time.Hour)
	socket.HandleMessage([]byte(fmt.Sprintf(`{"event":"#handshake","data":{"authToken":%q},"cid":1}`, signed)))

	event := waitEvent(t, badTokens).(BadAuthTokenEvent)
	if event.SignedAuthToken != signed {
		t.Error("bad token event carried wrong token")
	}
	if got := socket.AuthState(); got != Unauthenticated {
		t.Errorf("auth state = %v, want %v", got, Unauthenticated)
	}
}

func TestAuthenticateMiddlewareBlockWithoutBadToken(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &ServerConfig{MiddlewareEmitWarnings: boolPtr(false)})
	badTokens := server.Listener(EventBadSocketAuthToken)
	server.AddMiddleware(MiddlewareAuthenticate, func(req *MiddlewareRequest) error {
		return errors.New("not now")
	})

	socket, transport := connectSocket(t, server)
	signed := signTestToken(t, AuthToken{"username": "grace"}, time.Hour)
	socket.HandleMessage([]byte(fmt.Sprintf(`{"event":"#handshake","data":{"authToken":%q},"cid":1}`, signed)))

	resp := nextResponseFrame(t, transport, 1)
	status := resp["data"].(map[string]any)
	if status["isAuthenticated"] != false {
		t.Errorf("isAuthenticated = %v, want false", status["isAuthenticated"])
	}
	if got := socket.AuthState(); got != Unauthenticated {
		t.Errorf("auth state = %v, want %v", got, Unauthenticated)
	}
	select {
	case event := <-badTokens:
		t.Errorf("unexpected bad token event: %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeMiddlewareObservesChannel(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &ServerConfig{MiddlewareEmitWarnings: boolPtr(false)})
	server.AddMiddleware(MiddlewareSubscribe, func(req *MiddlewareRequest) error {
		if req.Channel == "private" {
			return errors.New("channel is private")
		}
		return nil
	})

	socket, transport := connectSocket(t, server)
	completeHandshake(t, socket, transport)

	socket.HandleMessage([]byte(`{"event":"#subscribe","data":{"channel":"private"},"cid":2}`))
	resp := nextResponseFrame(t, transport, 2)
	if resp["error"] == nil {
		t.Error("subscribe to private channel was not rejected")
	}
	if socket.IsSubscribed("private") {
		t.Error("membership recorded despite the block")
	}

	socket.HandleMessage([]byte(`{"event":"#subscribe","data":{"channel":"public"},"cid":3}`))
	resp = nextResponseFrame(t, transport, 3)
	if resp["error"] != nil {
		t.Errorf("subscribe to public channel rejected: %v", resp["error"])
	}
}

func TestBatchedSubscribesRunMiddlewarePerElement(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &ServerConfig{MiddlewareEmitWarnings: boolPtr(false)})
	invocations := 0
	server.AddMiddleware(MiddlewareSubscribe, func(req *MiddlewareRequest) error {
		invocations++
		if req.Channel == "my-channel-12" {
			return errors.New("channel is blocked")
		}
		return nil
	})

	socket, transport := connectSocket(t, server)
	completeHandshake(t, socket, transport)

	// All 20 subscribe requests travel in a single array frame.
	batch := "["
	for i := 0; i < 20; i++ {
		if i > 0 {
			batch += ","
		}
		batch += fmt.Sprintf(`{"event":"#subscribe","data":{"channel":"my-channel-%d"},"cid":%d}`, i, i+10)
	}
	batch += "]"
	socket.HandleMessage([]byte(batch))

	failed := map[float64]bool{}
	for i := 0; i < 20; i++ {
		frame, ok := nextFrame(t, transport).(map[string]any)
		if !ok {
			t.Fatalf("unexpected frame kind")
		}
		rid := frame["rid"].(float64)
		failed[rid] = frame["error"] != nil
	}

	for i := 0; i < 20; i++ {
		rid := float64(i + 10)
		wantFail := i == 12
		if failed[rid] != wantFail {
			t.Errorf("subscribe cid %v failed=%v, want %v", rid, failed[rid], wantFail)
		}
	}
	if invocations != 20 {
		t.Errorf("middleware ran %d times, want 20", invocations)
	}
	if got := socket.ChannelSubscriptionsCount(); got != 19 {
		t.Errorf("subscription count = %d, want 19", got)
	}
}

func TestPublishInMiddlewareAckData(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, nil)
	server.AddMiddleware(MiddlewarePublishIn, func(req *MiddlewareRequest) error {
		req.AckData = map[string]any{"accepted": true}
		return nil
	})

	socket, transport := connectSocket(t, server)
	completeHandshake(t, socket, transport)

	socket.HandleMessage([]byte(`{"event":"#publish","data":{"channel":"news","data":"hi"},"cid":4}`))
	resp := nextResponseFrame(t, transport, 4)
	ack, _ := resp["data"].(map[string]any)
	if ack == nil || ack["accepted"] != true {
		t.Errorf("publish ack = %v, want middleware ack data", resp["data"])
	}
}

func TestPublishInMiddlewareRewritesMessage(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, nil)
	server.AddMiddleware(MiddlewarePublishIn, func(req *MiddlewareRequest) error {
		req.Data = "rewritten"
		return nil
	})

	subscriber, subTransport := connectSocket(t, server)
	completeHandshake(t, subscriber, subTransport)
	subscriber.HandleMessage([]byte(`{"event":"#subscribe","data":{"channel":"news"},"cid":2}`))
	nextResponseFrame(t, subTransport, 2)

	publisher, pubTransport := connectSocket(t, server)
	completeHandshake(t, publisher, pubTransport)
	publisher.HandleMessage([]byte(`{"event":"#publish","data":{"channel":"news","data":"original"},"cid":3}`))

	frame := nextEventFrame(t, subTransport, EventPublish)
	payload := frame["data"].(map[string]any)
	if payload["data"] != "rewritten" {
		t.Errorf("delivered data = %v, want rewritten", payload["data"])
	}
}

func TestPublishOutFiltersPerSocket(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &ServerConfig{MiddlewareEmitWarnings: boolPtr(false)})

	subscriberA, transportA := connectSocket(t, server)
	completeHandshake(t, subscriberA, transportA)
	subscriberA.HandleMessage([]byte(`{"event":"#subscribe","data":{"channel":"news"},"cid":2}`))
	nextResponseFrame(t, transportA, 2)

	subscriberB, transportB := connectSocket(t, server)
	completeHandshake(t, subscriberB, transportB)
	subscriberB.HandleMessage([]byte(`{"event":"#subscribe","data":{"channel":"news"},"cid":2}`))
	nextResponseFrame(t, transportB, 2)

	blocked := subscriberB
	server.AddMiddleware(MiddlewarePublishOut, func(req *MiddlewareRequest) error {
		if req.Socket == blocked {
			return ErrSilentBlock
		}
		return nil
	})

	if err := server.Publish("news", "update"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	frame := nextEventFrame(t, transportA, EventPublish)
	payload := frame["data"].(map[string]any)
	if payload["channel"] != "news" || payload["data"] != "update" {
		t.Errorf("subscriber A payload = %v", payload)
	}

	select {
	case data := <-transportB.frames:
		t.Errorf("blocked subscriber received frame: %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClientPublishDisabled(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &ServerConfig{AllowClientPublish: boolPtr(false)})
	socket, transport := connectSocket(t, server)
	completeHandshake(t, socket, transport)

	socket.HandleMessage([]byte(`{"event":"#publish","data":{"channel":"news","data":"x"},"cid":4}`))
	resp := nextResponseFrame(t, transport, 4)
	respErr, _ := resp["error"].(map[string]any)
	if respErr == nil || respErr["name"] != "InvalidActionError" {
		t.Errorf("error = %v, want InvalidActionError", resp["error"])
	}
}

func TestHandshakeMiddlewareCustomStatusCode(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, &ServerConfig{MiddlewareEmitWarnings: boolPtr(false)})
	server.AddMiddleware(MiddlewareHandshakeSC, func(req *MiddlewareRequest) error {
		return errors.New("rejected")
	})

	socket, transport := connectSocket(t, server)
	socket.HandleMessage([]byte(`{"event":"#handshake","cid":1}`))
	nextResponseFrame(t, transport, 1)

	if code := transport.waitClosed(t); code != CloseCodeHandshakeRejected {
		t.Errorf("close code = %d, want default %d", code, CloseCodeHandshakeRejected)
	}
}
