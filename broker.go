package scserver

import "sync"

// SimpleBroker is the default in-process broker engine. Membership is a
// plain channel-to-sockets index; Publish fans out to each subscriber
// on its own goroutine so one slow socket cannot delay the rest.
type SimpleBroker struct {
	mu       sync.Mutex
	channels map[string]map[string]*Socket
}

// NewSimpleBroker builds an empty broker.
func NewSimpleBroker() *SimpleBroker {
	return &SimpleBroker{channels: make(map[string]map[string]*Socket)}
}

func (b *SimpleBroker) SubscribeSocket(socket *Socket, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	sockets := b.channels[channel]
	if sockets == nil {
		sockets = make(map[string]*Socket)
		b.channels[channel] = sockets
	}
	sockets[socket.ID()] = socket
	return nil
}

func (b *SimpleBroker) UnsubscribeSocket(socket *Socket, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	sockets := b.channels[channel]
	if sockets == nil {
		return nil
	}
	delete(sockets, socket.ID())
	if len(sockets) == 0 {
		delete(b.channels, channel)
	}
	return nil
}

// Publish delivers data to every current subscriber of the channel.
// Each delivery runs the subscriber's publish-out chain, so individual
// sockets may still be skipped or receive a rewritten payload.
func (b *SimpleBroker) Publish(channel string, data any) error {
	b.mu.Lock()
	subscribers := make([]*Socket, 0, len(b.channels[channel]))
	for _, socket := range b.channels[channel] {
		subscribers = append(subscribers, socket)
	}
	b.mu.Unlock()

	for _, socket := range subscribers {
		go func(socket *Socket) {
			batch := socket.server.opts.PubSubBatchDuration > 0
			_ = socket.transmit(EventPublish, map[string]any{
				"channel": channel,
				"data":    data,
			}, batch)
		}(socket)
	}
	return nil
}

// SubscribersCount returns the number of sockets subscribed to the
// channel.
func (b *SimpleBroker) SubscribersCount(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.channels[channel])
}
