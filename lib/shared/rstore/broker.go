package rstore

import (
	"context"

	"github.com/ValentinKolb/dSync/lib/shared"
	"github.com/redis/go-redis/v9"
)

type brokerImpl struct {
	client *redis.Client
}

// NewRedisBroker creates a new message broker backed by the native pub/sub
// facility of a Redis-compatible server. Like NewRedisStore, the server is
// pinged once during creation and an error with code RetCConnection is
// returned if it is unreachable.
func NewRedisBroker(opts Options) (shared.IMessageBroker, error) {
	client, _, err := connect(opts)
	if err != nil {
		return nil, err
	}

	return &brokerImpl{
		client: client,
	}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see shared/interface.go)
// --------------------------------------------------------------------------

func (b *brokerImpl) Publish(channel string, payload []byte) error {
	// no timeout context here: publishing is fire-and-forget and the client
	// already applies its own write deadline
	if err := b.client.Publish(context.Background(), channel, payload).Err(); err != nil {
		return shared.NewError(shared.RetCInternalError, err.Error())
	}
	return nil
}

func (b *brokerImpl) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := b.client.Subscribe(ctx, channel)

	// wait for the subscription to be confirmed so no early publish is lost
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, shared.NewError(shared.RetCConnection, err.Error())
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer func() { _ = pubsub.Close() }()

		in := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case <-ctx.Done():
					return
				case out <- []byte(msg.Payload):
				}
			}
		}
	}()

	return out, nil
}

func (b *brokerImpl) Close() error {
	return b.client.Close()
}
