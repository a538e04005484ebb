package lstore

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dSync/lib/shared"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var brokerLogger = logger.GetLogger("lstore")

const (
	// buffer size of each subscription channel. When a subscriber falls this
	// far behind, further messages for it are dropped (delivery is
	// best-effort, see shared.IMessageBroker).
	subscriptionBuffer = 64
)

// subscription represents a single subscriber on one broadcast channel.
// The mutex serializes sends against the close so that a publish racing a
// shutdown can never hit a closed channel.
type subscription struct {
	channel string
	msgs    chan []byte
	mu      sync.Mutex
	closed  bool
}

// send delivers a payload to the subscriber, dropping it if the subscriber
// is lagging. It reports whether the payload was dropped.
func (s *subscription) send(payload []byte) (dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.msgs <- payload:
		return false
	default:
		return true
	}
}

// close closes the subscription channel exactly once
func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.msgs)
	}
}

type brokerImpl struct {
	subscriptions *xsync.MapOf[uint64, *subscription]
	nextSubID     atomic.Uint64
	closeOnce     sync.Once
	closed        atomic.Bool
}

// NewLocalBroker creates a new in-process message broker. Messages published
// on a channel are fanned out to all subscribers of that channel within the
// same process, including the publisher itself.
func NewLocalBroker() shared.IMessageBroker {
	return &brokerImpl{
		subscriptions: xsync.NewMapOf[uint64, *subscription](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see shared/interface.go)
// --------------------------------------------------------------------------

func (b *brokerImpl) Publish(channel string, payload []byte) error {
	if b.closed.Load() {
		return shared.NewError(shared.RetCInvalidOperation, "broker is closed")
	}

	b.subscriptions.Range(func(id uint64, sub *subscription) bool {
		if sub.channel != channel {
			return true
		}
		if sub.send(payload) {
			brokerLogger.Warningf("subscriber %d on channel %q is lagging, dropping message", id, channel)
		}
		return true
	})
	return nil
}

func (b *brokerImpl) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	if b.closed.Load() {
		return nil, shared.NewError(shared.RetCInvalidOperation, "broker is closed")
	}

	sub := &subscription{
		channel: channel,
		msgs:    make(chan []byte, subscriptionBuffer),
	}
	id := b.nextSubID.Add(1)
	b.subscriptions.Store(id, sub)

	// remove the subscription and close its channel once the context ends
	go func() {
		<-ctx.Done()
		b.subscriptions.Delete(id)
		sub.close()
	}()

	return sub.msgs, nil
}

func (b *brokerImpl) Close() error {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.subscriptions.Range(func(id uint64, sub *subscription) bool {
			b.subscriptions.Delete(id)
			sub.close()
			return true
		})
	})
	return nil
}
