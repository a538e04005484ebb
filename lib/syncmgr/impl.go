package syncmgr

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dSync/lib/heartbeat"
	"github.com/ValentinKolb/dSync/lib/lockmgr"
	"github.com/ValentinKolb/dSync/lib/shared"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("syncmgr")

const (
	// DefaultChannel is the broadcast channel used when Options.Channel
	// is empty
	DefaultChannel = "dsync:sync"

	// transferAcquireTimeout bounds how long a transfer receiver polls for
	// the lock after the sender released it
	transferAcquireTimeout = 2 * time.Second
)

var (
	metricMsgsPublished = metrics.NewCounter(`dsync_sync_messages_published_total`)
	metricMsgsReceived  = metrics.NewCounter(`dsync_sync_messages_received_total`)
	metricMsgsDropped   = metrics.NewCounter(`dsync_sync_messages_dropped_total`)
)

// Options configures the sync coordinator.
type Options struct {
	// NodeID identifies this process on the channel; must equal the lock
	// manager's owner id and the heartbeat monitor's self id
	NodeID string
	// Channel is the broadcast channel name (empty = DefaultChannel)
	Channel string
}

type coordinatorImpl struct {
	opts    Options
	broker  shared.IMessageBroker
	locks   lockmgr.ILockManager
	monitor heartbeat.IHeartbeatMonitor
	codec   IMessageCodec

	// callback registration is mutex-guarded so handlers can be added
	// while the receive loop dispatches concurrently
	mu           sync.RWMutex
	onMessage    []MessageCallback
	onInvalidate []InvalidateCallback

	active atomic.Bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator creates a sync coordinator on top of a message broker, a
// lock manager and a heartbeat monitor. All three must share the same
// process identity (Options.NodeID).
func NewCoordinator(
	opts Options,
	broker shared.IMessageBroker,
	locks lockmgr.ILockManager,
	monitor heartbeat.IHeartbeatMonitor,
) ISyncCoordinator {
	if opts.Channel == "" {
		opts.Channel = DefaultChannel
	}
	c := &coordinatorImpl{
		opts:    opts,
		broker:  broker,
		locks:   locks,
		monitor: monitor,
		codec:   NewJSONCodec(),
	}

	// wired here rather than in Start so a stop/start cycle does not stack
	// up duplicate registrations on the monitor

	// heartbeat traffic rides on the same channel as everything else
	c.monitor.SetPublisher(func(selfID string, load int) error {
		return c.publish(NewHeartbeatMessage(selfID, time.Now().UnixMilli(), load))
	})
	// a peer confirmed dead by the monitor may have left locks behind
	c.monitor.OnPeerDead(func(peerID string) {
		if removed, err := c.locks.CleanupLocksForServer(peerID); err != nil {
			Logger.Errorf("lock cleanup for dead peer %s failed: %v", peerID, err)
		} else if removed > 0 {
			Logger.Infof("cleaned up %d lock(s) of dead peer %s", removed, peerID)
		}
	})
	return c
}

// --------------------------------------------------------------------------
// Interface Methods (docu see syncmgr.ISyncCoordinator)
// --------------------------------------------------------------------------

func (c *coordinatorImpl) Start(ctx context.Context) error {
	if !c.active.CompareAndSwap(false, true) {
		return fmt.Errorf("coordinator already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	msgs, err := c.broker.Subscribe(runCtx, c.opts.Channel)
	if err != nil {
		cancel()
		c.active.Store(false)
		return fmt.Errorf("failed to subscribe to %s: %w", c.opts.Channel, err)
	}

	if err := c.monitor.Start(runCtx); err != nil {
		cancel()
		c.active.Store(false)
		return fmt.Errorf("failed to start heartbeat monitor: %w", err)
	}

	c.wg.Add(1)
	go c.recvLoop(runCtx, msgs)

	Logger.Infof("sync coordinator started (node=%s, channel=%s)", c.opts.NodeID, c.opts.Channel)
	return nil
}

func (c *coordinatorImpl) Stop() error {
	if !c.active.CompareAndSwap(true, false) {
		return nil
	}
	c.monitor.Stop()
	c.cancel()
	c.wg.Wait()
	Logger.Infof("sync coordinator stopped (node=%s)", c.opts.NodeID)
	return nil
}

func (c *coordinatorImpl) AcquireLock(key string) (bool, error) {
	acquired, err := c.locks.AcquireLock(key)
	if err != nil || !acquired {
		return acquired, err
	}
	c.publishAdvisory(NewAcquireLockMessage(key, c.opts.NodeID))
	return true, nil
}

func (c *coordinatorImpl) AcquireLockWait(ctx context.Context, key string, timeout time.Duration) (bool, error) {
	acquired, err := c.locks.AcquireLockWait(ctx, key, timeout)
	if err != nil || !acquired {
		return acquired, err
	}
	c.publishAdvisory(NewAcquireLockMessage(key, c.opts.NodeID))
	return true, nil
}

func (c *coordinatorImpl) ReleaseLock(key string) (bool, error) {
	released, err := c.locks.ReleaseLock(key)
	if err != nil || !released {
		return released, err
	}
	c.publishAdvisory(NewReleaseLockMessage(key, c.opts.NodeID))
	return true, nil
}

func (c *coordinatorImpl) IsLocked(key string) (bool, error) {
	return c.locks.IsLocked(key)
}

func (c *coordinatorImpl) GetLockHolder(key string) (string, bool, error) {
	return c.locks.GetLockHolder(key)
}

func (c *coordinatorImpl) TransferLock(key string, toID string) error {
	holder, locked, err := c.locks.GetLockHolder(key)
	if err != nil {
		return err
	}
	if !locked || holder != c.opts.NodeID {
		return fmt.Errorf("cannot transfer lock %s: not held by this process", key)
	}

	// publish first so the receiver is already polling when the release
	// lands; a third party racing the receiver loses or wins via the
	// store's set-if-absent, never by corruption
	if err := c.publish(NewTransferLockMessage(key, c.opts.NodeID, toID)); err != nil {
		return fmt.Errorf("failed to publish lock transfer: %w", err)
	}
	if _, err := c.locks.ReleaseLock(key); err != nil {
		return fmt.Errorf("failed to release lock for transfer: %w", err)
	}
	return nil
}

func (c *coordinatorImpl) BroadcastUpdate(key string, version uint64) error {
	return c.publish(NewDataUpdateMessage(key, version, c.opts.NodeID))
}

func (c *coordinatorImpl) BroadcastInvalidation(key string, scope InvalidationScope) error {
	return c.publish(NewCacheInvalidateMessage(key, scope, c.opts.NodeID))
}

func (c *coordinatorImpl) AnnounceShutdown() error {
	return c.publish(NewServerShutdownMessage(c.opts.NodeID))
}

func (c *coordinatorImpl) OnMessage(fn MessageCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = append(c.onMessage, fn)
}

func (c *coordinatorImpl) OnCacheInvalidate(fn InvalidateCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onInvalidate = append(c.onInvalidate, fn)
}

func (c *coordinatorImpl) NodeID() string {
	return c.opts.NodeID
}

// --------------------------------------------------------------------------
// Publishing
// --------------------------------------------------------------------------

// publish encodes and sends a message, returning any error to the caller
func (c *coordinatorImpl) publish(msg *SyncMessage) error {
	data, err := c.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", msg.MsgType, err)
	}
	if err := c.broker.Publish(c.opts.Channel, data); err != nil {
		return fmt.Errorf("failed to publish %s message: %w", msg.MsgType, err)
	}
	metricMsgsPublished.Inc()
	return nil
}

// publishAdvisory sends a message whose delivery is not required for
// correctness. Failures are logged, never propagated: the local action the
// message describes has already happened.
func (c *coordinatorImpl) publishAdvisory(msg *SyncMessage) {
	if err := c.publish(msg); err != nil {
		Logger.Warningf("advisory publish failed: %v", err)
	}
}

// --------------------------------------------------------------------------
// Receiving / Dispatch
// --------------------------------------------------------------------------

func (c *coordinatorImpl) recvLoop(ctx context.Context, msgs <-chan []byte) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-msgs:
			if !ok {
				return
			}
			msg, err := c.codec.Decode(payload)
			if err != nil {
				metricMsgsDropped.Inc()
				Logger.Warningf("dropping malformed message: %v", err)
				continue
			}
			if msg.MsgType == MsgTUnknown {
				metricMsgsDropped.Inc()
				Logger.Debugf("ignoring message with unknown type")
				continue
			}
			metricMsgsReceived.Inc()
			c.dispatch(ctx, msg)
		}
	}
}

func (c *coordinatorImpl) dispatch(ctx context.Context, msg *SyncMessage) {
	self := c.opts.NodeID

	switch msg.MsgType {
	case MsgTHeartbeat:
		if msg.PeerID != self {
			// local receive time is used instead of the sender's ts so
			// liveness never depends on cross-host clock agreement
			c.monitor.RecordHeartbeat(msg.PeerID, time.Now(), msg.Load)
		}

	case MsgTServerShutdown:
		if msg.PeerID != self {
			Logger.Infof("peer %s announced shutdown", msg.PeerID)
			c.monitor.RecordShutdown(msg.PeerID)
			if removed, err := c.locks.CleanupLocksForServer(msg.PeerID); err != nil {
				Logger.Errorf("lock cleanup for %s failed: %v", msg.PeerID, err)
			} else if removed > 0 {
				Logger.Infof("cleaned up %d lock(s) of %s", removed, msg.PeerID)
			}
		}

	case MsgTDataUpdate:
		// a peer's durable save stales any cached copy of that entity here
		if msg.OriginID != self {
			c.fireInvalidate(msg.EntityKey, ScopeKey)
		}

	case MsgTCacheInvalidate:
		// applied unconditionally, own messages included, so local and
		// remote invalidation take the same path
		c.fireInvalidate(msg.EntityKey, msg.Scope)

	case MsgTAcquireLock, MsgTReleaseLock:
		// advisory only, the shared store is the authority
		if msg.OwnerID != self {
			Logger.Debugf("peer %s %s lock %s", msg.OwnerID, msg.MsgType, msg.EntityKey)
		}

	case MsgTTransferLock:
		if msg.ToID == self {
			c.acceptTransfer(ctx, msg)
		}

	case MsgTLockAck:
		Logger.Debugf("lock ack for %s (granted=%t)", msg.EntityKey, msg.Granted)
	}

	c.mu.RLock()
	observers := make([]MessageCallback, len(c.onMessage))
	copy(observers, c.onMessage)
	c.mu.RUnlock()
	for _, fn := range observers {
		fn(msg)
	}
}

func (c *coordinatorImpl) fireInvalidate(entityKey string, scope InvalidationScope) {
	if scope == "" {
		scope = ScopeKey
	}
	c.mu.RLock()
	callbacks := make([]InvalidateCallback, len(c.onInvalidate))
	copy(callbacks, c.onInvalidate)
	c.mu.RUnlock()
	for _, fn := range callbacks {
		fn(entityKey, scope)
	}
}

// acceptTransfer runs in its own goroutine so a slow acquisition poll never
// stalls the receive loop
func (c *coordinatorImpl) acceptTransfer(ctx context.Context, msg *SyncMessage) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		acquired, err := c.locks.AcquireLockWait(ctx, msg.EntityKey, transferAcquireTimeout)
		if err != nil {
			Logger.Errorf("accepting lock transfer for %s from %s failed: %v", msg.EntityKey, msg.FromID, err)
		} else if acquired {
			Logger.Infof("accepted lock transfer for %s from %s", msg.EntityKey, msg.FromID)
		} else {
			Logger.Warningf("lost race for transferred lock %s from %s", msg.EntityKey, msg.FromID)
		}
		c.publishAdvisory(NewLockAckMessage(msg.EntityKey, acquired && err == nil))
	}()
}
