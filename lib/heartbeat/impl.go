package heartbeat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("heartbeat")

const (
	defaultInterval = 5 * time.Second
	defaultTimeout  = 15 * time.Second
)

// Options configures the heartbeat monitor.
type Options struct {
	// SelfID is this process's id; own heartbeats are filtered out
	SelfID string
	// Interval between own heartbeat publications (0 = 5s)
	Interval time.Duration
	// Timeout after which a silent peer is classified dead (0 = 15s)
	Timeout time.Duration
}

// peerState is the mutable table entry for one peer
type peerState struct {
	lastHeartbeat time.Time
	load          int
}

type monitorImpl struct {
	opts  Options
	peers *xsync.MapOf[string, peerState]

	// callback registration is mutex-guarded so handlers can be added
	// while dispatch is running concurrently
	mu       sync.RWMutex
	onAlive  []PeerCallback
	onDead   []PeerCallback
	publish  PublishFunc
	loadFunc LoadFunc

	active atomic.Bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a heartbeat monitor. Start must be called to launch
// the background loops; RecordHeartbeat/RecordShutdown work without them.
func NewMonitor(opts Options) IHeartbeatMonitor {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	return &monitorImpl{
		opts:  opts,
		peers: xsync.NewMapOf[string, peerState](),
	}
}

// --------------------------------------------------------------------------
// Background loops
// --------------------------------------------------------------------------

// sendLoop publishes this process's heartbeat every interval
func (m *monitorImpl) sendLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.publishOnce()
		}
	}
}

// publishOnce sends a single heartbeat if a publisher is injected
func (m *monitorImpl) publishOnce() {
	m.mu.RLock()
	publish, loadFunc := m.publish, m.loadFunc
	m.mu.RUnlock()

	if publish == nil {
		return
	}
	load := 0
	if loadFunc != nil {
		load = loadFunc()
	}
	if err := publish(m.opts.SelfID, load); err != nil {
		// best-effort: peers will simply see the next heartbeat
		Logger.Warningf("heartbeat publish failed: %v", err)
	}
}

// sweepLoop evicts peers whose heartbeat timed out. It runs at a third of
// the timeout so a dead peer is detected with bounded delay.
func (m *monitorImpl) sweepLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.opts.Timeout / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.sweep(now)
		}
	}
}

// sweep fires the dead callbacks for all timed-out peers and then removes
// them. Callbacks run while the peer is still in the table so they can
// inspect its last known state; the delete afterwards is conditional on the
// heartbeat timestamp so a peer that came back mid-callback is kept.
func (m *monitorImpl) sweep(now time.Time) {
	m.peers.Range(func(peerID string, state peerState) bool {
		if now.Sub(state.lastHeartbeat) > m.opts.Timeout {
			Logger.Infof("peer %s exceeded heartbeat timeout, classified dead", peerID)
			m.fire(m.deadCallbacks(), peerID)
			m.peers.Compute(peerID, func(cur peerState, loaded bool) (peerState, bool) {
				return cur, !loaded || cur.lastHeartbeat.Equal(state.lastHeartbeat)
			})
		}
		return true
	})
}

// fire invokes a callback snapshot for one peer id
func (m *monitorImpl) fire(callbacks []PeerCallback, peerID string) {
	for _, fn := range callbacks {
		fn(peerID)
	}
}

func (m *monitorImpl) aliveCallbacks() []PeerCallback {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]PeerCallback(nil), m.onAlive...)
}

func (m *monitorImpl) deadCallbacks() []PeerCallback {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]PeerCallback(nil), m.onDead...)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see heartbeat/interface.go)
// --------------------------------------------------------------------------

func (m *monitorImpl) Start(ctx context.Context) error {
	if !m.active.CompareAndSwap(false, true) {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(2)
	go m.sendLoop(loopCtx)
	go m.sweepLoop(loopCtx)

	Logger.Infof("heartbeat monitor started (interval %v, timeout %v)", m.opts.Interval, m.opts.Timeout)
	return nil
}

func (m *monitorImpl) Stop() {
	if !m.active.CompareAndSwap(true, false) {
		return
	}
	m.cancel()
	m.wg.Wait()
}

func (m *monitorImpl) RecordHeartbeat(peerID string, ts time.Time, load int) {
	// never track ourselves, a process must not self-evict
	if peerID == m.opts.SelfID {
		return
	}

	_, known := m.peers.Load(peerID)
	if !known {
		Logger.Infof("new peer %s appeared", peerID)
		m.fire(m.aliveCallbacks(), peerID)
	}
	m.peers.Store(peerID, peerState{lastHeartbeat: ts, load: load})
}

func (m *monitorImpl) RecordShutdown(peerID string) {
	if peerID == m.opts.SelfID {
		return
	}
	if _, loaded := m.peers.LoadAndDelete(peerID); loaded {
		Logger.Infof("peer %s announced shutdown", peerID)
	}
}

func (m *monitorImpl) GetPeers() []PeerInfo {
	return m.snapshot(false)
}

func (m *monitorImpl) GetHealthyPeers() []PeerInfo {
	return m.snapshot(true)
}

// snapshot copies the peer table, optionally filtered to healthy peers
func (m *monitorImpl) snapshot(healthyOnly bool) []PeerInfo {
	now := time.Now()
	peers := make([]PeerInfo, 0, m.peers.Size())
	m.peers.Range(func(peerID string, state peerState) bool {
		healthy := now.Sub(state.lastHeartbeat) <= m.opts.Timeout
		if healthyOnly && !healthy {
			return true
		}
		peers = append(peers, PeerInfo{
			PeerID:        peerID,
			LastHeartbeat: state.lastHeartbeat,
			Load:          state.load,
			Healthy:       healthy,
		})
		return true
	})
	return peers
}

func (m *monitorImpl) GetTotalLoad() int {
	total := 0

	m.mu.RLock()
	loadFunc := m.loadFunc
	m.mu.RUnlock()
	if loadFunc != nil {
		total += loadFunc()
	}

	for _, peer := range m.GetHealthyPeers() {
		total += peer.Load
	}
	return total
}

func (m *monitorImpl) OnPeerAlive(fn PeerCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAlive = append(m.onAlive, fn)
}

func (m *monitorImpl) OnPeerDead(fn PeerCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDead = append(m.onDead, fn)
}

func (m *monitorImpl) SetPublisher(fn PublishFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publish = fn
}

func (m *monitorImpl) SetLoadFunc(fn LoadFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadFunc = fn
}
