package heartbeat

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRecordHeartbeat(t *testing.T) {
	m := NewMonitor(Options{SelfID: "self", Timeout: time.Minute})

	m.RecordHeartbeat("peer-1", time.Now(), 3)
	m.RecordHeartbeat("peer-2", time.Now(), 7)

	peers := m.GetHealthyPeers()
	if len(peers) != 2 {
		t.Fatalf("got %d healthy peers, want 2", len(peers))
	}
	for _, peer := range peers {
		if !peer.Healthy {
			t.Errorf("peer %s should be healthy", peer.PeerID)
		}
	}
}

func TestSelfFiltered(t *testing.T) {
	m := NewMonitor(Options{SelfID: "self", Timeout: time.Minute})

	m.RecordHeartbeat("self", time.Now(), 1)

	if peers := m.GetPeers(); len(peers) != 0 {
		t.Errorf("own heartbeats must never enter the peer table, got %v", peers)
	}
}

func TestPeerAliveCallback(t *testing.T) {
	m := NewMonitor(Options{SelfID: "self", Timeout: time.Minute})

	var alive []string
	m.OnPeerAlive(func(peerID string) {
		alive = append(alive, peerID)
		// the callback fires before the insert so handlers can reconcile
		// against the pre-insert state
		if len(m.GetPeers()) != len(alive)-1 {
			t.Error("alive callback should fire before the table insert")
		}
	})

	m.RecordHeartbeat("peer-1", time.Now(), 0)
	m.RecordHeartbeat("peer-1", time.Now(), 0) // no second callback
	m.RecordHeartbeat("peer-2", time.Now(), 0)

	if len(alive) != 2 {
		t.Errorf("alive callback fired %d times, want 2", len(alive))
	}
}

func TestTimeoutEviction(t *testing.T) {
	m := NewMonitor(Options{SelfID: "self", Interval: 10 * time.Millisecond, Timeout: 90 * time.Millisecond})

	var (
		mu   sync.Mutex
		dead []string
	)
	m.OnPeerDead(func(peerID string) {
		mu.Lock()
		defer mu.Unlock()
		dead = append(dead, peerID)
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	// silent peer times out, chatty peer stays
	m.RecordHeartbeat("silent", time.Now(), 0)
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.RecordHeartbeat("chatty", time.Now(), 0)
			}
		}
	}()
	defer close(stop)

	time.Sleep(250 * time.Millisecond)

	mu.Lock()
	deadCopy := append([]string(nil), dead...)
	mu.Unlock()

	if len(deadCopy) != 1 || deadCopy[0] != "silent" {
		t.Fatalf("dead callbacks = %v, want exactly [silent]", deadCopy)
	}

	peers := m.GetHealthyPeers()
	if len(peers) != 1 || peers[0].PeerID != "chatty" {
		t.Errorf("healthy peers = %v, want exactly [chatty]", peers)
	}
}

func TestDeadCallbackSeesPeer(t *testing.T) {
	m := NewMonitor(Options{SelfID: "self", Timeout: 50 * time.Millisecond}).(*monitorImpl)

	sawPeer := false
	m.OnPeerDead(func(peerID string) {
		// the callback fires before the removal so handlers can still read
		// the peer's last known state
		for _, peer := range m.GetPeers() {
			if peer.PeerID == peerID {
				sawPeer = true
			}
		}
	})

	m.RecordHeartbeat("peer-1", time.Now().Add(-time.Minute), 0)
	m.sweep(time.Now())

	if !sawPeer {
		t.Error("dead callback must run while the peer is still in the table")
	}
	if peers := m.GetPeers(); len(peers) != 0 {
		t.Errorf("peer should be removed once the callbacks returned, got %v", peers)
	}
}

func TestSweepKeepsRevivedPeer(t *testing.T) {
	m := NewMonitor(Options{SelfID: "self", Timeout: 50 * time.Millisecond}).(*monitorImpl)

	m.OnPeerDead(func(peerID string) {
		// a fresh heartbeat landing during the callback rescues the peer
		m.RecordHeartbeat(peerID, time.Now(), 0)
	})

	m.RecordHeartbeat("peer-1", time.Now().Add(-time.Minute), 0)
	m.sweep(time.Now())

	if peers := m.GetHealthyPeers(); len(peers) != 1 || peers[0].PeerID != "peer-1" {
		t.Errorf("peer with a fresh heartbeat must survive the sweep, got %v", peers)
	}
}

func TestRecordShutdown(t *testing.T) {
	m := NewMonitor(Options{SelfID: "self", Timeout: time.Minute})

	deadFired := false
	m.OnPeerDead(func(string) { deadFired = true })

	m.RecordHeartbeat("peer-1", time.Now(), 0)
	m.RecordShutdown("peer-1")

	if peers := m.GetPeers(); len(peers) != 0 {
		t.Errorf("peer should be removed immediately on shutdown, got %v", peers)
	}
	if deadFired {
		t.Error("graceful shutdown must not fire the dead callback")
	}
}

func TestGetTotalLoad(t *testing.T) {
	m := NewMonitor(Options{SelfID: "self", Timeout: time.Minute})
	m.SetLoadFunc(func() int { return 5 })

	m.RecordHeartbeat("peer-1", time.Now(), 3)
	m.RecordHeartbeat("peer-2", time.Now(), 2)
	// an already stale peer does not count
	m.RecordHeartbeat("stale", time.Now().Add(-2*time.Minute), 100)

	if got := m.GetTotalLoad(); got != 10 {
		t.Errorf("total load = %d, want 10 (5 self + 3 + 2)", got)
	}
}

func TestPublishLoop(t *testing.T) {
	m := NewMonitor(Options{SelfID: "self", Interval: 15 * time.Millisecond, Timeout: time.Minute})

	var published atomic.Int32
	m.SetPublisher(func(selfID string, load int) error {
		if selfID != "self" {
			t.Errorf("published id %q, want self", selfID)
		}
		if load != 42 {
			t.Errorf("published load %d, want 42", load)
		}
		published.Add(1)
		return nil
	})
	m.SetLoadFunc(func() int { return 42 })

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	m.Stop()

	if published.Load() < 2 {
		t.Errorf("expected several heartbeats to be published, got %d", published.Load())
	}

	// no further publishes after Stop
	count := published.Load()
	time.Sleep(60 * time.Millisecond)
	if published.Load() != count {
		t.Error("send loop must stop promptly")
	}
}
