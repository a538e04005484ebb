package testing

import (
	"context"
	"testing"
	"time"

	"github.com/ValentinKolb/dSync/lib/shared"
)

// BrokerFactory is a function that creates a new instance of an
// IMessageBroker implementation under test.
type BrokerFactory func(t *testing.T) shared.IMessageBroker

// RunMessageBrokerTests runs a conformance test suite for an IMessageBroker
// implementation.
func RunMessageBrokerTests(t *testing.T, name string, factory BrokerFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("PublishSubscribe", func(t *testing.T) {
			testPublishSubscribe(t, factory(t))
		})

		t.Run("FanOut", func(t *testing.T) {
			testFanOut(t, factory(t))
		})

		t.Run("ChannelIsolation", func(t *testing.T) {
			testChannelIsolation(t, factory(t))
		})

		t.Run("SubscriptionCancel", func(t *testing.T) {
			testSubscriptionCancel(t, factory(t))
		})
	})
}

// receiveOne waits for a single payload with a timeout
func receiveOne(t *testing.T, msgs <-chan []byte) []byte {
	t.Helper()
	select {
	case payload, ok := <-msgs:
		if !ok {
			t.Fatal("subscription channel closed unexpectedly")
		}
		return payload
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return nil
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPublishSubscribe(t *testing.T, broker shared.IMessageBroker) {
	defer func() { _ = broker.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := broker.Subscribe(ctx, "sync")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := broker.Publish("sync", []byte("hello")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if got := string(receiveOne(t, msgs)); got != "hello" {
		t.Errorf("received %q, want %q", got, "hello")
	}
}

func testFanOut(t *testing.T, broker shared.IMessageBroker) {
	defer func() { _ = broker.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := broker.Subscribe(ctx, "sync")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	second, err := broker.Subscribe(ctx, "sync")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := broker.Publish("sync", []byte("broadcast")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if got := string(receiveOne(t, first)); got != "broadcast" {
		t.Errorf("first subscriber received %q", got)
	}
	if got := string(receiveOne(t, second)); got != "broadcast" {
		t.Errorf("second subscriber received %q", got)
	}
}

func testChannelIsolation(t *testing.T, broker shared.IMessageBroker) {
	defer func() { _ = broker.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	other, err := broker.Subscribe(ctx, "other")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	sync, err := broker.Subscribe(ctx, "sync")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := broker.Publish("sync", []byte("targeted")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if got := string(receiveOne(t, sync)); got != "targeted" {
		t.Errorf("sync subscriber received %q", got)
	}

	select {
	case payload := <-other:
		t.Errorf("subscriber of other channel received %q", payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func testSubscriptionCancel(t *testing.T, broker shared.IMessageBroker) {
	defer func() { _ = broker.Close() }()

	ctx, cancel := context.WithCancel(context.Background())

	msgs, err := broker.Subscribe(ctx, "sync")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	cancel()

	// the subscription channel must close promptly after cancellation
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-msgs:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription channel did not close after context cancel")
		}
	}
}
