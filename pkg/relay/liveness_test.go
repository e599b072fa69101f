// ABOUTME: Tests for the liveness monitor
// ABOUTME: Two sweeps without a pong terminate; a pong in between keeps the peer
package relay

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestMonitor(r *Relay) *Monitor {
	return NewMonitor(r.Registry(), r.Evict, time.Hour, nil, testLogger())
}

func TestSweepTerminatesSilentPeer(t *testing.T) {
	r := newTestRelay(RelayConfig{})
	m := newTestMonitor(r)
	c, ft := joinAs(r, "browser")

	if n := m.Sweep(); n != 0 {
		t.Fatalf("first sweep should terminate nothing, got %d", n)
	}
	if c.Alive() {
		t.Error("peer should be unconfirmed after a sweep")
	}
	if ft.pings != 1 {
		t.Errorf("expected 1 ping, got %d", ft.pings)
	}

	if n := m.Sweep(); n != 1 {
		t.Fatalf("second sweep should terminate 1, got %d", n)
	}
	if _, ok := r.Registry().Get(c.ID); ok {
		t.Error("silent peer should be unregistered")
	}
	if !ft.isClosed() {
		t.Error("silent peer should be closed")
	}
}

func TestPongKeepsPeerAlive(t *testing.T) {
	r := newTestRelay(RelayConfig{})
	m := newTestMonitor(r)
	c, ft := joinAs(r, "esp32")

	for i := 0; i < 3; i++ {
		m.Sweep()
		r.HandlePong(c)
	}

	if _, ok := r.Registry().Get(c.ID); !ok {
		t.Error("peer answering pings should stay registered")
	}
	if ft.isClosed() {
		t.Error("peer answering pings should stay open")
	}
}

func TestPingFailureTerminates(t *testing.T) {
	r := newTestRelay(RelayConfig{})
	m := newTestMonitor(r)
	c, ft := joinAs(r, "browser")
	ft.pingErr = errors.New("broken pipe")

	if n := m.Sweep(); n != 1 {
		t.Fatalf("expected 1 termination, got %d", n)
	}
	if _, ok := r.Registry().Get(c.ID); ok {
		t.Error("peer with failing ping should be unregistered")
	}
}

func TestSweepBroadcastsStatus(t *testing.T) {
	r := newTestRelay(RelayConfig{})
	m := newTestMonitor(r)
	joinAs(r, "esp32")
	conn, observer := joinAs(r, "browser")

	m.Sweep()
	r.HandlePong(conn)
	m.Sweep()

	status := observer.lastStatus(t)
	if status.Producers != 0 || status.Clients != 1 {
		t.Errorf("status should drop the silent producer, got %+v", status)
	}
}

func TestMonitorRunStopsOnCancel(t *testing.T) {
	r := newTestRelay(RelayConfig{})
	m := NewMonitor(r.Registry(), r.Evict, 10*time.Millisecond, nil, testLogger())
	_, ft := joinAs(r, "browser")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for !ft.isClosed() {
		select {
		case <-deadline:
			t.Fatal("silent peer was not terminated by Run")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
