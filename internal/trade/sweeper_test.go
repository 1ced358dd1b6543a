package trade

import (
	"testing"
	"time"
)

func TestSweeperExpiresStaleRequests(t *testing.T) {
	r := newRig(Config{RequestTimeout: time.Millisecond})
	if _, code := r.reg.Send("alice", "bob"); code != "" {
		t.Fatalf("send: %q", code)
	}
	// SweepExpired is driven by the wall clock inside the sweeper; hand it a
	// clearly-late now instead of sleeping.
	r.reg.SetClock(time.Now)

	sw := NewSweeper(r.reg, time.Millisecond, nil)
	sw.Start()
	deadline := time.Now().Add(2 * time.Second)
	for r.reg.PendingCount() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("sweeper did not expire the request in time")
		}
		time.Sleep(time.Millisecond)
	}
	sw.Stop()
}

func TestSweeperStopTerminates(t *testing.T) {
	r := newRig(Config{})
	sw := NewSweeper(r.reg, time.Hour, nil)
	sw.Start()

	stopped := make(chan struct{})
	go func() {
		sw.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop did not return")
	}
}
