package wsconn

import (
	"sync/atomic"
	"testing"
	"time"

	"coinstream/config"
	"coinstream/logger"
)

func testPolicy(maxAttempts, delayMs int) config.ReconnectPolicy {
	return config.ReconnectPolicy{MaxAttempts: maxAttempts, DelayMs: delayMs}
}

func testLog() *logger.Entry {
	return logger.GetLogger().WithComponent("wsconn_test")
}

func TestBeginConnectStates(t *testing.T) {
	c := New()
	if !c.BeginConnect() {
		t.Fatalf("first BeginConnect should succeed")
	}
	if c.BeginConnect() {
		t.Fatalf("BeginConnect while connecting should fail")
	}
	c.Fail()
	if !c.BeginConnect() {
		t.Fatalf("BeginConnect after failure should succeed")
	}
}

func TestScheduleReconnectCap(t *testing.T) {
	c := New()
	policy := testPolicy(3, 1)
	log := testLog()

	var fired int32
	for i := 0; i < 3; i++ {
		if !c.ScheduleReconnect(policy, log, func() { atomic.AddInt32(&fired, 1) }) {
			t.Fatalf("attempt %d should be scheduled", i+1)
		}
		// Wait for the pending timer to fire so the next schedule is accepted.
		deadline := time.Now().Add(time.Second)
		for atomic.LoadInt32(&fired) != int32(i+1) {
			if time.Now().After(deadline) {
				t.Fatalf("timer %d did not fire", i+1)
			}
			time.Sleep(time.Millisecond)
		}
	}

	if c.ScheduleReconnect(policy, log, func() { atomic.AddInt32(&fired, 1) }) {
		t.Fatalf("fourth attempt should be rejected, cap is 3")
	}
	if got := atomic.LoadInt32(&fired); got != 3 {
		t.Fatalf("expected 3 dial calls, got %d", got)
	}
}

func TestScheduleReconnectSingleTimer(t *testing.T) {
	c := New()
	policy := testPolicy(5, 50)
	log := testLog()

	var fired int32
	dial := func() { atomic.AddInt32(&fired, 1) }
	c.ScheduleReconnect(policy, log, dial)
	c.ScheduleReconnect(policy, log, dial)

	time.Sleep(150 * time.Millisecond)
	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Fatalf("expected exactly one pending timer, got %d dials", got)
	}
	if c.Attempts() != 1 {
		t.Fatalf("second schedule must not burn an attempt, got %d", c.Attempts())
	}
}

func TestShutdownCancelsTimer(t *testing.T) {
	c := New()
	policy := testPolicy(5, 20)
	log := testLog()

	var fired int32
	c.ScheduleReconnect(policy, log, func() { atomic.AddInt32(&fired, 1) })
	c.Shutdown()

	time.Sleep(60 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatalf("timer should have been cancelled by Shutdown")
	}
	if c.BeginConnect() {
		t.Fatalf("BeginConnect after Shutdown should fail")
	}
	if c.ScheduleReconnect(policy, log, func() {}) {
		t.Fatalf("ScheduleReconnect after Shutdown should fail")
	}
	// Shutdown is idempotent.
	c.Shutdown()
}

func TestIndependentStreams(t *testing.T) {
	ticker := New()
	kline := New()
	policy := testPolicy(1, 1)
	log := testLog()

	// Exhaust the ticker stream.
	ticker.ScheduleReconnect(policy, log, func() {})
	time.Sleep(20 * time.Millisecond)
	if ticker.ScheduleReconnect(policy, log, func() {}) {
		t.Fatalf("ticker stream should be exhausted")
	}

	// The sibling kline stream still reconnects.
	if !kline.ScheduleReconnect(policy, log, func() {}) {
		t.Fatalf("kline stream must reconnect independently")
	}
}

func TestRetireReplacedConn(t *testing.T) {
	c := New()
	if c.Retire(nil) {
		t.Fatalf("retiring with no active conn should report false")
	}
}
