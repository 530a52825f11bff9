package entropy

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestSeededIsDeterministic(t *testing.T) {
	a, b := NewSeeded(99), NewSeeded(99)
	for i := 0; i < 20; i++ {
		if x, y := a.Float64(), b.Float64(); x != y {
			t.Fatalf("draw %d differs: %g vs %g", i, x, y)
		}
	}
}

func TestSequenceCycles(t *testing.T) {
	s := NewSequence(0.1, 0.9)
	want := []float64{0.1, 0.9, 0.1, 0.9}
	for i, w := range want {
		if got := s.Float64(); got != w {
			t.Errorf("draw %d = %g, want %g", i, got, w)
		}
	}
	if s.Draws != 4 {
		t.Errorf("Draws = %d, want 4", s.Draws)
	}
	if got := NewSequence().Float64(); got != 0 {
		t.Errorf("empty sequence = %g, want 0", got)
	}
}

func TestCryptoRange(t *testing.T) {
	var src Source = Crypto{}
	for i := 0; i < 100; i++ {
		if v := src.Float64(); v < 0 || v >= 1 {
			t.Fatalf("crypto draw %g outside [0,1)", v)
		}
	}
}

func TestNilClientFallsBack(t *testing.T) {
	if NewClient("") != nil {
		t.Fatal("empty key should yield nil client")
	}
	var c *Client
	if v := c.Float64(); v < 0 || v >= 1 {
		t.Fatalf("nil client draw %g outside [0,1)", v)
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient("key")
	c.endpoint = srv.URL
	c.Fallback = NewSequence(0.125)
	return c
}

func TestClientPoolsRemoteValues(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"result":{"random":{"data":[0.25,0.5,0.75,1.5]}}}`)
	})

	// The pool starts empty, so the first draw comes from the fallback.
	if got := c.Float64(); got != 0.125 {
		t.Fatalf("first draw = %g, want fallback 0.125", got)
	}
	c.Wait()

	if got := c.Float64(); got != 0.25 {
		t.Fatalf("pooled draw = %g, want 0.25", got)
	}
	c.Wait()

	// 1.5 is discarded, and the draw above scheduled a second refill.
	if n := calls.Load(); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pool) != 5 {
		t.Errorf("pool size = %d, want 5", len(c.pool))
	}
}

func TestClientBacksOffWhileFailing(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"error":{"message":"quota exceeded"}}`)
	})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	c.Backoff = time.Minute

	for i := 0; i < 50; i++ {
		if got := c.Float64(); got != 0.125 {
			t.Fatalf("draw %d = %g, want fallback", i, got)
		}
		c.Wait()
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("50 draws made %d requests, want 1", n)
	}

	now = now.Add(2 * time.Minute)
	c.Float64()
	c.Wait()
	if n := calls.Load(); n != 2 {
		t.Errorf("after backoff requests = %d, want 2", n)
	}
}

func TestClientDrawDoesNotWaitForNetwork(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		fmt.Fprint(w, `{"result":{"random":{"data":[0.5]}}}`)
	})
	defer c.Wait()
	defer close(release)

	done := make(chan float64)
	go func() { done <- c.Float64() }()
	select {
	case v := <-done:
		if v != 0.125 {
			t.Errorf("draw = %g, want fallback", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("draw blocked on a pending refill")
	}
}
