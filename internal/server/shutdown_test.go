package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type recordingCloser struct {
	order *[]string
	name  string
}

func (c *recordingCloser) Close() error {
	*c.order = append(*c.order, c.name)
	return nil
}

func TestShutdownClosesInReverseOrder(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())
	var order []string
	sm.RegisterCloser(&recordingCloser{&order, "registry"})
	sm.RegisterCloser(&recordingCloser{&order, "runner"})
	sm.RegisterCloser(&recordingCloser{&order, "server"})

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatal(err)
	}
	if len(order) != 3 || order[0] != "server" || order[2] != "registry" {
		t.Errorf("close order = %v, want LIFO", order)
	}

	// Second shutdown is a no-op.
	if err := sm.Shutdown(context.Background(), "again"); err != nil {
		t.Fatal(err)
	}
	if len(order) != 3 {
		t.Errorf("closers ran twice: %v", order)
	}
}

func TestShutdownDrainsInFlight(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{
		ShutdownTimeout: time.Second,
		DrainTimeout:    time.Second,
	})
	if !sm.TrackRequest() {
		t.Fatal("request should be admitted before shutdown")
	}

	done := make(chan error, 1)
	go func() { done <- sm.Shutdown(context.Background(), "test") }()

	select {
	case <-done:
		t.Fatal("shutdown should wait for the in-flight request")
	case <-time.After(100 * time.Millisecond):
	}

	if sm.TrackRequest() {
		t.Error("new requests must be refused during shutdown")
	}

	sm.UntrackRequest()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown never finished")
	}
}

func TestShutdownDrainTimeout(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{
		ShutdownTimeout: 500 * time.Millisecond,
		DrainTimeout:    100 * time.Millisecond,
	})
	sm.TrackRequest() // never untracked

	if err := sm.Shutdown(context.Background(), "test"); err == nil {
		t.Fatal("expected drain timeout error")
	}
}

func TestShutdownMiddleware(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())
	handler := ShutdownMiddleware(sm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if sm.InFlightCount() != 0 {
		t.Errorf("in flight = %d after request finished", sm.InFlightCount())
	}

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatal(err)
	}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status during shutdown = %d, want 503", rec.Code)
	}
}
