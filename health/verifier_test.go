package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newVerifier() *Verifier {
	return &Verifier{
		Client:        &http.Client{Timeout: time.Second},
		Interval:      10 * time.Millisecond,
		MaxNetRetries: 3,
	}
}

func serve(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthyOnExpectedVersion(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok","version":"v5"}`))
	})

	got := newVerifier().Verify(context.Background(), srv.URL, "v5", time.Second)
	if got != Healthy {
		t.Errorf("verdict = %q, want healthy", got)
	}
}

func TestUpButWrongVersionTimesOutUnhealthy(t *testing.T) {
	// Restart succeeded but the old artifact is still loaded.
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok","version":"v4"}`))
	})

	got := newVerifier().Verify(context.Background(), srv.URL, "v5", 100*time.Millisecond)
	if got != Unhealthy {
		t.Errorf("verdict = %q, want unhealthy", got)
	}
}

func TestEventuallyHealthy(t *testing.T) {
	var calls atomic.Int32
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.Write([]byte(`{"status":"starting"}`))
			return
		}
		w.Write([]byte(`{"status":"ok","version":"v5"}`))
	})

	got := newVerifier().Verify(context.Background(), srv.URL, "v5", time.Second)
	if got != Healthy {
		t.Errorf("verdict = %q, want healthy", got)
	}
}

func TestDefinitiveFailure(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"failing","version":"v5"}`))
	})

	got := newVerifier().Verify(context.Background(), srv.URL, "v5", time.Second)
	if got != Unhealthy {
		t.Errorf("verdict = %q, want unhealthy", got)
	}
}

func TestUnreachableIsInconclusive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening

	got := newVerifier().Verify(context.Background(), srv.URL, "v5", time.Second)
	if got != Inconclusive {
		t.Errorf("verdict = %q, want inconclusive", got)
	}
}

func TestTransientBlipRetried(t *testing.T) {
	var calls atomic.Int32
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// Hijack and drop to simulate a blip
			hj, _ := w.(http.Hijacker)
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		w.Write([]byte(`{"status":"ok","version":"v5"}`))
	})

	got := newVerifier().Verify(context.Background(), srv.URL, "v5", time.Second)
	if got != Healthy {
		t.Errorf("verdict = %q, want healthy after retry", got)
	}
}

func TestCheckReportsVersion(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok","version":"v7"}`))
	})

	st, err := newVerifier().Check(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if st.Version != "v7" || st.Status != "ok" {
		t.Errorf("Check = %+v", st)
	}
}
