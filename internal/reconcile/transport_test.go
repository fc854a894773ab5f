// ABOUTME: Tests for the shared HTTP transport against httptest servers
// ABOUTME: Covers transient retries, non-idempotent requests and suspension

package reconcile

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastTransport() *Transport {
	return NewTransport(TransportOptions{RetryBase: time.Millisecond, RequestsPerSecond: 1000, Burst: 100})
}

func TestTransportRetriesTransientGET(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tr := fastTransport()
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := tr.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	var body struct{ OK bool }
	if err := DecodeJSON(resp, &body); err != nil {
		t.Fatalf("DecodeJSON failed: %v", err)
	}
	if !body.OK || calls.Load() != 3 {
		t.Errorf("expected success on the third call, got ok=%v calls=%d", body.OK, calls.Load())
	}
}

func TestTransportGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := NewTransport(TransportOptions{RetryBase: time.Millisecond, MaxRetries: 2, RequestsPerSecond: 1000})
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := tr.Do(context.Background(), req)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadGateway {
		t.Fatalf("expected a 502 StatusError, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 1 try plus 2 retries, got %d", calls.Load())
	}
}

func TestTransportDoesNotRetryPOST(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := fastTransport()
	req, _ := NewJSONRequest(context.Background(), http.MethodPost, srv.URL, map[string]string{"a": "b"})
	resp, err := tr.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	defer Drain(resp)
	if err := CheckStatus(resp); err == nil {
		t.Error("expected a status error for 500")
	}
	if calls.Load() != 1 {
		t.Errorf("POST must not be retried, got %d calls", calls.Load())
	}
}

func TestTransportSuspendCancelsInFlight(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case entered <- struct{}{}:
		default:
		}
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	tr := fastTransport()
	done := make(chan error, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp, err := tr.Do(context.Background(), req)
		if resp != nil {
			Drain(resp)
		}
		done <- err
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached the server")
	}
	tr.Suspend()

	select {
	case err := <-done:
		if !errors.Is(err, ErrSuspended) {
			t.Errorf("expected ErrSuspended, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("suspend did not cancel the request")
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	if _, err := tr.Do(context.Background(), req); !errors.Is(err, ErrSuspended) {
		t.Errorf("expected ErrSuspended while suspended, got %v", err)
	}
	tr.Resume()
	if tr.Suspended() {
		t.Error("transport should be resumed")
	}
}

func TestConditionalHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	tr := fastTransport()
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := tr.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	info := ConditionalInfo(resp)
	Drain(resp)
	if info.ETag != `"v1"` || info.LastModified == "" {
		t.Fatalf("validators not captured: %+v", info)
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL, nil)
	SetConditionalHeaders(req, info)
	resp, err = tr.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	Drain(resp)
	if resp.StatusCode != http.StatusNotModified {
		t.Errorf("expected 304, got %d", resp.StatusCode)
	}
}
