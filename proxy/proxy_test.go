package proxy

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(append([]byte(`{"echo":`), append(body, '}')...))
	}))
}

func TestForwardsRequestToUpstream(t *testing.T) {
	upstream := newUpstream(t)
	defer upstream.Close()

	p := New(Config{UpstreamURL: upstream.URL, RateMode: ModeNone})
	srv := httptest.NewServer(p.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/", "application/json", bytes.NewReader([]byte(`"hi"`)))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if origin := resp.Header.Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Fatalf("expected CORS origin header, got %q", origin)
	}
}

func TestHealthEndpoint(t *testing.T) {
	p := New(Config{UpstreamURL: "http://unused.invalid", RateMode: ModeNone})
	srv := httptest.NewServer(p.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestImmediateModeReturns429WithRetryAfterEnvelope(t *testing.T) {
	upstream := newUpstream(t)
	defer upstream.Close()

	p := New(Config{
		UpstreamURL: upstream.URL,
		RateMode:    ModeGlobal,
		Behavior:    BehaviorImmediate,
		Burst:       1,
		Window:      time.Minute,
	})
	srv := httptest.NewServer(p.Router())
	defer srv.Close()

	first, err := http.Post(srv.URL+"/", "application/json", bytes.NewReader([]byte(`"a"`)))
	if err != nil {
		t.Fatalf("first POST failed: %v", err)
	}
	first.Body.Close()
	if first.StatusCode != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", first.StatusCode)
	}

	second, err := http.Post(srv.URL+"/", "application/json", bytes.NewReader([]byte(`"b"`)))
	if err != nil {
		t.Fatalf("second POST failed: %v", err)
	}
	defer second.Body.Close()
	if second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", second.StatusCode)
	}
	if ra := second.Header.Get("Retry-After"); ra == "" {
		t.Fatal("expected a Retry-After header on 429")
	}

	var body struct {
		Error rateLimitEnvelope `json:"error"`
	}
	if err := json.NewDecoder(second.Body).Decode(&body); err != nil {
		t.Fatalf("decode envelope failed: %v", err)
	}
	if body.Error.Code != -32005 {
		t.Fatalf("expected JSON-RPC code -32005, got %d", body.Error.Code)
	}
	if body.Error.Data.RetryAfterSeconds <= 0 {
		t.Fatalf("expected a positive retry_after_seconds, got %d", body.Error.Data.RetryAfterSeconds)
	}
}

func TestPerIPModeIsolatesBucketsByClient(t *testing.T) {
	upstream := newUpstream(t)
	defer upstream.Close()

	p := New(Config{
		UpstreamURL: upstream.URL,
		RateMode:    ModePerIP,
		Behavior:    BehaviorImmediate,
		Burst:       1,
		Window:      time.Minute,
	})

	req1 := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(`"a"`)))
	req1.RemoteAddr = "10.0.0.1:1111"
	w1 := httptest.NewRecorder()
	p.Router().ServeHTTP(w1, req1)
	if w1.Code != http.StatusOK {
		t.Fatalf("expected first client's first request to pass, got %d", w1.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(`"b"`)))
	req2.RemoteAddr = "10.0.0.1:2222"
	w2 := httptest.NewRecorder()
	p.Router().ServeHTTP(w2, req2)
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected same client's second request to be limited, got %d", w2.Code)
	}

	req3 := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(`"c"`)))
	req3.RemoteAddr = "10.0.0.2:3333"
	w3 := httptest.NewRecorder()
	p.Router().ServeHTTP(w3, req3)
	if w3.Code != http.StatusOK {
		t.Fatalf("expected a distinct client's first request to pass, got %d", w3.Code)
	}
}

func TestMetricsEndpointExposesCounters(t *testing.T) {
	upstream := newUpstream(t)
	defer upstream.Close()

	p := New(Config{UpstreamURL: upstream.URL, RateMode: ModeNone})
	srv := httptest.NewServer(p.Router())
	defer srv.Close()

	if _, err := http.Post(srv.URL+"/", "application/json", bytes.NewReader([]byte(`"a"`))); err != nil {
		t.Fatalf("POST failed: %v", err)
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte("proxy_requests_total")) {
		t.Fatalf("expected proxy_requests_total in metrics output, got %q", body)
	}
}
