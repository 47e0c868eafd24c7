package callbacks

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSenderHeadersAndExactBody(t *testing.T) {
	body := []byte(`{"eventType":"payment_link_created",  "version":"1.0"}`)
	var (
		gotBody   []byte
		gotHeader http.Header
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeader = r.Header.Clone()
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	out := NewSender("").Send(context.Background(), Request{
		URL:       server.URL,
		Body:      body,
		EventType: "payment_link_created",
		EntryID:   "entry-1",
		Secret:    "s3cret",
		Timeout:   time.Second,
	})

	if !out.Success || out.StatusCode != http.StatusAccepted || out.ResponseBody != "ok" {
		t.Fatalf("outcome = %+v", out)
	}
	if string(gotBody) != string(body) {
		t.Errorf("body was re-encoded: %s", gotBody)
	}
	checks := map[string]string{
		"Content-Type":  "application/json",
		"User-Agent":    DefaultUserAgent,
		HeaderEvent:     "payment_link_created",
		HeaderID:        "entry-1",
		HeaderSignature: Sign("s3cret", body),
	}
	for k, want := range checks {
		if got := gotHeader.Get(k); got != want {
			t.Errorf("header %s = %q, want %q", k, got, want)
		}
	}
	if !VerifySignature("s3cret", gotBody, gotHeader.Get(HeaderSignature)) {
		t.Error("receiver could not verify the signature")
	}
}

func TestSenderOmitsSignatureWithoutSecret(t *testing.T) {
	var signature string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature = r.Header.Get(HeaderSignature)
	}))
	defer server.Close()

	out := NewSender("custom-agent/2").Send(context.Background(), Request{URL: server.URL, Body: []byte(`{}`)})
	if !out.Success {
		t.Fatalf("outcome = %+v", out)
	}
	if signature != "" {
		t.Errorf("unexpected signature %q", signature)
	}
}

func TestSenderFailureKinds(t *testing.T) {
	longBody := strings.Repeat("é", 1500)
	errServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(longBody))
	}))
	defer errServer.Close()

	slowServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slowServer.Close()

	redirectServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://elsewhere.example.com", http.StatusFound)
	}))
	defer redirectServer.Close()

	closed := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	closedURL := closed.URL
	closed.Close()

	sender := NewSender("")

	t.Run("http status", func(t *testing.T) {
		out := sender.Send(context.Background(), Request{URL: errServer.URL, Body: []byte(`{}`), Timeout: time.Second})
		if out.Success || out.Kind != FailureHTTPStatus || out.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("outcome = %+v", out)
		}
		if n := len([]rune(out.ResponseBody)); n != 1000 {
			t.Errorf("excerpt has %d runes, want 1000", n)
		}
		if !out.tripsBreaker() {
			t.Error("5xx should count against the breaker")
		}
	})

	t.Run("redirect is not followed", func(t *testing.T) {
		out := sender.Send(context.Background(), Request{URL: redirectServer.URL, Body: []byte(`{}`), Timeout: time.Second})
		if out.Success || out.Kind != FailureHTTPStatus || out.StatusCode != http.StatusFound {
			t.Fatalf("outcome = %+v", out)
		}
		if out.tripsBreaker() {
			t.Error("3xx should not count against the breaker")
		}
	})

	t.Run("timeout", func(t *testing.T) {
		out := sender.Send(context.Background(), Request{URL: slowServer.URL, Body: []byte(`{}`), Timeout: 50 * time.Millisecond})
		if out.Success || out.Kind != FailureTimeout {
			t.Fatalf("outcome = %+v", out)
		}
		if out.Duration >= 2*time.Second {
			t.Errorf("timeout not enforced, took %v", out.Duration)
		}
	})

	t.Run("network", func(t *testing.T) {
		out := sender.Send(context.Background(), Request{URL: closedURL, Body: []byte(`{}`), Timeout: time.Second})
		if out.Success || out.Kind != FailureNetwork {
			t.Fatalf("outcome = %+v", out)
		}
	})

	t.Run("local", func(t *testing.T) {
		out := sender.Send(context.Background(), Request{URL: "http://bad host/", Body: []byte(`{}`)})
		if out.Success || out.Kind != FailureLocal {
			t.Fatalf("outcome = %+v", out)
		}
	})
}

type panicTransport struct{}

func (panicTransport) RoundTrip(*http.Request) (*http.Response, error) {
	panic("transport exploded")
}

func TestSenderRecoversPanic(t *testing.T) {
	sender := NewSender("").WithHTTPClient(&http.Client{Transport: panicTransport{}})

	out := sender.Send(context.Background(), Request{URL: "http://example.com", Body: []byte(`{}`)})
	if out.Success || out.Kind != FailureLocal || !strings.Contains(out.Error, "transport exploded") {
		t.Fatalf("outcome = %+v", out)
	}
}
