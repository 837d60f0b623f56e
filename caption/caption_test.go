package caption

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/a11yfix/config"
	"github.com/hazyhaar/a11yfix/connectivity"
)

func TestHTTPDescribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("auth header: got %q", r.Header.Get("Authorization"))
		}
		var req describeRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.ImageURL != "https://shop.test/shoe.jpg" {
			t.Errorf("image_url: got %q", req.ImageURL)
		}
		json.NewEncoder(w).Encode(describeResponse{AltText: "Red running shoe"})
	}))
	defer srv.Close()

	got, err := NewHTTP(srv.URL, "k", srv.Client()).Describe(context.Background(), "https://shop.test/shoe.jpg")
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if got != "Red running shoe" {
		t.Fatalf("alt: got %q, want %q", got, "Red running shoe")
	}
}

func TestHTTPNoCredentials(t *testing.T) {
	_, err := NewHTTP("http://unused", "", nil).Describe(context.Background(), "x")
	if !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("err: got %v, want ErrNoCredentials", err)
	}
}

func TestResilientRetriesTimeouts(t *testing.T) {
	var calls atomic.Int32
	block := make(chan struct{})
	defer close(block)
	slow := Func(func(ctx context.Context, _ string) (string, error) {
		calls.Add(1)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-block:
			return "late", nil
		}
	})
	r := NewResilient(slow, WithTimeout(5*time.Millisecond), WithRetries(2, time.Millisecond))

	_, err := r.Describe(context.Background(), "https://shop.test/shoe-01.jpg")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err: got %v, want deadline exceeded", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("attempts: got %d, want 3", calls.Load())
	}
}

func TestResilientRecoversAfterTimeout(t *testing.T) {
	var calls atomic.Int32
	flaky := Func(func(ctx context.Context, _ string) (string, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "<b>Red</b> running shoe", nil
	})
	r := NewResilient(flaky, WithTimeout(5*time.Millisecond), WithRetries(2, time.Millisecond))

	got, err := r.Describe(context.Background(), "u")
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if got != "Red running shoe" {
		t.Fatalf("alt: got %q", got)
	}
}

func TestResilientNoCredentialsIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	d := Func(func(context.Context, string) (string, error) {
		calls.Add(1)
		return "", ErrNoCredentials
	})
	b := connectivity.NewBreaker(1, time.Minute)
	r := NewResilient(d, WithRetries(2, time.Millisecond), WithBreaker(b))

	if _, err := r.Describe(context.Background(), "u"); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("err: got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("attempts: got %d, want 1", calls.Load())
	}
	if b.Open() {
		t.Fatal("missing credentials must not open the breaker")
	}
}

func TestClean(t *testing.T) {
	r := NewResilient(None())
	cases := map[string]string{
		`"A cat on a sofa."`:                     "A cat on a sofa.",
		"<script>x()</script>Dog   &amp;\n ball": "Dog & ball",
		"":                                       "",
	}
	for in, want := range cases {
		if got := r.Clean(in); got != want {
			t.Fatalf("Clean(%q): got %q, want %q", in, got, want)
		}
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default().Caption
	r, err := FromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if _, err := r.Describe(context.Background(), "u"); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("none backend: got %v", err)
	}
	cfg.Backend = "carrier-pigeon"
	if _, err := FromConfig(cfg, nil); err == nil {
		t.Fatal("unknown backend: want error")
	}
}
