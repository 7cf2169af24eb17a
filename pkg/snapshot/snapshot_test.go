package snapshot

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetch(t *testing.T) {
	queries := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.Query().Get("t")
		if r.URL.Query().Get("camera") != "front" {
			t.Errorf("existing query param lost: %q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte{0xff, 0xd8, 0xff})
	}))
	defer srv.Close()

	f, err := New(Config{URL: srv.URL + "/snapshot?camera=front"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	img, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(img.Data) != 3 || img.ContentType != "image/jpeg" {
		t.Errorf("Fetch() = %d bytes %q, want 3 bytes image/jpeg", len(img.Data), img.ContentType)
	}
	if q := <-queries; q == "" {
		t.Error("cache-busting parameter missing")
	}
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		max     int64
		want    error
	}{
		{
			name:    "status",
			handler: func(w http.ResponseWriter, r *http.Request) { http.Error(w, "no camera", http.StatusServiceUnavailable) },
			want:    ErrStatus,
		},
		{
			name:    "empty",
			handler: func(w http.ResponseWriter, r *http.Request) {},
			want:    ErrEmpty,
		},
		{
			name:    "too large",
			handler: func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write(make([]byte, 64)) },
			max:     16,
			want:    ErrTooLarge,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			f, err := New(Config{URL: srv.URL, MaxBytes: tc.max})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if _, err := f.Fetch(context.Background()); !errors.Is(err, tc.want) {
				t.Errorf("Fetch() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestFetchCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	f, err := New(Config{URL: srv.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.Fetch(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Fetch() error = %v, want %v", err, context.Canceled)
	}
}

func TestConfigValidate(t *testing.T) {
	for _, raw := range []string{"", "ws://host/x", "ftp://host/x"} {
		c := Config{URL: raw}
		if err := c.Validate(); !errors.Is(err, ErrInvalidURL) {
			t.Errorf("Validate(%q) error = %v, want %v", raw, err, ErrInvalidURL)
		}
	}
	c := Config{URL: "https://host/snapshot"}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}
