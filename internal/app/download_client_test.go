package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Guilhem-Bonnet/streamhub/internal/domain"
)

func TestDownloadClient_InitRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/init" || r.URL.Query().Get("id") != "42" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"sourceList":["A","B"," ","A"],"secretKey":"s3cr3t"}`))
	}))
	defer srv.Close()

	c := NewDownloadClient(zerolog.Nop(), srv.URL)
	c.InitBackoff = time.Millisecond

	res, err := c.Init(context.Background(), "42")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
	if !res.Success || res.SecretKey != "s3cr3t" || res.TotalServers != 2 {
		t.Fatalf("unexpected init result: %+v", res)
	}
	if len(res.SourceList) != 2 || res.SourceList[0] != "A" || res.SourceList[1] != "B" {
		t.Fatalf("unexpected source list: %v", res.SourceList)
	}
}

func TestDownloadClient_InitFailsAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"sourceList":[]}`))
	}))
	defer srv.Close()

	c := NewDownloadClient(zerolog.Nop(), srv.URL)
	c.InitBackoff = time.Millisecond

	_, err := c.Init(context.Background(), "42")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, ErrBootstrapFailed) || ErrorCode(err) != "bootstrap_failed" {
		t.Fatalf("expected bootstrap_failed, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestDownloadClient_InitMissingID(t *testing.T) {
	c := NewDownloadClient(zerolog.Nop(), "http://unused.invalid")
	_, err := c.Init(context.Background(), "  ")
	if ErrorCode(err) != "invalid_params" {
		t.Fatalf("expected invalid_params, got %v", err)
	}
}

func TestDownloadClient_FetchServerNeverErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		q := r.URL.Query()
		switch q.Get("server") {
		case "down":
			w.WriteHeader(http.StatusInternalServerError)
		case "garbage":
			_, _ = w.Write([]byte(`<html>nope</html>`))
		case "failed":
			_, _ = w.Write([]byte(`{"success":false,"sources":[{"url":"https://x.example/a.mp4"}]}`))
		case "slow":
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		case "good":
			if q.Get("season") != "2" || q.Get("episode") != "7" || q.Get("secretKey") != "k" {
				t.Errorf("unexpected query %s", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte(`{"data":{"links":[{"url":"https://cdn.example/v.m3u8","quality":1080}],"subtitles":[{"url":"https://subs.example/en.vtt","lang":"English"}]}}`))
		}
	}))
	defer srv.Close()

	c := NewDownloadClient(zerolog.Nop(), srv.URL)
	c.ProviderTimeout = 100 * time.Millisecond

	for _, server := range []string{"down", "garbage", "failed", "slow"} {
		res := c.FetchServer(context.Background(), ServerRequest{ID: "1", Type: domain.ContentTV, Server: server, SecretKey: "k", Season: 2, Episode: 7})
		if res.Success || res.Links == nil || len(res.Links) != 0 || res.Server != server {
			t.Fatalf("%s: expected empty result, got %+v", server, res)
		}
	}
	// Aucun retry par serveur.
	if calls.Load() != 4 {
		t.Fatalf("expected one call per server, got %d", calls.Load())
	}

	res := c.FetchServer(context.Background(), ServerRequest{ID: "1", Type: domain.ContentTV, Server: "good", SecretKey: "k", Season: 2, Episode: 7})
	if !res.Success || len(res.Links) != 1 {
		t.Fatalf("expected one link, got %+v", res)
	}
	l := res.Links[0]
	if l.Type != domain.StreamHLS || l.Quality != "1080p" || l.Server != "good" || l.Name != "good (1080p)" {
		t.Fatalf("unexpected link: %+v", l)
	}
	if len(res.Captions) != 1 || res.Captions[0].Label != "English" {
		t.Fatalf("unexpected captions: %+v", res.Captions)
	}
}

func TestDownloadClient_NotConfigured(t *testing.T) {
	c := NewDownloadClient(zerolog.Nop(), "")
	if _, err := c.Init(context.Background(), "1"); !errors.Is(err, ErrBootstrapFailed) {
		t.Fatalf("expected ErrBootstrapFailed, got %v", err)
	}
	res := c.FetchServer(context.Background(), ServerRequest{ID: "1", Server: "A"})
	if res.Success || len(res.Links) != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
}
