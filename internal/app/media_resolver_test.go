package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func htmlHandler(pages map[string]string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	})
}

func TestMediaResolver_PrefersMP4(t *testing.T) {
	ts := httptest.NewServer(htmlHandler(map[string]string{
		"/page": `<html><body><script>var hls="https://cdn.example/a/master.m3u8";</script>` +
			`<video><source src="/files/video.mp4" type="video/mp4"></video></body></html>`,
	}))
	defer ts.Close()

	got, err := NewMediaResolver(nil).Resolve(context.Background(), ts.URL+"/page")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != ts.URL+"/files/video.mp4" {
		t.Fatalf("expected mp4 to win, got %q", got)
	}
}

func TestMediaResolver_FollowsIframeAndRefresh(t *testing.T) {
	ts := httptest.NewServer(htmlHandler(map[string]string{
		"/outer":  `<html><body><iframe src="/middle"></iframe></body></html>`,
		"/middle": `<html><head><meta http-equiv="refresh" content="0; url=/inner"></head></html>`,
		"/inner":  `<html><body><source src="/video.mp4"></body></html>`,
	}))
	defer ts.Close()

	got, err := NewMediaResolver(nil).Resolve(context.Background(), ts.URL+"/outer")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != ts.URL+"/video.mp4" {
		t.Fatalf("got %q", got)
	}
}

func TestMediaResolver_DecodesEscapedScriptURLs(t *testing.T) {
	var host string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><script>var u="http:\/\/` + host + `\/hls\/video.m3u8?a=1&b=2";</script></html>`))
	}))
	defer ts.Close()
	host = strings.TrimPrefix(ts.URL, "http://")

	got, err := NewMediaResolver(nil).Resolve(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "http://"+host+"/hls/video.m3u8?a=1&b=2" {
		t.Fatalf("got %q", got)
	}
}

func TestMediaResolver_StopsOnLoopsAndDepth(t *testing.T) {
	ts := httptest.NewServer(htmlHandler(map[string]string{
		"/a": `<iframe src="/b"></iframe>`,
		"/b": `<iframe src="/a"></iframe>`,
	}))
	defer ts.Close()

	if _, err := NewMediaResolver(nil).Resolve(context.Background(), ts.URL+"/a"); !errors.Is(err, ErrNoDirectMedia) {
		t.Fatalf("expected ErrNoDirectMedia, got %v", err)
	}
}
