package app

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/rs/zerolog"
)

func newTestProxy(t *testing.T) (*ProxyService, *httptest.Server) {
	t.Helper()
	p := NewProxyService(zerolog.Nop(), NewMetrics())
	front := httptest.NewServer(p)
	t.Cleanup(front.Close)
	return p, front
}

func proxyGet(t *testing.T, front *httptest.Server, target string, extra url.Values) *http.Response {
	t.Helper()
	q := url.Values{"url": {target}}
	for k, v := range extra {
		q[k] = v
	}
	resp, err := http.Get(front.URL + DefaultProxyPath + "?" + q.Encode())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return resp
}

func TestParseProxyTarget(t *testing.T) {
	for _, raw := range []string{"", "ftp://x.example/a", "file:///etc/passwd", "javascript:alert(1)", "/relative"} {
		if _, err := ParseProxyTarget(raw); err == nil {
			t.Fatalf("%q should be rejected", raw)
		}
	}
	if _, err := ParseProxyTarget("https://cdn.example/v.mp4"); err != nil {
		t.Fatalf("https should be accepted: %v", err)
	}
}

func TestProxy_ForwardsAndFiltersHeaders(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Referer") != "https://embed.example/" {
			t.Errorf("referer override missing: %q", r.Header.Get("Referer"))
		}
		if r.Header.Get("Cookie") != "" {
			t.Errorf("cookies must not be forwarded")
		}
		if r.Header.Get("Range") != "bytes=0-3" {
			t.Errorf("range must be forwarded, got %q", r.Header.Get("Range"))
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Set-Cookie", "a=b")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("abcd"))
	}))
	defer upstream.Close()
	_, front := newTestProxy(t)

	q := url.Values{"url": {upstream.URL + "/v.mp4"}, "referer": {"https://embed.example/"}}
	req, _ := http.NewRequest(http.MethodGet, front.URL+DefaultProxyPath+"?"+q.Encode(), nil)
	req.Header.Set("Range", "bytes=0-3")
	req.Header.Set("Cookie", "session=secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusPartialContent || string(body) != "abcd" {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, body)
	}
	if resp.Header.Get("Set-Cookie") != "" {
		t.Fatalf("set-cookie must be stripped")
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("cors header missing")
	}
}

func TestProxy_RejectsNonHTTPTargets(t *testing.T) {
	_, front := newTestProxy(t)
	resp := proxyGet(t, front, "file:///etc/passwd", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestProxy_UpstreamDownIsBadGateway(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	addr := upstream.URL
	upstream.Close()
	_, front := newTestProxy(t)

	resp := proxyGet(t, front, addr+"/x.mp4", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
}

const samplePlaylist = "#EXTM3U\n" +
	"#EXT-X-VERSION:3\n" +
	"#EXT-X-KEY:METHOD=AES-128,URI=\"key.bin\"\n" +
	"#EXTINF:4.0,\n" +
	"seg-1.ts\n" +
	"#EXTINF:4.0,\n" +
	"https://other.example/seg-2.ts\n"

func TestRewritePlaylist(t *testing.T) {
	p := NewProxyService(zerolog.Nop(), nil)
	base, _ := url.Parse("https://cdn.example/hls/index.m3u8")
	out := string(p.RewritePlaylist([]byte(samplePlaylist), base, "https://embed.example/", ""))

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if lines[0] != "#EXTM3U" || lines[1] != "#EXT-X-VERSION:3" {
		t.Fatalf("tags must be preserved: %q", out)
	}
	wantKey := `URI="/api/proxy?` + url.Values{"url": {"https://cdn.example/hls/key.bin"}, "referer": {"https://embed.example/"}}.Encode() + `"`
	if !strings.Contains(lines[2], wantKey) {
		t.Fatalf("key uri not rewritten: %q", lines[2])
	}
	wantSeg := "/api/proxy?" + url.Values{"url": {"https://cdn.example/hls/seg-1.ts"}, "referer": {"https://embed.example/"}}.Encode()
	if lines[4] != wantSeg {
		t.Fatalf("relative segment not rewritten: %q", lines[4])
	}
	if !strings.HasPrefix(lines[6], "/api/proxy?") || !strings.Contains(lines[6], url.QueryEscape("https://other.example/seg-2.ts")) {
		t.Fatalf("absolute segment not rewritten: %q", lines[6])
	}
}

func TestProxy_DecodesCompressedPlaylists(t *testing.T) {
	encoders := map[string]func([]byte) []byte{
		"gzip": func(b []byte) []byte {
			var buf bytes.Buffer
			zw := gzip.NewWriter(&buf)
			_, _ = zw.Write(b)
			_ = zw.Close()
			return buf.Bytes()
		},
		"br": func(b []byte) []byte {
			var buf bytes.Buffer
			bw := brotli.NewWriter(&buf)
			_, _ = bw.Write(b)
			_ = bw.Close()
			return buf.Bytes()
		},
	}
	for enc, encode := range encoders {
		t.Run(enc, func(t *testing.T) {
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
				w.Header().Set("Content-Encoding", enc)
				_, _ = w.Write(encode([]byte(samplePlaylist)))
			}))
			defer upstream.Close()
			_, front := newTestProxy(t)

			resp := proxyGet(t, front, upstream.URL+"/hls/index", nil)
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status=%d body=%s", resp.StatusCode, body)
			}
			if resp.Header.Get("Content-Encoding") != "" {
				t.Fatalf("rewritten playlist must be served decoded")
			}
			if !strings.HasPrefix(string(body), "#EXTM3U") || !strings.Contains(string(body), url.QueryEscape(upstream.URL+"/hls/seg-1.ts")) {
				t.Fatalf("unexpected playlist %q", body)
			}
		})
	}
}
