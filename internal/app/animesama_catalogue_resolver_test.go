package app

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

func TestSlugifyTitle(t *testing.T) {
	cases := map[string]string{
		"Solo Leveling":                "solo-leveling",
		"Hell's Paradise: Jigokuraku":  "hells-paradise-jigokuraku",
		"Pokémon":                      "pokemon",
		"ＳＰＹ ＦＡＭＩＬＹ":                  "spy-family",
		"  Re:Zero -- Starting Life  ": "re-zero-starting-life",
	}
	for in, want := range cases {
		if got := SlugifyTitle(in); got != want {
			t.Fatalf("SlugifyTitle(%q)=%q want %q", in, got, want)
		}
	}
}

func TestTitleVariants(t *testing.T) {
	got := titleVariants("Mushoku Tensei (TV) Season 2")
	want := []string{"Mushoku Tensei (TV) Season 2", "Mushoku Tensei Season 2", "Mushoku Tensei"}
	if len(got) != len(want) {
		t.Fatalf("got %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("variant %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestCatalogueResolver_Resolve(t *testing.T) {
	var probes atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes.Add(1)
		if r.URL.Path == "/catalogue/solo-leveling/" {
			_, _ = w.Write([]byte("ok"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	r := NewCatalogueResolver(zerolog.Nop(), ts.URL, nil)
	cands := r.Resolve(context.Background(), []string{"Solo Leveling (TV)"}, 3)
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %+v", cands)
	}
	if cands[0].Slug != "solo-leveling" || cands[0].CatalogueURL != ts.URL+"/catalogue/solo-leveling/" {
		t.Fatalf("unexpected candidate %+v", cands[0])
	}
	if math.Abs(cands[0].Score-0.95) > 1e-9 {
		t.Fatalf("cleaned title variant should score 0.95, got %v", cands[0].Score)
	}

	before := probes.Load()
	_ = r.Resolve(context.Background(), []string{"Solo Leveling (TV)"}, 3)
	if probes.Load() != before {
		t.Fatalf("probe results should be cached")
	}
}
