package domain

import "testing"

func TestNormalizeQuality(t *testing.T) {
	cases := map[string]string{
		"1080p":      "1080p",
		"1080":       "1080p",
		"FHD 1080P":  "1080p",
		"4K":         "2160p",
		"720":        "720p",
		" 480p ":     "480p",
		"auto":       "",
		"":           "",
		"360p (HLS)": "360p",
		"Full HD":    "1080p",
		"full-hd":    "1080p",
		"Ultra HD":   "2160p",
		"HD":         "720p",
		"HD ready":   "720p",
	}
	for in, want := range cases {
		if got := NormalizeQuality(in); got != want {
			t.Fatalf("NormalizeQuality(%q): want %q, got %q", in, want, got)
		}
	}
}

func TestQualityRank_FullHDRanksWith1080p(t *testing.T) {
	if QualityRank("Full HD") != QualityRank("1080p") {
		t.Fatalf("Full HD must rank as 1080p: %d vs %d", QualityRank("Full HD"), QualityRank("1080p"))
	}
	links := []LinkRecord{{ID: "hd", Quality: "HD"}, {ID: "full", Quality: "Full HD"}}
	SortLinks(links)
	if links[0].ID != "full" {
		t.Fatalf("Full HD must sort before HD: %+v", links)
	}
}

func TestSortLinks_KnownBeforeUnknownAndStable(t *testing.T) {
	links := []LinkRecord{
		{ID: "a", Quality: "auto"},
		{ID: "b", Quality: "720p"},
		{ID: "c", Quality: "2160p"},
		{ID: "d", Quality: "720"},
		{ID: "e", Quality: "unknown"},
		{ID: "f", Quality: "240p"},
		{ID: "g", Quality: "1440p"},
		{ID: "h", Quality: "1080p"},
		{ID: "i", Quality: "360p"},
		{ID: "j", Quality: "480p"},
	}
	SortLinks(links)

	want := []string{"c", "g", "h", "b", "d", "j", "i", "f", "a", "e"}
	for i, id := range want {
		if links[i].ID != id {
			t.Fatalf("position %d: want %q, got %q (%+v)", i, id, links[i].ID, links)
		}
	}
}

func TestMergeCaptions_DedupByFile(t *testing.T) {
	base := []Caption{{File: "https://x/en.vtt", Label: "English"}}
	next := []Caption{
		{File: "https://x/en.vtt", Label: "English (dup)"},
		{File: "https://x/fr.vtt", Label: "French"},
		{File: "", Label: "empty"},
	}
	got := MergeCaptions(base, next)
	if len(got) != 2 {
		t.Fatalf("want 2 captions, got %d (%+v)", len(got), got)
	}
	if got[0].Label != "English" || got[1].Label != "French" {
		t.Fatalf("unexpected captions: %+v", got)
	}
}

func TestCanTransition_UserLatch(t *testing.T) {
	if !CanTransition(SelectionAwaitingFirst, SelectionAutoSwitched) {
		t.Fatalf("awaiting -> auto_switched should be allowed")
	}
	if CanTransition(SelectionUserSelected, SelectionAutoSwitched) {
		t.Fatalf("user_selected -> auto_switched must be refused")
	}
	if !CanTransition(SelectionAutoSwitched, SelectionUserSelected) {
		t.Fatalf("explicit choice after auto-switch should be allowed")
	}
	if CanTransition(SelectionIdle, SelectionUserSelected) {
		t.Fatalf("idle -> user_selected must be refused")
	}
}
