package phaserunners

import (
	"testing"

	types "github.com/avarra/reelforge/internal/domain"
)

func TestBuildBeatPrompt(t *testing.T) {
	spec := types.PlanSpec{Style: "moody noir", Product: "chrome kettle"}
	beat := types.Beat{PromptTemplate: "steam rising from the spout", ShotType: "close_up"}

	got := buildBeatPrompt(beat, spec)
	want := "steam rising from the spout. Style: moody noir. Product: chrome kettle. Shot: close_up"
	if got != want {
		t.Fatalf("prompt:\nwant %q\ngot  %q", want, got)
	}
}

func TestBuildBeatPromptSkipsEmptyParts(t *testing.T) {
	got := buildBeatPrompt(types.Beat{PromptTemplate: "just the shot"}, types.PlanSpec{})
	if got != "just the shot" {
		t.Fatalf("prompt: got %q", got)
	}
}

func TestParseSize(t *testing.T) {
	cases := []struct {
		in           string
		wantW, wantH int
	}{
		{"1280x720", 1280, 720},
		{"1920X1080", 1920, 1080},
		{" 640x480 ", 640, 480},
		{"", 0, 0},
		{"1280", 0, 0},
		{"axb", 0, 0},
		{"0x720", 0, 0},
	}
	for _, tc := range cases {
		w, h := parseSize(tc.in)
		if w != tc.wantW || h != tc.wantH {
			t.Fatalf("parseSize(%q): want %dx%d, got %dx%d", tc.in, tc.wantW, tc.wantH, w, h)
		}
	}
}
