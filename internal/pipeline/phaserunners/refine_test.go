package phaserunners

import "testing"

func TestInferGenre(t *testing.T) {
	cases := []struct {
		audio string
		want  string
	}{
		{"Upbeat electronic with driving bass", "upbeat"},
		{"slow cinematic swell", "cinematic"},
		{"some LoFi beats to relax to", "lofi"},
		{"kettledrums and kazoo", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := inferGenre(tc.audio); got != tc.want {
			t.Fatalf("inferGenre(%q): want %q, got %q", tc.audio, tc.want, got)
		}
	}
}
