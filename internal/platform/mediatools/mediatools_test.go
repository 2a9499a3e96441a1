package mediatools

import "testing"

func TestResolutionEven(t *testing.T) {
	cases := []struct {
		in   Resolution
		want Resolution
	}{
		{Resolution{1280, 720}, Resolution{1280, 720}},
		{Resolution{1921, 1089}, Resolution{1920, 1088}},
		{Resolution{719, 480}, Resolution{718, 480}},
	}
	for _, tc := range cases {
		if got := tc.in.Even(); got != tc.want {
			t.Fatalf("Even(%v): want %v, got %v", tc.in, tc.want, got)
		}
	}
}

func TestResolutionDiffersBy(t *testing.T) {
	base := Resolution{1280, 720}

	if base.DiffersBy(Resolution{1280, 720}, 0.10) {
		t.Fatalf("identical resolutions should not differ")
	}
	// 1216x684 is within 5% of 1280x720.
	if base.DiffersBy(Resolution{1216, 684}, 0.10) {
		t.Fatalf("5%% drift should be within the 10%% threshold")
	}
	// 720x480 vs 1280x720 differs far beyond 10% in both dimensions.
	if !base.DiffersBy(Resolution{720, 480}, 0.10) {
		t.Fatalf("720x480 should exceed the 10%% threshold against 1280x720")
	}
	// Unknown dimensions always count as different.
	if !base.DiffersBy(Resolution{}, 0.10) {
		t.Fatalf("zero resolution should always differ")
	}
}

// The resolution-mismatch scenario: 1280x720, 720x480, 1920x1088 chunks
// should produce an even 1920x1088 stitch target and a non-uniform set.
func TestStitchTargetResolutionMath(t *testing.T) {
	inputs := []Resolution{
		{1280, 720},
		{720, 480},
		{1921, 1088}, // odd width, rounds down
	}

	var target Resolution
	uniform := true
	for i, r := range inputs {
		if r.Width > target.Width {
			target.Width = r.Width
		}
		if r.Height > target.Height {
			target.Height = r.Height
		}
		if i > 0 && r.DiffersBy(inputs[0], 0.10) {
			uniform = false
		}
	}
	target = target.Even()

	if target != (Resolution{1920, 1088}) {
		t.Fatalf("target: want 1920x1088, got %dx%d", target.Width, target.Height)
	}
	if uniform {
		t.Fatalf("mixed resolutions should not be uniform")
	}
	if target.Width%2 != 0 || target.Height%2 != 0 {
		t.Fatalf("target must be even in both dimensions")
	}
	for _, r := range inputs {
		if target.Width < r.Even().Width || target.Height < r.Even().Height {
			t.Fatalf("target %v smaller than input %v", target, r)
		}
	}
}
