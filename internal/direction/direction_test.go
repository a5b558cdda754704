package direction

import "testing"

func TestOppositeIsInvolution(t *testing.T) {
	for _, d := range All {
		if got := d.Opposite().Opposite(); got != d {
			t.Errorf("Opposite(Opposite(%s)) = %s, want %s", d, got, d)
		}
	}
}

func TestOppositePairs(t *testing.T) {
	tests := []struct {
		d, want Direction
	}{
		{UP, DOWN},
		{UPRIGHT, DOWNLEFT},
		{RIGHT, LEFT},
		{DOWNRIGHT, UPLEFT},
		{DOWN, UP},
		{DOWNLEFT, UPRIGHT},
		{LEFT, RIGHT},
		{UPLEFT, DOWNRIGHT},
	}

	for _, tt := range tests {
		t.Run(tt.d.String(), func(t *testing.T) {
			if got := tt.d.Opposite(); got != tt.want {
				t.Errorf("%s.Opposite() = %s, want %s", tt.d, got, tt.want)
			}
		})
	}
}

func TestIsCorner(t *testing.T) {
	corners := map[Direction]bool{
		UP: false, DOWN: false, LEFT: false, RIGHT: false,
		UPRIGHT: true, DOWNRIGHT: true, DOWNLEFT: true, UPLEFT: true,
	}
	for d, want := range corners {
		if got := d.IsCorner(); got != want {
			t.Errorf("%s.IsCorner() = %v, want %v", d, got, want)
		}
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, d := range All {
		parsed, ok := Parse(d.String())
		if !ok {
			t.Fatalf("Parse(%q) failed", d.String())
		}
		if parsed != d {
			t.Errorf("Parse(%q) = %v, want %v", d.String(), parsed, d)
		}
	}
}

func TestParseUnknown(t *testing.T) {
	if _, ok := Parse("SIDEWAYS"); ok {
		t.Error("Parse(\"SIDEWAYS\") succeeded, want failure")
	}
}
