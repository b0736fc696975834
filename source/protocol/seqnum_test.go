package protocol

import "testing"

func TestSequenceGreaterTotalOrder(t *testing.T) {
	cases := []struct{ a, b Sequence }{
		{1, 0}, {0, 1}, {0, 65535}, {65535, 0}, {30000, 40000}, {40000, 30000},
	}
	for _, c := range cases {
		if c.a == c.b {
			continue
		}
		g1, g2 := Greater(c.a, c.b), Greater(c.b, c.a)
		if g1 == g2 {
			t.Fatalf("Greater(%d,%d)=%v and Greater(%d,%d)=%v: expected exactly one true", c.a, c.b, g1, c.b, c.a, g2)
		}
	}
}

func TestSequenceGreaterReflexiveFalse(t *testing.T) {
	for _, s := range []Sequence{0, 1, 32767, 32768, 65535} {
		if Greater(s, s) {
			t.Fatalf("Greater(%d,%d) should be false", s, s)
		}
	}
}

func TestSequenceWrapAround(t *testing.T) {
	if !Greater(1, 65535) {
		t.Fatalf("expected 1 to be greater than 65535 across the wrap")
	}
	if Greater(65535, 1) {
		t.Fatalf("expected 65535 to not be greater than 1 across the wrap")
	}
}
