package internal

import "testing"

func TestRandDeterministic(t *testing.T) {
	a := NewRand(42)
	b := NewRand(42)
	for i := 0; i < 1000; i++ {
		x, y := a.Float64(), b.Float64()
		if x != y {
			t.Fatalf("streams diverge at draw %v: %v vs %v", i, x, y)
		}
		if x < 0 || x >= 1 {
			t.Fatalf("draw %v out of range: %v", i, x)
		}
	}
}

func TestLogAddExp(t *testing.T) {
	if got := LogAddExp(0, 0); got < 0.6931 || got > 0.6932 {
		t.Errorf("log(2) expected, got %v", got)
	}
}
