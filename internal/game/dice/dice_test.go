package dice

import "testing"

func TestSequenceWrapsAndReduces(t *testing.T) {
	seq := NewSequence(3, 150, -4)

	if got := seq.Intn(10); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
	if got := seq.Intn(100); got != 50 {
		t.Fatalf("expected 150 mod 100 = 50, got %d", got)
	}
	if got := seq.Intn(10); got != 4 {
		t.Fatalf("expected |-4| = 4, got %d", got)
	}
	if got := seq.Intn(10); got != 3 {
		t.Fatalf("expected wrap around to 3, got %d", got)
	}
	if seq.Calls() != 4 {
		t.Fatalf("expected 4 calls, got %d", seq.Calls())
	}
}

func TestPercentBounds(t *testing.T) {
	seq := NewSequence(99)
	if !Percent(seq, 100) {
		t.Fatalf("chance 100 must always succeed")
	}
	if seq.Calls() != 1 {
		t.Fatalf("chance 100 should consume one roll")
	}
	if Percent(seq, 0) {
		t.Fatalf("chance 0 must never succeed")
	}
	if Percent(NewSequence(70), 70) {
		t.Fatalf("roll 70 is not under 70")
	}
	if !Percent(NewSequence(69), 70) {
		t.Fatalf("roll 69 is under 70")
	}
}

func TestNewZeroSeedIsDeterministic(t *testing.T) {
	a := New(0)
	b := New(1)
	for i := 0; i < 5; i++ {
		if a.Intn(1000) != b.Intn(1000) {
			t.Fatalf("seed 0 should behave like seed 1")
		}
	}
}
