package quota

import "testing"

func TestNewStartsFull(t *testing.T) {
	q := New()
	if q.Points() != 24000 {
		t.Fatalf("Points() = %d, want 24000", q.Points())
	}
	if q.Max() != 24000 {
		t.Fatalf("Max() = %d, want 24000", q.Max())
	}
	if q.HistoryLen() != 3 {
		t.Fatalf("HistoryLen() = %d, want 3", q.HistoryLen())
	}
}

func TestParams(t *testing.T) {
	p := New().Params()
	if p.Tag != "nq" {
		t.Fatalf("Tag = %q, want nq", p.Tag)
	}
	if p.Allowance != 8000 || p.Max != 24000 || p.MaxHistLen != 3 {
		t.Fatalf("Params = %+v, want allowance 8000, max 24000, maxHistLen 3", p)
	}
}

func TestSpendDeductsPoints(t *testing.T) {
	q := New()
	if !q.Spend(100) {
		t.Fatal("Spend(100) on a full bucket = false, want true")
	}
	if q.Points() != 23900 {
		t.Fatalf("Points() = %d, want 23900", q.Points())
	}
}

func TestSpendRejectsMoreThanAvailable(t *testing.T) {
	q := New()
	if q.Spend(24001) {
		t.Fatal("Spend(24001) = true, want false")
	}
	if q.Points() != 24000 {
		t.Fatalf("Points() after rejected spend = %d, want 24000", q.Points())
	}
}

func TestSpendRejectsNegative(t *testing.T) {
	q := New()
	if q.Spend(-1) {
		t.Fatal("Spend(-1) = true, want false")
	}
}

func TestSpendZeroAlwaysAllowed(t *testing.T) {
	q := New()
	if !q.Spend(0) {
		t.Fatal("Spend(0) = false, want true")
	}
}

func TestTickRefillsClampedAtMax(t *testing.T) {
	q := New()
	q.Spend(1000)
	q.Tick()
	if q.Points() != 24000 {
		t.Fatalf("Points() after refill = %d, want 24000", q.Points())
	}
	q.Tick()
	if q.Points() != 24000 {
		t.Fatalf("Points() at max after tick = %d, want 24000", q.Points())
	}
}

func TestTickKeepsHistoryWindowBounded(t *testing.T) {
	q := New()
	for i := 0; i < 10; i++ {
		q.Tick()
	}
	if q.HistoryLen() != 3 {
		t.Fatalf("HistoryLen() after 10 ticks = %d, want 3", q.HistoryLen())
	}
}

func TestSaturationMultipliesCost(t *testing.T) {
	q := New()

	// Drain the bucket and keep spending every refill so each tick records a
	// zero level.
	if !q.Spend(24000) {
		t.Fatal("Spend(24000) on a full bucket = false, want true")
	}
	for i := 0; i < 2; i++ {
		q.Tick()
		if !q.Spend(8000) {
			t.Fatalf("Spend(8000) after tick %d = false, want true", i)
		}
	}

	// The third tick completes an all-zero window and refills 8000 points;
	// each note now costs a full allowance.
	q.Tick()
	if q.Points() != 8000 {
		t.Fatalf("Points() = %d, want 8000", q.Points())
	}
	if q.Spend(2) {
		t.Fatal("Spend(2) while saturated = true, want false (cost 16000 > 8000)")
	}
	if !q.Spend(1) {
		t.Fatal("Spend(1) while saturated = false, want true (cost 8000)")
	}
	if q.Points() != 0 {
		t.Fatalf("Points() after saturated spend = %d, want 0", q.Points())
	}
}

func TestSaturatedSpendOverflowIsRejected(t *testing.T) {
	q := New()
	q.Spend(24000)
	for i := 0; i < 2; i++ {
		q.Tick()
		q.Spend(8000)
	}
	q.Tick()
	if q.Spend(1 << 60) {
		t.Fatal("Spend(1<<60) while saturated = true, want false")
	}
}

func TestRecoveryAfterSaturation(t *testing.T) {
	q := New()
	q.Spend(24000)
	for i := 0; i < 2; i++ {
		q.Tick()
		q.Spend(8000)
	}

	// Idle ticks refill the bucket and push nonzero levels into the window,
	// ending the multiplied-cost regime.
	for i := 0; i < 3; i++ {
		q.Tick()
	}
	if q.Points() != 24000 {
		t.Fatalf("Points() after idle recovery = %d, want 24000", q.Points())
	}
	if !q.Spend(100) {
		t.Fatal("Spend(100) after recovery = false, want true")
	}
	if q.Points() != 23900 {
		t.Fatalf("Points() = %d, want 23900", q.Points())
	}
}
