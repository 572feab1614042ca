package observability

import "testing"

func TestPortalOpWindowSnapshot(t *testing.T) {
	w := newPortalOpWindow(8)
	w.Observe("search", 500)
	w.Observe("search", 700)
	w.Observe("search", 900)
	w.ObserveIndicator("search_timeout")
	w.ObserveIndicator("search_timeout")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Ops) != 1 {
		t.Fatalf("len(Ops) = %d, want 1", len(snap.Ops))
	}
	s := snap.Ops[0]
	if s.Op != "search" {
		t.Fatalf("Op = %q, want %q", s.Op, "search")
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 12000 {
		t.Fatalf("TargetP95MS = %.2f, want 12000", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 {
		t.Fatalf("len(Indicators) = %d, want 1", len(snap.Indicators))
	}
	if snap.Indicators[0].Name != "search_timeout" {
		t.Fatalf("Indicators[0].Name = %q, want %q", snap.Indicators[0].Name, "search_timeout")
	}
	if snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators[0].Count = %d, want %d", snap.Indicators[0].Count, 2)
	}
}

func TestPortalOpWindowWraps(t *testing.T) {
	w := newPortalOpWindow(4)
	for i := 0; i < 10; i++ {
		w.Observe("book", float64(100*i))
	}
	snap := w.Snapshot()
	if len(snap.Ops) != 1 {
		t.Fatalf("len(Ops) = %d, want 1", len(snap.Ops))
	}
	if snap.Ops[0].Samples != 4 {
		t.Fatalf("Samples = %d, want 4", snap.Ops[0].Samples)
	}
	if snap.Ops[0].LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", snap.Ops[0].LastMS)
	}
}
