package progress

import "testing"

func TestMapperPhaseRanges(t *testing.T) {
	tests := []struct {
		name     string
		phase    string
		pct      int
		expected int
	}{
		{name: "initializing start", phase: PhaseInitializing, pct: 0, expected: 0},
		{name: "initializing done", phase: PhaseInitializing, pct: 100, expected: 5},
		{name: "discovery midway", phase: PhaseDiscovery, pct: 50, expected: 10},
		{name: "crawling done", phase: PhaseCrawling, pct: 100, expected: 60},
		{name: "chunking midway", phase: PhaseChunking, pct: 50, expected: 65},
		{name: "embedding start", phase: PhaseEmbedding, pct: 0, expected: 80},
		{name: "storing done", phase: PhaseStoring, pct: 100, expected: 98},
		{name: "completed", phase: PhaseCompleted, pct: 100, expected: 100},
		{name: "clamps above 100", phase: PhaseCrawling, pct: 150, expected: 60},
		{name: "clamps below 0", phase: PhaseCrawling, pct: -10, expected: 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMapper()
			if got := m.Map(tt.phase, tt.pct); got != tt.expected {
				t.Errorf("Map(%q, %d) = %d, want %d", tt.phase, tt.pct, got, tt.expected)
			}
		})
	}
}

func TestMapperMonotonic(t *testing.T) {
	m := NewMapper()

	if got := m.Map(PhaseCrawling, 100); got != 60 {
		t.Fatalf("crawling done = %d, want 60", got)
	}
	// A later phase starting at 0 must not move the bar backwards.
	if got := m.Map(PhaseChunking, 0); got != 60 {
		t.Errorf("chunking start = %d, want 60", got)
	}
	if got := m.Map(PhaseChunking, 50); got != 65 {
		t.Errorf("chunking midway = %d, want 65", got)
	}
	// Out of order report from an earlier phase holds the floor.
	if got := m.Map(PhaseCrawling, 0); got != 65 {
		t.Errorf("stale crawling report = %d, want 65", got)
	}
	if m.Phase() != PhaseCrawling {
		t.Errorf("Phase = %q, want %q", m.Phase(), PhaseCrawling)
	}
}

func TestMapperUnknownPhase(t *testing.T) {
	m := NewMapper()
	m.Map(PhaseDiscovery, 100)

	if got := m.Map("warp", 50); got != 15 {
		t.Errorf("unknown phase = %d, want 15", got)
	}
	if m.Phase() != PhaseDiscovery {
		t.Errorf("unknown phase changed Phase to %q", m.Phase())
	}
}

func TestMapperTerminalKeepsProgress(t *testing.T) {
	m := NewMapper()
	m.Map(PhaseCrawling, 50) // 37

	if got := m.Map(PhaseFailed, 0); got != 37 {
		t.Errorf("failed = %d, want 37", got)
	}
	if got := m.Map(PhaseCancelled, 0); got != 37 {
		t.Errorf("cancelled = %d, want 37", got)
	}
}

func TestMapperForce(t *testing.T) {
	m := NewMapper()
	m.Map(PhaseStoring, 100) // 98

	if got := m.Force(PhaseCompleted, 100); got != 100 {
		t.Errorf("Force(100) = %d, want 100", got)
	}
	if got := m.Force(PhaseCompleted, 50); got != 100 {
		t.Errorf("Force below floor = %d, want 100", got)
	}
	if m.Current() != 100 {
		t.Errorf("Current = %d, want 100", m.Current())
	}
}
