// Package progress tracks crawl job state: it maps per-phase progress onto a
// single monotonic 0-100 scale and keeps a registry of live and recently
// finished jobs.
package progress

// Pipeline phases, in execution order.
const (
	PhaseInitializing = "initializing"
	PhaseDiscovery    = "discovery"
	PhaseCrawling     = "crawling"
	PhaseChunking     = "chunking"
	PhaseSummarizing  = "summarizing"
	PhaseEmbedding    = "embedding"
	PhaseStoring      = "storing"
	PhaseCompleted    = "completed"
	PhaseCancelled    = "cancelled"
	PhaseFailed       = "failed"
)

type phaseRange struct {
	start int
	end   int
}

// phaseRanges allocates a slice of the overall progress bar to each phase.
// Cancelled and failed span the whole bar so a job keeps whatever progress
// it had reached.
var phaseRanges = map[string]phaseRange{
	PhaseInitializing: {0, 5},
	PhaseDiscovery:    {5, 15},
	PhaseCrawling:     {15, 60},
	PhaseChunking:     {60, 70},
	PhaseSummarizing:  {70, 80},
	PhaseEmbedding:    {80, 92},
	PhaseStoring:      {92, 98},
	PhaseCompleted:    {98, 100},
	PhaseCancelled:    {0, 100},
	PhaseFailed:       {0, 100},
}

// Mapper converts progress within a phase (0-100) into overall progress.
// Values never decrease, so the progress bar cannot jump backwards when
// phases overlap or report out of order. A Mapper is not safe for
// concurrent use; each job owns one.
type Mapper struct {
	last  int
	phase string
}

// NewMapper returns a mapper positioned at the start of the pipeline.
func NewMapper() *Mapper {
	return &Mapper{phase: PhaseInitializing}
}

// Map scales phasePct into the phase's overall range and returns the new
// overall progress. Unknown phases return the current value unchanged.
func (m *Mapper) Map(phase string, phasePct int) int {
	if _, ok := phaseRanges[phase]; !ok {
		return m.last
	}

	overall := PhaseProgress(phase, phasePct)
	if overall < m.last {
		overall = m.last
	}

	m.last = overall
	m.phase = phase
	return overall
}

// PhaseProgress scales a phase-local percentage into the phase's slice of
// the overall bar. Unlike Mapper it keeps no state, so concurrent progress
// callbacks can use it directly; the registry's monotonic floor absorbs
// out-of-order reports. Unknown phases map to 0.
func PhaseProgress(phase string, phasePct int) int {
	r, ok := phaseRanges[phase]
	if !ok {
		return 0
	}

	if phasePct < 0 {
		phasePct = 0
	} else if phasePct > 100 {
		phasePct = 100
	}

	return r.start + phasePct*(r.end-r.start)/100
}

// Force records an exact overall value, still subject to the monotonic
// floor. Used for fixed milestones like completion at 100.
func (m *Mapper) Force(phase string, overall int) int {
	if overall < m.last {
		overall = m.last
	}
	m.last = overall
	m.phase = phase
	return overall
}

// Current returns the last reported overall progress.
func (m *Mapper) Current() int {
	return m.last
}

// Phase returns the most recently reported phase.
func (m *Mapper) Phase() string {
	return m.phase
}
