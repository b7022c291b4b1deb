package progress

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/knoguchi/webindex/internal/crawl"
)

// Status is the lifecycle state of a crawl job.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Terminal reports whether a status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// State is a snapshot of a crawl job. Pages holds the crawled documents for
// the result endpoint and is excluded from progress payloads.
type State struct {
	JobID               string       `json:"progress_id"`
	Status              Status       `json:"status"`
	Progress            int          `json:"progress"`
	Log                 string       `json:"log"`
	CurrentURL          string       `json:"current_url,omitempty"`
	TotalPages          int          `json:"total_pages"`
	ProcessedPages      int          `json:"processed_pages"`
	ChunksStored        int          `json:"chunks_stored"`
	CurrentPhase        string       `json:"current_phase"`
	PhaseDetail         string       `json:"phase_detail,omitempty"`
	ChunksTotal         int          `json:"chunks_total"`
	ChunksProcessed     int          `json:"chunks_processed"`
	SummariesGenerated  int          `json:"summaries_generated"`
	EmbeddingsGenerated int          `json:"embeddings_generated"`
	Project             string       `json:"project,omitempty"`
	Dataset             string       `json:"dataset,omitempty"`
	Mode                string       `json:"mode,omitempty"`
	Pages               []crawl.Page `json:"-"`
	StartedAt           time.Time    `json:"started_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

type job struct {
	state  State
	cancel context.CancelFunc
}

const (
	retainedJobs = 256
	retainedTTL  = time.Hour
)

// Registry tracks live jobs in a locked map and retains terminal jobs in a
// bounded expirable LRU so progress and result endpoints keep working for a
// while after completion.
type Registry struct {
	mu       sync.RWMutex
	live     map[string]*job
	retained *expirable.LRU[string, State]
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		live:     make(map[string]*job),
		retained: expirable.NewLRU[string, State](retainedJobs, nil, retainedTTL),
	}
}

// Create registers a new job and returns its id. The cancel function is
// invoked when the job is cancelled through the registry.
func (r *Registry) Create(project, dataset, mode string, cancel context.CancelFunc) string {
	id := uuid.New().String()
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[id] = &job{
		state: State{
			JobID:        id,
			Status:       StatusCreated,
			CurrentPhase: PhaseInitializing,
			Project:      project,
			Dataset:      dataset,
			Mode:         mode,
			StartedAt:    now,
			UpdatedAt:    now,
		},
		cancel: cancel,
	}
	return id
}

// Update mutates a live job's state under the registry lock. Progress never
// decreases regardless of what fn sets. When fn leaves the job in a terminal
// status the job moves from the live map to the retained LRU. Updates for
// unknown or already terminal jobs are dropped.
func (r *Registry) Update(id string, fn func(*State)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.live[id]
	if !ok {
		return
	}

	prev := j.state.Progress
	fn(&j.state)
	if j.state.Progress < prev {
		j.state.Progress = prev
	}
	j.state.UpdatedAt = time.Now()

	if j.state.Status.Terminal() {
		r.retained.Add(id, j.state)
		delete(r.live, id)
	}
}

// Get returns a snapshot of a job, checking live jobs first and then the
// retained LRU. The snapshot's Pages slice is copied so callers can read it
// without holding the registry lock.
func (r *Registry) Get(id string) (State, bool) {
	r.mu.RLock()
	if j, ok := r.live[id]; ok {
		st := j.state
		st.Pages = append([]crawl.Page(nil), j.state.Pages...)
		r.mu.RUnlock()
		return st, true
	}
	r.mu.RUnlock()

	return r.retained.Get(id)
}

// Cancel requests cancellation of a job. It returns false only when the id
// is unknown; cancelling an already finished job is a no-op that still
// reports success, matching the idempotent cancel endpoint.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	j, ok := r.live[id]
	if ok && j.cancel != nil {
		j.cancel()
	}
	r.mu.Unlock()

	if ok {
		return true
	}
	_, ok = r.retained.Get(id)
	return ok
}

// Len returns the number of live jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}
