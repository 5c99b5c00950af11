package run

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/procgov/pop-mcp-server/internal/constants"
)

// Registry errors.
var (
	ErrNotFound    = errors.New("run not found")
	ErrNotActive   = errors.New("run is not active")
	ErrCapacity    = errors.New("maximum concurrent runs reached")
	ErrRateLimited = errors.New("run starts are rate limited")
)

// CompletedStep records one finished step of a run.
type CompletedStep struct {
	// Index is the step's position in the procedure.
	Index int `json:"index"`
	// StepID identifies the step.
	StepID string `json:"stepId"`
	// Status is the step result (success, skipped).
	Status string `json:"status"`
	// CompletedAt is when the step resolved.
	CompletedAt time.Time `json:"completedAt"`
}

// Run is a live, time-boxed instance of a procedure. The registry owns all
// run state; callers receive copies and never mutate them.
type Run struct {
	// ID is the opaque, unguessable run identifier.
	ID string `json:"runId"`
	// ProcedureID is the owning procedure, immutable for the run lifetime.
	ProcedureID string `json:"procedureId"`
	// CurrentStepIndex is the index of the step being executed.
	CurrentStepIndex int `json:"currentStepIndex"`
	// Status is active, completed, failed, or expired.
	Status string `json:"status"`
	// CompletedSteps lists the steps resolved so far.
	CompletedSteps []CompletedStep `json:"completedSteps"`
	// StartedAt is when the run was created.
	StartedAt time.Time `json:"startedAt"`
	// ExpiresAt is the coarse run deadline, independent of step timeouts.
	ExpiresAt time.Time `json:"expiresAt"`
	// FailureReason is set when Status is failed.
	FailureReason string `json:"failureReason,omitempty"`
}

// Config configures run lifetimes and capacity.
type Config struct {
	// Expiry is how long a run stays valid after start.
	Expiry time.Duration
	// Grace is how long expired runs are retained before eviction.
	Grace time.Duration
	// MaxConcurrent caps simultaneously active runs.
	MaxConcurrent int
	// StartsPerMinute rate-limits run creation. Zero disables the limit.
	StartsPerMinute int
	// SweepInterval controls how often the expiry sweep fires.
	SweepInterval time.Duration
}

// Registry holds active procedure runs keyed by run id.
type Registry struct {
	mu      sync.Mutex
	runs    map[string]*Run
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

// NewRegistry creates a registry and starts its expiry sweep.
func NewRegistry(cfg Config, logger *slog.Logger) *Registry {
	if cfg.Expiry <= 0 {
		cfg.Expiry = 30 * time.Minute
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 5 * time.Minute
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 100
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.StartsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.StartsPerMinute)), cfg.StartsPerMinute)
	}

	r := &Registry{
		runs:    make(map[string]*Run),
		cfg:     cfg,
		limiter: limiter,
		logger:  logger,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// Close stops the expiry sweep.
func (r *Registry) Close() {
	r.once.Do(func() { close(r.done) })
}

// Start creates an active run for procedureID. Exceeding the concurrency cap
// or the start rate is a reported error, never silently ignored.
func (r *Registry) Start(procedureID string) (Run, error) {
	if r.limiter != nil && !r.limiter.Allow() {
		return Run{}, ErrRateLimited
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activeCountLocked() >= r.cfg.MaxConcurrent {
		return Run{}, ErrCapacity
	}

	now := r.now()
	run := &Run{
		ID:          "run-" + uuid.NewString(),
		ProcedureID: procedureID,
		Status:      constants.RunActive,
		StartedAt:   now,
		ExpiresAt:   now.Add(r.cfg.Expiry),
	}
	r.runs[run.ID] = run

	if r.logger != nil {
		r.logger.Info("run started", "run_id", run.ID, "procedure_id", procedureID, "expires_at", run.ExpiresAt)
	}
	return *run, nil
}

// Get returns a copy of the run, expired or not.
func (r *Registry) Get(runID string) (Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return Run{}, false
	}
	return r.copyLocked(run), true
}

// Resume returns the run only while it is still active. Terminal runs cannot
// be resumed.
func (r *Registry) Resume(runID string) (Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return Run{}, ErrNotFound
	}
	if run.Status != constants.RunActive || r.now().After(run.ExpiresAt) {
		return Run{}, ErrNotActive
	}
	return r.copyLocked(run), nil
}

// Advance records the resolution of the current step and moves the run to
// the next one. status must be success or skipped.
func (r *Registry) Advance(runID, stepID, status string) (Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return Run{}, ErrNotFound
	}
	if run.Status != constants.RunActive {
		return Run{}, ErrNotActive
	}
	run.CompletedSteps = append(run.CompletedSteps, CompletedStep{
		Index:       run.CurrentStepIndex,
		StepID:      stepID,
		Status:      status,
		CompletedAt: r.now(),
	})
	run.CurrentStepIndex++
	return r.copyLocked(run), nil
}

// Complete marks the run completed.
func (r *Registry) Complete(runID string) (Run, error) {
	return r.finish(runID, constants.RunCompleted, "")
}

// Fail marks the run failed with a reason.
func (r *Registry) Fail(runID, reason string) (Run, error) {
	return r.finish(runID, constants.RunFailed, reason)
}

func (r *Registry) finish(runID, status, reason string) (Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return Run{}, ErrNotFound
	}
	if run.Status != constants.RunActive {
		return Run{}, ErrNotActive
	}
	run.Status = status
	run.FailureReason = reason
	if r.logger != nil {
		r.logger.Info("run finished", "run_id", runID, "status", status, "reason", reason)
	}
	return r.copyLocked(run), nil
}

// ActiveCount returns the number of active, unexpired runs.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeCountLocked()
}

func (r *Registry) activeCountLocked() int {
	now := r.now()
	count := 0
	for _, run := range r.runs {
		if run.Status == constants.RunActive && now.Before(run.ExpiresAt) {
			count++
		}
	}
	return count
}

// Sweep marks active runs past their deadline as expired and evicts terminal
// runs once the grace period has elapsed. Exposed for tests; the background
// loop calls it on a ticker.
func (r *Registry) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for id, run := range r.runs {
		if run.Status == constants.RunActive && now.After(run.ExpiresAt) {
			run.Status = constants.RunExpired
			if r.logger != nil {
				r.logger.Info("run expired", "run_id", id, "procedure_id", run.ProcedureID)
			}
		}
		if run.Status != constants.RunActive && now.Sub(run.ExpiresAt) > r.cfg.Grace {
			delete(r.runs, id)
		}
	}
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

func (r *Registry) copyLocked(run *Run) Run {
	out := *run
	out.CompletedSteps = append([]CompletedStep(nil), run.CompletedSteps...)
	return out
}
