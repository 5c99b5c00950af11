package procedure

import (
	"container/list"
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Source fetches raw procedure definition rows from the governance backend.
type Source interface {
	// FetchRows returns the rows of the named dataset.
	FetchRows(ctx context.Context, dataset string) ([]map[string]any, error)
}

// StoreConfig configures the procedure cache.
type StoreConfig struct {
	// Dataset is the governance dataset holding procedure definitions.
	Dataset string
	// AgentDataset, when set, names the dataset holding agent definitions.
	AgentDataset string
	// TTL bounds how long an individual entry is served without reload.
	TTL time.Duration
	// RefreshInterval bounds how often the whole set is refetched.
	RefreshInterval time.Duration
	// MaxSize caps the cache; least recently accessed entries are evicted.
	MaxSize int
}

// Store caches parsed procedures fetched from a Source. A refresh replaces
// the cached set wholesale; concurrent refreshes are deduplicated so that
// overlapping Load calls share one fetch.
type Store struct {
	source Source
	cfg    StoreConfig
	logger *slog.Logger

	mu          sync.Mutex
	entries     map[string]*list.Element
	order       *list.List
	agents      map[string]*Agent
	lastRefresh time.Time

	group singleflight.Group
	now   func() time.Time
}

type entry struct {
	proc         *Procedure
	timestamp    time.Time
	lastAccessed time.Time
	accessCount  int
}

// NewStore creates a procedure store backed by source.
func NewStore(source Source, cfg StoreConfig, logger *slog.Logger) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Minute
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 100
	}
	return &Store{
		source:  source,
		cfg:     cfg,
		logger:  logger,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Load returns all cached procedures, refreshing first when the cache is
// empty, stale, or force is set. Callers arriving during a refresh share the
// in-flight fetch instead of issuing their own.
func (s *Store) Load(ctx context.Context, force bool) ([]*Procedure, error) {
	s.mu.Lock()
	fresh := len(s.entries) > 0 && s.now().Sub(s.lastRefresh) < s.cfg.RefreshInterval
	s.mu.Unlock()

	if fresh && !force {
		return s.snapshot(), nil
	}

	_, err, _ := s.group.Do("refresh", func() (any, error) {
		s.refreshAgents(ctx)
		return nil, s.refresh(ctx)
	})
	if err != nil {
		// Refresh failure degrades to whatever is cached; an empty set is a
		// legitimate, reportable state rather than a crash.
		if s.logger != nil {
			s.logger.Error("procedure refresh failed", "dataset", s.cfg.Dataset, "error", err)
		}
	}
	return s.snapshot(), nil
}

func (s *Store) refresh(ctx context.Context) error {
	rows, err := s.source.FetchRows(ctx, s.cfg.Dataset)
	if err != nil {
		return err
	}

	procs, parseErrs := ParseRows(rows)
	for _, perr := range parseErrs {
		if s.logger != nil {
			s.logger.Warn("skipping malformed procedure", "dataset", s.cfg.Dataset, "error", perr)
		}
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*list.Element, len(procs))
	s.order.Init()
	for _, proc := range procs {
		elem := s.order.PushFront(&entry{
			proc:         proc,
			timestamp:    now,
			lastAccessed: now,
		})
		s.entries[proc.ID] = elem
		s.trimLocked()
	}
	s.lastRefresh = now

	if s.logger != nil {
		s.logger.Info("procedures refreshed", "dataset", s.cfg.Dataset, "count", len(procs))
	}
	return nil
}

// refreshAgents refetches the agent dataset. Agents are advisory matching
// input; a fetch failure keeps the previous set.
func (s *Store) refreshAgents(ctx context.Context) {
	if s.cfg.AgentDataset == "" {
		return
	}
	rows, err := s.source.FetchRows(ctx, s.cfg.AgentDataset)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("agent refresh failed", "dataset", s.cfg.AgentDataset, "error", err)
		}
		return
	}

	agents, parseErrs := ParseAgentRows(rows)
	for _, perr := range parseErrs {
		if s.logger != nil {
			s.logger.Warn("skipping malformed agent", "dataset", s.cfg.AgentDataset, "error", perr)
		}
	}

	byName := make(map[string]*Agent, len(agents))
	for _, agent := range agents {
		if agent.Active {
			byName[agentKey(agent.Name)] = agent
		}
	}

	s.mu.Lock()
	s.agents = byName
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Info("agents refreshed", "dataset", s.cfg.AgentDataset, "count", len(byName))
	}
}

// FindAgent looks up an active agent by name, case-insensitively. The agent
// set is loaded alongside the procedures.
func (s *Store) FindAgent(ctx context.Context, name string) (*Agent, bool) {
	if s.cfg.AgentDataset == "" {
		return nil, false
	}
	s.mu.Lock()
	loaded := s.agents != nil
	s.mu.Unlock()
	if !loaded {
		_, _ = s.Load(ctx, false)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	agent, ok := s.agents[agentKey(name)]
	return agent, ok
}

// Get returns the procedure by id, honoring the per-entry TTL and bumping
// access bookkeeping. A miss or stale entry triggers a Load.
func (s *Store) Get(ctx context.Context, id string) (*Procedure, bool) {
	if proc, ok := s.lookup(id); ok {
		return proc, true
	}
	if _, err := s.Load(ctx, true); err != nil {
		return nil, false
	}
	return s.lookup(id)
}

func (s *Store) lookup(id string) (*Procedure, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	ent := elem.Value.(*entry)
	now := s.now()
	if now.Sub(ent.timestamp) > s.cfg.TTL {
		s.order.Remove(elem)
		delete(s.entries, id)
		return nil, false
	}
	ent.accessCount++
	ent.lastAccessed = now
	s.order.MoveToFront(elem)
	return ent.proc, true
}

// AccessStats returns the access count recorded for id, for diagnostics.
func (s *Store) AccessStats(id string) (count int, lastAccessed time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	elem, found := s.entries[id]
	if !found {
		return 0, time.Time{}, false
	}
	ent := elem.Value.(*entry)
	return ent.accessCount, ent.lastAccessed, true
}

// Context describes a request used to find applicable procedures.
type Context struct {
	// Tool is the requested tool name.
	Tool string
	// Operation is the classified operation (read, write).
	Operation string
	// Tags match against procedure metadata tags.
	Tags []string
}

// FindApplicable filters active, date-valid procedures whose triggers match
// the request by tool name (with wildcards), operation, or tag, ordered by
// priority: critical, high, normal, low.
func (s *Store) FindApplicable(ctx context.Context, reqCtx Context) []*Procedure {
	procs, _ := s.Load(ctx, false)
	now := s.now()

	var matched []*Procedure
	for _, proc := range procs {
		if !proc.ValidAt(now) {
			continue
		}
		if s.triggersMatch(proc, reqCtx) {
			matched = append(matched, proc)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return PriorityRank(matched[i].Metadata.Priority) < PriorityRank(matched[j].Metadata.Priority)
	})
	return matched
}

func (s *Store) triggersMatch(proc *Procedure, reqCtx Context) bool {
	for _, pattern := range proc.Triggers.Tools {
		if MatchTool(pattern, reqCtx.Tool) {
			return true
		}
	}
	for _, op := range proc.Triggers.Operations {
		if op == reqCtx.Operation {
			return true
		}
	}
	for _, tag := range proc.Metadata.Tags {
		for _, reqTag := range reqCtx.Tags {
			if tag == reqTag {
				return true
			}
		}
	}
	return false
}

func (s *Store) snapshot() []*Procedure {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Procedure, 0, len(s.entries))
	for elem := s.order.Front(); elem != nil; elem = elem.Next() {
		out = append(out, elem.Value.(*entry).proc)
	}
	return out
}

func (s *Store) trimLocked() {
	for len(s.entries) > s.cfg.MaxSize {
		elem := s.order.Back()
		if elem == nil {
			return
		}
		ent := elem.Value.(*entry)
		delete(s.entries, ent.proc.ID)
		s.order.Remove(elem)
	}
}
