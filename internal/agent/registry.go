package agent

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Registry owns the set of known agents. All reads return copies taken
// under the lock, so a candidate list is a consistent snapshot of the
// instant it was requested; concurrent joins and leaves never tear it.
type Registry struct {
	agents  map[string]*Agent
	nextSeq uint64
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewRegistry creates an empty agent registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		agents: make(map[string]*Agent),
		logger: logger,
	}
}

// Register inserts or replaces an agent by ID. A re-registering agent
// keeps its original registration order and accumulated stats.
func (r *Registry) Register(a *Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if prev, ok := r.agents[a.ID]; ok {
		a.seq = prev.seq
		a.Stats = prev.Stats
		a.RegisteredAt = prev.RegisteredAt
	} else {
		a.seq = r.nextSeq
		r.nextSeq++
		a.RegisteredAt = time.Now()
	}
	if a.Status == "" {
		a.Status = StatusActive
	}
	r.agents[a.ID] = a.clone()
	r.logger.Info("registered agent",
		zap.String("id", a.ID),
		zap.String("name", a.Name),
		zap.Strings("capabilities", a.Capabilities))
}

// Unregister removes an agent. Attempts already in flight against it are
// unaffected; they settle through the execution channel on their own.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[id]; !ok {
		return
	}
	delete(r.agents, id)
	r.logger.Info("unregistered agent", zap.String("id", id))
}

// Get returns a snapshot of an agent by ID.
func (r *Registry) Get(id string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, false
	}
	return a.clone(), true
}

// List returns snapshots of all registered agents in registration order.
func (r *Registry) List() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		result = append(result, a.clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].seq < result[j].seq })
	return result
}

// FindCandidates returns every active agent advertising the capability,
// ranked best-first: descending success rate, then ascending average
// response time (agents without a success yet sort after those with one),
// then registration order. The ordering is deterministic.
func (r *Registry) FindCandidates(capability string) []*Agent {
	r.mu.RLock()
	var candidates []*Agent
	for _, a := range r.agents {
		if a.Status != StatusActive {
			continue
		}
		if a.HasCapability(capability) {
			candidates = append(candidates, a.clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		ri, rj := candidates[i].Stats.SuccessRate(), candidates[j].Stats.SuccessRate()
		if ri != rj {
			return ri > rj
		}
		ai, okI := candidates[i].Stats.AvgResponseTime()
		aj, okJ := candidates[j].Stats.AvgResponseTime()
		if okI != okJ {
			return okI // a measured latency outranks an unknown one
		}
		if okI && ai != aj {
			return ai < aj
		}
		return candidates[i].seq < candidates[j].seq
	})
	return candidates
}
