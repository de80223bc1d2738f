// Package telemetry holds the live host metrics and container set of a
// session and perturbs them with a bounded random walk on every tick.
package telemetry

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/vesa/pulseboard/internal/clock"
	"github.com/vesa/pulseboard/internal/models"
)

// Random-walk widths and clamp bounds applied per tick.
const (
	cpuSpread     = 10
	memorySpread  = 5
	netInSpread   = 50
	netOutSpread  = 30
	containerStep = 20

	usageLow  = 10
	usageHigh = 90
)

// Rand is the jitter source. *math/rand/v2.Rand satisfies it.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

// NewRand returns a deterministic source for seed, or a time-seeded one when
// seed is 0.
func NewRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Snapshot is a deep copy of the store at one instant.
type Snapshot struct {
	Metrics    models.SystemMetrics     `json:"metrics"`
	Containers []models.ContainerRecord `json:"containers"`
	UpdatedAt  time.Time                `json:"last_update"`
}

// Store owns the system metrics and container records of one session.
type Store struct {
	mu         sync.RWMutex
	metrics    models.SystemMetrics
	containers []models.ContainerRecord
	index      map[string]int
	startedAt  map[string]time.Time
	inFlight   map[string]bool
	bootAt     time.Time
	updatedAt  time.Time

	rnd   Rand
	clock clock.Clock
}

// NewStore builds a store from seed. Container order follows the seed.
func NewStore(seed Seed, rnd Rand, clk clock.Clock) *Store {
	now := clk.Now()
	s := &Store{
		metrics:    seed.Metrics,
		containers: make([]models.ContainerRecord, len(seed.Containers)),
		index:      make(map[string]int, len(seed.Containers)),
		startedAt:  make(map[string]time.Time),
		inFlight:   make(map[string]bool),
		updatedAt:  now,
		rnd:        rnd,
		clock:      clk,
	}
	copy(s.containers, seed.Containers)
	for i, c := range s.containers {
		s.index[c.ID] = i
		if !c.Running() {
			s.containers[i].CPUPercent = 0
		}
	}
	if d, ok := ParseUptime(seed.Metrics.UptimeLabel); ok {
		s.bootAt = now.Add(-d)
	}
	return s
}

// Tick applies one random-walk step to every metric and to the CPU of
// running containers. Non-running containers are forced to zero CPU.
func (s *Store) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()

	m := &s.metrics
	m.CPU.UsagePercent = clamp(m.CPU.UsagePercent+s.jitter(cpuSpread), usageLow, usageHigh)
	m.Memory.UsagePercent = clamp(m.Memory.UsagePercent+s.jitter(memorySpread), usageLow, usageHigh)
	if m.Memory.TotalGB > 0 {
		m.Memory.UsedGB = m.Memory.UsagePercent * m.Memory.TotalGB / 100
	}
	m.Network.InMBs = max(0, m.Network.InMBs+s.jitter(netInSpread))
	m.Network.OutMBs = max(0, m.Network.OutMBs+s.jitter(netOutSpread))
	if !s.bootAt.IsZero() {
		m.UptimeLabel = FormatUptime(now.Sub(s.bootAt))
	}

	for i := range s.containers {
		c := &s.containers[i]
		if !c.Running() {
			c.CPUPercent = 0
			continue
		}
		c.CPUPercent = clamp(c.CPUPercent+s.jitter(containerStep), 0, 100)
		if at, ok := s.startedAt[c.ID]; ok {
			c.UptimeLabel = FormatUptime(now.Sub(at))
		}
	}
	s.updatedAt = now
}

// jitter returns a uniform value in [-spread/2, spread/2).
func (s *Store) jitter(spread float64) float64 {
	return (s.rnd.Float64() - 0.5) * spread
}

// ApplyAction performs action on the container immediately. Latency and
// per-container serialisation are the caller's concern.
// An unknown action leaves the container unchanged.
func (s *Store) ApplyAction(id string, action models.ContainerAction) (models.ContainerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return models.ContainerRecord{}, fmt.Errorf("%w: container %q", models.ErrNotFound, id)
	}
	c := &s.containers[i]
	now := s.clock.Now()
	switch action {
	case models.ActionStart:
		c.Status = models.ContainerRunning
		c.UptimeLabel = FormatUptime(0)
		s.startedAt[id] = now
	case models.ActionStop:
		c.Status = models.ContainerStopped
		c.CPUPercent = 0
		c.MemoryMB = 0
		c.UptimeLabel = FormatUptime(0)
		delete(s.startedAt, id)
	case models.ActionRestart:
		c.Status = models.ContainerRunning
		c.RestartCount++
		c.UptimeLabel = FormatUptime(0)
		s.startedAt[id] = now
	default:
		return s.recordLocked(i), nil
	}
	s.updatedAt = now
	return s.recordLocked(i), nil
}

// Fail moves a container to the error state. Used when an action is
// interrupted and its outcome is unknown.
func (s *Store) Fail(id string) (models.ContainerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return models.ContainerRecord{}, fmt.Errorf("%w: container %q", models.ErrNotFound, id)
	}
	c := &s.containers[i]
	c.Status = models.ContainerError
	c.CPUPercent = 0
	c.UptimeLabel = FormatUptime(0)
	delete(s.startedAt, id)
	s.updatedAt = s.clock.Now()
	return s.recordLocked(i), nil
}

// Snapshot returns a deep copy of metrics and containers.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Snapshot{
		Metrics:    s.metrics,
		Containers: make([]models.ContainerRecord, len(s.containers)),
		UpdatedAt:  s.updatedAt,
	}
	for i := range s.containers {
		out.Containers[i] = s.recordLocked(i)
	}
	return out
}

// Metrics returns a copy of the current system metrics.
func (s *Store) Metrics() models.SystemMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

// Container returns a copy of one container record.
func (s *Store) Container(id string) (models.ContainerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return models.ContainerRecord{}, fmt.Errorf("%w: container %q", models.ErrNotFound, id)
	}
	return s.recordLocked(i), nil
}

// ContainerName resolves a container id to its display name.
func (s *Store) ContainerName(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return "", false
	}
	return s.containers[i].Name, true
}

// RunningIDs lists running containers in seed order.
func (s *Store) RunningIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for _, c := range s.containers {
		if c.Running() {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// MarkInFlight flags id as having an action in progress. It reports false
// when the flag was already set.
func (s *Store) MarkInFlight(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[id] {
		return false
	}
	s.inFlight[id] = true
	return true
}

func (s *Store) ClearInFlight(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}

func (s *Store) InFlight(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inFlight[id]
}

func (s *Store) recordLocked(i int) models.ContainerRecord {
	c := s.containers[i]
	c.ActionPending = s.inFlight[c.ID]
	return c
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}
