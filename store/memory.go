package store

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"token-reallocator/model"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidBatchSize = errors.New("batch size must be positive")
)

type registration struct {
	host     model.Host
	lastSeen time.Time
}

// Memory keeps hosts, line items and committed plans in process.
// Since the planner is intended to run as a single replica, this is its system of record.
type Memory struct {
	mu        sync.RWMutex
	hosts     map[model.HostKey]registration
	lineItems map[model.LineItemKey]model.LineItem
	plans     map[model.HostKey]model.AllocationPlan
}

func NewMemory() *Memory {
	return &Memory{
		hosts:     make(map[model.HostKey]registration),
		lineItems: make(map[model.LineItemKey]model.LineItem),
		plans:     make(map[model.HostKey]model.AllocationPlan),
	}
}

// RegisterHost records a heartbeat for host.
func (m *Memory) RegisterHost(host model.Host, seenAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := host.Key()
	if prev, ok := m.hosts[key]; ok && prev.lastSeen.After(seenAt) {
		return
	}
	m.hosts[key] = registration{host: host, lastSeen: seenAt}
}

// ActiveHosts returns hosts seen at or after activeSince, ordered by key.
func (m *Memory) ActiveHosts(ctx context.Context, activeSince time.Time) ([]model.Host, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Host, 0, len(m.hosts))
	for _, r := range m.hosts {
		if r.lastSeen.Before(activeSince) {
			continue
		}
		out = append(out, r.host)
	}
	slices.SortFunc(out, func(a, b model.Host) int { return cmp.Compare(a.Key(), b.Key()) })
	return out, nil
}

// UpsertLineItems replaces line items by key.
func (m *Memory) UpsertLineItems(items ...model.LineItem) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, li := range items {
		m.lineItems[li.Key()] = li
	}
}

// ActiveLineItems returns items with the given status that have not ended before notExpiredBefore.
func (m *Memory) ActiveLineItems(ctx context.Context, status string, notExpiredBefore time.Time) ([]model.LineItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.LineItem, 0, len(m.lineItems))
	for _, li := range m.lineItems {
		if li.Status != status {
			continue
		}
		if !li.EndTime.IsZero() && li.EndTime.Before(notExpiredBefore) {
			continue
		}
		out = append(out, li)
	}
	slices.SortFunc(out, func(a, b model.LineItem) int { return cmp.Compare(a.Key(), b.Key()) })
	return out, nil
}

// LatestPlans returns copies of plans updated at or after updatedSince, ordered by host.
func (m *Memory) LatestPlans(ctx context.Context, updatedSince time.Time) ([]model.AllocationPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.AllocationPlan, 0, len(m.plans))
	for _, p := range m.plans {
		if p.UpdatedAt.Before(updatedSince) {
			continue
		}
		out = append(out, p.Clone())
	}
	slices.SortFunc(out, func(a, b model.AllocationPlan) int { return cmp.Compare(a.Host, b.Host) })
	return out, nil
}

// PersistPlans stages plans in batches of batchSize and commits them all at once,
// so plan readers see either the previous cycle or this one.
func (m *Memory) PersistPlans(ctx context.Context, plans []model.AllocationPlan, batchSize int) error {
	if batchSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBatchSize, batchSize)
	}
	staged := make(map[model.HostKey]model.AllocationPlan, len(plans))
	for batch := range slices.Chunk(plans, batchSize) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("persist aborted: %w", err)
		}
		for _, p := range batch {
			staged[p.Host] = p.Clone()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for host, p := range staged {
		m.plans[host] = p
	}
	return nil
}

// PlanForHost returns a copy of the host's committed plan.
func (m *Memory) PlanForHost(host model.HostKey) (model.AllocationPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.plans[host]
	if !ok {
		return model.AllocationPlan{}, fmt.Errorf("plan for host %s: %w", host, ErrNotFound)
	}
	return p.Clone(), nil
}

// Snapshot returns counts for monitoring/debugging.
func (m *Memory) Snapshot() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]int{
		"hosts":     len(m.hosts),
		"lineItems": len(m.lineItems),
		"plans":     len(m.plans),
	}
}
