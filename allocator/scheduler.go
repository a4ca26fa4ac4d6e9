package allocator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"token-reallocator/metrics"
	"token-reallocator/model"
	"token-reallocator/queues"
	"token-reallocator/stats"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrCycleSkipped marks a cycle abandoned for lack of input; it is not a failure.
	ErrCycleSkipped = errors.New("reallocation cycle skipped")
	// ErrCycleInFlight is returned when a cycle is requested while one is running.
	ErrCycleInFlight = errors.New("reallocation cycle already running")
)

type State int32

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	default:
		return "Unknown"
	}
}

type LineItemSource interface {
	ActiveLineItems(ctx context.Context, status string, notExpiredBefore time.Time) ([]model.LineItem, error)
}

type HostSource interface {
	ActiveHosts(ctx context.Context, activeSince time.Time) ([]model.Host, error)
}

type PlanStore interface {
	LatestPlans(ctx context.Context, updatedSince time.Time) ([]model.AllocationPlan, error)
	PersistPlans(ctx context.Context, plans []model.AllocationPlan, batchSize int) error
}

type SnapshotSource interface {
	Current() *stats.Snapshot
}

type SchedulerConfig struct {
	InitialDelay     time.Duration
	Period           time.Duration
	ExpiryHorizon    time.Duration
	HostActiveWindow time.Duration
	PlanFreshness    time.Duration
	BatchSize        int
}

// Scheduler runs reallocation cycles on a timer. Only one cycle is ever in flight.
type Scheduler struct {
	cfg       SchedulerConfig
	algorithm *Algorithm
	lineItems LineItemSource
	hosts     HostSource
	plans     PlanStore
	snapshots SnapshotSource
	publisher queues.Publisher // optional
	now       func() time.Time

	state       atomic.Int32
	ready       atomic.Bool
	lastSuccess atomic.Int64
}

func NewScheduler(cfg SchedulerConfig, alg *Algorithm, li LineItemSource, hosts HostSource, plans PlanStore, snapshots SnapshotSource, p queues.Publisher) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		algorithm: alg,
		lineItems: li,
		hosts:     hosts,
		plans:     plans,
		snapshots: snapshots,
		publisher: p,
		now:       time.Now,
	}
}

func (s *Scheduler) State() State { return State(s.state.Load()) }

// Ready reports whether a cycle has completed without failure.
func (s *Scheduler) Ready() bool { return s.ready.Load() }

func (s *Scheduler) LastSuccess() time.Time {
	ns := s.lastSuccess.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Run waits InitialDelay, then runs a cycle every Period until ctx is done.
// The timer is rearmed only after a cycle finishes; the next tick is the retry.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(s.cfg.InitialDelay)
	defer timer.Stop()
	log.Info().Dur("initialDelay", s.cfg.InitialDelay).Dur("period", s.cfg.Period).Msg("scheduler: started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler: stopped")
			return
		case <-timer.C:
			_ = s.RunOnce(ctx)
			timer.Reset(s.cfg.Period)
		}
	}
}

// RunOnce performs a single reallocation cycle. Skips are reported as ErrCycleSkipped.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrCycleInFlight
	}
	defer s.state.Store(int32(StateIdle))

	cycleID := uuid.NewString()
	start := s.now()
	err := s.runCycle(ctx, cycleID, start)
	s.recordOutcome(cycleID, start, err)
	return err
}

func (s *Scheduler) recordOutcome(cycleID string, start time.Time, err error) {
	duration := s.now().Sub(start)
	metrics.CycleDuration.Observe(duration.Seconds())
	switch {
	case err == nil:
		metrics.CyclesTotal.WithLabelValues("success").Inc()
		s.ready.Store(true)
		s.lastSuccess.Store(s.now().UnixNano())
		log.Info().Str("cycleId", cycleID).Dur("duration", duration).Msg("scheduler: cycle committed")
	case errors.Is(err, ErrCycleSkipped):
		metrics.CyclesTotal.WithLabelValues("skipped").Inc()
		s.ready.Store(true)
		log.Info().Str("cycleId", cycleID).Str("reason", err.Error()).Msg("scheduler: cycle skipped")
	default:
		metrics.CyclesTotal.WithLabelValues("failure").Inc()
		log.Error().Err(err).Str("cycleId", cycleID).Dur("duration", duration).Msg("scheduler: cycle failed; waiting for next tick")
	}
}

func (s *Scheduler) runCycle(ctx context.Context, cycleID string, now time.Time) error {
	lineItems, err := s.lineItems.ActiveLineItems(ctx, model.LineItemStatusActive, now.Add(-s.cfg.ExpiryHorizon))
	if err != nil {
		return fmt.Errorf("fetch active line items: %w", err)
	}
	if len(lineItems) == 0 {
		return fmt.Errorf("%w: no active line items", ErrCycleSkipped)
	}

	hosts, err := s.hosts.ActiveHosts(ctx, now.Add(-s.cfg.HostActiveWindow))
	if err != nil {
		return fmt.Errorf("fetch active hosts: %w", err)
	}
	if len(hosts) == 0 {
		return fmt.Errorf("%w: no active hosts", ErrCycleSkipped)
	}

	previous, err := s.plans.LatestPlans(ctx, now.Add(-s.cfg.PlanFreshness))
	if err != nil {
		return fmt.Errorf("fetch previous plans: %w", err)
	}
	feedback := s.snapshots.Current().Reports()

	// With no history, seed even baseline weights before comparing live feedback against them.
	if len(previous) == 0 && len(feedback) > 0 {
		log.Info().Str("cycleId", cycleID).Msg("scheduler: no previous plans; seeding baseline")
		previous, err = s.algorithm.Calculate(nil, nil, lineItems, hosts)
		if err != nil {
			return fmt.Errorf("seed baseline plans: %w", err)
		}
	}

	plans, err := s.algorithm.Calculate(feedback, previous, lineItems, hosts)
	if err != nil {
		return fmt.Errorf("calculate plans: %w", err)
	}
	for i := range plans {
		plans[i].UpdatedAt = now
	}

	if err := s.plans.PersistPlans(ctx, plans, s.cfg.BatchSize); err != nil {
		return fmt.Errorf("persist plans: %w", err)
	}
	metrics.PlansPersisted.Add(float64(len(plans)))
	log.Debug().Str("cycleId", cycleID).Int("hosts", len(plans)).Int("lineItems", len(lineItems)).Int("reports", len(feedback)).Msg("scheduler: plans persisted")

	s.announce(ctx, cycleID, len(plans), len(lineItems), now)
	return nil
}

// announce publishes a PlanCommitted event. Plans are already committed, so failures only log.
func (s *Scheduler) announce(ctx context.Context, cycleID string, hosts, lineItems int, at time.Time) {
	if s.publisher == nil {
		return
	}
	ev := &queues.PlanCommitted{
		EnvelopeVersion: "1.0",
		Type:            "plan-committed",
		CycleID:         cycleID,
		Hosts:           hosts,
		LineItems:       lineItems,
		CommittedAt:     at,
	}
	if err := s.publisher.PublishPlanCommitted(ctx, ev); err != nil {
		log.Error().Err(err).Str("cycleId", cycleID).Msg("scheduler: failed to publish plan-committed event")
	}
}
