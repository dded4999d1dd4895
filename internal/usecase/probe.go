package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"dispatch-ai/internal/infra/metrics"
)

// probeTimeout bounds a single scheduled probe.
const probeTimeout = 30 * time.Second

// Prober checks whether an upstream is reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// ReachabilityStatus is the latest probe result.
type ReachabilityStatus struct {
	Checked   bool      `json:"checked"`
	Reachable bool      `json:"reachable"`
	CheckedAt time.Time `json:"checked_at,omitzero"`
	Error     string    `json:"error,omitempty"`
}

// ReachabilityMonitor probes the control server on a cron schedule and keeps
// the latest result for health reporting.
type ReachabilityMonitor struct {
	prober   Prober
	schedule cron.Schedule
	cron     *cron.Cron
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	status  ReachabilityStatus
	started bool
	cancel  context.CancelFunc
}

// NewReachabilityMonitor creates a monitor. It does nothing until Start.
func NewReachabilityMonitor(prober Prober, schedule cron.Schedule, logger *slog.Logger) *ReachabilityMonitor {
	return &ReachabilityMonitor{
		prober:   prober,
		schedule: schedule,
		logger:   logger,
		now:      time.Now,
	}
}

// SetMetrics attaches a metrics sink.
func (m *ReachabilityMonitor) SetMetrics(mt *metrics.Metrics) { m.metrics = mt }

// Check probes once and records the result.
func (m *ReachabilityMonitor) Check(ctx context.Context) ReachabilityStatus {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	err := m.prober.Probe(ctx)
	st := ReachabilityStatus{
		Checked:   true,
		Reachable: err == nil,
		CheckedAt: m.now().UTC(),
	}
	if err != nil {
		st.Error = err.Error()
	}

	m.mu.Lock()
	prev := m.status
	m.status = st
	m.mu.Unlock()

	m.metrics.SetControlReachable(st.Reachable)
	switch {
	case !st.Reachable && (prev.Reachable || !prev.Checked):
		m.logger.WarnContext(ctx, "control server unreachable", "error", st.Error)
	case st.Reachable && !prev.Reachable:
		m.logger.InfoContext(ctx, "control server reachable")
	}
	return st
}

// Status returns the latest recorded result.
func (m *ReachabilityMonitor) Status() ReachabilityStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Start probes once immediately, then on every tick of the schedule until
// ctx is cancelled or Stop is called.
func (m *ReachabilityMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	var runCtx context.Context
	runCtx, m.cancel = context.WithCancel(ctx)
	m.cron = cron.New()
	m.cron.Schedule(m.schedule, cron.FuncJob(func() {
		if runCtx.Err() != nil {
			return
		}
		m.Check(runCtx)
	}))
	m.cron.Start()
	m.started = true
	m.mu.Unlock()

	m.Check(runCtx)
	m.logger.InfoContext(ctx, "reachability monitor started")
}

// Stop halts the schedule and waits for a running probe to finish.
func (m *ReachabilityMonitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.cancel()
	m.started = false
	c := m.cron
	m.mu.Unlock()

	<-c.Stop().Done()
}
