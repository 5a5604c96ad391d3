package tiered

import (
	"sync"
	"time"

	"github.com/menoncello/standards-cache/internal/config"
)

// EventRecorder is the narrow slice of internal/analytics.Recorder the SLA
// monitor needs to emit sla_violation events.
type EventRecorder interface {
	Record(eventType, standardID string, metadata map[string]interface{}, duration time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) Record(string, string, map[string]interface{}, time.Duration) {}

type sample struct {
	at       time.Time
	tier     string
	duration time.Duration
	violated bool
}

// SLAMonitor tracks a rolling window of per-tier response times and
// emits an sla_violation analytics event when the violation rate within
// the window crosses the configured threshold, window-bounded so a
// historical burst of slow responses doesn't permanently poison the
// health signal.
type SLAMonitor struct {
	mu       sync.Mutex
	cfg      config.SLAMonitoringConfig
	recorder EventRecorder
	now      func() time.Time
	samples  []sample
}

// NewSLAMonitor creates a monitor. A nil recorder is replaced with a
// no-op, since analytics recording must never block the caller.
func NewSLAMonitor(cfg config.SLAMonitoringConfig, recorder EventRecorder) *SLAMonitor {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &SLAMonitor{cfg: cfg, recorder: recorder, now: time.Now}
}

// Observe records one timed operation against its tier's target latency.
// When the monitor is disabled this is a cheap no-op.
func (m *SLAMonitor) Observe(tier string, duration, target time.Duration) {
	if !m.cfg.Enabled {
		return
	}

	m.mu.Lock()
	now := m.now()
	m.samples = append(m.samples, sample{at: now, tier: tier, duration: duration, violated: duration > target})
	m.prune(now)

	total := 0
	violations := 0
	for _, s := range m.samples {
		if s.tier != tier {
			continue
		}
		total++
		if s.violated {
			violations++
		}
	}
	m.mu.Unlock()

	if total == 0 {
		return
	}
	rate := float64(violations) / float64(total) * 100
	if rate > float64(m.cfg.ViolationThreshold) {
		m.recorder.Record("sla_violation", "", map[string]interface{}{
			"tier":              tier,
			"violation_rate":    rate,
			"threshold_percent": m.cfg.ViolationThreshold,
			"window_samples":    total,
		}, duration)
	}
}

// prune drops samples older than the monitoring window. Caller must hold
// m.mu.
func (m *SLAMonitor) prune(now time.Time) {
	window := m.cfg.MonitoringWindow
	if window <= 0 {
		return
	}
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(m.samples); i++ {
		if m.samples[i].at.After(cutoff) {
			break
		}
	}
	m.samples = m.samples[i:]
}

// ViolationRate returns the current window's violation rate for tier, as
// a percentage, for diagnostics/get_stats.
func (m *SLAMonitor) ViolationRate(tier string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune(m.now())

	total := 0
	violations := 0
	for _, s := range m.samples {
		if s.tier != tier {
			continue
		}
		total++
		if s.violated {
			violations++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(violations) / float64(total) * 100
}
