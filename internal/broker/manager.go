package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/quantpipe/strategy-gate/pkg/types"
	"go.uber.org/zap"
)

// Factory lazily constructs a broker instance by name.
type Factory func() (Broker, error)

// BrokerHealth is one broker's health report as seen by the manager
type BrokerHealth struct {
	HealthStatus
	IsPrimary bool `json:"isPrimary"`
	IsCurrent bool `json:"isCurrent"`
}

// Manager selects a healthy broker with automatic failover. Instances are
// created lazily and cached by name for the process lifetime; the currently
// selected broker is cached until it fails a health check. Safe for
// concurrent use by independent pipeline runs.
type Manager struct {
	mu          sync.Mutex
	logger      *zap.Logger
	cfg         types.BrokerConfig
	factories   map[string]Factory
	instances   map[string]Broker
	current     Broker
	currentName string
	onFailover  func(from, to string)
}

// NewManager creates a broker manager. Factories are registered separately.
func NewManager(logger *zap.Logger, cfg types.BrokerConfig) *Manager {
	return &Manager{
		logger:    logger.Named("broker_manager"),
		cfg:       cfg,
		factories: make(map[string]Factory),
		instances: make(map[string]Broker),
	}
}

// Register adds a broker factory under a name referenced by the config.
func (m *Manager) Register(name string, factory Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[name] = factory
}

// OnFailover installs a hook invoked when selection moves off the current
// broker. Used for telemetry.
func (m *Manager) OnFailover(fn func(from, to string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFailover = fn
}

// GetBroker returns a healthy broker: the cached current broker if it still
// passes its health check (unless forceRefresh), else the primary, else each
// configured failover in order. Returns ErrNoBrokerAvailable when every
// candidate is unhealthy.
func (m *Manager) GetBroker(ctx context.Context, forceRefresh bool) (Broker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !forceRefresh && m.current != nil {
		if m.checkHealth(ctx, m.current, m.currentName) {
			return m.current, nil
		}
		m.logger.Warn("Current broker became unhealthy, reselecting",
			zap.String("broker", m.currentName))
	}

	broker, name, err := m.selectBroker(ctx)
	if err != nil {
		m.current = nil
		m.currentName = ""
		return nil, err
	}

	if m.currentName != "" && m.currentName != name && m.onFailover != nil {
		m.onFailover(m.currentName, name)
	}
	m.current = broker
	m.currentName = name
	return broker, nil
}

// CurrentBrokerName returns the name of the currently selected broker, or
// empty when none has been selected.
func (m *Manager) CurrentBrokerName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentName
}

// BrokerByName returns a specific broker instance, bypassing selection.
func (m *Manager) BrokerByName(name string) (Broker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instance(name)
}

// AllHealth probes every configured broker and reports detailed status.
func (m *Manager) AllHealth(ctx context.Context) map[string]BrokerHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := make(map[string]BrokerHealth)
	names := append([]string{m.cfg.Primary}, m.cfg.Failovers...)

	for i, name := range names {
		if name == "" {
			continue
		}
		if _, seen := report[name]; seen {
			continue
		}

		broker, err := m.instance(name)
		if err != nil {
			report[name] = BrokerHealth{
				HealthStatus: HealthStatus{Healthy: false, Error: err.Error()},
				IsPrimary:    i == 0,
			}
			continue
		}
		report[name] = BrokerHealth{
			HealthStatus: broker.HealthStatus(ctx),
			IsPrimary:    i == 0,
			IsCurrent:    m.currentName == name,
		}
	}
	return report
}

// selectBroker tries the primary then each failover in order. Caller holds
// the lock.
func (m *Manager) selectBroker(ctx context.Context) (Broker, string, error) {
	if broker, ok := m.tryBroker(ctx, m.cfg.Primary); ok {
		m.logger.Info("Using primary broker", zap.String("broker", m.cfg.Primary))
		return broker, m.cfg.Primary, nil
	}

	if m.cfg.FailoverEnabled {
		m.logger.Warn("Primary broker unavailable, trying failovers",
			zap.String("primary", m.cfg.Primary),
			zap.Strings("failovers", m.cfg.Failovers))

		for _, name := range m.cfg.Failovers {
			if name == "" {
				continue
			}
			if broker, ok := m.tryBroker(ctx, name); ok {
				m.logger.Info("Using failover broker",
					zap.String("broker", name),
					zap.String("primary", m.cfg.Primary))
				return broker, name, nil
			}
			m.logger.Warn("Failover broker unavailable", zap.String("broker", name))
		}
	}

	m.logger.Error("All brokers unavailable",
		zap.String("primary", m.cfg.Primary),
		zap.Strings("failovers", m.cfg.Failovers))
	return nil, "", fmt.Errorf("%w: primary %q, failovers %v",
		ErrNoBrokerAvailable, m.cfg.Primary, m.cfg.Failovers)
}

func (m *Manager) tryBroker(ctx context.Context, name string) (Broker, bool) {
	if name == "" {
		return nil, false
	}
	broker, err := m.instance(name)
	if err != nil {
		m.logger.Error("Failed to create broker",
			zap.String("broker", name),
			zap.Error(err))
		return nil, false
	}
	if !m.checkHealth(ctx, broker, name) {
		return nil, false
	}
	return broker, true
}

// instance returns the cached broker or creates it. Caller holds the lock.
func (m *Manager) instance(name string) (Broker, error) {
	if broker, ok := m.instances[name]; ok {
		return broker, nil
	}
	factory, ok := m.factories[name]
	if !ok {
		return nil, fmt.Errorf("broker type %q is not registered", name)
	}
	broker, err := factory()
	if err != nil {
		return nil, fmt.Errorf("create broker %q: %w", name, err)
	}
	m.instances[name] = broker
	m.logger.Info("Created broker instance", zap.String("broker", name))
	return broker, nil
}

// checkHealth probes a broker, converting panics to unhealthy. Health checks
// must never take a selection down with them.
func (m *Manager) checkHealth(ctx context.Context, broker Broker, name string) (healthy bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("Broker health check panicked",
				zap.String("broker", name),
				zap.Any("panic", r))
			healthy = false
		}
	}()

	healthy = broker.HealthCheck(ctx)
	if !healthy {
		m.logger.Warn("Broker health check failed", zap.String("broker", name))
	}
	return healthy
}
