package pipeline

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// KillSwitchState is a snapshot of the kill switch
type KillSwitchState struct {
	Active      bool      `json:"active"`
	Reason      string    `json:"reason,omitempty"`
	ActivatedAt time.Time `json:"activatedAt,omitempty"`
}

// KillSwitch is a process-wide gate that blocks new evaluation runs and order
// submission. Cancel operations stay available while it is active.
type KillSwitch struct {
	mu     sync.RWMutex
	logger *zap.Logger
	state  KillSwitchState
}

// NewKillSwitch creates an inactive kill switch.
func NewKillSwitch(logger *zap.Logger) *KillSwitch {
	return &KillSwitch{logger: logger.Named("killswitch")}
}

// Activate trips the switch. Idempotent; re-activating updates the reason.
func (k *KillSwitch) Activate(reason string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.state = KillSwitchState{
		Active:      true,
		Reason:      reason,
		ActivatedAt: time.Now().UTC(),
	}
	k.logger.Warn("Kill switch activated", zap.String("reason", reason))
}

// Deactivate clears the switch.
func (k *KillSwitch) Deactivate() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.state = KillSwitchState{}
	k.logger.Info("Kill switch deactivated")
}

// Active reports whether the switch is tripped.
func (k *KillSwitch) Active() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.state.Active
}

// State returns a snapshot of the switch.
func (k *KillSwitch) State() KillSwitchState {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.state
}
