// SPDX-License-Identifier: BSD-3-Clause

package shutdown

import (
	"context"
	"fmt"
	"sync"

	"github.com/qmuntal/stateless"
)

const (
	alarmStateArmed        = "armed"
	alarmStateCountingDown = "countingDown"
	alarmStateTriggered    = "triggered"
	alarmStateCleared      = "cleared"

	alarmTriggerStartCountdown = "start_countdown"
	alarmTriggerExpire         = "expire"
	alarmTriggerClear          = "clear"
)

// alarmFSM tracks one armed alarm's armed -> countingDown -> {triggered,
// cleared} lifecycle. A fresh instance is created each time an alarm is
// asserted (see Monitor.startTimer); triggered and cleared are terminal.
type alarmFSM struct {
	mu      sync.Mutex
	machine *stateless.StateMachine
}

func newAlarmFSM() *alarmFSM {
	m := stateless.NewStateMachine(alarmStateArmed)
	m.Configure(alarmStateArmed).
		Permit(alarmTriggerStartCountdown, alarmStateCountingDown)
	m.Configure(alarmStateCountingDown).
		Permit(alarmTriggerExpire, alarmStateTriggered).
		Permit(alarmTriggerClear, alarmStateCleared)
	return &alarmFSM{machine: m}
}

func (a *alarmFSM) fire(ctx context.Context, trigger string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.machine.FireCtx(ctx, trigger); err != nil {
		return fmt.Errorf("shutdown: alarm state transition %q failed: %w", trigger, err)
	}
	return nil
}

func (a *alarmFSM) state(ctx context.Context) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, err := a.machine.State(ctx)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%v", s)
}
