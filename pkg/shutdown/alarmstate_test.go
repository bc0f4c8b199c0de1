// SPDX-License-Identifier: BSD-3-Clause

package shutdown

import (
	"context"
	"testing"
)

func TestAlarmFSMClearedPath(t *testing.T) {
	ctx := context.Background()
	fsm := newAlarmFSM()

	if got := fsm.state(ctx); got != alarmStateArmed {
		t.Fatalf("initial state = %q, want %q", got, alarmStateArmed)
	}
	if err := fsm.fire(ctx, alarmTriggerStartCountdown); err != nil {
		t.Fatalf("start_countdown: %v", err)
	}
	if got := fsm.state(ctx); got != alarmStateCountingDown {
		t.Fatalf("state after start_countdown = %q, want %q", got, alarmStateCountingDown)
	}
	if err := fsm.fire(ctx, alarmTriggerClear); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got := fsm.state(ctx); got != alarmStateCleared {
		t.Fatalf("state after clear = %q, want %q", got, alarmStateCleared)
	}
	if err := fsm.fire(ctx, alarmTriggerExpire); err == nil {
		t.Fatalf("expected expire from a terminal cleared state to fail")
	}
}

func TestAlarmFSMTriggeredPath(t *testing.T) {
	ctx := context.Background()
	fsm := newAlarmFSM()

	if err := fsm.fire(ctx, alarmTriggerStartCountdown); err != nil {
		t.Fatalf("start_countdown: %v", err)
	}
	if err := fsm.fire(ctx, alarmTriggerExpire); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if got := fsm.state(ctx); got != alarmStateTriggered {
		t.Fatalf("state after expire = %q, want %q", got, alarmStateTriggered)
	}
}

func TestAlarmFSMRejectsExpireBeforeCountdown(t *testing.T) {
	ctx := context.Background()
	fsm := newAlarmFSM()

	if err := fsm.fire(ctx, alarmTriggerExpire); err == nil {
		t.Fatalf("expected expire from armed (no countdown started) to fail")
	}
}
