package audit

import "time"

// Действия, которые пишет control plane.
const (
	ActionTriggerStart      = "trigger.start"
	ActionTriggerCreate     = "trigger.create"
	ActionTriggerUpdate     = "trigger.update"
	ActionTriggerDelete     = "trigger.delete"
	ActionKillGlobal        = "killswitch.global"
	ActionKillTrigger       = "killswitch.trigger"
	ActionReconcileDetect   = "reconciler.detect"
	ActionRepairRequired    = "reconciler.repair.required"
	ActionRepairScheduled   = "reconciler.repair.scheduled"
	ActionRepairSchedFailed = "reconciler.repair.schedule.failed"
	ActionSimulationWrite   = "simulation.write"
)

// Исходы.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
	OutcomeError    = "error"
	OutcomeDetected = "detected"
)

// Entry неизменяема после записи: только append, без update/delete.
type Entry struct {
	ID       string         `json:"id"`
	TraceID  string         `json:"trace_id,omitempty"`
	Time     time.Time      `json:"ts"`
	Action   string         `json:"action"`
	Actor    string         `json:"actor,omitempty"`
	TargetID string         `json:"target_id,omitempty"`
	Outcome  string         `json:"outcome,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
