package domain

import "time"

// TriggerKill: запись блокировки конкретного триггера.
type TriggerKill struct {
	Killed bool      `json:"killed"`
	Reason string    `json:"reason,omitempty"`
	By     string    `json:"by,omitempty"`
	At     time.Time `json:"at"`
}

// KillSwitchState хранится и перезаписывается целиком.
type KillSwitchState struct {
	Global       bool                   `json:"global"`
	GlobalReason string                 `json:"global_reason,omitempty"`
	GlobalBy     string                 `json:"global_by,omitempty"`
	GlobalAt     time.Time              `json:"global_at,omitempty"`
	Triggers     map[string]TriggerKill `json:"triggers"`
}

// Clone: глубокая копия, чтобы наружу не утекала ссылка на map.
func (s KillSwitchState) Clone() KillSwitchState {
	out := s
	out.Triggers = make(map[string]TriggerKill, len(s.Triggers))
	for k, v := range s.Triggers {
		out.Triggers[k] = v
	}
	return out
}

func (s KillSwitchState) TriggerKilled(id string) bool {
	k, ok := s.Triggers[id]
	return ok && k.Killed
}

// Actor: кто и почему переключает kill-switch.
type Actor struct {
	By     string `json:"by"`
	Reason string `json:"reason,omitempty"`
}
