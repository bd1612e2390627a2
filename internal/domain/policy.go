package domain

import "time"

// PolicyEffect определяет, что делать с запуском при совпадении правила.
type PolicyEffect string

const (
	EffectAllow         PolicyEffect = "allow"
	EffectDeny          PolicyEffect = "deny"
	EffectDenyIfMissing PolicyEffect = "deny-if-missing"
)

// PolicyRule: упорядоченное правило PDP. Побеждает первое совпавшее.
type PolicyRule struct {
	ID          string         `json:"id" yaml:"id"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	When        map[string]any `json:"when,omitempty" yaml:"when,omitempty"`
	Effect      PolicyEffect   `json:"effect" yaml:"effect"`

	// Require: dot-path'ы в payload, обязательные для deny-if-missing.
	Require           []string `json:"require,omitempty" yaml:"require,omitempty"`
	RequireSimulation bool     `json:"require_simulation,omitempty" yaml:"require_simulation,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty" yaml:"-"`
}

// Decision: результат оценки политики.
type Decision struct {
	Allowed           bool   `json:"allowed"`
	Reason            string `json:"reason,omitempty"`
	Rule              string `json:"rule,omitempty"`
	RequireSimulation bool   `json:"require_simulation,omitempty"`
}

// DefaultRuleID: правило неявного allow, когда ничего не совпало.
const DefaultRuleID = "default"
