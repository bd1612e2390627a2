package reconciler

import (
	"github.com/xela07ax/spaceai-control-plane/internal/domain"
	"github.com/xela07ax/spaceai-control-plane/internal/policy"
)

// DetectionRule сопоставляет имя триггера с известной проблемой.
// Match понимает те же шаблоны, что и правила политик: точное значение, "*", "re:<regexp>".
type DetectionRule struct {
	Match    string          `json:"match" yaml:"match" mapstructure:"match"`
	Issue    string          `json:"issue" yaml:"issue" mapstructure:"issue"`
	Severity domain.Severity `json:"severity" yaml:"severity" mapstructure:"severity"`
	Action   string          `json:"action" yaml:"action" mapstructure:"action"`
}

// DefaultRules: встроенная эвристика: низкий остаток на складе чинится дозаказом.
var DefaultRules = []DetectionRule{
	{Match: "inventory.low_stock", Issue: "stock-below-threshold", Severity: domain.SeverityMedium, Action: "reorder"},
}

type compiledRule struct {
	DetectionRule
	pattern policy.Pattern
}

// Detector проверяет триггеры по упорядоченному списку правил. Побеждает первое совпавшее.
type Detector struct {
	rules []compiledRule
}

// NewDetector отбрасывает правила без issue или с неизвестной severity.
func NewDetector(rules []DetectionRule) *Detector {
	if rules == nil {
		rules = DefaultRules
	}
	d := &Detector{}
	for _, r := range rules {
		if r.Issue == "" || !r.Severity.Valid() {
			continue
		}
		d.rules = append(d.rules, compiledRule{DetectionRule: r, pattern: policy.ParsePattern(r.Match)})
	}
	return d
}

// Detect возвращает задачу на ремонт или nil, если с триггером все в порядке.
func (d *Detector) Detect(t *domain.Trigger) *domain.RepairTask {
	for _, r := range d.rules {
		if !r.pattern.Match(t.Name, true) {
			continue
		}
		return &domain.RepairTask{
			TriggerID:       t.ID,
			Issue:           r.Issue,
			Severity:        r.Severity,
			SuggestedAction: r.Action,
		}
	}
	return nil
}
