package domain

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// RepairTask порождается сверкой и живет только в аудите.
type RepairTask struct {
	TriggerID       string   `json:"trigger_id"`
	Issue           string   `json:"issue"`
	Severity        Severity `json:"severity"`
	SuggestedAction string   `json:"suggested_action"`
}

// Payload: представление задачи для вложения в payload запуска.
func (t RepairTask) Payload() map[string]any {
	return map[string]any{
		"trigger_id":       t.TriggerID,
		"issue":            t.Issue,
		"severity":         string(t.Severity),
		"suggested_action": t.SuggestedAction,
	}
}
