package domain

import "time"

type TriggerType string

const (
	TriggerCron    TriggerType = "cron"
	TriggerEvent   TriggerType = "event"
	TriggerWebhook TriggerType = "webhook"
	TriggerManual  TriggerType = "manual"
)

// Valid проверяет принадлежность к перечислению.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerCron, TriggerEvent, TriggerWebhook, TriggerManual:
		return true
	}
	return false
}

type SafetyLevel string

const (
	SafetyLow    SafetyLevel = "low"
	SafetyMedium SafetyLevel = "medium"
	SafetyHigh   SafetyLevel = "high"
)

func (s SafetyLevel) Valid() bool {
	switch s {
	case SafetyLow, SafetyMedium, SafetyHigh:
		return true
	}
	return false
}

// Значения по умолчанию при регистрации триггера.
const (
	DefaultMaxRetries      = 5
	DefaultBackoffStrategy = "exponential"
	DefaultRateQPS         = 10
	DefaultRateBurst       = 50
	DefaultScope           = "default:execute"
)

type RateLimit struct {
	QPS   float64 `json:"qps"`
	Burst int     `json:"burst"`
}

// TriggerSource описывает, куда и как отправлять исполнение.
type TriggerSource struct {
	Type         string   `json:"type,omitempty"`         // произвольная метка источника (например, "erp")
	Orchestrator string   `json:"orchestrator,omitempty"` // "temporal", "dag", "echo"; пусто: бэкенд по умолчанию
	Workflow     string   `json:"workflow,omitempty"`     // имя манифеста/воркфлоу в бэкенде
	Scopes       []string `json:"scopes,omitempty"`       // скоупы токена исполнения
}

// Trigger: зарегистрированная автоматизация.
type Trigger struct {
	ID                  string        `json:"id"`
	Name                string        `json:"name"`
	Owner               string        `json:"owner"`
	Type                TriggerType   `json:"type"`
	Schedule            string        `json:"schedule,omitempty"` // cron-выражение, только хранится
	Source              TriggerSource `json:"source"`
	IdempotencyRequired bool          `json:"idempotency_required"`
	MaxRetries          int           `json:"max_retries"`
	BackoffStrategy     string        `json:"backoff_strategy"`
	RateLimit           RateLimit     `json:"rate_limit"`
	DataScope           string        `json:"data_scope,omitempty"`
	SafetyLevel         SafetyLevel   `json:"safety_level"`
	SimulationRequired  bool          `json:"simulation_required"`
	Enabled             bool          `json:"enabled"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"` // soft delete
}

// IsDeleted: удаленные триггеры не видны ни в выборках, ни в сверке.
func (t *Trigger) IsDeleted() bool {
	return t.DeletedAt != nil
}

// WorkflowName возвращает имя воркфлоу в бэкенде, по умолчанию: имя триггера.
func (t *Trigger) WorkflowName() string {
	if t.Source.Workflow != "" {
		return t.Source.Workflow
	}
	return t.Name
}

// ExecutionScopes: скоупы для токена исполнения.
func (t *Trigger) ExecutionScopes() []string {
	if len(t.Source.Scopes) == 0 {
		return []string{DefaultScope}
	}
	out := make([]string, len(t.Source.Scopes))
	copy(out, t.Source.Scopes)
	return out
}

// View: плоское представление триггера для dot-path матчинга политик.
// Ключи совпадают с JSON-тегами. Незаданные необязательные поля в view отсутствуют,
// чтобы dot-path по ним уходил в payload.
func (t *Trigger) View() map[string]any {
	source := map[string]any{}
	putString(source, "type", t.Source.Type)
	putString(source, "orchestrator", t.Source.Orchestrator)
	putString(source, "workflow", t.Source.Workflow)
	if len(t.Source.Scopes) > 0 {
		scopes := make([]any, 0, len(t.Source.Scopes))
		for _, s := range t.Source.Scopes {
			scopes = append(scopes, s)
		}
		source["scopes"] = scopes
	}

	view := map[string]any{
		"id":                   t.ID,
		"name":                 t.Name,
		"owner":                t.Owner,
		"type":                 string(t.Type),
		"source":               source,
		"idempotency_required": t.IdempotencyRequired,
		"max_retries":          float64(t.MaxRetries),
		"backoff_strategy":     t.BackoffStrategy,
		"rate_limit": map[string]any{
			"qps":   t.RateLimit.QPS,
			"burst": float64(t.RateLimit.Burst),
		},
		"safety_level":        string(t.SafetyLevel),
		"simulation_required": t.SimulationRequired,
		"enabled":             t.Enabled,
	}
	putString(view, "schedule", t.Schedule)
	putString(view, "data_scope", t.DataScope)
	return view
}

func putString(m map[string]any, key, v string) {
	if v != "" {
		m[key] = v
	}
}

// TriggerPatch: частичное обновление. nil означает "не менять".
type TriggerPatch struct {
	Name                *string        `json:"name,omitempty"`
	Owner               *string        `json:"owner,omitempty"`
	Type                *TriggerType   `json:"type,omitempty"`
	Schedule            *string        `json:"schedule,omitempty"`
	Source              *TriggerSource `json:"source,omitempty"`
	IdempotencyRequired *bool          `json:"idempotency_required,omitempty"`
	MaxRetries          *int           `json:"max_retries,omitempty"`
	BackoffStrategy     *string        `json:"backoff_strategy,omitempty"`
	RateLimit           *RateLimit     `json:"rate_limit,omitempty"`
	DataScope           *string        `json:"data_scope,omitempty"`
	SafetyLevel         *SafetyLevel   `json:"safety_level,omitempty"`
	SimulationRequired  *bool          `json:"simulation_required,omitempty"`
	Enabled             *bool          `json:"enabled,omitempty"`
}

// Apply сливает патч в копию триггера.
func (p TriggerPatch) Apply(t Trigger) Trigger {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Owner != nil {
		t.Owner = *p.Owner
	}
	if p.Type != nil {
		t.Type = *p.Type
	}
	if p.Schedule != nil {
		t.Schedule = *p.Schedule
	}
	if p.Source != nil {
		t.Source = *p.Source
	}
	if p.IdempotencyRequired != nil {
		t.IdempotencyRequired = *p.IdempotencyRequired
	}
	if p.MaxRetries != nil {
		t.MaxRetries = *p.MaxRetries
	}
	if p.BackoffStrategy != nil {
		t.BackoffStrategy = *p.BackoffStrategy
	}
	if p.RateLimit != nil {
		t.RateLimit = *p.RateLimit
	}
	if p.DataScope != nil {
		t.DataScope = *p.DataScope
	}
	if p.SafetyLevel != nil {
		t.SafetyLevel = *p.SafetyLevel
	}
	if p.SimulationRequired != nil {
		t.SimulationRequired = *p.SimulationRequired
	}
	if p.Enabled != nil {
		t.Enabled = *p.Enabled
	}
	return t
}

// TriggerDraft: входные данные регистрации: id опционален, остальное как в патче.
type TriggerDraft struct {
	ID string `json:"id,omitempty"`
	TriggerPatch
}
