package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTriggerNotFound = errors.New("trigger-not-found")
	ErrTriggerExists   = errors.New("trigger already exists")
)

// Машиночитаемые причины отказа. Одна и та же строка уходит вызывающему и в аудит.
const (
	ReasonTriggerNotFound      = "trigger-not-found"
	ReasonGlobalKill           = "kill-switch:global-enabled"
	ReasonTriggerKillPrefix    = "kill-switch:trigger:"
	ReasonTriggerDisabled      = "trigger-disabled:"
	ReasonPolicyDeniedPrefix   = "policy-denied:"
	ReasonRulesUnavailable     = "rules-unavailable"
	ReasonSimulationMissing    = "simulation-required:missing-or-invalid"
	ReasonSimulationMismatch   = "simulation-required:trigger-mismatch"
	ReasonSimulationPolicy     = "simulation-required:policy-failed"
	ReasonTokenIssuance        = "token-issuance-failed"
	ReasonBackendUnavailable   = "backend-unavailable:"
	ReasonBackendErrorPrefix   = "backend-error:"
	ReasonKillSwitchUnreadable = "kill-switch:state-unavailable"
	ReasonStoreError           = "store-error"
)

// RejectionKind классифицирует отказ для внешнего слоя (HTTP-код).
type RejectionKind string

const (
	KindNotFound    RejectionKind = "not_found"
	KindForbidden   RejectionKind = "forbidden"
	KindUnavailable RejectionKind = "unavailable"
	KindInternal    RejectionKind = "internal"
)

// Rejection: типизированный исход отказа диспетчера.
type Rejection struct {
	Reason string
	Kind   RejectionKind
	Cause  error
}

func (r *Rejection) Error() string {
	if r.Cause != nil {
		return fmt.Sprintf("%s: %v", r.Reason, r.Cause)
	}
	return r.Reason
}

func (r *Rejection) Unwrap() error {
	return r.Cause
}

func Reject(kind RejectionKind, reason string, cause error) *Rejection {
	return &Rejection{Reason: reason, Kind: kind, Cause: cause}
}

// ReasonOf достает машиночитаемую причину из любой ошибки цепочки.
func ReasonOf(err error) string {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Reason
	}
	if errors.Is(err, ErrTriggerNotFound) {
		return ReasonTriggerNotFound
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError собирает все нарушения, а не только первое.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

// OrNil возвращает nil, если нарушений нет.
func (e *ValidationError) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
