package registry

import (
	"strings"

	"github.com/xela07ax/spaceai-control-plane/internal/domain"
)

// validateDraft проверяет черновик при регистрации и собирает все нарушения.
func validateDraft(d domain.TriggerDraft) error {
	verr := &domain.ValidationError{}

	if d.Name == nil || strings.TrimSpace(*d.Name) == "" {
		verr.Add("name", "is required")
	}
	if d.Owner == nil || strings.TrimSpace(*d.Owner) == "" {
		verr.Add("owner", "is required")
	}
	if d.Type == nil {
		verr.Add("type", "is required")
	} else if !d.Type.Valid() {
		verr.Add("type", "must be one of cron, event, webhook, manual")
	}
	checkOptional(verr, d.TriggerPatch)

	return verr.OrNil()
}

// validatePatch проверяет только переданные поля.
func validatePatch(p domain.TriggerPatch) error {
	verr := &domain.ValidationError{}

	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		verr.Add("name", "must not be empty")
	}
	if p.Owner != nil && strings.TrimSpace(*p.Owner) == "" {
		verr.Add("owner", "must not be empty")
	}
	if p.Type != nil && !p.Type.Valid() {
		verr.Add("type", "must be one of cron, event, webhook, manual")
	}
	checkOptional(verr, p)

	return verr.OrNil()
}

func checkOptional(verr *domain.ValidationError, p domain.TriggerPatch) {
	if p.SafetyLevel != nil && *p.SafetyLevel != "" && !p.SafetyLevel.Valid() {
		verr.Add("safety_level", "must be one of low, medium, high")
	}
	if p.MaxRetries != nil && *p.MaxRetries < 0 {
		verr.Add("max_retries", "must not be negative")
	}
	if p.RateLimit != nil {
		if p.RateLimit.QPS < 0 {
			verr.Add("rate_limit.qps", "must not be negative")
		}
		if p.RateLimit.Burst < 0 {
			verr.Add("rate_limit.burst", "must not be negative")
		}
	}
}
