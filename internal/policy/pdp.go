// Package policy: Policy Decision Point: упорядоченные правила, первое совпадение решает.
package policy

/*
Порядок проверки when:
  1. Шорткаты name, source.type, safety_level, owner сверяются с полями триггера.
  2. Остальные ключи: dot-path по представлению триггера; если путь там не определен,
     значение ищется в payload.
Пустой when совпадает всегда. Без совпадений: allow с правилом "default".
Сначала нужно ставить узкие deny-правила, потом широкие allow.
*/

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-control-plane/internal/domain"
)

var shorthandKeys = []string{"name", "source.type", "safety_level", "owner"}

type PDP struct {
	source RuleSource
	logger *zap.Logger
}

func NewPDP(source RuleSource, logger *zap.Logger) *PDP {
	return &PDP{source: source, logger: logger.Named("pdp")}
}

// Evaluate возвращает решение. Ошибка означает, что правила не загрузились, и вызывающий обязан отказать.
func (p *PDP) Evaluate(ctx context.Context, trigger *domain.Trigger, payload map[string]any) (domain.Decision, error) {
	rules, err := p.source.Rules(ctx)
	if err != nil {
		p.logger.Error("policy rules unavailable", zap.Error(err))
		return domain.Decision{}, fmt.Errorf("policy: load rules: %w", err)
	}

	view := trigger.View()
	for _, rule := range rules {
		if !matches(rule, trigger, view, payload) {
			continue
		}
		d := decide(rule, payload)
		p.logger.Debug("policy matched",
			zap.String("trigger", trigger.ID),
			zap.String("rule", rule.ID),
			zap.Bool("allowed", d.Allowed),
			zap.String("reason", d.Reason),
		)
		return d, nil
	}

	return domain.Decision{Allowed: true, Rule: domain.DefaultRuleID}, nil
}

func decide(rule domain.PolicyRule, payload map[string]any) domain.Decision {
	switch rule.Effect {
	case domain.EffectAllow:
		return domain.Decision{Allowed: true, Rule: rule.ID, RequireSimulation: rule.RequireSimulation}
	case domain.EffectDenyIfMissing:
		for _, path := range rule.Require {
			v, ok := Resolve(payload, path)
			if Falsy(v, ok) {
				return domain.Decision{Allowed: false, Rule: rule.ID, Reason: rule.ID + ":missing:" + path}
			}
		}
		return domain.Decision{Allowed: true, Rule: rule.ID, RequireSimulation: rule.RequireSimulation}
	default:
		reason := rule.Description
		if reason == "" {
			reason = rule.ID
		}
		allowed := rule.Effect != domain.EffectDeny
		return domain.Decision{
			Allowed:           allowed,
			Rule:              rule.ID,
			Reason:            reason,
			RequireSimulation: allowed && rule.RequireSimulation,
		}
	}
}

func matches(rule domain.PolicyRule, trigger *domain.Trigger, view, payload map[string]any) bool {
	if len(rule.When) == 0 {
		return true
	}

	for _, key := range shorthandKeys {
		raw, ok := rule.When[key]
		if !ok {
			continue
		}
		if !ParsePattern(raw).Match(shorthandValue(trigger, key), true) {
			return false
		}
	}

	rest := make([]string, 0, len(rule.When))
	for key := range rule.When {
		if !isShorthand(key) {
			rest = append(rest, key)
		}
	}
	// стабильный порядок для воспроизводимых логов
	sort.Strings(rest)

	for _, key := range rest {
		dp := DotPath{Path: key, Pattern: ParsePattern(rule.When[key])}
		v, ok := Resolve(view, dp.Path)
		if !ok {
			v, ok = Resolve(payload, dp.Path)
		}
		if !dp.Pattern.Match(v, ok) {
			return false
		}
	}
	return true
}

func shorthandValue(t *domain.Trigger, key string) string {
	switch key {
	case "name":
		return t.Name
	case "source.type":
		return t.Source.Type
	case "safety_level":
		return string(t.SafetyLevel)
	case "owner":
		return t.Owner
	}
	return ""
}

func isShorthand(key string) bool {
	for _, k := range shorthandKeys {
		if k == key {
			return true
		}
	}
	return false
}
