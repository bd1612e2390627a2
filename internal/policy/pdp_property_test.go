package policy

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-control-plane/internal/domain"
)

// Property: если первое совпавшее правило разрешает, последующие deny не влияют на решение.
func TestFirstMatchProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("first matching allow wins over later deny", prop.ForAll(
		func(name, owner string, denyCount int) bool {
			tr := &domain.Trigger{ID: "t", Name: name, Owner: owner, SafetyLevel: domain.SafetyLow}
			rules := []domain.PolicyRule{
				{ID: "first", When: map[string]any{"name": name}, Effect: domain.EffectAllow},
			}
			for i := 0; i < denyCount; i++ {
				rules = append(rules, domain.PolicyRule{ID: "deny", When: map[string]any{"owner": owner}, Effect: domain.EffectDeny})
			}
			d, err := NewPDP(StaticSource(rules), zap.NewNop()).Evaluate(context.Background(), tr, nil)
			return err == nil && d.Allowed && d.Rule == "first"
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.IntRange(0, 5),
	))

	properties.Property("deny-if-missing denies exactly when a required key is absent", prop.ForAll(
		func(keys []string, present bool) bool {
			req := make([]string, 0, len(keys))
			payload := map[string]any{}
			for _, k := range keys {
				if k == "" {
					continue
				}
				req = append(req, k)
				if present {
					payload[k] = "v"
				}
			}
			rules := []domain.PolicyRule{{ID: "r", Effect: domain.EffectDenyIfMissing, Require: req}}
			d, err := NewPDP(StaticSource(rules), zap.NewNop()).Evaluate(context.Background(), &domain.Trigger{}, payload)
			if err != nil {
				return false
			}
			if len(req) == 0 || present {
				return d.Allowed
			}
			return !d.Allowed && d.Reason == "r:missing:"+req[0]
		},
		gen.SliceOf(gen.Identifier()),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
