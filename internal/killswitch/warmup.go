package killswitch

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-control-plane/internal/domain"
)

// Seed прогревает пустой Redis снимком состояния (например, после рестарта без persistence).
// SETNX на сам ключ: если состояние уже есть или другой инстанс успел раньше, ничего не меняем.
func (s *RedisStore) Seed(ctx context.Context, snapshot domain.KillSwitchState, logger *zap.Logger) (bool, error) {
	if snapshot.Triggers == nil {
		snapshot.Triggers = map[string]domain.TriggerKill{}
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return false, fmt.Errorf("killswitch: seed encode: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, s.key, data, 0).Result()
	if err != nil {
		return false, fmt.Errorf("killswitch: seed: %w", err)
	}
	if ok {
		logger.Info("kill-switch state seeded into redis",
			zap.Bool("global", snapshot.Global), zap.Int("triggers", len(snapshot.Triggers)))
	}
	return ok, nil
}
