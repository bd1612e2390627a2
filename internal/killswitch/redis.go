package killswitch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/redis/go-redis/v9"

	"github.com/xela07ax/spaceai-control-plane/internal/domain"
	"github.com/xela07ax/spaceai-control-plane/internal/infra"
)

// GlobalTarget: имя цели в сигнале для глобального выключателя.
const GlobalTarget = "global"

// RedisStore держит блоб в одном ключе. Запись под WATCH/MULTI:
// если другой процесс успел изменить ключ, транзакция повторяется.
type RedisStore struct {
	rdb     *redis.Client
	key     string
	channel string
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{
		rdb:     rdb,
		key:     infra.RedisKeyKillSwitchState,
		channel: infra.RedisChanKillSwitch,
	}
}

func (s *RedisStore) Load(ctx context.Context) (domain.KillSwitchState, error) {
	return s.get(ctx, s.rdb)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) get(ctx context.Context, c getter) (domain.KillSwitchState, error) {
	raw, err := c.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return emptyState(), nil
	}
	if err != nil {
		return domain.KillSwitchState{}, fmt.Errorf("killswitch: redis get: %w", err)
	}
	state := emptyState()
	if err := json.Unmarshal(raw, &state); err != nil {
		return domain.KillSwitchState{}, fmt.Errorf("killswitch: redis decode: %w", err)
	}
	if state.Triggers == nil {
		state.Triggers = map[string]domain.TriggerKill{}
	}
	return state, nil
}

func (s *RedisStore) Mutate(ctx context.Context, fn func(*domain.KillSwitchState)) (domain.KillSwitchState, error) {
	var result domain.KillSwitchState

	txf := func(tx *redis.Tx) error {
		state, err := s.get(ctx, tx)
		if err != nil {
			return err
		}
		fn(&state)
		data, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("killswitch: redis encode: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key, data, 0)
			return nil
		})
		if err == nil {
			result = state
		}
		return err
	}

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(10),
		retry.Delay(10*time.Millisecond),
		retry.LastErrorOnly(true),
		// повторяем только конфликт оптимистичной блокировки
		retry.RetryIf(func(err error) bool { return errors.Is(err, redis.TxFailedErr) }),
	)
	if err := r.Do(func() error { return s.rdb.Watch(ctx, txf, s.key) }); err != nil {
		return domain.KillSwitchState{}, fmt.Errorf("killswitch: redis mutate: %w", err)
	}
	return result.Clone(), nil
}

// Notify публикует сигнал формата "<target>:<on>".
func (s *RedisStore) Notify(ctx context.Context, target string, on bool) error {
	return s.rdb.Publish(ctx, s.channel, target+":"+strconv.FormatBool(on)).Err()
}
